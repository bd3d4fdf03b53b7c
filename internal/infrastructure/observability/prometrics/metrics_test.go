package prometrics

import (
	"strings"
	"testing"

	"github.com/cleanandflip/marketplace/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterAllAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	counters, histograms := RegisterAll(NewWithRegisterer(reg, "", ""))

	counters[observability.MStockReservations].Add(1,
		observability.L("kind", "peek"),
		observability.L("result", "ok"),
	)
	histograms[observability.MUsecaseDuration].Observe(0.2, observability.L("use_case", "cart.upsert"))

	expected := `
# HELP stock_reservations_total Stock ledger reservations by kind and result.
# TYPE stock_reservations_total counter
stock_reservations_total{kind="peek",result="ok"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "stock_reservations_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
	if n, err := testutil.GatherAndCount(reg, "usecase_duration_seconds"); err != nil || n != 1 {
		t.Fatalf("expected 1 histogram series, got %d (%v)", n, err)
	}
}

func TestCounterRegisteredOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg, "", "")
	a := r.Counter("dupe_total", "help", "k")
	b := r.Counter("dupe_total", "help", "k")
	a.Add(1, observability.L("k", "v"))
	b.Add(1, observability.L("k", "v"))

	if got, err := testutil.GatherAndCount(reg, "dupe_total"); err != nil || got != 1 {
		t.Fatalf("expected one series, got %d (%v)", got, err)
	}
}
