package zaplogger

import (
	"errors"
	"testing"

	"github.com/cleanandflip/marketplace/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := New(zap.New(core), observability.F("component", "test"))

	log.With(observability.F("owner", "user:u1")).Warn("cart_repaired",
		observability.F("removed", 2),
		observability.F("error", errors.New("boom")),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["component"] != "test" || ctx["owner"] != "user:u1" || ctx["error"] != "boom" {
		t.Fatalf("unexpected fields: %+v", ctx)
	}
	if entries[0].Message != "cart_repaired" || entries[0].Level != zap.WarnLevel {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}
