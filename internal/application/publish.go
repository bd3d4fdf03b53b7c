package application

import (
	"context"
	"time"

	domoutbox "github.com/cleanandflip/marketplace/internal/domain/outbox"
	"github.com/cleanandflip/marketplace/internal/observability"
	"github.com/cleanandflip/marketplace/internal/observability/logctx"
)

const (
	publishPeer           = "outbox"
	defaultPublishTimeout = 300 * time.Millisecond
)

// Emitter publishes domain events after the owning transaction committed.
// Publish failures are logged and counted; callers never fail because of them.
type Emitter struct {
	publisher    domoutbox.Publisher
	timeout      time.Duration
	log          observability.Logger
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewEmitter(publisher domoutbox.Publisher, timeout time.Duration, tel observability.Observability) *Emitter {
	tel = observability.OrNop(tel)
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	m := tel.Metrics()
	return &Emitter{
		publisher:    publisher,
		timeout:      timeout,
		log:          tel.Logger(),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

// Emit returns the publish error for the caller's log line only.
func (e *Emitter) Emit(ctx context.Context, event domoutbox.Event) error {
	if e == nil || e.publisher == nil || event == nil {
		return nil
	}
	endpoint := event.EventName()

	// The request may be finishing; delivery is bounded by the publish timeout instead.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	start := time.Now()
	err := e.publisher.Publish(pubCtx, event)
	outcome := "success"
	if err != nil {
		outcome = "error"
		if pubCtx.Err() != nil {
			outcome = "canceled"
		}
		logctx.FromOr(ctx, e.log).Warn("event_publish_failed",
			observability.F("event", endpoint),
			observability.F("error", err),
		)
	}

	e.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	e.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", endpoint),
	)
	return err
}
