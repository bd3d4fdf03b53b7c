package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/order"
	domoutbox "github.com/cleanandflip/marketplace/internal/domain/outbox"
	"github.com/cleanandflip/marketplace/internal/observability"
	"github.com/cleanandflip/marketplace/internal/observability/logctx"
	workerpresentation "github.com/cleanandflip/marketplace/internal/presentation/worker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	peerRedis       = "redis"
	DefaultChannel  = "marketplace:realtime"
	componentRelay  = "realtime_relay"
	spanRelayPrefix = "Relay."
)

// Publisher is the slice of *goredis.Client the relay needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// Envelope is the JSON document pushed to the real-time channel.
type Envelope struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

type cartPayload struct {
	ProductID   string            `json:"product_id,omitempty"`
	Change      string            `json:"change"`
	Corrections []correctionEntry `json:"corrections,omitempty"`
}

type correctionEntry struct {
	ProductID        string `json:"product_id"`
	Action           string `json:"action"`
	Reason           string `json:"reason"`
	PreviousQuantity int    `json:"previous_quantity"`
	Quantity         int    `json:"quantity"`
}

type orderPayload struct {
	OrderID    string `json:"order_id"`
	TotalCents int64  `json:"total_cents"`
	ItemCount  int    `json:"item_count"`
}

type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient dials redis and verifies the connection.
func NewClient(ctx context.Context, opts Options) (*goredis.Client, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("realtime: redis addr required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("realtime: redis ping: %w", err)
	}
	return rdb, nil
}

// Relay forwards cart and order events from the bus to a redis pub/sub channel.
// Delivery is best effort; failures are logged and counted, never retried.
type Relay struct {
	rdb     Publisher
	channel string
	tel     observability.Observability
	log     observability.Logger

	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewRelay(rdb Publisher, channel string, tel observability.Observability) *Relay {
	tel = observability.OrNop(tel)
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	m := tel.Metrics()
	return &Relay{
		rdb:          rdb,
		channel:      channel,
		tel:          tel,
		log:          tel.Logger().With(observability.F("component", componentRelay)),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

// Register subscribes the relay to every event it knows how to forward.
func (r *Relay) Register(sub domoutbox.Subscriber) {
	sub.Subscribe(cart.UpdatedEvent{}.EventName(), r.Handle)
	sub.Subscribe(order.CreatedEvent{}.EventName(), r.Handle)
}

func (r *Relay) Handle(ctx context.Context, e domoutbox.Event) (err error) {
	name := e.EventName()
	ctx, span := r.tel.Tracer().Start(ctx, spanRelayPrefix+name,
		attribute.String("messaging.system", peerRedis),
		attribute.String("messaging.destination", r.channel),
	)
	sc := span.SpanContext()
	ctx = workerpresentation.WithEventContext(ctx, logctx.FromOr(ctx, r.log), r.tel, sc.TraceID(), sc.SpanID(),
		map[string]string{"event": name, "component": componentRelay})
	logger := logctx.FromOr(ctx, r.log)

	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "PUBLISH_FAILED")
			logger.Warn("realtime_publish_failed", observability.F("error", err))
		} else {
			span.SetStatus(codes.Ok, "OK")
			logger.Debug("realtime_published", observability.F("channel", r.channel))
		}
		span.End()
		r.extCounter.Add(1,
			observability.L("peer", peerRedis),
			observability.L("endpoint", name),
			observability.L("outcome", outcome),
		)
		r.extHistogram.Observe(time.Since(start).Seconds(),
			observability.L("peer", peerRedis),
			observability.L("endpoint", name),
		)
	}()

	env, ok := envelopeFor(e)
	if !ok {
		return fmt.Errorf("realtime: unsupported event %q", name)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", name, err)
	}
	if err := r.rdb.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", name, err)
	}
	return nil
}

func envelopeFor(e domoutbox.Event) (Envelope, bool) {
	switch ev := e.(type) {
	case cart.UpdatedEvent:
		p := cartPayload{ProductID: ev.ProductID, Change: ev.Change}
		for _, c := range ev.Corrections {
			p.Corrections = append(p.Corrections, correctionEntry{
				ProductID:        c.ProductID,
				Action:           string(c.Action),
				Reason:           c.Reason,
				PreviousQuantity: c.PreviousQuantity,
				Quantity:         c.Quantity,
			})
		}
		return Envelope{
			Type:       ev.EventName(),
			UserID:     ev.Owner.UserID,
			SessionID:  ev.Owner.SessionID,
			Payload:    p,
			OccurredAt: ev.OccurredAt,
		}, true
	case order.CreatedEvent:
		return Envelope{
			Type:       ev.EventName(),
			UserID:     ev.UserID,
			Payload:    orderPayload{OrderID: ev.OrderID, TotalCents: ev.TotalCents, ItemCount: ev.ItemCount},
			OccurredAt: ev.OccurredAt,
		}, true
	}
	return Envelope{}, false
}
