package order

import (
	"context"
	"time"

	"github.com/cleanandflip/marketplace/internal/application"
	domcart "github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	domain "github.com/cleanandflip/marketplace/internal/domain/order"
	"github.com/cleanandflip/marketplace/internal/observability"
	"github.com/cleanandflip/marketplace/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	orderService    = "order-service"
	useCaseCheckout = "order.checkout"

	defaultMaxAttempts  = 3
	defaultRetryBackoff = 50 * time.Millisecond
)

var _ application.UseCase[CheckoutInput, *CheckoutResult] = (*CheckoutUseCase)(nil)

type CheckoutInput struct {
	UserID string
	// Lines are reserved in the given order. When empty, the user's cart is used at current prices.
	Lines []domain.LineItem
}

type CheckoutResult struct {
	Order    *domain.Order
	Attempts int
	FromCart bool
}

// CheckoutUseCase turns line items into a pending order. Storage-level aborts such as
// deadlocks between checkouts touching the same products are retried a bounded number of times.
type CheckoutUseCase struct {
	assembler domain.Assembler
	carts     CartReader
	emitter   *application.Emitter
	run       application.Instrumentation

	maxAttempts int
	backoff     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error

	attempts observability.Counter // checkout_attempts_total{result}
}

type CheckoutOption func(*CheckoutUseCase)

func WithMaxAttempts(n int) CheckoutOption {
	return func(uc *CheckoutUseCase) {
		if n > 0 {
			uc.maxAttempts = n
		}
	}
}

// WithRetryBackoff sets the base delay; attempt n waits n times the base.
func WithRetryBackoff(d time.Duration) CheckoutOption {
	return func(uc *CheckoutUseCase) {
		if d >= 0 {
			uc.backoff = d
		}
	}
}

func NewCheckoutUseCase(
	assembler domain.Assembler,
	carts CartReader,
	emitter *application.Emitter,
	tel observability.Observability,
	opts ...CheckoutOption,
) *CheckoutUseCase {
	tel = observability.OrNop(tel)
	uc := &CheckoutUseCase{
		assembler:   assembler,
		carts:       carts,
		emitter:     emitter,
		run:         application.NewInstrumentation(tel, orderService),
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultRetryBackoff,
		sleep:       sleepCtx,
		attempts:    tel.Metrics().Counter(observability.MCheckoutAttempts),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *CheckoutUseCase) Execute(ctx context.Context, cmd CheckoutInput) (result *CheckoutResult, err error) {
	err = uc.run.Run(ctx, useCaseCheckout, "Checkout", []attribute.KeyValue{
		attribute.String("order.user_id", cmd.UserID),
		attribute.Int("order.lines", len(cmd.Lines)),
	}, func(ctx context.Context, span trace.Span) error {
		res := &CheckoutResult{}
		lines := cmd.Lines
		if len(lines) == 0 {
			var err error
			if lines, err = uc.linesFromCart(ctx, cmd.UserID); err != nil {
				return err
			}
			res.FromCart = true
			span.SetAttributes(attribute.Bool("order.from_cart", true))
		}

		o, attempts, err := uc.createWithRetry(ctx, span, cmd.UserID, lines)
		res.Attempts = attempts
		span.SetAttributes(attribute.Int("order.attempts", attempts))
		if err != nil {
			return err
		}
		res.Order = o

		span.SetAttributes(
			attribute.String("order.id", o.ID),
			attribute.String("order.status", string(o.Status)),
			attribute.Int64("order.total_cents", o.TotalCents),
		)
		span.AddEvent("order.created", trace.WithAttributes(attribute.String("order.id", o.ID)))

		_ = uc.emitter.Emit(ctx, domain.NewCreatedEvent(o))
		_ = uc.emitter.Emit(ctx, domcart.NewUpdatedEvent(domcart.UserOwner(cmd.UserID), "", domcart.ChangeCleared))
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (uc *CheckoutUseCase) createWithRetry(ctx context.Context, span trace.Span, userID string, lines []domain.LineItem) (*domain.Order, int, error) {
	logger := logctx.FromOr(ctx, uc.run.Logger())
	for attempt := 1; ; attempt++ {
		o, err := uc.assembler.CreateFromCart(ctx, userID, lines)
		uc.attempts.Add(1, observability.L("result", commerce.Code(err)))
		if err == nil {
			return o, attempt, nil
		}
		if !commerce.IsRetryable(err) || attempt >= uc.maxAttempts {
			return nil, attempt, err
		}

		span.AddEvent("checkout.retry", trace.WithAttributes(attribute.Int("attempt", attempt)))
		logger.Warn("checkout_retry",
			observability.F("attempt", attempt),
			observability.F("error", err),
		)
		if serr := uc.sleep(ctx, uc.backoff*time.Duration(attempt)); serr != nil {
			return nil, attempt, serr
		}
	}
}

func (uc *CheckoutUseCase) linesFromCart(ctx context.Context, userID string) ([]domain.LineItem, error) {
	owner := domcart.UserOwner(userID)
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if uc.carts == nil {
		return nil, commerce.Invalid("order requires at least one line item")
	}
	items, err := uc.carts.ListForOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, commerce.Invalid("cart is empty")
	}
	lines := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		lines = append(lines, domain.LineItem{
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			PriceCents: it.UnitPriceCents,
		})
	}
	return lines, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
