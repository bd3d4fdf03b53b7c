package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cleanandflip/marketplace/internal/application"
	domcart "github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/inventory"
	domain "github.com/cleanandflip/marketplace/internal/domain/order"
	domoutbox "github.com/cleanandflip/marketplace/internal/domain/outbox"
	"github.com/cleanandflip/marketplace/internal/infrastructure/memory"
	"github.com/cleanandflip/marketplace/internal/observability"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

// scriptedAssembler fails with the queued errors before delegating or succeeding.
type scriptedAssembler struct {
	errs  []error
	calls int
}

func (a *scriptedAssembler) CreateFromCart(_ context.Context, userID string, lines []domain.LineItem) (*domain.Order, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}
	return domain.New("o-1", userID, lines, domain.Pricing{})
}

type memoryFixture struct {
	store *memory.Store
	carts *memory.CartRepository
	pub   *recordingPublisher
	uc    *CheckoutUseCase
}

func newMemoryFixture(t *testing.T, products ...inventory.Product) *memoryFixture {
	t.Helper()
	store := memory.NewStore()
	for _, p := range products {
		if err := store.PutProduct(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	ledger := memory.NewStockLedger(store, observability.NopMetrics())
	carts := memory.NewCartRepository(store, ledger)
	pub := &recordingPublisher{}
	uc := NewCheckoutUseCase(
		memory.NewOrderAssembler(store, ledger, domain.Pricing{TaxRateBPS: 1000}),
		carts,
		application.NewEmitter(pub, 0, nil),
		nil,
	)
	return &memoryFixture{store: store, carts: carts, pub: pub, uc: uc}
}

func product(id string, stock int, price int64) inventory.Product {
	return inventory.Product{ID: id, StockQuantity: stock, PriceCents: price, Status: inventory.StatusActive}
}

func TestCheckoutFromCartUsesLivePrices(t *testing.T) {
	f := newMemoryFixture(t, product("a", 5, 1000), product("b", 5, 200))
	ctx := context.Background()
	owner := domcart.UserOwner("u1")
	for _, pid := range []string{"a", "b"} {
		if _, err := f.carts.Upsert(ctx, owner, pid, 2, domcart.ModeAdd); err != nil {
			t.Fatal(err)
		}
	}
	// Price change between add and checkout.
	if err := f.store.PutProduct(ctx, product("a", 5, 1500)); err != nil {
		t.Fatal(err)
	}

	res, err := f.uc.Execute(ctx, CheckoutInput{UserID: "u1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.FromCart || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Order.SubtotalCents != 3400 || res.Order.TaxCents != 340 || res.Order.TotalCents != 3740 {
		t.Fatalf("unexpected totals %+v", res.Order)
	}
	if rows := f.store.Items(owner); len(rows) != 0 {
		t.Fatalf("cart not cleared: %+v", rows)
	}
	names := f.pub.names()
	if len(names) < 2 || names[len(names)-2] != "order_created" || names[len(names)-1] != "cart_update" {
		t.Fatalf("unexpected events %v", names)
	}
}

func TestCheckoutEmptyCartIsInvalid(t *testing.T) {
	f := newMemoryFixture(t, product("a", 5, 1000))

	if _, err := f.uc.Execute(context.Background(), CheckoutInput{UserID: "u1"}); !errors.Is(err, commerce.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation, got %v", err)
	}
	if _, err := f.uc.Execute(context.Background(), CheckoutInput{}); !errors.Is(err, commerce.ErrInvalidOperation) {
		t.Fatalf("expected ErrInvalidOperation for missing user, got %v", err)
	}
	if len(f.pub.names()) != 0 {
		t.Fatal("failed checkout must not emit")
	}
}

func TestCheckoutShortfallLeavesStockUntouched(t *testing.T) {
	f := newMemoryFixture(t, product("a", 5, 100), product("b", 1, 100))

	_, err := f.uc.Execute(context.Background(), CheckoutInput{UserID: "u1", Lines: []domain.LineItem{
		{ProductID: "a", Quantity: 2, PriceCents: 100},
		{ProductID: "b", Quantity: 3, PriceCents: 100},
	}})
	if !errors.Is(err, commerce.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if avail, ok := commerce.AvailableStock(err); !ok || avail != 1 {
		t.Fatalf("expected available 1, got %d (%v)", avail, ok)
	}
	if p, _ := f.store.Product("a"); p.StockQuantity != 5 {
		t.Fatalf("stock for a changed to %d", p.StockQuantity)
	}
	if f.store.OrderCount() != 0 {
		t.Fatal("no order expected")
	}
}

func TestCheckoutRetriesAbortedTransactions(t *testing.T) {
	lines := []domain.LineItem{{ProductID: "a", Quantity: 1, PriceCents: 100}}
	aborted := commerce.Aborted(errors.New("deadlock detected"))

	tests := []struct {
		name        string
		errs        []error
		maxAttempts int
		wantErr     error
		wantCalls   int
		wantSleeps  []time.Duration
	}{
		{
			name:        "succeeds after two aborts",
			errs:        []error{aborted, aborted},
			maxAttempts: 3,
			wantCalls:   3,
			wantSleeps:  []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
		},
		{
			name:        "gives up at the limit",
			errs:        []error{aborted, aborted, aborted},
			maxAttempts: 2,
			wantErr:     commerce.ErrTransactionAborted,
			wantCalls:   2,
			wantSleeps:  []time.Duration{10 * time.Millisecond},
		},
		{
			name:        "business errors are not retried",
			errs:        []error{commerce.InsufficientStock("a", 1, 0)},
			maxAttempts: 3,
			wantErr:     commerce.ErrInsufficientStock,
			wantCalls:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asm := &scriptedAssembler{errs: tt.errs}
			uc := NewCheckoutUseCase(asm, nil, nil, nil,
				WithMaxAttempts(tt.maxAttempts),
				WithRetryBackoff(10*time.Millisecond),
			)
			var sleeps []time.Duration
			uc.sleep = func(_ context.Context, d time.Duration) error {
				sleeps = append(sleeps, d)
				return nil
			}

			res, err := uc.Execute(context.Background(), CheckoutInput{UserID: "u1", Lines: lines})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil || res.Attempts != tt.wantCalls {
				t.Fatalf("unexpected result %+v, %v", res, err)
			}
			if asm.calls != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, asm.calls)
			}
			if len(sleeps) != len(tt.wantSleeps) {
				t.Fatalf("expected sleeps %v, got %v", tt.wantSleeps, sleeps)
			}
			for i := range sleeps {
				if sleeps[i] != tt.wantSleeps[i] {
					t.Fatalf("expected sleeps %v, got %v", tt.wantSleeps, sleeps)
				}
			}
		})
	}
}

func TestCheckoutStopsRetryingWhenContextEnds(t *testing.T) {
	asm := &scriptedAssembler{errs: []error{commerce.Aborted(errors.New("lock timeout")), nil}}
	uc := NewCheckoutUseCase(asm, nil, nil, nil, WithRetryBackoff(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := uc.Execute(ctx, CheckoutInput{UserID: "u1", Lines: []domain.LineItem{{ProductID: "a", Quantity: 1}}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if asm.calls != 1 {
		t.Fatalf("expected one attempt, got %d", asm.calls)
	}
}
