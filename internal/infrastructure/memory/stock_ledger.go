package memory

import (
	"context"

	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/inventory"
	"github.com/cleanandflip/marketplace/internal/observability"
)

// StockLedger is the only writer of Product.StockQuantity.
type StockLedger struct {
	store        *Store
	reservations observability.Counter
}

func NewStockLedger(store *Store, metrics observability.Metrics) *StockLedger {
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &StockLedger{
		store:        store,
		reservations: metrics.Counter(observability.MStockReservations),
	}
}

// Peek reads a product under its row lock and releases the lock straight away,
// unless the transaction already held it.
func (l *StockLedger) Peek(tx *Tx, productID string) (inventory.Product, error) {
	key := productKey(productID)
	held := tx.holds(key)
	if err := tx.lock(key); err != nil {
		return inventory.Product{}, err
	}
	if !held {
		defer tx.unlock(key)
	}
	p, ok := l.store.product(productID)
	if !ok {
		return inventory.Product{}, commerce.NotFound("product", productID)
	}
	return p, nil
}

// Reserve decrements stock inside tx. The row lock is kept until tx ends.
func (l *StockLedger) Reserve(tx *Tx, productID string, quantity int) (remaining int, err error) {
	defer func() {
		l.reservations.Add(1,
			observability.L("kind", inventory.ReservationKind(quantity)),
			observability.L("result", commerce.Code(err)),
		)
	}()

	if quantity < 0 {
		return 0, commerce.Invalid("reserve quantity must not be negative, got %d", quantity)
	}
	if quantity == 0 {
		var p inventory.Product
		if p, err = l.Peek(tx, productID); err != nil {
			return 0, err
		}
		return p.StockQuantity, nil
	}

	if err = tx.lock(productKey(productID)); err != nil {
		return 0, err
	}
	p, ok := l.store.product(productID)
	if !ok {
		return 0, commerce.NotFound("product", productID)
	}
	remaining, err = p.Reserve(quantity)
	if err != nil {
		return 0, err
	}
	tx.putProduct(p)
	return remaining, nil
}

// ReserveStock runs Reserve in a transaction of its own.
func (l *StockLedger) ReserveStock(ctx context.Context, productID string, quantity int) (int, error) {
	var remaining int
	err := l.store.withTx(ctx, func(tx *Tx) error {
		var err error
		remaining, err = l.Reserve(tx, productID, quantity)
		return err
	})
	return remaining, err
}
