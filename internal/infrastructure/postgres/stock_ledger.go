package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/inventory"
	"github.com/cleanandflip/marketplace/internal/observability"
)

const (
	queryLockProduct = `SELECT stock_quantity, price_cents, status, updated_at FROM products WHERE id = $1 FOR UPDATE`
	queryDecrement   = `UPDATE products SET stock_quantity = stock_quantity - $1, updated_at = now() WHERE id = $2 RETURNING stock_quantity`

	stmtPeekSavepoint = `SAVEPOINT stock_peek`
	stmtPeekRollback  = `ROLLBACK TO SAVEPOINT stock_peek`
)

// StockLedger is the only writer of products.stock_quantity.
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

// Peek takes the row lock inside a savepoint and rolls back to it, which releases a lock
// acquired after the savepoint. Locks the transaction already held are kept.
func (l *StockLedger) Peek(ctx context.Context, tx *sql.Tx, productID string) (inventory.Product, error) {
	if _, err := tx.ExecContext(ctx, stmtPeekSavepoint); err != nil {
		return inventory.Product{}, fmt.Errorf("postgres: peek savepoint: %w", err)
	}
	p, err := lockProduct(ctx, tx, productID)
	if _, rbErr := tx.ExecContext(ctx, stmtPeekRollback); rbErr != nil && err == nil {
		err = fmt.Errorf("postgres: peek rollback: %w", rbErr)
	}
	if err != nil {
		return inventory.Product{}, err
	}
	return p, nil
}

func (l *StockLedger) Reserve(ctx context.Context, tx *sql.Tx, productID string, quantity int) (remaining int, err error) {
	defer func() {
		l.reservations.Add(1,
			observability.L("kind", inventory.ReservationKind(quantity)),
			observability.L("result", commerce.Code(classify(err))),
		)
	}()

	if quantity < 0 {
		return 0, commerce.Invalid("reserve quantity must not be negative, got %d", quantity)
	}
	if quantity == 0 {
		var p inventory.Product
		if p, err = l.Peek(ctx, tx, productID); err != nil {
			return 0, err
		}
		return p.StockQuantity, nil
	}

	p, err := lockProduct(ctx, tx, productID)
	if err != nil {
		return 0, err
	}
	if _, err = p.Reserve(quantity); err != nil {
		return 0, err
	}
	if err = tx.QueryRowContext(ctx, queryDecrement, quantity, productID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("postgres: decrement stock %s: %w", productID, err)
	}
	return remaining, nil
}

// ReserveStock runs Reserve in a transaction of its own.
func (l *StockLedger) ReserveStock(ctx context.Context, productID string, quantity int) (int, error) {
	var remaining int
	err := l.store.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		remaining, err = l.Reserve(ctx, tx, productID, quantity)
		return err
	})
	return remaining, err
}

func lockProduct(ctx context.Context, tx *sql.Tx, productID string) (inventory.Product, error) {
	p := inventory.Product{ID: productID}
	var status string
	err := tx.QueryRowContext(ctx, queryLockProduct, productID).
		Scan(&p.StockQuantity, &p.PriceCents, &status, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Product{}, commerce.NotFound("product", productID)
	}
	if err != nil {
		return inventory.Product{}, fmt.Errorf("postgres: lock product %s: %w", productID, err)
	}
	p.Status = inventory.Status(status)
	return p, nil
}
