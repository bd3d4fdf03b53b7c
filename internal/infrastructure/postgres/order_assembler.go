package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cleanandflip/marketplace/internal/domain/order"
)

const (
	queryInsertOrder     = `INSERT INTO orders (id, user_id, status, subtotal_cents, tax_cents, shipping_cents, total_cents, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	queryInsertOrderItem = `INSERT INTO order_items (order_id, product_id, quantity, price_cents) VALUES ($1, $2, $3, $4)`
	queryClearUserCart   = `DELETE FROM cart_items WHERE user_id = $1`
)

type OrderAssembler struct {
	store   *Store
	ledger  *StockLedger
	pricing order.Pricing
}

func NewOrderAssembler(store *Store, ledger *StockLedger, pricing order.Pricing) *OrderAssembler {
	return &OrderAssembler{store: store, ledger: ledger, pricing: pricing}
}

// CreateFromCart reserves every line in the given order; the first failure rolls back all of them.
func (a *OrderAssembler) CreateFromCart(ctx context.Context, userID string, lines []order.LineItem) (*order.Order, error) {
	if err := order.ValidateLines(userID, lines); err != nil {
		return nil, err
	}

	var created *order.Order
	err := a.store.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range lines {
			if _, err := a.ledger.Reserve(ctx, tx, l.ProductID, l.Quantity); err != nil {
				return err
			}
		}

		o, err := order.New(a.store.ids.NewID(), userID, lines, a.pricing)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, queryInsertOrder,
			o.ID, o.UserID, string(o.Status), o.SubtotalCents, o.TaxCents, o.ShippingCents, o.TotalCents, o.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert order: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, queryInsertOrderItem)
		if err != nil {
			return fmt.Errorf("postgres: prepare order items: %w", err)
		}
		defer stmt.Close()
		for _, it := range o.Items {
			if _, err := stmt.ExecContext(ctx, it.OrderID, it.ProductID, it.Quantity, it.PriceCents); err != nil {
				return fmt.Errorf("postgres: insert order item %s: %w", it.ProductID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, queryClearUserCart, userID); err != nil {
			return fmt.Errorf("postgres: clear cart: %w", err)
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
