package memory

import (
	"context"

	"github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/order"
)

type OrderAssembler struct {
	store   *Store
	ledger  *StockLedger
	pricing order.Pricing
}

func NewOrderAssembler(store *Store, ledger *StockLedger, pricing order.Pricing) *OrderAssembler {
	return &OrderAssembler{store: store, ledger: ledger, pricing: pricing}
}

func (a *OrderAssembler) CreateFromCart(ctx context.Context, userID string, lines []order.LineItem) (*order.Order, error) {
	if err := order.ValidateLines(userID, lines); err != nil {
		return nil, err
	}

	var created *order.Order
	err := a.store.withTx(ctx, func(tx *Tx) error {
		for _, l := range lines {
			if _, err := a.ledger.Reserve(tx, l.ProductID, l.Quantity); err != nil {
				return err
			}
		}

		o, err := order.New(a.store.ids.NewID(), userID, lines, a.pricing)
		if err != nil {
			return err
		}
		tx.putOrder(o)

		if err := a.clearCart(tx, cart.UserOwner(userID)); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// clearCart deletes every row owned by owner. Rows added while it waited on a lock are
// picked up by the next pass.
func (a *OrderAssembler) clearCart(tx *Tx, owner cart.Owner) error {
	for {
		rows := a.store.itemsFor(owner)
		if len(rows) == 0 {
			return nil
		}
		for _, it := range rows {
			if err := tx.lock(cartKey(owner, it.ProductID)); err != nil {
				return err
			}
			if current, ok := a.store.item(it.ID); ok && current.Owner == owner {
				tx.deleteItem(current.ID)
			}
		}
	}
}
