package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/inventory"
)

type CartRepository struct {
	store  *Store
	ledger *StockLedger
}

func NewCartRepository(store *Store, ledger *StockLedger) *CartRepository {
	return &CartRepository{store: store, ledger: ledger}
}

func (r *CartRepository) Upsert(ctx context.Context, owner cart.Owner, productID string, delta int, mode cart.Mode) (*cart.Item, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(productID) == "" {
		return nil, commerce.Invalid("product id is required")
	}
	if _, err := mode.Target(0, delta); err != nil {
		return nil, err
	}

	var out cart.Item
	err := r.store.withTx(ctx, func(tx *Tx) error {
		// Peek before the cart lock; checkout takes product locks first.
		product, err := r.ledger.Peek(tx, productID)
		if err != nil {
			return err
		}
		if !product.IsActive() {
			return commerce.NotFound("product", productID)
		}

		if err := tx.lock(cartKey(owner, productID)); err != nil {
			return err
		}
		existing, found := r.oldest(owner, productID)

		current := 0
		if found {
			current = existing.Quantity
		}
		target, err := mode.Target(current, delta)
		if err != nil {
			return err
		}
		if target > product.StockQuantity {
			return commerce.InsufficientStock(productID, target, product.StockQuantity)
		}

		now := time.Now().UTC()
		if found {
			out = existing
			out.Quantity = target
			out.UpdatedAt = now
		} else {
			out = cart.Item{
				ID:        r.store.ids.NewID(),
				Owner:     owner,
				ProductID: productID,
				Quantity:  target,
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		tx.putItem(out)
		out.UnitPriceCents = product.PriceCents
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *CartRepository) Remove(ctx context.Context, owner cart.Owner, productID string) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	return r.store.withTx(ctx, func(tx *Tx) error {
		if err := tx.lock(cartKey(owner, productID)); err != nil {
			return err
		}
		removed := 0
		for _, it := range r.store.itemsFor(owner) {
			if it.ProductID != productID {
				continue
			}
			tx.deleteItem(it.ID)
			removed++
		}
		if removed == 0 {
			return commerce.NotFound("cart item", productID)
		}
		return nil
	})
}

func (r *CartRepository) ListForOwner(ctx context.Context, owner cart.Owner) ([]cart.Item, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	var out []cart.Item
	err := r.store.withTx(ctx, func(tx *Tx) error {
		out = make([]cart.Item, 0)
		for _, it := range r.store.itemsFor(owner) {
			if err := tx.lock(cartKey(owner, it.ProductID)); err != nil {
				return err
			}
			current, ok := r.store.item(it.ID)
			if !ok {
				continue
			}
			product, ok := r.store.product(current.ProductID)
			if !ok || !product.IsActive() {
				tx.deleteItem(current.ID)
				continue
			}
			current.UnitPriceCents = product.PriceCents
			out = append(out, current)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *CartRepository) Validate(ctx context.Context, owner cart.Owner) ([]cart.Correction, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	var corrections []cart.Correction
	err := r.store.withTx(ctx, func(tx *Tx) error {
		corrections = make([]cart.Correction, 0)
		items := r.store.itemsFor(owner)

		// Every peek happens before the first cart lock so product and cart locks are never held crosswise.
		products := make(map[string]inventory.Product, len(items))
		for _, it := range items {
			if _, seen := products[it.ProductID]; seen {
				continue
			}
			product, err := r.ledger.Peek(tx, it.ProductID)
			if err != nil && !errors.Is(err, commerce.ErrNotFound) {
				return err
			}
			products[it.ProductID] = product
		}

		for _, it := range items {
			if err := tx.lock(cartKey(owner, it.ProductID)); err != nil {
				return err
			}
			current, ok := r.store.item(it.ID)
			if !ok || current.Owner != owner {
				continue
			}

			product := products[it.ProductID]
			missing := product.ID == ""

			c := cart.Correction{ItemID: current.ID, ProductID: current.ProductID, PreviousQuantity: current.Quantity}
			switch {
			case missing || !product.IsActive():
				c.Action, c.Reason = cart.ActionRemoved, cart.ReasonProductUnavailable
				tx.deleteItem(current.ID)
			case product.StockQuantity <= 0:
				c.Action, c.Reason = cart.ActionRemoved, cart.ReasonOutOfStock
				tx.deleteItem(current.ID)
			case current.Quantity > product.StockQuantity:
				c.Action, c.Reason, c.Quantity = cart.ActionAdjusted, cart.ReasonQuantityReduced, product.StockQuantity
				current.Quantity = product.StockQuantity
				current.UpdatedAt = time.Now().UTC()
				tx.putItem(current)
			default:
				continue
			}
			corrections = append(corrections, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return corrections, nil
}

func (r *CartRepository) MergeOnLogin(ctx context.Context, sessionID, userID string) (int, error) {
	session, user := cart.SessionOwner(sessionID), cart.UserOwner(userID)
	if err := session.Validate(); err != nil {
		return 0, err
	}
	if err := user.Validate(); err != nil {
		return 0, err
	}

	moved := 0
	err := r.store.withTx(ctx, func(tx *Tx) error {
		moved = 0
		for _, it := range r.store.itemsFor(session) {
			if err := tx.lock(cartKey(session, it.ProductID)); err != nil {
				return err
			}
			if err := tx.lock(cartKey(user, it.ProductID)); err != nil {
				return err
			}
			// The snapshot may predate a remove or update that committed while we waited.
			current, ok := r.store.item(it.ID)
			if !ok || current.Owner != session {
				continue
			}
			current.Owner = user
			current.UpdatedAt = time.Now().UTC()
			tx.putItem(current)
			moved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func (r *CartRepository) oldest(owner cart.Owner, productID string) (cart.Item, bool) {
	for _, it := range r.store.itemsFor(owner) {
		if it.ProductID == productID {
			return it, true
		}
	}
	return cart.Item{}, false
}
