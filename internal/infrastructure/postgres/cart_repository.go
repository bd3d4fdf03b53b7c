package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cleanandflip/marketplace/internal/domain/cart"
	"github.com/cleanandflip/marketplace/internal/domain/commerce"
	"github.com/cleanandflip/marketplace/internal/domain/inventory"
	"github.com/lib/pq"
)

const (
	// The advisory lock serialises first inserts for an (owner, product) pair, which row locks cannot.
	queryLockCartKey = `SELECT pg_advisory_xact_lock(hashtext($1))`

	queryOldestItemTmpl = `SELECT id, quantity, created_at FROM cart_items WHERE %s = $1 AND product_id = $2 ORDER BY created_at, id LIMIT 1 FOR UPDATE`
	queryInsertItem     = `INSERT INTO cart_items (id, user_id, session_id, product_id, quantity, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $6)`
	queryUpdateQuantity = `UPDATE cart_items SET quantity = $1, updated_at = $2 WHERE id = $3`
	queryDeleteItemTmpl = `DELETE FROM cart_items WHERE %s = $1 AND product_id = $2`
	queryDeleteItemsIn  = `DELETE FROM cart_items WHERE id = ANY($1)`

	queryListWithProductTmpl = `SELECT ci.id, ci.product_id, ci.quantity, ci.created_at, ci.updated_at, p.price_cents, p.status
FROM cart_items ci
LEFT JOIN products p ON p.id = ci.product_id
WHERE ci.%s = $1
ORDER BY ci.created_at, ci.id
FOR UPDATE OF ci`
	queryListItemsTmpl = `SELECT id, product_id, quantity, created_at, updated_at FROM cart_items WHERE %s = $1 ORDER BY created_at, id FOR UPDATE`

	queryMergeSession = `UPDATE cart_items SET user_id = $1, session_id = NULL, updated_at = $2 WHERE session_id = $3`
)

type CartRepository struct {
	store  *Store
	ledger *StockLedger
}

func NewCartRepository(store *Store, ledger *StockLedger) *CartRepository {
	return &CartRepository{store: store, ledger: ledger}
}

// ownerColumn is always one of two fixed column names, never caller input.
func ownerColumn(owner cart.Owner) (string, string) {
	if owner.IsUser() {
		return "user_id", owner.UserID
	}
	return "session_id", owner.SessionID
}

func ownerQuery(tmpl string, owner cart.Owner) (string, string) {
	col, val := ownerColumn(owner)
	return fmt.Sprintf(tmpl, col), val
}

func cartLockKey(owner cart.Owner, productID string) string {
	return "cart:" + owner.Key() + ":" + productID
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
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		// Peek before any cart lock: checkout holds product rows while it clears cart rows.
		product, err := r.ledger.Peek(ctx, tx, productID)
		if err != nil {
			return err
		}
		if !product.IsActive() {
			return commerce.NotFound("product", productID)
		}

		if _, err := tx.ExecContext(ctx, queryLockCartKey, cartLockKey(owner, productID)); err != nil {
			return fmt.Errorf("postgres: lock cart key: %w", err)
		}

		q, ownerID := ownerQuery(queryOldestItemTmpl, owner)
		var existing cart.Item
		found := true
		err = tx.QueryRowContext(ctx, q, ownerID, productID).Scan(&existing.ID, &existing.Quantity, &existing.CreatedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			found = false
		case err != nil:
			return fmt.Errorf("postgres: lock cart item: %w", err)
		}

		target, err := mode.Target(existing.Quantity, delta)
		if err != nil {
			return err
		}
		if target > product.StockQuantity {
			return commerce.InsufficientStock(productID, target, product.StockQuantity)
		}

		now := time.Now().UTC()
		if found {
			if _, err := tx.ExecContext(ctx, queryUpdateQuantity, target, now, existing.ID); err != nil {
				return fmt.Errorf("postgres: update cart item: %w", err)
			}
			out = existing
		} else {
			out = cart.Item{ID: r.store.ids.NewID(), CreatedAt: now}
			if _, err := tx.ExecContext(ctx, queryInsertItem,
				out.ID, nullString(owner.UserID), nullString(owner.SessionID), productID, target, now,
			); err != nil {
				return fmt.Errorf("postgres: insert cart item: %w", err)
			}
		}
		out.Owner = owner
		out.ProductID = productID
		out.Quantity = target
		out.UpdatedAt = now
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
	return r.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, queryLockCartKey, cartLockKey(owner, productID)); err != nil {
			return fmt.Errorf("postgres: lock cart key: %w", err)
		}
		q, ownerID := ownerQuery(queryDeleteItemTmpl, owner)
		res, err := tx.ExecContext(ctx, q, ownerID, productID)
		if err != nil {
			return fmt.Errorf("postgres: delete cart item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("postgres: delete cart item: %w", err)
		}
		if n == 0 {
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
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		q, ownerID := ownerQuery(queryListWithProductTmpl, owner)
		rows, err := tx.QueryContext(ctx, q, ownerID)
		if err != nil {
			return fmt.Errorf("postgres: list cart: %w", err)
		}

		out = make([]cart.Item, 0)
		var stale []string
		for rows.Next() {
			it := cart.Item{Owner: owner}
			var price sql.NullInt64
			var status sql.NullString
			if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.CreatedAt, &it.UpdatedAt, &price, &status); err != nil {
				_ = rows.Close()
				return fmt.Errorf("postgres: scan cart item: %w", err)
			}
			if !status.Valid || inventory.Status(status.String) != inventory.StatusActive {
				stale = append(stale, it.ID)
				continue
			}
			it.UnitPriceCents = price.Int64
			out = append(out, it)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("postgres: list cart: %w", err)
		}
		_ = rows.Close()

		return deleteItems(ctx, tx, stale)
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
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		items, err := r.lockItems(ctx, tx, owner)
		if err != nil {
			return err
		}

		corrections = make([]cart.Correction, 0)
		var removed []string
		now := time.Now().UTC()
		for _, it := range items {
			product, err := r.ledger.Peek(ctx, tx, it.ProductID)
			if err != nil && !errors.Is(err, commerce.ErrNotFound) {
				return err
			}
			missing := err != nil

			c := cart.Correction{ItemID: it.ID, ProductID: it.ProductID, PreviousQuantity: it.Quantity}
			switch {
			case missing || !product.IsActive():
				c.Action, c.Reason = cart.ActionRemoved, cart.ReasonProductUnavailable
				removed = append(removed, it.ID)
			case product.StockQuantity <= 0:
				c.Action, c.Reason = cart.ActionRemoved, cart.ReasonOutOfStock
				removed = append(removed, it.ID)
			case it.Quantity > product.StockQuantity:
				c.Action, c.Reason, c.Quantity = cart.ActionAdjusted, cart.ReasonQuantityReduced, product.StockQuantity
				if _, err := tx.ExecContext(ctx, queryUpdateQuantity, product.StockQuantity, now, it.ID); err != nil {
					return fmt.Errorf("postgres: clamp cart item: %w", err)
				}
			default:
				continue
			}
			corrections = append(corrections, c)
		}
		return deleteItems(ctx, tx, removed)
	})
	if err != nil {
		return nil, err
	}
	return corrections, nil
}

func (r *CartRepository) MergeOnLogin(ctx context.Context, sessionID, userID string) (int, error) {
	if err := cart.SessionOwner(sessionID).Validate(); err != nil {
		return 0, err
	}
	if err := cart.UserOwner(userID).Validate(); err != nil {
		return 0, err
	}

	var moved int64
	err := r.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, queryMergeSession, userID, time.Now().UTC(), sessionID)
		if err != nil {
			return fmt.Errorf("postgres: merge cart: %w", err)
		}
		moved, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("postgres: merge cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(moved), nil
}

// lockItems reads every row for owner under FOR UPDATE and closes the cursor before
// the caller issues further statements on tx.
func (r *CartRepository) lockItems(ctx context.Context, tx *sql.Tx, owner cart.Owner) ([]cart.Item, error) {
	q, ownerID := ownerQuery(queryListItemsTmpl, owner)
	rows, err := tx.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock cart: %w", err)
	}
	defer rows.Close()

	var items []cart.Item
	for rows.Next() {
		it := cart.Item{Owner: owner}
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan cart item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: lock cart: %w", err)
	}
	return items, nil
}

func deleteItems(ctx context.Context, tx *sql.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, queryDeleteItemsIn, pq.Array(ids)); err != nil {
		return fmt.Errorf("postgres: delete cart items: %w", err)
	}
	return nil
}
