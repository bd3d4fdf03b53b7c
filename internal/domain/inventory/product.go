package inventory

import (
	"context"
	"time"

	"github.com/cleanandflip/marketplace/internal/domain/commerce"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// Product is the slice of a catalog row this engine cares about. Catalog management owns
// every field except StockQuantity, which only the stock ledger mutates.
type Product struct {
	ID            string
	StockQuantity int
	PriceCents    int64
	Status        Status
	UpdatedAt     time.Time
}

func (p Product) IsActive() bool {
	return p.Status == StatusActive
}

// Reserve applies a ledger reservation to an already locked product.
// A zero quantity is a peek and leaves the product untouched.
func (p *Product) Reserve(quantity int) (int, error) {
	if quantity < 0 {
		return 0, commerce.Invalid("reserve quantity must not be negative, got %d", quantity)
	}
	if quantity == 0 {
		return p.StockQuantity, nil
	}
	if quantity > p.StockQuantity {
		return 0, commerce.InsufficientStock(p.ID, quantity, p.StockQuantity)
	}
	p.StockQuantity -= quantity
	p.UpdatedAt = time.Now().UTC()
	return p.StockQuantity, nil
}

// Reserver reserves stock in a transaction of its own. A zero quantity peeks.
type Reserver interface {
	ReserveStock(ctx context.Context, productID string, quantity int) (int, error)
}

const (
	KindPeek      = "peek"
	KindDecrement = "decrement"
)

// ReservationKind labels a ledger call: a zero quantity is a peek.
func ReservationKind(quantity int) string {
	if quantity == 0 {
		return KindPeek
	}
	return KindDecrement
}
