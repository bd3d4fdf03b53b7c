package order

import (
	"strings"
	"time"

	"github.com/cleanandflip/marketplace/internal/domain/commerce"
)

type Status string

// StatusPending is the only status this engine assigns. Later transitions belong to fulfillment.
const StatusPending Status = "pending"

// LineItem is what the caller asks to buy, with the price it was shown.
type LineItem struct {
	ProductID  string
	Quantity   int
	PriceCents int64
}

type Item struct {
	OrderID    string
	ProductID  string
	Quantity   int
	PriceCents int64
}

type Order struct {
	ID            string
	UserID        string
	Status        Status
	SubtotalCents int64
	TaxCents      int64
	ShippingCents int64
	TotalCents    int64
	Items         []Item
	CreatedAt     time.Time
}

// New builds a pending order from validated line items; items keep the caller's ordering.
func New(id, userID string, lines []LineItem, pricing Pricing) (*Order, error) {
	if err := ValidateLines(userID, lines); err != nil {
		return nil, err
	}
	totals := pricing.Totals(lines)
	o := &Order{
		ID:            id,
		UserID:        userID,
		Status:        StatusPending,
		SubtotalCents: totals.SubtotalCents,
		TaxCents:      totals.TaxCents,
		ShippingCents: totals.ShippingCents,
		TotalCents:    totals.TotalCents,
		Items:         make([]Item, 0, len(lines)),
		CreatedAt:     time.Now().UTC(),
	}
	for _, l := range lines {
		o.Items = append(o.Items, Item{
			OrderID:    id,
			ProductID:  l.ProductID,
			Quantity:   l.Quantity,
			PriceCents: l.PriceCents,
		})
	}
	return o, nil
}

func ValidateLines(userID string, lines []LineItem) error {
	if strings.TrimSpace(userID) == "" {
		return commerce.Invalid("user id is required to place an order")
	}
	if len(lines) == 0 {
		return commerce.Invalid("order requires at least one line item")
	}
	for i, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return commerce.Invalid("line %d: product id is required", i)
		}
		if l.Quantity <= 0 {
			return commerce.Invalid("line %d: quantity must be greater than zero", i)
		}
		if l.PriceCents < 0 {
			return commerce.Invalid("line %d: price must be zero or greater", i)
		}
	}
	return nil
}
