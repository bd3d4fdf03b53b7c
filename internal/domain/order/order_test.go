package order

import (
	"errors"
	"testing"

	"github.com/cleanandflip/marketplace/internal/domain/commerce"
)

func TestPricingTotals(t *testing.T) {
	lines := []LineItem{
		{ProductID: "a", Quantity: 2, PriceCents: 1999},
		{ProductID: "b", Quantity: 1, PriceCents: 501},
	}

	tests := []struct {
		name    string
		pricing Pricing
		want    Totals
	}{
		{
			name:    "no tax no shipping",
			pricing: Pricing{},
			want:    Totals{SubtotalCents: 4499, TotalCents: 4499},
		},
		{
			name:    "tax rounds half up",
			pricing: Pricing{TaxRateBPS: 825},
			// 4499 * 8.25% = 371.1675
			want: Totals{SubtotalCents: 4499, TaxCents: 371, TotalCents: 4870},
		},
		{
			name:    "flat shipping below threshold",
			pricing: Pricing{ShippingCents: 799, FreeShippingThresholdCents: 5000},
			want:    Totals{SubtotalCents: 4499, ShippingCents: 799, TotalCents: 5298},
		},
		{
			name:    "free shipping at threshold",
			pricing: Pricing{ShippingCents: 799, FreeShippingThresholdCents: 4499},
			want:    Totals{SubtotalCents: 4499, TotalCents: 4499},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pricing.Totals(lines); got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestNewOrderIsPending(t *testing.T) {
	o, err := New("o1", "u1", []LineItem{{ProductID: "a", Quantity: 3, PriceCents: 100}}, Pricing{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != StatusPending || o.TotalCents != 300 || len(o.Items) != 1 || o.Items[0].OrderID != "o1" {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestValidateLines(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		lines  []LineItem
	}{
		{name: "no user", userID: "", lines: []LineItem{{ProductID: "a", Quantity: 1}}},
		{name: "empty", userID: "u1"},
		{name: "no product", userID: "u1", lines: []LineItem{{Quantity: 1}}},
		{name: "zero quantity", userID: "u1", lines: []LineItem{{ProductID: "a"}}},
		{name: "negative price", userID: "u1", lines: []LineItem{{ProductID: "a", Quantity: 1, PriceCents: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateLines(tt.userID, tt.lines); !errors.Is(err, commerce.ErrInvalidOperation) {
				t.Fatalf("expected ErrInvalidOperation, got %v", err)
			}
		})
	}
}
