package order

type Totals struct {
	SubtotalCents int64
	TaxCents      int64
	ShippingCents int64
	TotalCents    int64
}

// Pricing turns line items into order totals. Tax is expressed in basis points of the subtotal
// and rounded half-up; shipping is a flat fee waived at or above the threshold (0 disables the waiver).
type Pricing struct {
	TaxRateBPS                 int64
	ShippingCents              int64
	FreeShippingThresholdCents int64
}

func (p Pricing) Totals(lines []LineItem) Totals {
	var t Totals
	for _, l := range lines {
		t.SubtotalCents += l.PriceCents * int64(l.Quantity)
	}
	if p.TaxRateBPS > 0 {
		t.TaxCents = (t.SubtotalCents*p.TaxRateBPS + 5000) / 10000
	}
	t.ShippingCents = p.ShippingCents
	if p.FreeShippingThresholdCents > 0 && t.SubtotalCents >= p.FreeShippingThresholdCents {
		t.ShippingCents = 0
	}
	t.TotalCents = t.SubtotalCents + t.TaxCents + t.ShippingCents
	return t
}
