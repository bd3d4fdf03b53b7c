package order

import (
	"context"

	domcart "github.com/cleanandflip/marketplace/internal/domain/cart"
)

// CartReader supplies line items when checkout is called without explicit lines.
type CartReader interface {
	ListForOwner(ctx context.Context, owner domcart.Owner) ([]domcart.Item, error)
}
