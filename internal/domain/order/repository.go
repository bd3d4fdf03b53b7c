package order

import "context"

// Assembler converts a cart into a committed order. Line items are reserved in the given order
// inside one transaction; on success the user's cart rows are deleted in that same transaction.
type Assembler interface {
	CreateFromCart(ctx context.Context, userID string, lines []LineItem) (*Order, error)
}
