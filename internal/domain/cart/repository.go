package cart

import "context"

// Repository owns cart rows. Every method runs in exactly one storage transaction.
type Repository interface {
	Upsert(ctx context.Context, owner Owner, productID string, delta int, mode Mode) (*Item, error)
	Remove(ctx context.Context, owner Owner, productID string) error
	// ListForOwner deletes rows whose product is missing or inactive and excludes them.
	ListForOwner(ctx context.Context, owner Owner) ([]Item, error)
	// Validate only returns an error when the store itself fails.
	Validate(ctx context.Context, owner Owner) ([]Correction, error)
	// MergeOnLogin does not deduplicate against rows the user already owns.
	MergeOnLogin(ctx context.Context, sessionID, userID string) (int, error)
}
