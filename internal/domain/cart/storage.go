package cart

import "context"

// LocalStorage persists the anonymous cart of a single device. Every Save
// replaces the whole line set in one write.
type LocalStorage interface {
	Load(ctx context.Context) ([]Line, error)
	Save(ctx context.Context, lines []Line) error
	Clear(ctx context.Context) error
}

// Entry is one row of a remote cart.
type Entry struct {
	ProductID string
	Quantity  int
}

// RemoteRepository stores authenticated carts as (userID, productID) → quantity
// rows.
type RemoteRepository interface {
	List(ctx context.Context, userID string) ([]Entry, error)
	// Increment adds delta to the row atomically, creating it when absent.
	// The stored result is never below 1.
	Increment(ctx context.Context, userID, productID string, delta int) error
	// SetQuantity upserts an absolute quantity.
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error
	Delete(ctx context.Context, userID, productID string) error
	DeleteAll(ctx context.Context, userID string) error
}
