package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercadochaco/storefront/internal/domain/cart"
)

const (
	listCartSQL = `SELECT product_id, quantity FROM cart_items
		WHERE user_id = $1 ORDER BY updated_at, product_id`

	// The increment happens inside one statement, so concurrent writers for
	// the same row cannot lose units.
	incrementCartSQL = `INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, GREATEST(1, $3::int))
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			quantity = GREATEST(1, cart_items.quantity + $3::int),
			updated_at = now()`

	setCartQuantitySQL = `INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			updated_at = now()`

	deleteCartItemSQL = `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`

	deleteCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.RemoteRepository = (*CartRepository)(nil)

// CartRepository implements cart.RemoteRepository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// List returns userID's cart rows, oldest first.
func (r *CartRepository) List(ctx context.Context, userID string) ([]cart.Entry, error) {
	rows, err := r.pool.Query(ctx, listCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Entry, error) {
		var e cart.Entry
		err := row.Scan(&e.ProductID, &e.Quantity)
		return e, err
	})
}

// Increment implements cart.RemoteRepository.
func (r *CartRepository) Increment(ctx context.Context, userID, productID string, delta int) error {
	if _, err := r.pool.Exec(ctx, incrementCartSQL, userID, productID, delta); err != nil {
		return fmt.Errorf("incrementing %q in cart of %q: %w", productID, userID, err)
	}
	return nil
}

// SetQuantity implements cart.RemoteRepository. quantity must be positive.
func (r *CartRepository) SetQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("setting %q in cart of %q: %w", productID, userID, cart.ErrInvalidQuantity)
	}
	if _, err := r.pool.Exec(ctx, setCartQuantitySQL, userID, productID, quantity); err != nil {
		return fmt.Errorf("setting %q in cart of %q: %w", productID, userID, err)
	}
	return nil
}

// Delete removes one row; a missing row is not an error.
func (r *CartRepository) Delete(ctx context.Context, userID, productID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartItemSQL, userID, productID); err != nil {
		return fmt.Errorf("deleting %q from cart of %q: %w", productID, userID, err)
	}
	return nil
}

// DeleteAll empties userID's cart.
func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, deleteCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", userID, err)
	}
	return nil
}
