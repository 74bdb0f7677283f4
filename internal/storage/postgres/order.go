package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercadochaco/storefront/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (buyer_id, total, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	getOrderSQL = `SELECT id, buyer_id, total, status, created_at
		FROM orders WHERE id = $1 AND buyer_id = $2`

	getOrderLinesSQL = `SELECT order_id, product_id, quantity, unit_price
		FROM order_lines WHERE order_id = $1 ORDER BY id`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create inserts the header and lets the database assign its id.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) (string, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, createOrderSQL, o.BuyerID, o.Total, string(o.Status)).
		Scan(&id, &o.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("creating order for %q: %w", o.BuyerID, err)
	}
	return id.String(), nil
}

// InsertLines bulk-loads lines with COPY.
func (r *OrderRepository) InsertLines(ctx context.Context, lines []order.Line) error {
	rows := make([][]any, len(lines))
	for i, l := range lines {
		id, err := uuid.Parse(l.OrderID)
		if err != nil {
			return fmt.Errorf("order line %d: %w", i, err)
		}
		rows[i] = []any{id, l.ProductID, l.Quantity, l.UnitPrice}
	}

	n, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"order_lines"},
		[]string{"order_id", "product_id", "quantity", "unit_price"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copying %d order lines: %w", len(lines), err)
	}
	if int(n) != len(lines) {
		return fmt.Errorf("copied %d of %d order lines", n, len(lines))
	}
	return nil
}

// Delete removes a header and, by cascade, its lines.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return fmt.Errorf("deleting order %q: %w", orderID, err)
	}
	if _, err := r.pool.Exec(ctx, deleteOrderSQL, id); err != nil {
		return fmt.Errorf("deleting order %q: %w", orderID, err)
	}
	return nil
}

// Get returns buyerID's order, or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, buyerID, orderID string) (*order.Order, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, order.ErrNotFound
	}

	var (
		o      order.Order
		rawID  uuid.UUID
		status string
	)
	err = r.pool.QueryRow(ctx, getOrderSQL, id, buyerID).
		Scan(&rawID, &o.BuyerID, &o.Total, &status, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	o.ID = rawID.String()
	o.Status = order.Status(status)
	return &o, nil
}

// GetLines returns the lines of an order in insertion order.
func (r *OrderRepository) GetLines(ctx context.Context, orderID string) ([]order.Line, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return nil, order.ErrNotFound
	}
	rows, err := r.pool.Query(ctx, getOrderLinesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting lines of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Line, error) {
		var (
			l     order.Line
			rawID uuid.UUID
		)
		err := row.Scan(&rawID, &l.ProductID, &l.Quantity, &l.UnitPrice)
		l.OrderID = rawID.String()
		return l, err
	})
}
