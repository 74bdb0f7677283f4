package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when an order does not exist or belongs to another
// buyer.
var ErrNotFound = errors.New("order not found")

// Status is the lifecycle state of an order. Checkout only ever writes
// StatusPending; later transitions belong to payment confirmation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Order is an order header.
type Order struct {
	ID        string
	BuyerID   string
	Total     decimal.Decimal
	Status    Status
	CreatedAt time.Time
}

// Line is one persisted order line. UnitPrice is captured at checkout time.
type Line struct {
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns Quantity × UnitPrice.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Repository defines persistence operations for orders.
//
// Create and InsertLines are separate round trips, so a failure between them
// leaves a header without lines until the caller deletes it.
type Repository interface {
	// Create inserts a header and returns its generated id.
	Create(ctx context.Context, o *Order) (string, error)
	InsertLines(ctx context.Context, lines []Line) error
	Delete(ctx context.Context, orderID string) error
	// Get returns the header scoped to buyerID, or ErrNotFound.
	Get(ctx context.Context, buyerID, orderID string) (*Order, error)
	GetLines(ctx context.Context, orderID string) ([]Line, error)
}
