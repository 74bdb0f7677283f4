package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item offered by a regional producer.
type Product struct {
	ID       string
	Name     string
	Slug     string
	Price    decimal.Decimal
	Stock    int
	Category string
	Image    Image
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string
	Mobile    string
	Tablet    string
	Desktop   string
}

// Snapshot is the denormalized subset of product fields a cart line carries
// for rendering. It is a cache and may be stale.
type Snapshot struct {
	Name      string
	Price     decimal.Decimal
	Thumbnail string
	Slug      string
}

// Snapshot returns the cart-facing view of p.
func (p Product) Snapshot() Snapshot {
	return Snapshot{
		Name:      p.Name,
		Price:     p.Price,
		Thumbnail: p.Image.Thumbnail,
		Slug:      p.Slug,
	}
}

// Lookup resolves product records in batches. Unknown ids are silently
// excluded from the result.
type Lookup interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	Lookup
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
}
