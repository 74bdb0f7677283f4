package cart

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/mercadochaco/storefront/internal/domain/product"
)

// ErrInvalidQuantity is returned when AddLine receives a non-positive delta.
var ErrInvalidQuantity = errors.New("quantity must be greater than 0")

// ErrMissingProduct is returned when a mutation names no product.
var ErrMissingProduct = errors.New("product id required")

// Line is one product's presence in a cart. A line with quantity 0 is never
// stored; it is removed instead.
type Line struct {
	ProductID string
	Quantity  int
	// Product is a cached snapshot for rendering, nil until hydrated.
	Product *product.Snapshot
	// FromCatalog is set when Product came from the catalog lookup rather
	// than from the caller. Only such lines can be ordered.
	FromCatalog bool
}

// UnitPrice returns the cached unit price, or zero when no snapshot is known.
func (l Line) UnitPrice() decimal.Decimal {
	if l.Product == nil {
		return decimal.Zero
	}
	return l.Product.Price
}

// Subtotal returns quantity × cached unit price.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// ProductRef names the product a caller wants to add: either a bare id or an
// id with a snapshot the caller already has.
type ProductRef struct {
	id       string
	snapshot *product.Snapshot
}

// ByID refers to a product by id only.
func ByID(id string) ProductRef {
	return ProductRef{id: id}
}

// WithSnapshot refers to a product and carries its display fields, which are
// cached on the line until hydration replaces them.
func WithSnapshot(id string, s product.Snapshot) ProductRef {
	return ProductRef{id: id, snapshot: &s}
}

// FromProduct is WithSnapshot for a full catalog record.
func FromProduct(p product.Product) ProductRef {
	return WithSnapshot(p.ID, p.Snapshot())
}

// ProductID returns the referenced product id.
func (r ProductRef) ProductID() string { return r.id }

// Snapshot returns the carried snapshot, if any.
func (r ProductRef) Snapshot() (product.Snapshot, bool) {
	if r.snapshot == nil {
		return product.Snapshot{}, false
	}
	return *r.snapshot, true
}

func (r ProductRef) String() string {
	if r.snapshot != nil {
		return fmt.Sprintf("%s(%s)", r.id, r.snapshot.Name)
	}
	return r.id
}

// Snapshot is a point-in-time copy of a cart used by checkout.
type Snapshot struct {
	Lines []Line
	// Total is the aggregate as the store computed it. Consumers treat an
	// invalid or negative value as untrustworthy and recompute from Lines.
	Total decimal.NullDecimal
}

// Count returns the sum of all line quantities.
func Count(lines []Line) int {
	var n int
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// Total returns Σ quantity × cached unit price, with missing prices as zero.
func Total(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func cloneLines(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, l := range lines {
		out[i] = l
		if l.Product != nil {
			p := *l.Product
			out[i].Product = &p
		}
	}
	return out
}

func indexOf(lines []Line, productID string) int {
	for i, l := range lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}
