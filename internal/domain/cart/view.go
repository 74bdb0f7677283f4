package cart

import "github.com/shopspring/decimal"

// View is the read side of a cart. Components that only render a cart (or
// may run without one) depend on View rather than *Store.
type View interface {
	Lines() []Line
	Count() int
	Total() decimal.Decimal
	Snapshot() Snapshot
}

var (
	_ View = (*Store)(nil)
	_ View = NopView{}
)

// NopView is an always-empty cart, used where no store is wired.
type NopView struct{}

func (NopView) Lines() []Line          { return nil }
func (NopView) Count() int             { return 0 }
func (NopView) Total() decimal.Decimal { return decimal.Zero }

func (NopView) Snapshot() Snapshot {
	return Snapshot{Total: decimal.NewNullDecimal(decimal.Zero)}
}
