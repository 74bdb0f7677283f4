// Package cart owns the buyer's cart for both anonymous and signed-in use.
//
// An anonymous device keeps its cart in LocalStorage. Once the device signs
// in, the local lines are folded into the buyer's RemoteRepository rows
// exactly once and the local copy is cleared. From then on the remote rows
// are the source of truth until the device signs out again.
package cart

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mercadochaco/storefront/internal/domain/identity"
	"github.com/mercadochaco/storefront/internal/domain/product"
)

// Store is the single source of truth for one device's cart.
//
// Mutations are serialized: each holds writeMu for its whole read-modify-write
// sequence, so two rapid calls on the same device never interleave. Reads
// only take mu and never wait on I/O.
type Store struct {
	local    LocalStorage
	remote   RemoteRepository
	products product.Lookup
	identity identity.Provider

	writeMu sync.Mutex
	// userID is the identity the current lines belong to. Guarded by writeMu.
	userID string
	// mergedFor is the identity whose sign-in merge has completed.
	// Guarded by writeMu.
	mergedFor string
	// linesFor is the identity lines were last loaded for. Guarded by writeMu.
	linesFor string
	// snapshots caches product display fields by id. Guarded by writeMu.
	snapshots map[string]cachedSnapshot

	mu    sync.RWMutex
	lines []Line
}

// NewStore creates a Store. Call SyncIdentity (or Watch) before first use to
// load the current lines.
func NewStore(
	local LocalStorage,
	remote RemoteRepository,
	products product.Lookup,
	provider identity.Provider,
) *Store {
	return &Store{
		local:     local,
		remote:    remote,
		products:  products,
		identity:  provider,
		snapshots: make(map[string]cachedSnapshot),
	}
}

// cachedSnapshot is a product snapshot and whether the catalog supplied it.
type cachedSnapshot struct {
	product.Snapshot
	fromCatalog bool
}

// cacheClientSnapshot records a caller-supplied snapshot unless the catalog
// already supplied one. Must be called with writeMu held.
func (s *Store) cacheClientSnapshot(productID string, snap product.Snapshot) {
	if cached, ok := s.snapshots[productID]; ok && cached.fromCatalog {
		return
	}
	s.snapshots[productID] = cachedSnapshot{Snapshot: snap}
}

// Watch re-syncs the store whenever the identity provider reports a change.
// It returns a function that stops watching.
func (s *Store) Watch() (stop func()) {
	return s.identity.Subscribe(func(ctx context.Context, _ string) {
		if err := s.SyncIdentity(ctx); err != nil {
			zctx.From(ctx).Warn("Cart identity sync failed", zap.Error(err))
		}
	})
}

// SyncIdentity applies a pending identity transition (merging the local cart
// on sign-in) and reloads the lines for the current identity.
func (s *Store) SyncIdentity(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.syncIdentity(ctx)
	s.refresh(ctx)
	return err
}

// AddLine adds quantity units of the referenced product. quantity is a delta:
// an existing line grows by it.
func (s *Store) AddLine(ctx context.Context, ref ProductRef, quantity int) error {
	productID := ref.ProductID()
	if productID == "" {
		return ErrMissingProduct
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.refresh(ctx)

	if err := s.syncIdentity(ctx); err != nil {
		return err
	}

	snap, hasSnap := ref.Snapshot()
	if hasSnap {
		s.cacheClientSnapshot(productID, snap)
	}

	if s.userID != "" {
		if err := s.remote.Increment(ctx, s.userID, productID, quantity); err != nil {
			return errors.Wrapf(err, "add %s to remote cart", productID)
		}
		return nil
	}

	lines, err := s.local.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load local cart")
	}
	if i := indexOf(lines, productID); i >= 0 {
		lines[i].Quantity += quantity
		if hasSnap {
			lines[i].Product = &snap
		}
	} else {
		line := Line{ProductID: productID, Quantity: quantity}
		if hasSnap {
			line.Product = &snap
		}
		lines = append(lines, line)
	}
	if err := s.local.Save(ctx, lines); err != nil {
		return errors.Wrap(err, "save local cart")
	}
	return nil
}

// UpdateQuantity sets the absolute quantity of a line. Negative values are
// clamped to zero, and zero removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if productID == "" {
		return ErrMissingProduct
	}
	quantity = max(quantity, 0)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.refresh(ctx)

	if err := s.syncIdentity(ctx); err != nil {
		return err
	}

	if s.userID != "" {
		if quantity == 0 {
			if err := s.remote.Delete(ctx, s.userID, productID); err != nil {
				return errors.Wrapf(err, "delete %s from remote cart", productID)
			}
			return nil
		}
		if err := s.remote.SetQuantity(ctx, s.userID, productID, quantity); err != nil {
			return errors.Wrapf(err, "set %s quantity in remote cart", productID)
		}
		return nil
	}

	lines, err := s.local.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load local cart")
	}
	i := indexOf(lines, productID)
	switch {
	case quantity == 0 && i >= 0:
		lines = append(lines[:i], lines[i+1:]...)
	case quantity == 0:
		return nil
	case i >= 0:
		lines[i].Quantity = quantity
	default:
		line := Line{ProductID: productID, Quantity: quantity}
		if cached, ok := s.snapshots[productID]; ok {
			line.Product = &cached.Snapshot
		}
		lines = append(lines, line)
	}
	if err := s.local.Save(ctx, lines); err != nil {
		return errors.Wrap(err, "save local cart")
	}
	return nil
}

// Remove deletes the line for productID.
func (s *Store) Remove(ctx context.Context, productID string) error {
	return s.UpdateQuantity(ctx, productID, 0)
}

// Clear empties the cart of the current identity.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer s.refresh(ctx)

	if err := s.syncIdentity(ctx); err != nil {
		return err
	}

	if s.userID != "" {
		if err := s.remote.DeleteAll(ctx, s.userID); err != nil {
			return errors.Wrap(err, "clear remote cart")
		}
		return nil
	}
	if err := s.local.Clear(ctx); err != nil {
		return errors.Wrap(err, "clear local cart")
	}
	return nil
}

// Lines returns a copy of the current lines.
func (s *Store) Lines() []Line {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneLines(s.lines)
}

// Count returns the total number of units in the cart.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Count(s.lines)
}

// Total returns the cart value from cached unit prices.
func (s *Store) Total() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Total(s.lines)
}

// Snapshot returns the lines and total as one consistent copy.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Lines: cloneLines(s.lines),
		Total: decimal.NewNullDecimal(Total(s.lines)),
	}
}

// syncIdentity must be called with writeMu held.
func (s *Store) syncIdentity(ctx context.Context) error {
	userID, _ := s.identity.Current(ctx)
	if userID == s.userID && (userID == "" || s.mergedFor == userID) {
		return nil
	}

	s.userID = userID
	if userID == "" {
		s.mergedFor = ""
		return nil
	}
	if err := s.merge(ctx, userID); err != nil {
		return errors.Wrap(err, "merge local cart")
	}
	return nil
}

// merge folds the local lines into userID's remote cart. A failure part-way
// writes the unmerged remainder back locally, so a retry never adds the same
// units twice.
func (s *Store) merge(ctx context.Context, userID string) error {
	lg := zctx.From(ctx)

	lines, err := s.local.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load local cart")
	}

	merged := 0
	for i, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		if err := s.remote.Increment(ctx, userID, l.ProductID, l.Quantity); err != nil {
			err = errors.Wrapf(err, "merge %s", l.ProductID)
			if saveErr := s.local.Save(ctx, lines[i:]); saveErr != nil {
				err = multierr.Append(err, errors.Wrap(saveErr, "save unmerged lines"))
			}
			return err
		}
		if l.Product != nil {
			s.cacheClientSnapshot(l.ProductID, *l.Product)
		}
		merged++
	}

	// Past this point the remote rows hold the local units; never merge
	// these lines again even if clearing fails.
	s.mergedFor = userID
	if err := s.local.Clear(ctx); err != nil {
		lg.Error("Clear local cart after merge failed", zap.Error(err))
	}
	if merged > 0 {
		lg.Info("Merged local cart", zap.String("user_id", userID), zap.Int("lines", merged))
	}
	return nil
}

// refresh reloads and hydrates the lines. A read failure keeps the previous
// lines only while they belong to the current identity; after a switch the
// cart reads empty until a load succeeds. Must be called with writeMu held.
func (s *Store) refresh(ctx context.Context) {
	lines, err := s.load(ctx)
	if err != nil {
		zctx.From(ctx).Warn("Load cart failed", zap.String("user_id", s.userID), zap.Error(err))
		if s.linesFor != s.userID {
			s.setLines(nil)
			s.linesFor = s.userID
		}
		return
	}

	lines = normalize(lines)
	s.hydrate(ctx, lines)
	s.setLines(lines)
	s.linesFor = s.userID
}

// load reads the stored lines of the current identity.
func (s *Store) load(ctx context.Context) ([]Line, error) {
	if s.userID == "" {
		lines, err := s.local.Load(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "load local cart")
		}
		return lines, nil
	}
	entries, err := s.remote.List(ctx, s.userID)
	if err != nil {
		return nil, errors.Wrap(err, "load remote cart")
	}
	lines := make([]Line, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, Line{ProductID: e.ProductID, Quantity: e.Quantity})
	}
	return lines, nil
}

func (s *Store) setLines(lines []Line) {
	s.mu.Lock()
	s.lines = lines
	s.mu.Unlock()
}

// hydrate attaches product snapshots to lines from one batched lookup. A
// catalog snapshot always replaces a caller-supplied one. Lines the catalog
// does not return keep whatever snapshot they had but are not marked
// FromCatalog; when the lookup itself fails, earlier catalog snapshots stay.
func (s *Store) hydrate(ctx context.Context, lines []Line) {
	if len(lines) == 0 {
		clear(s.snapshots)
		return
	}

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	found, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		zctx.From(ctx).Warn("Product hydration failed", zap.Int("products", len(ids)), zap.Error(err))
	} else {
		listed := make(map[string]struct{}, len(found))
		for _, p := range found {
			listed[p.ID] = struct{}{}
		}
		for _, id := range ids {
			if cached, ok := s.snapshots[id]; ok && cached.fromCatalog {
				if _, ok := listed[id]; !ok {
					cached.fromCatalog = false
					s.snapshots[id] = cached
				}
			}
		}
	}
	for _, p := range found {
		s.snapshots[p.ID] = cachedSnapshot{Snapshot: p.Snapshot(), fromCatalog: true}
	}

	present := make(map[string]struct{}, len(lines))
	for i := range lines {
		id := lines[i].ProductID
		present[id] = struct{}{}
		lines[i].FromCatalog = false
		if cached, ok := s.snapshots[id]; ok {
			snap := cached.Snapshot
			lines[i].Product = &snap
			lines[i].FromCatalog = cached.fromCatalog
		} else if lines[i].Product != nil {
			s.snapshots[id] = cachedSnapshot{Snapshot: *lines[i].Product}
		}
	}
	for id := range s.snapshots {
		if _, ok := present[id]; !ok {
			delete(s.snapshots, id)
		}
	}
}

// normalize drops empty lines and folds duplicate product ids together.
func normalize(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 || l.ProductID == "" {
			continue
		}
		if i := indexOf(out, l.ProductID); i >= 0 {
			out[i].Quantity += l.Quantity
			continue
		}
		out = append(out, l)
	}
	return out
}
