package cart

import (
	"context"
	"runtime"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mercadochaco/storefront/internal/domain/identity"
	"github.com/mercadochaco/storefront/internal/domain/product"
)

// --- Mock implementations ---

type memLocal struct {
	mu      sync.Mutex
	lines   []Line
	loadErr error
	saveErr error
}

func (m *memLocal) Load(context.Context) ([]Line, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return cloneLines(m.lines), nil
}

func (m *memLocal) Save(_ context.Context, lines []Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.lines = cloneLines(lines)
	return nil
}

func (m *memLocal) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
	return nil
}

func (m *memLocal) snapshot() []Line {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneLines(m.lines)
}

// memRemote deliberately implements Increment as an unsynchronized
// read-then-write so tests can observe whether callers serialize.
type memRemote struct {
	mu         sync.Mutex
	rows       map[string]map[string]int
	increments int
	listErr    error
	writeErr   error
	failOn     string
}

func newMemRemote() *memRemote {
	return &memRemote{rows: make(map[string]map[string]int)}
}

func (m *memRemote) get(userID, productID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.rows[userID][productID]
	return q, ok
}

func (m *memRemote) put(userID, productID string, q int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[userID] == nil {
		m.rows[userID] = make(map[string]int)
	}
	m.rows[userID][productID] = q
}

func (m *memRemote) List(_ context.Context, userID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []Entry
	for pid, q := range m.rows[userID] {
		out = append(out, Entry{ProductID: pid, Quantity: q})
	}
	return out, nil
}

func (m *memRemote) Increment(_ context.Context, userID, productID string, delta int) error {
	if m.writeErr != nil || productID == m.failOn {
		return errors.New("remote write failed")
	}
	existing, ok := m.get(userID, productID)
	runtime.Gosched()
	if ok {
		m.put(userID, productID, max(1, existing+delta))
	} else {
		m.put(userID, productID, max(1, delta))
	}
	m.mu.Lock()
	m.increments++
	m.mu.Unlock()
	return nil
}

func (m *memRemote) SetQuantity(_ context.Context, userID, productID string, quantity int) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.put(userID, productID, quantity)
	return nil
}

func (m *memRemote) Delete(_ context.Context, userID, productID string) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows[userID], productID)
	return nil
}

func (m *memRemote) DeleteAll(_ context.Context, userID string) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, userID)
	return nil
}

type mockLookup struct {
	byID  map[string]product.Product
	err   error
	calls int
}

func (m *mockLookup) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- Helpers ---

func newTestProduct(id, price string) product.Product {
	return product.Product{
		ID:    id,
		Name:  "Product " + id,
		Slug:  "product-" + id,
		Price: decimal.RequireFromString(price),
		Stock: 10,
		Image: product.Image{Thumbnail: id + ".jpg"},
	}
}

func newLookup(products ...product.Product) *mockLookup {
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &mockLookup{byID: byID}
}

type fixture struct {
	local   *memLocal
	remote  *memRemote
	lookup  *mockLookup
	session *identity.Session
	store   *Store
}

func newFixture(t *testing.T, products ...product.Product) *fixture {
	t.Helper()
	f := &fixture{
		local:   &memLocal{},
		remote:  newMemRemote(),
		lookup:  newLookup(products...),
		session: identity.NewSession(),
	}
	f.store = NewStore(f.local, f.remote, f.lookup, f.session)
	require.NoError(t, f.store.SyncIdentity(context.Background()))
	return f
}

func quantityOf(lines []Line, productID string) int {
	for _, l := range lines {
		if l.ProductID == productID {
			return l.Quantity
		}
	}
	return 0
}

// --- Tests ---

func TestAddLine_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.store.AddLine(ctx, ByID("P1"), 0), ErrInvalidQuantity)
	require.ErrorIs(t, f.store.AddLine(ctx, ByID("P1"), -2), ErrInvalidQuantity)
	require.ErrorIs(t, f.store.AddLine(ctx, ByID(""), 1), ErrMissingProduct)
	assert.Empty(t, f.store.Lines())
}

func TestAddLine_AnonymousDeltaThenAbsolute(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "10.00"))
	ctx := context.Background()

	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))
	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))
	assert.Equal(t, 4, quantityOf(f.store.Lines(), "P1"))

	require.NoError(t, f.store.UpdateQuantity(ctx, "P1", 4))
	lines := f.store.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 4, lines[0].Quantity)
	assert.Equal(t, 4, quantityOf(f.local.snapshot(), "P1"))
}

func TestAddLine_AuthenticatedDeltaThenAbsolute(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "10.00"))
	ctx := context.Background()
	f.session.Set(ctx, "U1")

	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))
	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))
	assert.Equal(t, 4, quantityOf(f.store.Lines(), "P1"))

	require.NoError(t, f.store.UpdateQuantity(ctx, "P1", 4))
	q, ok := f.remote.get("U1", "P1")
	require.True(t, ok)
	assert.Equal(t, 4, q)
	assert.Empty(t, f.local.snapshot())
}

func TestUpdateQuantity_ZeroRemoves(t *testing.T) {
	for _, userID := range []string{"", "U1"} {
		t.Run("user="+userID, func(t *testing.T) {
			f := newFixture(t, newTestProduct("P1", "1.00"), newTestProduct("P2", "2.00"))
			ctx := context.Background()
			f.session.Set(ctx, userID)

			require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 3))
			require.NoError(t, f.store.AddLine(ctx, ByID("P2"), 1))

			require.NoError(t, f.store.UpdateQuantity(ctx, "P1", 0))
			assert.Equal(t, 0, quantityOf(f.store.Lines(), "P1"))
			assert.Len(t, f.store.Lines(), 1)

			require.NoError(t, f.store.UpdateQuantity(ctx, "P2", -5))
			assert.Empty(t, f.store.Lines())
		})
	}
}

func TestUpdateQuantity_AbsentLineIsCreated(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "1.00"))
	ctx := context.Background()

	require.NoError(t, f.store.UpdateQuantity(ctx, "P1", 3))
	assert.Equal(t, 3, quantityOf(f.store.Lines(), "P1"))

	require.NoError(t, f.store.Remove(ctx, "missing"))
	assert.Len(t, f.store.Lines(), 1)
}

func TestTotals(t *testing.T) {
	f := newFixture(t, newTestProduct("A", "10"), newTestProduct("B", "5.50"))
	ctx := context.Background()

	require.NoError(t, f.store.AddLine(ctx, ByID("A"), 2))
	require.NoError(t, f.store.AddLine(ctx, ByID("B"), 1))

	assert.Equal(t, 3, f.store.Count())
	assert.True(t, decimal.RequireFromString("25.50").Equal(f.store.Total()), "got %s", f.store.Total())

	snap := f.store.Snapshot()
	require.True(t, snap.Total.Valid)
	assert.True(t, decimal.RequireFromString("25.50").Equal(snap.Total.Decimal))
	assert.Len(t, snap.Lines, 2)
}

func TestTotals_MissingPriceCountsAsZero(t *testing.T) {
	f := newFixture(t, newTestProduct("A", "4.25"))
	ctx := context.Background()

	require.NoError(t, f.store.AddLine(ctx, ByID("A"), 2))
	require.NoError(t, f.store.AddLine(ctx, ByID("unknown"), 5))

	assert.Equal(t, 7, f.store.Count())
	assert.True(t, decimal.RequireFromString("8.50").Equal(f.store.Total()))
}

func TestSyncIdentity_MergesOnce(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "1.00"), newTestProduct("P2", "1.00"))
	ctx := context.Background()

	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))
	require.NoError(t, f.store.AddLine(ctx, ByID("P2"), 1))
	f.remote.put("U1", "P1", 3)

	f.session.Set(ctx, "U1")
	require.NoError(t, f.store.SyncIdentity(ctx))

	q1, _ := f.remote.get("U1", "P1")
	q2, _ := f.remote.get("U1", "P2")
	assert.Equal(t, 5, q1)
	assert.Equal(t, 1, q2)
	assert.Empty(t, f.local.snapshot())
	assert.Equal(t, 6, f.store.Count())

	// A repeated sync for the same identity must not re-apply anything, even
	// if something wrote to local storage in between.
	increments := f.remote.increments
	f.local.lines = []Line{{ProductID: "P1", Quantity: 7}}
	require.NoError(t, f.store.SyncIdentity(ctx))
	require.NoError(t, f.store.SyncIdentity(ctx))
	assert.Equal(t, increments, f.remote.increments)
	q1, _ = f.remote.get("U1", "P1")
	assert.Equal(t, 5, q1)
}

func TestSyncIdentity_MergeFloorsAtOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.local.lines = []Line{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 0}}
	f.remote.put("U1", "P1", -5)

	f.session.Set(ctx, "U1")
	require.NoError(t, f.store.SyncIdentity(ctx))

	q, _ := f.remote.get("U1", "P1")
	assert.Equal(t, 1, q)
	_, ok := f.remote.get("U1", "P2")
	assert.False(t, ok, "zero-quantity local lines are not merged")
}

func TestSyncIdentity_PartialMergeFailureKeepsRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.local.lines = []Line{{ProductID: "P1", Quantity: 1}, {ProductID: "P2", Quantity: 2}}
	f.remote.failOn = "P2"

	f.session.Set(ctx, "U1")
	err := f.store.SyncIdentity(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge local cart")

	q1, _ := f.remote.get("U1", "P1")
	assert.Equal(t, 1, q1)
	remaining := f.local.snapshot()
	require.Len(t, remaining, 1)
	assert.Equal(t, "P2", remaining[0].ProductID)

	// The retry merges only what is left.
	f.remote.failOn = ""
	require.NoError(t, f.store.SyncIdentity(ctx))
	q1, _ = f.remote.get("U1", "P1")
	q2, _ := f.remote.get("U1", "P2")
	assert.Equal(t, 1, q1)
	assert.Equal(t, 2, q2)
	assert.Empty(t, f.local.snapshot())
}

func TestWatch_SignInAndOut(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "3.00"))
	ctx := context.Background()
	stop := f.store.Watch()
	defer stop()

	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))

	f.session.Set(ctx, "U1")
	q, _ := f.remote.get("U1", "P1")
	assert.Equal(t, 2, q)
	assert.Equal(t, 2, f.store.Count())

	f.session.Set(ctx, "")
	assert.Empty(t, f.store.Lines(), "signed-out device shows its (now empty) local cart")

	// Signing in again is a new transition and shows the remote cart.
	f.session.Set(ctx, "U1")
	assert.Equal(t, 2, f.store.Count())
}

func TestAddLine_SnapshotKeptWhenLookupFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lookup.err = errors.New("catalog down")

	snap := product.Snapshot{Name: "Miel", Price: decimal.RequireFromString("7.00")}
	require.NoError(t, f.store.AddLine(ctx, WithSnapshot("P1", snap), 1))

	lines := f.store.Lines()
	require.Len(t, lines, 1)
	require.NotNil(t, lines[0].Product)
	assert.Equal(t, "Miel", lines[0].Product.Name)
	assert.True(t, decimal.RequireFromString("7.00").Equal(f.store.Total()))
}

func TestHydration_ReplacesSnapshotAndBatches(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "9.00"), newTestProduct("P2", "1.00"))
	ctx := context.Background()

	stale := product.Snapshot{Name: "old", Price: decimal.NewFromInt(1)}
	require.NoError(t, f.store.AddLine(ctx, WithSnapshot("P1", stale), 1))
	calls := f.lookup.calls
	require.NoError(t, f.store.AddLine(ctx, ByID("P2"), 1))
	assert.Equal(t, calls+1, f.lookup.calls, "one lookup per mutation")

	lines := f.store.Lines()
	for _, l := range lines {
		require.NotNil(t, l.Product)
	}
	assert.True(t, decimal.RequireFromString("10.00").Equal(f.store.Total()))
}

func TestRemoteReadFailure_KeepsStaleLines(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "1.00"))
	ctx := context.Background()
	f.session.Set(ctx, "U1")

	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))
	f.remote.listErr = errors.New("network down")

	require.NoError(t, f.store.SyncIdentity(ctx))
	assert.Equal(t, 2, f.store.Count())
}

func TestIdentitySwitch_ReadFailureShowsEmptyCart(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "4.00"))
	ctx := context.Background()
	f.session.Set(ctx, "alice")
	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 3))
	require.Equal(t, 3, f.store.Count())

	f.remote.listErr = errors.New("network down")
	f.session.Set(ctx, "bob")
	require.NoError(t, f.store.SyncIdentity(ctx))

	assert.Empty(t, f.store.Lines(), "bob must not see alice's lines")
	assert.Equal(t, 0, f.store.Count())
	assert.True(t, f.store.Total().IsZero())
	assert.Empty(t, f.store.Snapshot().Lines)

	f.remote.listErr = nil
	f.remote.put("bob", "P1", 1)
	require.NoError(t, f.store.SyncIdentity(ctx))
	assert.Equal(t, 1, f.store.Count())
}

func TestSignOut_LocalReadFailureShowsEmptyCart(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "4.00"))
	ctx := context.Background()
	f.session.Set(ctx, "alice")
	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))

	f.local.loadErr = errors.New("redis down")
	f.session.Set(ctx, "")
	require.NoError(t, f.store.SyncIdentity(ctx))

	assert.Empty(t, f.store.Lines())
	assert.Equal(t, 0, f.store.Count())
}

func TestFromCatalog(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "10.00"))
	ctx := context.Background()

	cheap := product.Snapshot{Name: "Cheap", Price: decimal.RequireFromString("0.01")}
	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 1))
	require.NoError(t, f.store.AddLine(ctx, WithSnapshot("X9", cheap), 1))

	lines := f.store.Lines()
	require.Len(t, lines, 2)
	assert.True(t, lines[0].FromCatalog)
	assert.False(t, lines[1].FromCatalog, "unknown product keeps the client price but is not orderable")
	assert.Equal(t, "Cheap", lines[1].Product.Name)

	// A client snapshot never replaces the catalog price, even while the
	// catalog is unreachable.
	f.lookup.err = errors.New("catalog down")
	require.NoError(t, f.store.AddLine(ctx, WithSnapshot("P1", cheap), 1))

	lines = f.store.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "P1", lines[0].ProductID)
	assert.True(t, lines[0].FromCatalog)
	assert.True(t, decimal.RequireFromString("10.00").Equal(lines[0].UnitPrice()))
	assert.False(t, lines[1].FromCatalog)
}

func TestFromCatalog_NeverResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lookup.err = errors.New("catalog down")

	snap := product.Snapshot{Name: "Miel", Price: decimal.RequireFromString("0.01")}
	require.NoError(t, f.store.AddLine(ctx, WithSnapshot("P1", snap), 1))

	lines := f.store.Lines()
	require.Len(t, lines, 1)
	assert.False(t, lines[0].FromCatalog)
	assert.False(t, f.store.Snapshot().Lines[0].FromCatalog)
}

func TestRemoteWriteFailure_Propagates(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "1.00"))
	ctx := context.Background()
	f.session.Set(ctx, "U1")
	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 1))

	f.remote.writeErr = errors.New("write refused")

	err := f.store.AddLine(ctx, ByID("P1"), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add P1 to remote cart")
	require.Error(t, f.store.UpdateQuantity(ctx, "P1", 3))
	require.Error(t, f.store.Remove(ctx, "P1"))
	require.Error(t, f.store.Clear(ctx))

	assert.Equal(t, 1, f.store.Count(), "failed writes leave the last known state")
}

func TestLocalWriteFailure_Propagates(t *testing.T) {
	f := newFixture(t)
	f.local.saveErr = errors.New("disk full")

	err := f.store.AddLine(context.Background(), ByID("P1"), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save local cart")
}

func TestClear(t *testing.T) {
	for _, userID := range []string{"", "U1"} {
		t.Run("user="+userID, func(t *testing.T) {
			f := newFixture(t, newTestProduct("P1", "1.00"))
			ctx := context.Background()
			f.session.Set(ctx, userID)

			require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 2))
			require.NoError(t, f.store.Clear(ctx))

			assert.Empty(t, f.store.Lines())
			assert.Equal(t, 0, f.store.Count())
			assert.True(t, f.store.Total().IsZero())
		})
	}
}

func TestConcurrentAddLine_NoLostUpdate(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "1.00"))
	ctx := context.Background()
	f.session.Set(ctx, "U1")

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.store.AddLine(ctx, ByID("P1"), 1))
		}()
	}
	wg.Wait()

	q, _ := f.remote.get("U1", "P1")
	assert.Equal(t, n, q)
	assert.Equal(t, n, f.store.Count())
}

func TestLinesAreCopies(t *testing.T) {
	f := newFixture(t, newTestProduct("P1", "2.00"))
	ctx := context.Background()
	require.NoError(t, f.store.AddLine(ctx, ByID("P1"), 1))

	lines := f.store.Lines()
	lines[0].Quantity = 99
	lines[0].Product.Name = "mutated"

	again := f.store.Lines()
	assert.Equal(t, 1, again[0].Quantity)
	assert.NotEqual(t, "mutated", again[0].Product.Name)
}

func TestNopView(t *testing.T) {
	var v View = NopView{}

	assert.Empty(t, v.Lines())
	assert.Equal(t, 0, v.Count())
	assert.True(t, v.Total().IsZero())
	assert.True(t, v.Snapshot().Total.Valid)
}

func TestProductRef(t *testing.T) {
	ref := ByID("P1")
	_, ok := ref.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, "P1", ref.String())

	ref = FromProduct(newTestProduct("P2", "3.00"))
	snap, ok := ref.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "P2", ref.ProductID())
	assert.Equal(t, "product-P2", snap.Slug)
	assert.Equal(t, "P2.jpg", snap.Thumbnail)
}
