// Package session keeps one cart session per device for the lifetime of the
// process.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mercadochaco/storefront/internal/domain/cart"
	"github.com/mercadochaco/storefront/internal/domain/identity"
	"github.com/mercadochaco/storefront/internal/domain/product"
)

// ErrMissingDevice is returned by Get for an empty device id.
var ErrMissingDevice = errors.New("device id required")

// LocalCarts opens the anonymous cart storage of a device.
type LocalCarts interface {
	ForDevice(deviceID string) cart.LocalStorage
}

// Session is the state of one device: who is signed in and their cart.
type Session struct {
	DeviceID string
	Identity *identity.Session
	Cart     *cart.Store

	// turn holds one token; a request owns the session while it has it.
	turn     chan struct{}
	stop     func()
	lastSeen time.Time
}

// Acquire waits for the device's other requests to finish, then sets the
// identity to userID. The identity stays userID until release is called.
func (s *Session) Acquire(ctx context.Context, userID string) (release func(), err error) {
	select {
	case s.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.Identity.Set(ctx, userID)
	return func() { <-s.turn }, nil
}

// Registry lazily creates sessions and evicts idle ones.
type Registry struct {
	local    LocalCarts
	remote   cart.RemoteRepository
	products product.Lookup
	idleTTL  time.Duration
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry. Sessions unused for idleTTL are evicted by
// Run.
func NewRegistry(
	local LocalCarts,
	remote cart.RemoteRepository,
	products product.Lookup,
	idleTTL time.Duration,
) *Registry {
	return &Registry{
		local:    local,
		remote:   remote,
		products: products,
		idleTTL:  idleTTL,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for deviceID, creating and loading it on first use.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Session, error) {
	if deviceID == "" {
		return nil, ErrMissingDevice
	}

	if s, ok := r.lookup(deviceID); ok {
		return s, nil
	}

	// Loading does I/O, so it runs outside the lock. Two racing first
	// requests both load; the first one stored wins.
	id := identity.NewSession()
	store := cart.NewStore(r.local.ForDevice(deviceID), r.remote, r.products, id)
	if err := store.SyncIdentity(ctx); err != nil {
		return nil, errors.Wrapf(err, "load cart for device %s", deviceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[deviceID]; ok {
		s.lastSeen = r.now()
		return s, nil
	}
	s := &Session{
		DeviceID: deviceID,
		Identity: id,
		Cart:     store,
		turn:     make(chan struct{}, 1),
		stop:     store.Watch(),
		lastSeen: r.now(),
	}
	r.sessions[deviceID] = s
	zctx.From(ctx).Debug("Session created", zap.String("device_id", deviceID))
	return s, nil
}

func (r *Registry) lookup(deviceID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[deviceID]
	if ok {
		s.lastSeen = r.now()
	}
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run evicts idle sessions until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) error {
	interval := max(r.idleTTL/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lg := zctx.From(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.evict(r.now()); n > 0 {
				lg.Debug("Evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

// evict removes sessions idle for at least idleTTL and returns how many.
func (r *Registry) evict(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) >= r.idleTTL {
			s.stop()
			delete(r.sessions, id)
			n++
		}
	}
	return n
}
