// Package identity describes who is using a device session. The storefront
// does not issue sessions itself; it only tracks the current buyer id and
// tells interested parties when it changes.
package identity

import (
	"context"
	"sync"
)

// Listener is notified after the current identity changes. An empty userID
// means the session became anonymous.
type Listener func(ctx context.Context, userID string)

// Provider exposes the current identity and change notifications.
type Provider interface {
	// Current returns the authenticated buyer id, or ok=false for anonymous use.
	Current(ctx context.Context) (userID string, ok bool)
	// Subscribe registers fn for identity changes and returns a function
	// that removes the subscription.
	Subscribe(fn Listener) (unsubscribe func())
}

var _ Provider = (*Session)(nil)

// Session is an in-memory Provider for a single device.
type Session struct {
	mu        sync.Mutex
	userID    string
	nextID    int
	listeners map[int]Listener
}

// NewSession returns an anonymous Session.
func NewSession() *Session {
	return &Session{listeners: make(map[int]Listener)}
}

// Current implements Provider.
func (s *Session) Current(_ context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID, s.userID != ""
}

// Subscribe implements Provider.
func (s *Session) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Set records the current buyer id. Listeners run synchronously, in the
// caller's goroutine, and only when the id actually changed.
func (s *Session) Set(ctx context.Context, userID string) {
	s.mu.Lock()
	if s.userID == userID {
		s.mu.Unlock()
		return
	}
	s.userID = userID
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ctx, userID)
	}
}
