package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures a sliding window limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per Window and key.
	Max    int
	Window time.Duration
	// KeyFunc picks the bucket for a request. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// window holds the counts of the current and previous fixed windows. The
// previous count is weighted by how much of it the sliding window still
// covers.
type window struct {
	prev, curr float64
	start      time.Time
}

// Limiter is a per-key sliding window rate limiter.
type Limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows map[string]*window
}

// NewLimiter creates a Limiter. Call Run to evict idle keys.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &Limiter{cfg: cfg, windows: make(map[string]*window)}
}

// Allow records a request for key at now. It reports whether the request is
// within the limit, how many requests remain and when the window resets.
func (l *Limiter) Allow(key string, now time.Time) (allowed bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.cfg.Window
	w, ok := l.windows[key]
	if !ok {
		w = &window{start: now.Truncate(size)}
		l.windows[key] = w
	}
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*size:
		w.prev, w.curr = 0, 0
		w.start = now.Truncate(size)
	case elapsed >= size:
		w.prev, w.curr = w.curr, 0
		w.start = w.start.Add(size)
	}

	overlap := 1 - now.Sub(w.start).Seconds()/size.Seconds()
	used := w.prev*max(overlap, 0) + w.curr
	reset = w.start.Add(size)
	if used >= float64(l.cfg.Max) {
		return false, 0, reset
	}
	w.curr++
	return true, max(int(float64(l.cfg.Max)-used-1), 0), reset
}

// Run evicts keys idle for two windows until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.windows, key)
		}
	}
}

// Middleware enforces the limit, answering 429 with Retry-After when it is
// exceeded. Every response carries X-RateLimit-Limit, -Remaining and -Reset.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, reset := l.Allow(l.cfg.KeyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !allowed {
				retry := max(time.Until(reset), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HeaderOrIP keys requests by a header, falling back to ClientIP when the
// header is absent.
func HeaderOrIP(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return ClientIP(r)
	}
}
