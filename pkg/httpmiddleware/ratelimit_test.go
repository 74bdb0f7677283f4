package httpmiddleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_UnderLimit(t *testing.T) {
	h := NewLimiter(RateLimitConfig{Max: 5, Window: time.Minute}).Middleware()(okHandler())

	for i := range 5 {
		w := serve(h, "192.168.1.1:12345", nil)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	h := NewLimiter(RateLimitConfig{Max: 2, Window: time.Minute}).Middleware()(okHandler())

	for range 2 {
		require.Equal(t, http.StatusOK, serve(h, "10.0.0.1:9999", nil).Code)
	}

	w := serve(h, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(429), body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_SeparateKeys(t *testing.T) {
	h := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute}).Middleware()(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2:1234", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:5678", nil).Code)
}

func TestRateLimit_HeaderOrIP(t *testing.T) {
	h := NewLimiter(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: HeaderOrIP("X-Device-ID"),
	}).Middleware()(okHandler())

	device := map[string]string{"X-Device-ID": "d1"}
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1", device).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.2:1", device).Code,
		"same device from another address shares the bucket")
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1", map[string]string{"X-Device-ID": "d2"}).Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1", nil).Code, "no device falls back to the ip")
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	h := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute}).Middleware()(okHandler())

	xff := map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}
	assert.Equal(t, http.StatusOK, serve(h, "192.168.1.1:4444", xff).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "192.168.1.2:5555", xff).Code)
}

func TestLimiter_SlidingWindow(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for range 4 {
		ok, _, _ := l.Allow("k", start)
		require.True(t, ok)
	}
	ok, _, _ := l.Allow("k", start.Add(30*time.Second))
	assert.False(t, ok)

	// Halfway through the next window half of the previous count still
	// applies: 4 * 0.5 = 2 used.
	ok, remaining, _ := l.Allow("k", start.Add(90*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	// Two full windows later everything is forgotten.
	ok, remaining, _ = l.Allow("k", start.Add(5*time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 3, remaining)
}

func TestLimiter_Evict(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.Allow("old", start)
	l.Allow("new", start.Add(2*time.Minute))

	l.evict(start.Add(2*time.Minute + time.Second))

	assert.Len(t, l.windows, 1)
	assert.Contains(t, l.windows, "new")
}

func TestLimiter_RunStops(t *testing.T) {
	l := NewLimiter(RateLimitConfig{Max: 1, Window: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
