package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsNormalRequests(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger())
	defer rl.Stop()

	rec := httptest.NewRecorder()
	rl.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_SyncTriggerIsThrottled(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger())
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync?secret=x", nil))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync?secret=x", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	// Other routes keep their own budget.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_PerClientIP(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger(), EndpointRule{Prefix: "", RPS: rate.Limit(0.001), Burst: 1})
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("1.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("1.1.1.1"))
	assert.Equal(t, http.StatusOK, send("2.2.2.2"))
	assert.Equal(t, 2, rl.LimiterCount())
}

func TestRateLimitMiddleware_UnmatchedPathPassesThrough(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger(), EndpointRule{Prefix: "/api/sync", RPS: rate.Limit(0.001), Burst: 1})
	defer rl.Stop()
	h := rl.Wrap(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, rl.LimiterCount())
}

func TestRateLimitMiddleware_EvictsStaleLimiters(t *testing.T) {
	rl := NewRateLimitMiddleware(discardLogger())
	defer rl.Stop()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.nowFunc = func() time.Time { return now }

	rec := httptest.NewRecorder()
	rl.Wrap(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, 1, rl.LimiterCount())

	now = now.Add(staleLimiterTTL + time.Second)
	rl.evictStale()
	assert.Zero(t, rl.LimiterCount())
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	assert.Equal(t, "192.0.2.1", extractClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", extractClientIP(req))
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "30", retryAfterSeconds(rate.Limit(2.0/60)))
	assert.Equal(t, "1", retryAfterSeconds(5))
	assert.Equal(t, "1", retryAfterSeconds(rate.Inf))
}
