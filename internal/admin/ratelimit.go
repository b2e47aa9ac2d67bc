package admin

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// staleLimiterTTL is how long a per-IP limiter can be idle before cleanup.
	staleLimiterTTL = 10 * time.Minute

	cleanupInterval = 1 * time.Minute
)

// EndpointRule limits requests whose path starts with Prefix. An empty
// Prefix matches every path and should come last.
type EndpointRule struct {
	Prefix string
	RPS    rate.Limit
	Burst  int
}

// DefaultRules throttles the routes that reach the chain RPC hardest.
func DefaultRules() []EndpointRule {
	return []EndpointRule{
		{Prefix: syncPath, RPS: rate.Limit(2.0 / 60), Burst: 2},
		{Prefix: reconcilePath, RPS: rate.Limit(1.0 / 60), Burst: 1},
		{Prefix: leaderboardPath, RPS: 2, Burst: 10},
		{Prefix: "", RPS: 5, Burst: 20},
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware provides per-endpoint, per-IP rate limiting.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry // key: "prefix|clientIP"
	rules    []EndpointRule
	logger   *slog.Logger
	nowFunc  func() time.Time
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimitMiddleware starts a background sweeper for idle limiters; call
// Stop to release it. With no rules DefaultRules is used.
func NewRateLimitMiddleware(logger *slog.Logger, rules ...EndpointRule) *RateLimitMiddleware {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		rules:    rules,
		logger:   logger,
		nowFunc:  time.Now,
		stopCh:   make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Stop shuts down the background cleanup goroutine. Safe to call multiple times.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.nowFunc()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount returns the number of tracked limiters.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Wrap applies per-IP rate limiting before delegating to next.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := rl.match(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := extractClientIP(r)
		limiter := rl.limiterFor(rule, clientIP)
		now := rl.nowFunc()
		if !limiter.AllowN(now, 1) {
			w.Header().Set("Retry-After", retryAfterSeconds(rule.RPS))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			rl.logger.Warn("admin API rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", clientIP,
			)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection address.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimitMiddleware) match(path string) (EndpointRule, bool) {
	for _, rule := range rl.rules {
		if rule.Prefix == "" || strings.HasPrefix(path, rule.Prefix) {
			return rule, true
		}
	}
	return EndpointRule{}, false
}

func (rl *RateLimitMiddleware) limiterFor(rule EndpointRule, clientIP string) *rate.Limiter {
	key := rule.Prefix + "|" + clientIP
	now := rl.nowFunc()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if entry, ok := rl.limiters[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(rule.RPS, rule.Burst)
	rl.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

// retryAfterSeconds is the time for one token to refill, at least 1s.
func retryAfterSeconds(rps rate.Limit) string {
	if rps <= 0 || rps == rate.Inf {
		return "1"
	}
	secs := math.Ceil(1 / float64(rps))
	return strconv.Itoa(max(int(secs), 1))
}
