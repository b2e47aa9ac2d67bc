package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emperorhan/cca-indexer/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter is a client-side token bucket in front of the RPC provider.
// Public endpoints throttle aggressively, so every JSON-RPC request and
// every batch consumes exactly one token.
type Limiter struct {
	limiter *rate.Limiter
	chain   string
}

// NewLimiter allows rps requests per second with a burst of burst tokens.
// A non-positive rps returns nil, which callers treat as unlimited.
func NewLimiter(rps float64, burst int, chain string) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		chain:   chain,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	metrics.RPCRateLimitWaits.WithLabelValues(l.chain).Inc()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// RecordRPCCall counts one RPC call under its classified status.
func RecordRPCCall(chain, method string, err error) {
	metrics.RPCCallsTotal.WithLabelValues(chain, method, ClassifyRPCError(err)).Inc()
}

// ClassifyRPCError maps an RPC error to a metric status label.
func ClassifyRPCError(err error) string {
	if err == nil {
		return "ok"
	}
	lower := strings.ToLower(err.Error())
	switch {
	case containsAny(lower, "timeout", "deadline exceeded"):
		return "timeout"
	case containsAny(lower, "rate limit", "429", "too many requests", "limit exceeded", "-32005"):
		return "rate_limited"
	case containsAny(lower, "500", "502", "503", "504", "internal server error", "bad gateway"):
		return "server_error"
	case containsAny(lower, "connection refused", "connection reset", "network is unreachable",
		"no such host", "broken pipe", "eof"):
		return "network_error"
	default:
		return "client_error"
	}
}

func containsAny(s string, tokens ...string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
