package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(10.0, 5, "base")

	require.NotNil(t, l)
	require.NotNil(t, l.limiter)
	assert.Equal(t, "base", l.chain)
	assert.InDelta(t, 10.0, float64(l.limiter.Limit()), 0.001)
	assert.Equal(t, 5, l.limiter.Burst())
}

func TestNewLimiter_DisabledAndMinimumBurst(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 5, "base"))
	assert.Nil(t, NewLimiter(-1, 5, "base"))

	l := NewLimiter(5, 0, "base")
	require.NotNil(t, l)
	assert.Equal(t, 1, l.limiter.Burst())
}

func TestLimiter_AllowWithinBurst(t *testing.T) {
	const burst = 5
	l := NewLimiter(100, burst, "base")

	for i := 0; i < burst; i++ {
		start := time.Now()
		require.NoError(t, l.Wait(context.Background()), "request %d", i)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	}
}

func TestLimiter_WaitWhenExhausted(t *testing.T) {
	l := NewLimiter(10, 1, "base")

	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_ContextCancellation(t *testing.T) {
	l := NewLimiter(1, 1, "base")
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, l.Wait(ctx))
}

func TestClassifyRPCError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("http status 429: slow down"), "rate_limited"},
		{errors.New("rpc error -32005: query returned more than 10000 results"), "rate_limited"},
		{errors.New("http status 503: unavailable"), "server_error"},
		{errors.New("dial tcp: connection refused"), "network_error"},
		{errors.New("invalid params"), "client_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyRPCError(tt.err))
	}
}
