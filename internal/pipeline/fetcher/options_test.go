package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithRateLimitRetry_AppliesValues(t *testing.T) {
	f := &Fetcher{}
	WithRateLimitRetry(5, 100*time.Millisecond, 10*time.Second)(f)
	assert.Equal(t, 5, f.maxAttempts)
	assert.Equal(t, 100*time.Millisecond, f.backoffInitial)
	assert.Equal(t, 10*time.Second, f.backoffMax)
}

func TestWithSleepFunc_AppliesValue(t *testing.T) {
	f := &Fetcher{}
	called := false
	WithSleepFunc(func(context.Context, time.Duration) error {
		called = true
		return nil
	})(f)
	assert.NoError(t, f.sleep(context.Background(), time.Second))
	assert.True(t, called)
}

func TestRetryDelay_Exponential(t *testing.T) {
	f := &Fetcher{backoffInitial: time.Second, backoffMax: 5 * time.Second}
	assert.Equal(t, time.Second, f.retryDelay(1))
	assert.Equal(t, 2*time.Second, f.retryDelay(2))
	assert.Equal(t, 4*time.Second, f.retryDelay(3))
	assert.Equal(t, 5*time.Second, f.retryDelay(4))
}

func TestEffectiveMaxAttempts_Default(t *testing.T) {
	f := &Fetcher{}
	assert.Equal(t, defaultRateLimitMaxAttempts, f.effectiveMaxAttempts())
}
