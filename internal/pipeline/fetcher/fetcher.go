package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emperorhan/cca-indexer/internal/chain"
	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/metrics"
	"github.com/emperorhan/cca-indexer/internal/pipeline/retry"
	"github.com/emperorhan/cca-indexer/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultRateLimitMaxAttempts = 3
	defaultBackoffInitial       = time.Second
	defaultBackoffMax           = 30 * time.Second
)

// ErrRateLimitExhausted is returned when a chunk stayed throttled through
// every attempt. Callers stop requesting chunks for this run and keep the
// progress made so far.
var ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

// Fetcher reads one block-range chunk at a time from a TransferLogSource.
type Fetcher struct {
	source  chain.TransferLogSource
	chain   model.Chain
	network model.Network
	logger  *slog.Logger

	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	sleepFn        func(ctx context.Context, d time.Duration) error
}

type Option func(*Fetcher)

// WithRateLimitRetry sets how many times a throttled chunk is attempted and
// the exponential delay between attempts.
func WithRateLimitRetry(maxAttempts int, initial, max time.Duration) Option {
	return func(f *Fetcher) {
		f.maxAttempts = maxAttempts
		f.backoffInitial = initial
		f.backoffMax = max
	}
}

func WithSleepFunc(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) {
		f.sleepFn = fn
	}
}

func New(source chain.TransferLogSource, chainID model.Chain, network model.Network, logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		source:         source,
		chain:          chainID,
		network:        network,
		logger:         logger.With("component", "fetcher"),
		maxAttempts:    defaultRateLimitMaxAttempts,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// FetchChunk returns the transfer logs in [from, to]. Throttled requests
// are retried with backoff; exhaustion yields ErrRateLimitExhausted. Any
// other failure is returned immediately and the chunk must not be marked
// processed.
func (f *Fetcher) FetchChunk(ctx context.Context, from, to int64) (logs []chain.RawTransferLog, err error) {
	chainLabel, networkLabel := f.chain.String(), f.network.String()
	spanCtx, span := tracing.StartStage(ctx, "fetcher", "fetch_chunk",
		attribute.Int64("from_block", from),
		attribute.Int64("to_block", to),
	)
	start := time.Now()
	defer func() {
		tracing.End(span, err)
		metrics.FetcherLatency.WithLabelValues(chainLabel, networkLabel).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.FetcherErrors.WithLabelValues(chainLabel, networkLabel).Inc()
		}
	}()

	attempts := f.effectiveMaxAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		logs, err := f.source.TransferLogs(spanCtx, from, to)
		if err == nil {
			metrics.FetcherLogsFetched.WithLabelValues(chainLabel, networkLabel).Add(float64(len(logs)))
			return logs, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		decision := retry.Classify(err)
		if !decision.IsRateLimited() {
			return nil, fmt.Errorf("fetch chunk %d..%d reason=%s: %w", from, to, decision.Reason, err)
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		delay := f.retryDelay(attempt)
		metrics.FetcherRateLimitRetries.WithLabelValues(chainLabel, networkLabel).Inc()
		f.logger.Warn("chunk rate limited; backing off",
			"from_block", from,
			"to_block", to,
			"attempt", attempt,
			"delay", delay,
			"classification_reason", decision.Reason,
			"error", err,
		)
		if sleepErr := f.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}

	f.logger.Warn("chunk rate limit retries exhausted",
		"from_block", from,
		"to_block", to,
		"attempts", attempts,
		"error", lastErr,
	)
	return nil, fmt.Errorf("chunk %d..%d after %d attempts: %w: %w", from, to, attempts, ErrRateLimitExhausted, lastErr)
}

// retryDelay is initial * 2^(attempt-1), capped at backoffMax.
func (f *Fetcher) retryDelay(attempt int) time.Duration {
	base := f.backoffInitial
	if base <= 0 {
		base = defaultBackoffInitial
	}
	max := f.backoffMax
	if max <= 0 || max < base {
		max = base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= max/2 {
			return max
		}
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}

func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if f.sleepFn != nil {
		return f.sleepFn(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Fetcher) effectiveMaxAttempts() int {
	if f.maxAttempts <= 0 {
		return defaultRateLimitMaxAttempts
	}
	return f.maxAttempts
}
