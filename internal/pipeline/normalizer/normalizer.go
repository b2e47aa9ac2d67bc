package normalizer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/emperorhan/cca-indexer/internal/chain"
	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

const (
	defaultBlockInterval  = 2 * time.Second
	defaultBlockCacheSize = 10_000
)

// BlockTimeSource resolves block header timestamps.
type BlockTimeSource interface {
	BlockTimes(ctx context.Context, blockNumbers []int64) (map[int64]time.Time, error)
}

// Normalizer turns raw Transfer logs into ledger records. Observed time is
// the block header time when it can be fetched, otherwise a linear estimate
// from the distance to the chain head.
type Normalizer struct {
	blocks        BlockTimeSource
	cache         *lru.Cache[int64, time.Time]
	blockInterval time.Duration
	nowFn         func() time.Time
	chain         model.Chain
	network       model.Network
	logger        *slog.Logger
}

type Option func(*Normalizer)

func WithBlockInterval(d time.Duration) Option {
	return func(n *Normalizer) {
		if d > 0 {
			n.blockInterval = d
		}
	}
}

func WithCacheSize(size int) Option {
	return func(n *Normalizer) {
		if c, err := lru.New[int64, time.Time](size); err == nil {
			n.cache = c
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(n *Normalizer) {
		if fn != nil {
			n.nowFn = fn
		}
	}
}

func New(blocks BlockTimeSource, chainID model.Chain, network model.Network, logger *slog.Logger, opts ...Option) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	// Header times never change, so entries live until evicted.
	blockCache, _ := lru.New[int64, time.Time](defaultBlockCacheSize)
	n := &Normalizer{
		blocks:        blocks,
		cache:         blockCache,
		blockInterval: defaultBlockInterval,
		nowFn:         time.Now,
		chain:         chainID,
		network:       network,
		logger:        logger.With("component", "normalizer"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Normalize converts raws in order. Every returned record carries a
// timestamp; only context cancellation produces an error.
func (n *Normalizer) Normalize(ctx context.Context, raws []chain.RawTransferLog, head int64) ([]model.Transfer, error) {
	if len(raws) == 0 {
		return []model.Transfer{}, nil
	}

	times, err := n.resolveBlockTimes(ctx, raws)
	if err != nil {
		return nil, err
	}

	now := n.nowFn().UTC()
	out := make([]model.Transfer, 0, len(raws))
	estimated := 0
	for _, raw := range raws {
		observedAt, exact := times[raw.BlockNumber]
		if !exact {
			observedAt = EstimateBlockTime(now, head, raw.BlockNumber, n.blockInterval)
			estimated++
		}
		out = append(out, ToTransfer(raw, observedAt, exact))
	}

	if estimated > 0 {
		metrics.NormalizerTimestampsEstimated.WithLabelValues(n.chain.String(), n.network.String()).Add(float64(estimated))
		n.logger.Warn("estimated transfer timestamps",
			"estimated", estimated,
			"total", len(out),
			"head", head,
		)
	}
	return out, nil
}

func (n *Normalizer) resolveBlockTimes(ctx context.Context, raws []chain.RawTransferLog) (map[int64]time.Time, error) {
	times := make(map[int64]time.Time, len(raws))
	missing := make([]int64, 0, len(raws))
	seen := make(map[int64]struct{}, len(raws))

	chainLabel, networkLabel := n.chain.String(), n.network.String()
	for _, raw := range raws {
		if _, ok := seen[raw.BlockNumber]; ok {
			continue
		}
		seen[raw.BlockNumber] = struct{}{}
		if ts, ok := n.cache.Get(raw.BlockNumber); ok {
			times[raw.BlockNumber] = ts
			metrics.BlockTimeCacheHits.WithLabelValues(chainLabel, networkLabel).Inc()
			continue
		}
		metrics.BlockTimeCacheMisses.WithLabelValues(chainLabel, networkLabel).Inc()
		missing = append(missing, raw.BlockNumber)
	}

	if len(missing) == 0 || n.blocks == nil {
		return times, nil
	}

	fetched, err := n.blocks.BlockTimes(ctx, missing)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		n.logger.Warn("block timestamp lookup incomplete; falling back to estimates",
			"requested", len(missing),
			"resolved", len(fetched),
			"error", err,
		)
	}
	for block, ts := range fetched {
		n.cache.Add(block, ts)
		times[block] = ts
	}
	return times, nil
}

// ToTransfer maps one raw log to a ledger record.
func ToTransfer(raw chain.RawTransferLog, observedAt time.Time, exact bool) model.Transfer {
	amount := decimal.Zero
	if raw.RawAmount != nil {
		amount = decimal.NewFromBigInt(raw.RawAmount, -model.USDCDecimals)
	}
	return model.Transfer{
		TxHash:      raw.TxHash,
		BlockNumber: raw.BlockNumber,
		LogIndex:    raw.LogIndex,
		FromAddress: strings.ToLower(strings.TrimSpace(raw.Sender)),
		ToAddress:   strings.ToLower(strings.TrimSpace(raw.Recipient)),
		Amount:      amount,
		ObservedAt:  observedAt.UTC(),
		TimeExact:   exact,
	}
}

// EstimateBlockTime extrapolates a block's time backwards from now. Blocks
// at or beyond head are stamped with now.
func EstimateBlockTime(now time.Time, head, block int64, interval time.Duration) time.Time {
	distance := head - block
	if distance < 0 {
		distance = 0
	}
	return now.Add(-time.Duration(distance) * interval)
}
