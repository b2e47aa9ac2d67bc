package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/emperorhan/cca-indexer/internal/alert"
	"github.com/emperorhan/cca-indexer/internal/chain"
	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/metrics"
	"github.com/emperorhan/cca-indexer/internal/pipeline/normalizer"
	"github.com/emperorhan/cca-indexer/internal/store"
)

const (
	defaultChunkSize = 2000
	defaultMaxRange  = 100_000
	defaultPageSize  = 1000
)

// ErrInvalidRange is returned for an empty, negative or oversized block range.
var ErrInvalidRange = errors.New("invalid reconciliation range")

// ChunkFetcher reads the transfer logs of one inclusive block range.
type ChunkFetcher interface {
	FetchChunk(ctx context.Context, from, to int64) ([]chain.RawTransferLog, error)
}

// Divergence records a field that differs between the chain and the ledger
// for the same tx hash.
type Divergence struct {
	TxHash      string `json:"tx_hash"`
	Field       string `json:"field"`
	ChainValue  string `json:"chain_value"`
	LedgerValue string `json:"ledger_value"`
}

// Result is the outcome of comparing one block range.
type Result struct {
	Chain      string       `json:"chain"`
	Network    string       `json:"network"`
	FromBlock  int64        `json:"from_block"`
	ToBlock    int64        `json:"to_block"`
	OnChain    int          `json:"on_chain"`
	Ledger     int          `json:"ledger"`
	Matched    int          `json:"matched"`
	Missing    []string     `json:"missing"` // on chain, absent from the ledger
	Extra      []string     `json:"extra"`   // in the ledger, absent on chain
	Divergent  []Divergence `json:"divergent"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// HasMismatch reports whether any transfer was missing, extra or divergent.
func (r *Result) HasMismatch() bool {
	return len(r.Missing) > 0 || len(r.Extra) > 0 || len(r.Divergent) > 0
}

// Service re-reads a block range from the chain and checks it against the
// persisted ledger.
type Service struct {
	fetch     ChunkFetcher
	transfers store.TransferRepository
	chain     model.Chain
	network   model.Network
	alerter   alert.Alerter
	logger    *slog.Logger

	chunkSize int64
	maxRange  int64
	pageSize  int
	nowFn     func() time.Time
}

type Option func(*Service)

func WithChunkSize(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithMaxRange caps the number of blocks a single call may cover.
func WithMaxRange(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRange = n
		}
	}
}

func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

func NewService(
	fetch ChunkFetcher,
	transfers store.TransferRepository,
	ch model.Chain,
	net model.Network,
	alerter alert.Alerter,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		fetch:     fetch,
		transfers: transfers,
		chain:     ch,
		network:   net,
		alerter:   alerter,
		logger:    logger.With("component", "reconciliation"),
		chunkSize: defaultChunkSize,
		maxRange:  defaultMaxRange,
		pageSize:  defaultPageSize,
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Reconcile compares the transfers in [from, to] on chain with the ledger.
// It never writes to the ledger.
func (s *Service) Reconcile(ctx context.Context, from, to int64) (*Result, error) {
	if from < 0 || to < from {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidRange, from, to)
	}
	if span := to - from + 1; span > s.maxRange {
		return nil, fmt.Errorf("%w: %d blocks exceeds limit %d", ErrInvalidRange, span, s.maxRange)
	}

	result := &Result{
		Chain:     s.chain.String(),
		Network:   s.network.String(),
		FromBlock: from,
		ToBlock:   to,
		StartedAt: s.nowFn().UTC(),
	}

	onChain, err := s.chainTransfers(ctx, from, to)
	if err != nil {
		return nil, err
	}
	ledger, err := s.ledgerTransfers(ctx, from, to)
	if err != nil {
		return nil, err
	}
	result.OnChain = len(onChain)
	result.Ledger = len(ledger)
	compare(result, onChain, ledger)
	result.FinishedAt = s.nowFn().UTC()

	chainLabel, networkLabel := s.chain.String(), s.network.String()
	metrics.ReconciliationRunsTotal.WithLabelValues(chainLabel, networkLabel).Inc()
	if result.HasMismatch() {
		metrics.ReconciliationMismatchesTotal.WithLabelValues(chainLabel, networkLabel, "missing").Add(float64(len(result.Missing)))
		metrics.ReconciliationMismatchesTotal.WithLabelValues(chainLabel, networkLabel, "extra").Add(float64(len(result.Extra)))
		metrics.ReconciliationMismatchesTotal.WithLabelValues(chainLabel, networkLabel, "divergent").Add(float64(len(result.Divergent)))
		s.sendMismatchAlert(ctx, result)
	}

	s.logger.Info("reconciliation completed",
		"from_block", from,
		"to_block", to,
		"on_chain", result.OnChain,
		"ledger", result.Ledger,
		"matched", result.Matched,
		"missing", len(result.Missing),
		"extra", len(result.Extra),
		"divergent", len(result.Divergent),
	)
	return result, nil
}

// chainTransfers scans the range chunk by chunk. Duplicate hashes keep the
// last occurrence, as the ledger upsert does.
func (s *Service) chainTransfers(ctx context.Context, from, to int64) (map[string]model.Transfer, error) {
	out := make(map[string]model.Transfer)
	for start := from; start <= to; {
		end := min(start+s.chunkSize-1, to)
		raws, err := s.fetch.FetchChunk(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("fetch chunk %d..%d: %w", start, end, err)
		}
		for _, raw := range raws {
			// Timestamps are not compared.
			out[raw.TxHash] = normalizer.ToTransfer(raw, time.Time{}, false)
		}
		start = end + 1
	}
	return out, nil
}

func (s *Service) ledgerTransfers(ctx context.Context, from, to int64) (map[string]model.Transfer, error) {
	out := make(map[string]model.Transfer)
	after := &model.TransferPageKey{BlockNumber: from}
	for {
		page, err := s.transfers.ListPage(ctx, after, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("read ledger after block %d: %w", after.BlockNumber, err)
		}
		for _, t := range page {
			if t.BlockNumber > to {
				return out, nil
			}
			out[t.TxHash] = t
		}
		if len(page) < s.pageSize {
			return out, nil
		}
		key := page[len(page)-1].Key()
		after = &key
	}
}

func compare(result *Result, onChain, ledger map[string]model.Transfer) {
	for hash, c := range onChain {
		l, found := ledger[hash]
		if !found {
			result.Missing = append(result.Missing, hash)
			continue
		}
		before := len(result.Divergent)
		check := func(field, chainVal, ledgerVal string) {
			if chainVal != ledgerVal {
				result.Divergent = append(result.Divergent, Divergence{
					TxHash:      hash,
					Field:       field,
					ChainValue:  chainVal,
					LedgerValue: ledgerVal,
				})
			}
		}
		check("block_number", strconv.FormatInt(c.BlockNumber, 10), strconv.FormatInt(l.BlockNumber, 10))
		check("from_address", c.FromAddress, l.FromAddress)
		if !c.Amount.Equal(l.Amount) {
			check("amount", c.Amount.String(), l.Amount.String())
		}
		if len(result.Divergent) == before {
			result.Matched++
		}
	}
	for hash := range ledger {
		if _, found := onChain[hash]; !found {
			result.Extra = append(result.Extra, hash)
		}
	}

	sort.Strings(result.Missing)
	sort.Strings(result.Extra)
	sort.Slice(result.Divergent, func(i, j int) bool {
		if result.Divergent[i].TxHash != result.Divergent[j].TxHash {
			return result.Divergent[i].TxHash < result.Divergent[j].TxHash
		}
		return result.Divergent[i].Field < result.Divergent[j].Field
	})
}

func (s *Service) sendMismatchAlert(ctx context.Context, result *Result) {
	if s.alerter == nil {
		return
	}
	err := s.alerter.Send(context.WithoutCancel(ctx), alert.Alert{
		Type:    alert.AlertTypeReconcileMismatch,
		Chain:   result.Chain,
		Network: result.Network,
		Title:   "Ledger reconciliation mismatch",
		Message: fmt.Sprintf("blocks %d..%d: %d missing, %d extra, %d divergent",
			result.FromBlock, result.ToBlock, len(result.Missing), len(result.Extra), len(result.Divergent)),
		Fields: map[string]string{
			"from_block": strconv.FormatInt(result.FromBlock, 10),
			"to_block":   strconv.FormatInt(result.ToBlock, 10),
			"on_chain":   strconv.Itoa(result.OnChain),
			"ledger":     strconv.Itoa(result.Ledger),
		},
	})
	if err != nil {
		s.logger.Warn("send alert failed", "type", alert.AlertTypeReconcileMismatch, "error", err)
	}
}

