package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/emperorhan/cca-indexer/internal/alert"
	"github.com/emperorhan/cca-indexer/internal/chain"
	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/metrics"
	"github.com/emperorhan/cca-indexer/internal/pipeline/aggregator"
	"github.com/emperorhan/cca-indexer/internal/pipeline/enricher"
	"github.com/emperorhan/cca-indexer/internal/pipeline/fetcher"
	"github.com/emperorhan/cca-indexer/internal/store"
	"github.com/emperorhan/cca-indexer/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ErrSyncInProgress is returned when another run holds the sync lease.
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	defaultChunkSize      = 2000
	defaultMaxChunks      = 50
	defaultLedgerPageSize = 1000
	defaultLeaseTTL       = 15 * time.Minute
	defaultLeaseKey       = "sync"
)

type Config struct {
	Chain           model.Chain
	Network         model.Network
	CheckpointID    string
	GenesisBlock    int64
	ChunkSize       int64
	MaxChunksPerRun int
	LedgerPageSize  int
	EnrichBatchSize int
	LeaseKey        string
	LeaseTTL        time.Duration
	// SyncTimeout bounds the chunk scan of one run; zero means no bound.
	// Chunks finished before it fires are persisted and checkpointed.
	SyncTimeout time.Duration
	// Interval is the scheduler period used by Run.
	Interval time.Duration
	Alerter  alert.Alerter
}

// HeadReader reports the current chain head.
type HeadReader interface {
	HeadBlock(ctx context.Context) (int64, error)
}

// ChunkFetcher reads the transfer logs of one inclusive block range.
type ChunkFetcher interface {
	FetchChunk(ctx context.Context, from, to int64) ([]chain.RawTransferLog, error)
}

// Normalizer turns raw logs into ledger records.
type Normalizer interface {
	Normalize(ctx context.Context, raws []chain.RawTransferLog, head int64) ([]model.Transfer, error)
}

// Enricher resolves aliases for the top unresolved wallets.
type Enricher interface {
	Run(ctx context.Context, limit int) (enricher.Result, error)
}

type Repos struct {
	Checkpoint store.CheckpointRepository
	Transfers  store.TransferRepository
	Wallets    store.WalletRepository
	Stats      store.StatsRepository
	Locker     store.Locker
}

// Pipeline runs the sync state machine: checkpoint, chunked log scan,
// ledger upsert, full aggregation, enrichment, checkpoint save.
type Pipeline struct {
	cfg        Config
	head       HeadReader
	fetch      ChunkFetcher
	normalizer Normalizer
	enricher   Enricher
	repos      Repos
	health     *Health
	logger     *slog.Logger
	nowFn      func() time.Time
}

func New(
	cfg Config,
	head HeadReader,
	fetch ChunkFetcher,
	normalizer Normalizer,
	enricher Enricher,
	repos Repos,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CheckpointID == "" {
		cfg.CheckpointID = model.CheckpointID
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MaxChunksPerRun <= 0 {
		cfg.MaxChunksPerRun = defaultMaxChunks
	}
	if cfg.LedgerPageSize <= 0 {
		cfg.LedgerPageSize = defaultLedgerPageSize
	}
	if cfg.LeaseKey == "" {
		cfg.LeaseKey = defaultLeaseKey
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if cfg.Alerter == nil {
		cfg.Alerter = &alert.NoopAlerter{}
	}
	return &Pipeline{
		cfg:        cfg,
		head:       head,
		fetch:      fetch,
		normalizer: normalizer,
		enricher:   enricher,
		repos:      repos,
		health:     NewHealth(cfg.Chain, cfg.Network),
		logger:     logger.With("component", "pipeline"),
		nowFn:      time.Now,
	}
}

func (p *Pipeline) Health() *Health { return p.health }

// run carries the mutable state of one invocation.
type run struct {
	summary *Summary
	logger  *slog.Logger
	// checkpoint is the stored value loaded at the start, nil when unset.
	checkpoint *int64
	// lastOK is the end of the last chunk that fetched and normalized.
	lastOK  int64
	hasLast bool
	records []model.Transfer
	// leaseUntil is when the sync lease taken for this run expires.
	leaseUntil time.Time
}

// Sync runs one invocation under the single-flight lease. The summary is
// returned even when err is non-nil so callers can report where the run
// stopped.
func (p *Pipeline) Sync(ctx context.Context, req SyncRequest) (*Summary, error) {
	chainLabel, networkLabel := p.cfg.Chain.String(), p.cfg.Network.String()

	leaseUntil := p.nowFn().Add(p.cfg.LeaseTTL)
	token, ok, err := p.repos.Locker.TryAcquire(ctx, p.cfg.LeaseKey, p.cfg.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lease: %w", err)
	}
	if !ok {
		metrics.SyncBusyRejected.WithLabelValues(chainLabel, networkLabel).Inc()
		return nil, ErrSyncInProgress
	}
	defer func() {
		if err := p.repos.Locker.Release(context.WithoutCancel(ctx), p.cfg.LeaseKey, token); err != nil {
			p.logger.Warn("release sync lease failed", "error", err)
		}
	}()

	runID := uuid.NewString()
	r := &run{
		summary:    &Summary{RunID: runID, ResetTo: req.ResetTo, Stage: StageLoadingCheckpoint},
		logger:     p.logger.With("run_id", runID),
		leaseUntil: leaseUntil,
	}
	start := p.nowFn()
	r.logger.Info("sync started", "reset_to", req.ResetTo)

	err = p.sync(ctx, req, r)

	s := r.summary
	s.DurationMS = p.nowFn().Sub(start).Milliseconds()
	metrics.SyncDuration.WithLabelValues(chainLabel, networkLabel).Observe(time.Since(start).Seconds())

	if err != nil {
		s.Status = StatusAborted
		s.Error = err.Error()
		metrics.SyncRunsTotal.WithLabelValues(chainLabel, networkLabel, string(StatusAborted)).Inc()
		r.logger.Error("sync aborted", "stage", s.Stage, "error", err, "duration_ms", s.DurationMS)
		p.health.RecordFailure(runID)
		p.sendAlert(ctx, alert.AlertTypeSyncAborted, "Sync aborted", err.Error(), s)
		return s, err
	}

	metrics.SyncRunsTotal.WithLabelValues(chainLabel, networkLabel, string(s.Status)).Inc()
	if s.Checkpoint != nil {
		metrics.SyncCheckpointBlock.WithLabelValues(chainLabel, networkLabel).Set(float64(*s.Checkpoint))
	}
	metrics.SyncRemainingBlocks.WithLabelValues(chainLabel, networkLabel).Set(float64(s.RemainingBlocks))

	r.logger.Info("sync completed",
		"status", s.Status,
		"from_block", s.FromBlock,
		"checkpoint", s.Checkpoint,
		"chain_head", s.ChainHead,
		"chunks", s.ChunksProcessed,
		"new_transfers", s.NewTransfers,
		"total_transfers", s.TotalTransfers,
		"stop_reason", s.StopReason,
		"duration_ms", s.DurationMS,
	)
	if p.health.RecordSuccess(runID, s.Checkpoint, s.Partial()) {
		p.sendAlert(ctx, alert.AlertTypeRecovery, "Sync recovered", "sync completed after previous aborted runs", s)
	}
	if s.StopReason == StopRateLimited {
		p.sendAlert(ctx, alert.AlertTypeRateLimited, "RPC rate limit exhausted",
			"chunk scanning stopped early; progress saved up to the checkpoint", s)
	}
	return s, nil
}

func (p *Pipeline) sync(ctx context.Context, req SyncRequest, r *run) error {
	s := r.summary

	if err := p.stage(ctx, r, StageLoadingCheckpoint, func(ctx context.Context) error {
		return p.loadCheckpoint(ctx, req, r)
	}); err != nil {
		return err
	}

	resume := p.cfg.GenesisBlock
	if r.checkpoint != nil {
		resume = *r.checkpoint + 1
	}
	s.FromBlock = resume
	s.Checkpoint = r.checkpoint

	if err := p.stage(ctx, r, StageDeterminingRange, func(ctx context.Context) error {
		head, err := p.head.HeadBlock(ctx)
		if err != nil {
			return fmt.Errorf("read chain head: %w", err)
		}
		s.ChainHead = head
		metrics.SyncChainHeadBlock.WithLabelValues(p.cfg.Chain.String(), p.cfg.Network.String()).Set(float64(head))
		return nil
	}); err != nil {
		return err
	}

	if resume > s.ChainHead {
		s.Status = StatusUpToDate
		s.CaughtUp = true
		s.Stage = StageDone
		if total, err := p.repos.Transfers.Count(ctx); err != nil {
			r.logger.Warn("count ledger failed", "error", err)
		} else {
			s.TotalTransfers = total
		}
		return nil
	}

	if err := p.scanChunks(ctx, r, resume); err != nil {
		return err
	}

	// Scanned chunks are committed even if the caller goes away now.
	durable := context.WithoutCancel(ctx)

	if err := p.stage(durable, r, StagePersistingLedger, func(ctx context.Context) error {
		return p.persistLedger(ctx, r)
	}); err != nil {
		return err
	}

	// Aggregation and enrichment failures are logged; the ledger is already
	// durable and the next run recomputes from scratch.
	_ = p.stage(durable, r, StageAggregating, func(ctx context.Context) error {
		p.aggregate(ctx, r)
		return nil
	})

	_ = p.stage(ctx, r, StageEnriching, func(ctx context.Context) error {
		p.enrich(ctx, r)
		return nil
	})

	if err := p.stage(durable, r, StageSavingCheckpoint, func(ctx context.Context) error {
		if !r.hasLast {
			return nil
		}
		if err := p.repos.Checkpoint.Advance(ctx, p.cfg.CheckpointID, r.lastOK); err != nil {
			return fmt.Errorf("save checkpoint %d: %w", r.lastOK, err)
		}
		cp := r.lastOK
		s.Checkpoint = &cp
		return nil
	}); err != nil {
		return err
	}

	p.finishSummary(r, resume)
	s.Status = StatusDone
	s.Stage = StageDone
	return nil
}

// stage runs fn as one traced step and records it as the current stage.
func (p *Pipeline) stage(ctx context.Context, r *run, stage Stage, fn func(ctx context.Context) error) (err error) {
	r.summary.Stage = stage
	ctx, span := tracing.StartStage(ctx, "pipeline", string(stage), attribute.String("run_id", r.summary.RunID))
	defer func() { tracing.End(span, err) }()
	r.logger.Debug("sync stage", "stage", stage)
	return fn(ctx)
}

func (p *Pipeline) loadCheckpoint(ctx context.Context, req SyncRequest, r *run) error {
	if req.ResetTo != nil {
		if *req.ResetTo < 0 {
			return fmt.Errorf("reset block %d is negative", *req.ResetTo)
		}
		if err := p.repos.Checkpoint.Reset(ctx, p.cfg.CheckpointID, *req.ResetTo); err != nil {
			return fmt.Errorf("reset checkpoint: %w", err)
		}
		r.logger.Warn("checkpoint reset", "block", *req.ResetTo)
	}

	cp, err := p.repos.Checkpoint.Get(ctx, p.cfg.CheckpointID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp != nil {
		block := cp.LastProcessedBlock
		r.checkpoint = &block
	}
	return nil
}

// scanChunks fetches and normalizes consecutive chunks from resume up to the
// head read at the start of the run. Only cancellation of ctx is returned;
// every other chunk failure, including the scan deadline, ends the loop with
// progress kept.
func (p *Pipeline) scanChunks(ctx context.Context, r *run, resume int64) error {
	s := r.summary
	head := s.ChainHead

	scanCtx := ctx
	if p.cfg.SyncTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, p.cfg.SyncTimeout)
		defer cancel()
	}
	timedOut := func(from, to int64) bool {
		if ctx.Err() != nil || scanCtx.Err() == nil {
			return false
		}
		s.StopReason = StopTimeout
		r.logger.Warn("stopping scan: sync timeout reached", "from_block", from, "to_block", to, "timeout", p.cfg.SyncTimeout)
		return true
	}

	for from := resume; from <= head; {
		if s.ChunksProcessed >= p.cfg.MaxChunksPerRun {
			s.StopReason = StopMaxChunks
			return nil
		}
		to := min(from+p.cfg.ChunkSize-1, head)
		if timedOut(from, to) {
			return nil
		}

		var raws []chain.RawTransferLog
		err := p.stage(scanCtx, r, StageFetching, func(ctx context.Context) error {
			var err error
			raws, err = p.fetch.FetchChunk(ctx, from, to)
			return err
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("fetch chunk %d..%d: %w", from, to, ctxErr)
			}
			if timedOut(from, to) {
				return nil
			}
			if errors.Is(err, fetcher.ErrRateLimitExhausted) {
				s.StopReason = StopRateLimited
				r.logger.Warn("stopping scan: rate limit exhausted", "from_block", from, "to_block", to, "error", err)
			} else {
				s.StopReason = StopChunkFailed
				s.Error = err.Error()
				r.logger.Error("stopping scan: chunk failed", "from_block", from, "to_block", to, "error", err)
			}
			return nil
		}

		var records []model.Transfer
		if err := p.stage(scanCtx, r, StageNormalizing, func(ctx context.Context) error {
			var err error
			records, err = p.normalizer.Normalize(ctx, raws, head)
			if err != nil {
				return fmt.Errorf("normalize chunk %d..%d: %w", from, to, err)
			}
			return nil
		}); err != nil {
			if timedOut(from, to) {
				return nil
			}
			return err
		}

		r.records = append(r.records, records...)
		r.lastOK = to
		r.hasLast = true
		s.ChunksProcessed++
		metrics.FetcherChunksProcessed.WithLabelValues(p.cfg.Chain.String(), p.cfg.Network.String()).Inc()
		r.logger.Debug("chunk processed", "from_block", from, "to_block", to, "transfers", len(records))
		from = to + 1
	}
	s.StopReason = StopCaughtUp
	return nil
}

func (p *Pipeline) persistLedger(ctx context.Context, r *run) error {
	if len(r.records) == 0 {
		return nil
	}
	batch := make([]*model.Transfer, len(r.records))
	for i := range r.records {
		batch[i] = &r.records[i]
	}
	res, err := p.repos.Transfers.BulkUpsert(ctx, batch)
	if err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	r.summary.NewTransfers = int64(res.InsertedCount)
	metrics.LedgerTransfersInserted.WithLabelValues(p.cfg.Chain.String(), p.cfg.Network.String()).Add(float64(res.InsertedCount))
	return nil
}

func (p *Pipeline) aggregate(ctx context.Context, r *run) {
	chainLabel, networkLabel := p.cfg.Chain.String(), p.cfg.Network.String()
	start := time.Now()
	defer func() {
		metrics.AggregatorLatency.WithLabelValues(chainLabel, networkLabel).Observe(time.Since(start).Seconds())
	}()

	fail := func(msg string, err error) {
		metrics.AggregatorErrors.WithLabelValues(chainLabel, networkLabel).Inc()
		r.logger.Error(msg, "error", err)
	}

	ledger, err := p.readLedger(ctx)
	if err != nil {
		fail("read ledger failed", err)
		p.fallbackTotal(ctx, r)
		return
	}
	r.summary.TotalTransfers = int64(len(ledger))
	metrics.LedgerTransfersTotal.WithLabelValues(chainLabel, networkLabel).Set(float64(len(ledger)))

	statsBlock := int64(-1)
	if r.hasLast {
		statsBlock = r.lastOK
	} else if r.checkpoint != nil {
		statsBlock = *r.checkpoint
	}
	result := aggregator.Compute(ledger, statsBlock, p.nowFn())
	metrics.AggregatorUniqueWallets.WithLabelValues(chainLabel, networkLabel).Set(float64(len(result.Wallets)))

	if err := p.repos.Wallets.ReplaceAll(ctx, result.Wallets); err != nil {
		fail("write wallet aggregates failed", err)
		return
	}
	if err := p.repos.Stats.Save(ctx, result.Stats); err != nil {
		fail("write auction stats failed", err)
		return
	}
	r.summary.Aggregated = true
}

// readLedger pages through every transfer in ledger order.
func (p *Pipeline) readLedger(ctx context.Context) ([]model.Transfer, error) {
	var (
		all   []model.Transfer
		after *model.TransferPageKey
	)
	for {
		page, err := p.repos.Transfers.ListPage(ctx, after, p.cfg.LedgerPageSize)
		if err != nil {
			return nil, fmt.Errorf("list ledger page: %w", err)
		}
		all = append(all, page...)
		if len(page) < p.cfg.LedgerPageSize {
			return all, nil
		}
		key := page[len(page)-1].Key()
		after = &key
	}
}

func (p *Pipeline) fallbackTotal(ctx context.Context, r *run) {
	total, err := p.repos.Transfers.Count(ctx)
	if err != nil {
		r.logger.Warn("count ledger failed", "error", err)
		return
	}
	r.summary.TotalTransfers = total
}

func (p *Pipeline) enrich(ctx context.Context, r *run) {
	if p.enricher == nil || p.cfg.EnrichBatchSize <= 0 {
		return
	}
	// Enrichment must finish while the lease is held.
	ctx, cancel := context.WithDeadline(ctx, r.leaseUntil)
	defer cancel()
	res, err := p.enricher.Run(ctx, p.cfg.EnrichBatchSize)
	if err != nil {
		r.logger.Warn("enrichment failed", "error", err)
	}
	r.summary.AliasesResolved = res.Resolved
}

// finishSummary derives progress figures from the final checkpoint.
func (p *Pipeline) finishSummary(r *run, resume int64) {
	s := r.summary
	if r.hasLast {
		last := r.lastOK
		s.ToBlock = &last
		s.BlocksScanned = last - resume + 1
	}

	next := resume
	if r.hasLast {
		next = r.lastOK + 1
	}
	s.RemainingBlocks = max(s.ChainHead-next+1, 0)
	s.RemainingChunks = (s.RemainingBlocks + p.cfg.ChunkSize - 1) / p.cfg.ChunkSize
	s.CaughtUp = s.RemainingBlocks == 0
}

func (p *Pipeline) sendAlert(ctx context.Context, typ alert.AlertType, title, message string, s *Summary) {
	fields := map[string]string{
		"run_id":     s.RunID,
		"stage":      string(s.Stage),
		"chain_head": strconv.FormatInt(s.ChainHead, 10),
	}
	if s.Checkpoint != nil {
		fields["checkpoint"] = strconv.FormatInt(*s.Checkpoint, 10)
	}
	err := p.cfg.Alerter.Send(context.WithoutCancel(ctx), alert.Alert{
		Type:    typ,
		Chain:   p.cfg.Chain.String(),
		Network: p.cfg.Network.String(),
		Title:   title,
		Message: message,
		Fields:  fields,
	})
	if err != nil {
		p.logger.Warn("send alert failed", "type", typ, "error", err)
	}
}

// Run triggers Sync immediately and then every Interval until ctx is done.
// A run that panics is logged and the schedule continues.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.scheduledSync(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) scheduledSync(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("scheduled sync panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	_, err := p.Sync(ctx, SyncRequest{})
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		p.logger.Debug("scheduled sync skipped: another run holds the lease")
	case ctx.Err() != nil:
	default:
		p.logger.Warn("scheduled sync failed", "error", err)
	}
}
