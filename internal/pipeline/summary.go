package pipeline

// Stage names the step a sync run is in. The last stage reached is reported
// in the summary, so an aborted run shows where it stopped.
type Stage string

const (
	StageAuthenticating    Stage = "authenticating"
	StageLoadingCheckpoint Stage = "loading_checkpoint"
	StageDeterminingRange  Stage = "determining_range"
	StageFetching          Stage = "fetching"
	StageNormalizing       Stage = "normalizing"
	StagePersistingLedger  Stage = "persisting_ledger"
	StageAggregating       Stage = "aggregating"
	StageEnriching         Stage = "enriching"
	StageSavingCheckpoint  Stage = "saving_checkpoint"
	StageDone              Stage = "done"
)

type Status string

const (
	StatusDone     Status = "done"
	StatusUpToDate Status = "up_to_date"
	StatusAborted  Status = "aborted"
)

// StopReason explains why the chunk loop ended.
type StopReason string

const (
	StopCaughtUp    StopReason = "caught_up"
	StopMaxChunks   StopReason = "max_chunks"
	StopRateLimited StopReason = "rate_limited"
	StopChunkFailed StopReason = "chunk_failed"
	StopTimeout     StopReason = "timeout"
)

// SyncRequest carries the caller's options for one run.
type SyncRequest struct {
	// ResetTo forces the checkpoint to this block before syncing, even
	// backwards.
	ResetTo *int64
}

// Summary is the JSON report returned by every run. Checkpoint and ToBlock
// are null while nothing has been processed.
type Summary struct {
	Status          Status     `json:"status"`
	RunID           string     `json:"run_id"`
	ResetTo         *int64     `json:"reset_to,omitempty"`
	FromBlock       int64      `json:"from_block"`
	ToBlock         *int64     `json:"to_block"`
	ChainHead       int64      `json:"chain_head"`
	Checkpoint      *int64     `json:"checkpoint"`
	BlocksScanned   int64      `json:"blocks_scanned"`
	ChunksProcessed int        `json:"chunks_processed"`
	NewTransfers    int64      `json:"new_transfers"`
	TotalTransfers  int64      `json:"total_transfers"`
	CaughtUp        bool       `json:"caught_up"`
	RemainingBlocks int64      `json:"remaining_blocks"`
	RemainingChunks int64      `json:"remaining_chunks"`
	StopReason      StopReason `json:"stop_reason,omitempty"`
	Aggregated      bool       `json:"aggregated"`
	AliasesResolved int        `json:"aliases_resolved"`
	Stage           Stage      `json:"stage"`
	Error           string     `json:"error,omitempty"`
	DurationMS      int64      `json:"duration_ms"`
}

// Partial reports whether the run stopped before reaching the chain head
// for a reason other than the per-run chunk cap.
func (s *Summary) Partial() bool {
	return s.StopReason == StopRateLimited || s.StopReason == StopChunkFailed || s.StopReason == StopTimeout
}
