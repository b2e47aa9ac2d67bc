package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync stage counters and gauges, partitioned by chain + network.

var (
	// Sync runs
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Total sync runs by terminal status",
	}, []string{"chain", "network", "status"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Sync run wall-clock duration",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"chain", "network"})

	SyncBusyRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "sync",
		Name:      "busy_rejected_total",
		Help:      "Sync triggers rejected because another run held the lease",
	}, []string{"chain", "network"})

	SyncCheckpointBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "sync",
		Name:      "checkpoint_block",
		Help:      "Last block fully processed and persisted",
	}, []string{"chain", "network"})

	SyncChainHeadBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "sync",
		Name:      "chain_head_block",
		Help:      "Chain head observed at the start of the last run",
	}, []string{"chain", "network"})

	SyncRemainingBlocks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "sync",
		Name:      "remaining_blocks",
		Help:      "Blocks between checkpoint and head after the last run",
	}, []string{"chain", "network"})

	// Fetcher
	FetcherChunksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "chunks_processed_total",
		Help:      "Total log chunks fetched and persisted",
	}, []string{"chain", "network"})

	FetcherLogsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "logs_fetched_total",
		Help:      "Total transfer logs returned by eth_getLogs",
	}, []string{"chain", "network"})

	FetcherRateLimitRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "rate_limit_retries_total",
		Help:      "Chunk retries caused by provider throttling",
	}, []string{"chain", "network"})

	FetcherErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "errors_total",
		Help:      "Total fetcher errors (after retry exhaustion)",
	}, []string{"chain", "network"})

	FetcherLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "fetcher",
		Name:      "chunk_duration_seconds",
		Help:      "Chunk fetch duration including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"chain", "network"})

	// Normalizer
	NormalizerTimestampsEstimated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "normalizer",
		Name:      "timestamps_estimated_total",
		Help:      "Transfers whose timestamp was estimated from block distance",
	}, []string{"chain", "network"})

	// Ledger
	LedgerTransfersInserted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "ledger",
		Name:      "transfers_inserted_total",
		Help:      "Transfers newly inserted into the ledger",
	}, []string{"chain", "network"})

	LedgerTransfersTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "ledger",
		Name:      "transfers",
		Help:      "Transfers stored in the ledger",
	}, []string{"chain", "network"})

	// Aggregator
	AggregatorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "indexer",
		Subsystem: "aggregator",
		Name:      "duration_seconds",
		Help:      "Full recomputation duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"chain", "network"})

	AggregatorErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "aggregator",
		Name:      "errors_total",
		Help:      "Aggregation failures",
	}, []string{"chain", "network"})

	AggregatorUniqueWallets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "aggregator",
		Name:      "unique_wallets",
		Help:      "Distinct contributing wallets",
	}, []string{"chain", "network"})

	// Enricher
	EnricherLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "enricher",
		Name:      "lookups_total",
		Help:      "Reverse name lookups by source and result",
	}, []string{"source", "result"})

	EnricherBreakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "enricher",
		Name:      "breaker_open",
		Help:      "1 when the resolver circuit breaker is open",
	}, []string{"source"})

	// DB connection pool
	DBPoolOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "pool_open_connections",
		Help:      "Number of established connections",
	}, []string{"db"})

	DBPoolInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "pool_in_use",
		Help:      "Number of connections currently in use",
	}, []string{"db"})

	DBPoolIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "pool_idle",
		Help:      "Number of idle connections",
	}, []string{"db"})

	DBPoolWaitCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "indexer",
		Subsystem: "postgres",
		Name:      "pool_wait_count",
		Help:      "Total number of connections waited for",
	}, []string{"db"})

	// Cache
	BlockTimeCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "cache",
		Name:      "block_time_hits_total",
		Help:      "Block timestamp cache hits",
	}, []string{"chain", "network"})

	BlockTimeCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "cache",
		Name:      "block_time_misses_total",
		Help:      "Block timestamp cache misses",
	}, []string{"chain", "network"})

	// RPC
	RPCRateLimitWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Number of times RPC calls were throttled by the client-side rate limiter",
	}, []string{"chain"})

	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total RPC calls by method and status",
	}, []string{"chain", "method", "status"})

	// Reconciliation
	ReconciliationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "reconciliation",
		Name:      "runs_total",
		Help:      "Ledger reconciliation runs",
	}, []string{"chain", "network"})

	ReconciliationMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "reconciliation",
		Name:      "mismatches_total",
		Help:      "Transfers found missing, extra or divergent by reconciliation",
	}, []string{"chain", "network", "kind"})

	// Admin API
	AdminRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "admin",
		Name:      "requests_total",
		Help:      "Admin API requests by route and status code",
	}, []string{"route", "code"})

	// Alerting
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "sent_total",
		Help:      "Total alerts sent",
	}, []string{"channel", "alert_type"})

	AlertsCooldownSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "indexer",
		Subsystem: "alert",
		Name:      "cooldown_skipped_total",
		Help:      "Total alerts skipped due to cooldown",
	}, []string{"alert_type"})
)
