package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/emperorhan/cca-indexer/internal/admin"
	"github.com/emperorhan/cca-indexer/internal/alert"
	"github.com/emperorhan/cca-indexer/internal/chain/base"
	"github.com/emperorhan/cca-indexer/internal/chain/base/rpc"
	"github.com/emperorhan/cca-indexer/internal/chain/ratelimit"
	"github.com/emperorhan/cca-indexer/internal/config"
	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/metrics"
	"github.com/emperorhan/cca-indexer/internal/naming"
	"github.com/emperorhan/cca-indexer/internal/pipeline"
	"github.com/emperorhan/cca-indexer/internal/pipeline/enricher"
	"github.com/emperorhan/cca-indexer/internal/pipeline/fetcher"
	"github.com/emperorhan/cca-indexer/internal/pipeline/normalizer"
	"github.com/emperorhan/cca-indexer/internal/reconciliation"
	"github.com/emperorhan/cca-indexer/internal/store/memory"
	"github.com/emperorhan/cca-indexer/internal/store/postgres"
	redisstore "github.com/emperorhan/cca-indexer/internal/store/redis"
	"github.com/emperorhan/cca-indexer/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName         = "cca-indexer"
	dbPoolLabel         = "primary"
	rateLimitBackoffMax = 30 * time.Second
	shutdownTimeout     = 10 * time.Second
)

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open      *prometheus.GaugeVec
	inUse     *prometheus.GaugeVec
	idle      *prometheus.GaugeVec
	waitCount *prometheus.GaugeVec
}

func collectDBPoolStats(db dbStatsProvider, label string, gauges dbPoolStatsGauges) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	gauges.open.WithLabelValues(label).Set(float64(stats.OpenConnections))
	gauges.inUse.WithLabelValues(label).Set(float64(stats.InUse))
	gauges.idle.WithLabelValues(label).Set(float64(stats.Idle))
	gauges.waitCount.WithLabelValues(label).Set(float64(stats.WaitCount))
	return nil
}

// runDBPoolStatsPump samples pool stats until ctx is done.
func runDBPoolStatsPump(ctx context.Context, db dbStatsProvider, interval time.Duration, logger *slog.Logger) error {
	if db == nil || interval <= 0 {
		return nil
	}

	gauges := dbPoolStatsGauges{
		open:      metrics.DBPoolOpen,
		inUse:     metrics.DBPoolInUse,
		idle:      metrics.DBPoolIdle,
		waitCount: metrics.DBPoolWaitCount,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := collectDBPoolStats(db, dbPoolLabel, gauges); err != nil {
		logger.Warn("failed to collect initial db pool stats", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("db pool stats sampler stopped", "cause", "context_done")
			return nil
		case <-ticker.C:
			if err := collectDBPoolStats(db, dbPoolLabel, gauges); err != nil {
				logger.Warn("failed to collect db pool stats", "error", err)
			}
		}
	}
}

// storeSet is the persistence wiring for one process.
type storeSet struct {
	repos   pipeline.Repos
	db      dbStatsProvider
	closers []func() error
}

func (s *storeSet) Close(logger *slog.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("close store", "error", err)
		}
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storeSet, error) {
	set := &storeSet{}

	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		set.repos = pipeline.Repos{
			Checkpoint: memory.NewCheckpointStore(),
			Transfers:  memory.NewTransferStore(),
			Wallets:    memory.NewWalletStore(),
			Stats:      memory.NewStatsStore(),
		}
	default:
		db, err := postgres.New(ctx, postgres.Config{
			URL:                cfg.DB.URL,
			MaxOpenConns:       cfg.DB.MaxOpenConns,
			MaxIdleConns:       cfg.DB.MaxIdleConns,
			ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
			StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database %s: %w", maskCredentials(cfg.DB.URL), err)
		}
		set.closers = append(set.closers, db.Close)
		if err := db.RunMigrations(ctx, cfg.DB.MigrationsDir); err != nil {
			set.Close(logger)
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("connected to database", "url", maskCredentials(cfg.DB.URL))

		set.db = db.DB
		set.repos = pipeline.Repos{
			Checkpoint: postgres.NewCheckpointRepo(db),
			Transfers:  postgres.NewTransferRepo(db),
			Wallets:    postgres.NewWalletRepo(db),
			Stats:      postgres.NewStatsRepo(db),
		}
	}

	if cfg.Redis.URL == "" {
		logger.Warn("REDIS_URL not set; sync lease only guards this process")
		set.repos.Locker = memory.NewLocker()
		return set, nil
	}
	locker, err := redisstore.NewLocker(ctx, cfg.Redis.URL)
	if err != nil {
		set.Close(logger)
		return nil, fmt.Errorf("connect redis %s: %w", maskCredentials(cfg.Redis.URL), err)
	}
	set.closers = append(set.closers, locker.Close)
	set.repos.Locker = locker
	return set, nil
}

// buildResolvers returns the naming tiers in lookup order. A tier that cannot
// be dialed is skipped; enrichment is best-effort.
func buildResolvers(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]naming.Resolver, func()) {
	httpClient := naming.NewHTTPClient(logger.With("component", "naming"))
	var (
		resolvers []naming.Resolver
		closers   []func()
	)

	resolverAddr := cfg.Naming.BasenameResolverAddress
	if resolverAddr == "" {
		resolverAddr = naming.DefaultBasenameResolver
	}
	baseClient, err := naming.Dial(ctx, cfg.Base.RPCURL, httpClient)
	if err != nil {
		logger.Warn("basename tier disabled", "error", err)
	} else {
		closers = append(closers, baseClient.Close)
		basename, err := naming.NewBasenameResolver(resolverAddr, baseClient, cfg.Base.ChainID)
		if err != nil {
			logger.Warn("basename tier disabled", "error", err)
		} else {
			resolvers = append(resolvers, basename)
		}
	}

	if cfg.Naming.ETHRPCURL != "" {
		ethClient, err := naming.Dial(ctx, cfg.Naming.ETHRPCURL, httpClient)
		if err != nil {
			logger.Warn("ens tier disabled", "error", err)
		} else {
			closers = append(closers, ethClient.Close)
			if ensResolver, err := naming.NewENSResolver(ethClient); err != nil {
				logger.Warn("ens tier disabled", "error", err)
			} else {
				resolvers = append(resolvers, ensResolver)
			}
		}
	}

	return resolvers, func() {
		for _, c := range closers {
			c()
		}
	}
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

// newHTTPHandler mounts /metrics beside the rate-limited, audited API.
func newHTTPHandler(api http.Handler, limiter *admin.RateLimitMiddleware, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", limiter.Wrap(admin.AuditMiddleware(logger, api)))
	return mux
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// maskCredentials hides the userinfo part of a connection URL.
func maskCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return strings.Replace(raw, u.User.String()+"@", "***@", 1)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("indexer exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("indexer shut down gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	network := model.Network(cfg.Base.Network)
	logger.Info("starting cca-indexer",
		"base_rpc", maskCredentials(cfg.Base.RPCURL),
		"base_network", network,
		"usdc", cfg.Auction.USDCAddress,
		"auction", cfg.Auction.AuctionAddress,
		"genesis_block", cfg.Auction.GenesisBlock,
		"chunk_size", cfg.Sync.ChunkSize,
		"store_backend", cfg.Store.Backend,
		"sync_interval", cfg.Sync.Interval,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(ctx, serviceName, tracingEndpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.Close(logger)

	limiter := ratelimit.NewLimiter(cfg.Base.RPS, cfg.Base.Burst, model.ChainBase.String())
	client := rpc.NewClient(cfg.Base.RPCURL, limiter, logger)
	adapter, err := base.NewAdapter(client, base.Config{
		TokenAddress:        cfg.Auction.USDCAddress,
		RecipientAddress:    cfg.Auction.AuctionAddress,
		TimestampBatchSize:  cfg.Base.TimestampBatchSize,
		TimestampBatchDelay: cfg.Base.TimestampBatchDelay,
	}, logger)
	if err != nil {
		return fmt.Errorf("build base adapter: %w", err)
	}

	fetch := fetcher.New(adapter, model.ChainBase, network, logger,
		fetcher.WithRateLimitRetry(cfg.Sync.RateLimitMaxAttempts, cfg.Sync.RateLimitBaseDelay, rateLimitBackoffMax),
	)
	norm := normalizer.New(adapter, model.ChainBase, network, logger,
		normalizer.WithBlockInterval(cfg.Base.BlockInterval),
	)

	resolvers, closeResolvers := buildResolvers(ctx, cfg, logger)
	defer closeResolvers()
	enr := enricher.New(stores.repos.Wallets, resolvers, logger,
		enricher.WithPause(cfg.Enrich.PauseEvery, cfg.Enrich.Pause),
	)

	alerter := buildAlerter(cfg.Alert, logger)
	p := pipeline.New(pipeline.Config{
		Chain:           model.ChainBase,
		Network:         network,
		GenesisBlock:    cfg.Auction.GenesisBlock,
		ChunkSize:       cfg.Sync.ChunkSize,
		MaxChunksPerRun: cfg.Sync.MaxChunksPerRun,
		LedgerPageSize:  cfg.Sync.LedgerPageSize,
		EnrichBatchSize: cfg.Enrich.BatchSize,
		LeaseTTL:        cfg.Sync.LeaseTTL,
		SyncTimeout:     cfg.Sync.Timeout,
		Interval:        cfg.Sync.Interval,
		Alerter:         alerter,
	}, adapter, fetch, norm, enr, stores.repos, logger)
	recon := reconciliation.NewService(fetch, stores.repos.Transfers, model.ChainBase, network, alerter, logger,
		reconciliation.WithChunkSize(cfg.Sync.ChunkSize),
		reconciliation.WithMaxRange(cfg.Sync.ReconcileMaxRange),
		reconciliation.WithPageSize(cfg.Sync.LedgerPageSize),
	)

	srv := admin.NewServer(p, cfg.Sync.Secret, logger,
		admin.WithHealthProvider(p.Health()),
		admin.WithDashboardRepos(stores.repos.Stats, stores.repos.Wallets),
		admin.WithReconciler(recon),
	)
	rl := admin.NewRateLimitMiddleware(logger)
	defer rl.Stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.Port, newHTTPHandler(srv.Handler(), rl, logger), logger)
	})
	g.Go(func() error {
		if err := p.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sync scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return runDBPoolStatsPump(gCtx, stores.db, time.Duration(cfg.DB.PoolStatsIntervalMS)*time.Millisecond, logger)
	})

	return g.Wait()
}
