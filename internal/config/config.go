package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const (
	dbStatementTimeoutDefaultMS  = 30000
	dbStatementTimeoutMaxMS      = 3600000
	dbPoolStatsIntervalDefaultMS = 5000
	dbPoolStatsIntervalMinMS     = 1000
	dbPoolStatsIntervalMaxMS     = 60000

	// BaseUSDCAddress is native USDC on Base mainnet.
	BaseUSDCAddress = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type Config struct {
	DB      DBConfig
	Store   StoreConfig
	Redis   RedisConfig
	Base    BaseConfig
	Naming  NamingConfig
	Auction AuctionConfig
	Sync    SyncConfig
	Enrich  EnrichConfig
	Server  ServerConfig
	Log     LogConfig
	Tracing TracingConfig
	Alert   AlertConfig
}

type DBConfig struct {
	URL                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	MigrationsDir       string
	StatementTimeoutMS  int
	PoolStatsIntervalMS int
}

type StoreConfig struct {
	Backend string
}

// RedisConfig holds the lease backend. An empty URL selects the in-process
// lease, which only guards a single replica.
type RedisConfig struct {
	URL string
}

type BaseConfig struct {
	RPCURL              string
	Network             string
	ChainID             int64
	RPS                 float64
	Burst               int
	BlockInterval       time.Duration
	TimestampBatchSize  int
	TimestampBatchDelay time.Duration
}

type NamingConfig struct {
	// ETHRPCURL is the mainnet endpoint for the ENS tier.
	ETHRPCURL               string
	// BasenameResolverAddress overrides the mainnet L2Resolver.
	BasenameResolverAddress string
}

type AuctionConfig struct {
	USDCAddress    string
	AuctionAddress string
	GenesisBlock   int64
}

type SyncConfig struct {
	Secret               string
	ChunkSize            int64
	MaxChunksPerRun      int
	RateLimitMaxAttempts int
	RateLimitBaseDelay   time.Duration
	LedgerPageSize       int
	Interval             time.Duration
	Timeout              time.Duration
	LeaseTTL             time.Duration
	ReconcileMaxRange    int64
}

type EnrichConfig struct {
	BatchSize  int
	PauseEvery int
	Pause      time.Duration
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	statementTimeoutMS, err := getEnvIntStrict("DB_STATEMENT_TIMEOUT_MS", dbStatementTimeoutDefaultMS)
	if err != nil {
		return nil, err
	}
	poolStatsIntervalMS, err := getEnvIntStrict("DB_POOL_STATS_INTERVAL_MS", dbPoolStatsIntervalDefaultMS)
	if err != nil {
		return nil, err
	}
	genesisBlock, err := getEnvInt64Strict("GENESIS_BLOCK", 0)
	if err != nil {
		return nil, err
	}
	chunkSize, err := getEnvInt64Strict("CHUNK_SIZE", 2000)
	if err != nil {
		return nil, err
	}
	chainID, err := getEnvInt64Strict("BASE_CHAIN_ID", 8453)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DB: DBConfig{
			URL:                 getEnv("DB_URL", ""),
			MaxOpenConns:        getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:        getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:     time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			MigrationsDir:       getEnv("DB_MIGRATIONS_DIR", "internal/store/postgres/migrations"),
			StatementTimeoutMS:  statementTimeoutMS,
			PoolStatsIntervalMS: poolStatsIntervalMS,
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreBackendPostgres)),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Base: BaseConfig{
			RPCURL:              getEnv("BASE_RPC_URL", ""),
			Network:             getEnv("BASE_NETWORK", "mainnet"),
			ChainID:             chainID,
			RPS:                 getEnvFloat("BASE_RPC_RPS", 10),
			Burst:               getEnvInt("BASE_RPC_BURST", 5),
			BlockInterval:       time.Duration(getEnvInt("BLOCK_INTERVAL_MS", 2000)) * time.Millisecond,
			TimestampBatchSize:  getEnvInt("TIMESTAMP_BATCH_SIZE", 50),
			TimestampBatchDelay: time.Duration(getEnvInt("TIMESTAMP_BATCH_DELAY_MS", 100)) * time.Millisecond,
		},
		Naming: NamingConfig{
			ETHRPCURL:               getEnv("ETH_RPC_URL", ""),
			BasenameResolverAddress: getEnv("BASENAME_RESOLVER_ADDRESS", ""),
		},
		Auction: AuctionConfig{
			USDCAddress:    getEnv("USDC_ADDRESS", BaseUSDCAddress),
			AuctionAddress: getEnv("AUCTION_ADDRESS", ""),
			GenesisBlock:   genesisBlock,
		},
		Sync: SyncConfig{
			Secret:               getEnv("SYNC_SECRET", ""),
			ChunkSize:            chunkSize,
			MaxChunksPerRun:      getEnvInt("MAX_CHUNKS_PER_RUN", 50),
			RateLimitMaxAttempts: getEnvInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
			RateLimitBaseDelay:   time.Duration(getEnvInt("RATE_LIMIT_BASE_DELAY_MS", 1000)) * time.Millisecond,
			LedgerPageSize:       getEnvInt("LEDGER_PAGE_SIZE", 1000),
			Interval:             getEnvDuration("SYNC_INTERVAL_SEC", 0, time.Second),
			Timeout:              getEnvDuration("SYNC_TIMEOUT_SEC", 300, time.Second),
			LeaseTTL:             getEnvDuration("LEASE_TTL_SEC", 900, time.Second),
			ReconcileMaxRange:    int64(getEnvInt("RECONCILE_MAX_RANGE", 100000)),
		},
		Enrich: EnrichConfig{
			BatchSize:  getEnvInt("ENRICH_BATCH_SIZE", 25),
			PauseEvery: getEnvInt("ENRICH_PAUSE_EVERY", 10),
			Pause:      time.Duration(getEnvInt("ENRICH_PAUSE_MS", 500)) * time.Millisecond,
		},
		Server: ServerConfig{
			Port: getEnvInt("HTTP_PORT", 8080),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("TRACING_INSECURE", true),
			SampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", 1.0),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        getEnvDuration("ALERT_COOLDOWN_SEC", 1800, time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.DB.URL == "" {
			return fmt.Errorf("DB_URL is required when STORE_BACKEND=%s", StoreBackendPostgres)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendMemory, c.Store.Backend)
	}
	if c.DB.StatementTimeoutMS < 0 || c.DB.StatementTimeoutMS > dbStatementTimeoutMaxMS {
		return fmt.Errorf("DB_STATEMENT_TIMEOUT_MS must be within [0, %d], got %d", dbStatementTimeoutMaxMS, c.DB.StatementTimeoutMS)
	}
	if c.DB.PoolStatsIntervalMS < dbPoolStatsIntervalMinMS || c.DB.PoolStatsIntervalMS > dbPoolStatsIntervalMaxMS {
		return fmt.Errorf("DB_POOL_STATS_INTERVAL_MS must be within [%d, %d], got %d",
			dbPoolStatsIntervalMinMS, dbPoolStatsIntervalMaxMS, c.DB.PoolStatsIntervalMS)
	}
	if c.Base.RPCURL == "" {
		return fmt.Errorf("BASE_RPC_URL is required")
	}
	if c.Naming.ETHRPCURL == "" {
		return fmt.Errorf("ETH_RPC_URL is required")
	}
	if c.Sync.Secret == "" {
		return fmt.Errorf("SYNC_SECRET is required")
	}
	if c.Auction.AuctionAddress == "" {
		return fmt.Errorf("AUCTION_ADDRESS is required")
	}
	if !common.IsHexAddress(c.Auction.AuctionAddress) {
		return fmt.Errorf("AUCTION_ADDRESS %q is not a hex address", c.Auction.AuctionAddress)
	}
	if !common.IsHexAddress(c.Auction.USDCAddress) {
		return fmt.Errorf("USDC_ADDRESS %q is not a hex address", c.Auction.USDCAddress)
	}
	if c.Naming.BasenameResolverAddress != "" && !common.IsHexAddress(c.Naming.BasenameResolverAddress) {
		return fmt.Errorf("BASENAME_RESOLVER_ADDRESS %q is not a hex address", c.Naming.BasenameResolverAddress)
	}
	if c.Auction.GenesisBlock < 0 {
		return fmt.Errorf("GENESIS_BLOCK must be >= 0, got %d", c.Auction.GenesisBlock)
	}
	if c.Sync.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be > 0, got %d", c.Sync.ChunkSize)
	}
	if c.Sync.MaxChunksPerRun <= 0 {
		return fmt.Errorf("MAX_CHUNKS_PER_RUN must be > 0, got %d", c.Sync.MaxChunksPerRun)
	}
	if c.Sync.RateLimitMaxAttempts <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS must be > 0, got %d", c.Sync.RateLimitMaxAttempts)
	}
	if c.Sync.LeaseTTL <= 0 {
		return fmt.Errorf("LEASE_TTL_SEC must be > 0, got %v", c.Sync.LeaseTTL)
	}
	if c.Sync.Timeout <= 0 || c.Sync.Timeout >= c.Sync.LeaseTTL {
		return fmt.Errorf("SYNC_TIMEOUT_SEC must be > 0 and below LEASE_TTL_SEC (%v), got %v", c.Sync.LeaseTTL, c.Sync.Timeout)
	}
	if c.Base.RPS <= 0 {
		return fmt.Errorf("BASE_RPC_RPS must be > 0, got %v", c.Base.RPS)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads an integer count of unit.
func getEnvDuration(key string, fallback int, unit time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * unit
}

func getEnvIntStrict(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return i, nil
}

func getEnvInt64Strict(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return i, nil
}
