package store

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks . CheckpointRepository,TransferRepository,WalletRepository,StatsRepository,Locker

import (
	"context"
	"time"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
)

// CheckpointRepository stores the last fully scanned block per sync id.
type CheckpointRepository interface {
	// Get returns nil, nil when no checkpoint has been saved yet.
	Get(ctx context.Context, id string) (*model.SyncCheckpoint, error)
	// Advance moves the checkpoint forward; a lower block is ignored.
	Advance(ctx context.Context, id string, block int64) error
	// Reset sets the checkpoint unconditionally. Operator rewinds only.
	Reset(ctx context.Context, id string, block int64) error
}

// BulkUpsertResult describes the outcome of a ledger upsert.
type BulkUpsertResult struct {
	InsertedCount int
	UpdatedCount  int
}

// TransferRepository is the ledger, keyed by tx hash.
type TransferRepository interface {
	// BulkUpsert writes transfers atomically. When the same hash appears
	// more than once the last occurrence wins.
	BulkUpsert(ctx context.Context, transfers []*model.Transfer) (BulkUpsertResult, error)
	// ListPage returns up to limit transfers after the given key in
	// (block_number, tx_hash) order. A nil key starts from the beginning.
	ListPage(ctx context.Context, after *model.TransferPageKey, limit int) ([]model.Transfer, error)
	Count(ctx context.Context) (int64, error)
}

// LeaderboardQuery selects a slice of ranked wallets. Search matches the
// address or alias name, case-insensitively.
type LeaderboardQuery struct {
	Limit  int
	Offset int
	Search string
}

// WalletRepository stores per-sender rollups and their aliases.
type WalletRepository interface {
	// ReplaceAll writes the recomputed rollups and removes wallets that no
	// longer appear. Alias columns of surviving wallets are preserved.
	ReplaceAll(ctx context.Context, wallets []model.WalletAggregate) error
	// ListUnresolved returns the highest-ranked wallets whose alias is unchecked.
	ListUnresolved(ctx context.Context, limit int) ([]model.WalletAggregate, error)
	SetAlias(ctx context.Context, address string, alias model.Alias) error
	ListTop(ctx context.Context, q LeaderboardQuery) ([]model.WalletAggregate, error)
}

// StatsRepository stores the auction statistics singleton.
type StatsRepository interface {
	Save(ctx context.Context, stats model.AuctionStats) error
	// Get returns nil, nil before the first save.
	Get(ctx context.Context) (*model.AuctionStats, error)
}

// Locker grants a single holder a lease on key for ttl.
type Locker interface {
	// TryAcquire returns ok=false without error when the lease is held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees the lease only if token still owns it.
	Release(ctx context.Context, key, token string) error
}
