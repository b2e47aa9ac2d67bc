package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
)

type StatsRepo struct {
	db *DB
}

var _ store.StatsRepository = (*StatsRepo)(nil)

func NewStatsRepo(db *DB) *StatsRepo {
	return &StatsRepo{db: db}
}

func (r *StatsRepo) Save(ctx context.Context, s model.AuctionStats) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auction_stats (
			id, total_amount, total_count, unique_wallets, mean_amount, median_amount,
			pct_below_50, pct_below_100, top10_share, top50_share, last_processed_block, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			total_count = EXCLUDED.total_count,
			unique_wallets = EXCLUDED.unique_wallets,
			mean_amount = EXCLUDED.mean_amount,
			median_amount = EXCLUDED.median_amount,
			pct_below_50 = EXCLUDED.pct_below_50,
			pct_below_100 = EXCLUDED.pct_below_100,
			top10_share = EXCLUDED.top10_share,
			top50_share = EXCLUDED.top50_share,
			last_processed_block = EXCLUDED.last_processed_block,
			updated_at = EXCLUDED.updated_at
	`, s.TotalAmount, s.TotalCount, s.UniqueWallets, s.Mean, s.Median,
		s.PctBelow50, s.PctBelow100, s.Top10Share, s.Top50Share, s.LastProcessedBlock, s.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save auction stats: %w", err)
	}
	return nil
}

func (r *StatsRepo) Get(ctx context.Context) (*model.AuctionStats, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var s model.AuctionStats
	err := r.db.QueryRowContext(ctx, `
		SELECT total_amount, total_count, unique_wallets, mean_amount, median_amount,
		       pct_below_50, pct_below_100, top10_share, top50_share, last_processed_block, updated_at
		FROM auction_stats
		WHERE id = 1
	`).Scan(&s.TotalAmount, &s.TotalCount, &s.UniqueWallets, &s.Mean, &s.Median,
		&s.PctBelow50, &s.PctBelow100, &s.Top10Share, &s.Top50Share, &s.LastProcessedBlock, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auction stats: %w", err)
	}
	return &s, nil
}
