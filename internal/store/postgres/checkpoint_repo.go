package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
)

type CheckpointRepo struct {
	db *DB
}

var _ store.CheckpointRepository = (*CheckpointRepo)(nil)

func NewCheckpointRepo(db *DB) *CheckpointRepo {
	return &CheckpointRepo{db: db}
}

func (r *CheckpointRepo) Get(ctx context.Context, id string) (*model.SyncCheckpoint, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var cp model.SyncCheckpoint
	err := r.db.QueryRowContext(ctx, `
		SELECT id, last_processed_block, updated_at
		FROM sync_checkpoints
		WHERE id = $1
	`, id).Scan(&cp.ID, &cp.LastProcessedBlock, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// Advance moves the checkpoint forward; a lower block is ignored.
func (r *CheckpointRepo) Advance(ctx context.Context, id string, block int64) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (id, last_processed_block)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			last_processed_block = GREATEST(sync_checkpoints.last_processed_block, $2),
			updated_at = now()
	`, id, block)
	if err != nil {
		return fmt.Errorf("advance checkpoint %s to %d: %w", id, block, err)
	}
	return nil
}

// Reset sets the checkpoint unconditionally, including backwards.
func (r *CheckpointRepo) Reset(ctx context.Context, id string, block int64) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (id, last_processed_block)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET
			last_processed_block = $2,
			updated_at = now()
	`, id, block)
	if err != nil {
		return fmt.Errorf("reset checkpoint %s to %d: %w", id, block, err)
	}
	return nil
}
