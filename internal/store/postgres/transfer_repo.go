package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
)

const (
	transferColumns     = 8
	transferUpsertBatch = 500
)

type TransferRepo struct {
	db *DB
}

var _ store.TransferRepository = (*TransferRepo)(nil)

func NewTransferRepo(db *DB) *TransferRepo {
	return &TransferRepo{db: db}
}

// BulkUpsert writes transfers keyed by tx hash in a single transaction.
// Existing rows are overwritten with the incoming values.
func (r *TransferRepo) BulkUpsert(ctx context.Context, transfers []*model.Transfer) (store.BulkUpsertResult, error) {
	var result store.BulkUpsertResult
	rows := store.DedupeByTxHash(transfers)
	if len(rows) == 0 {
		return result, nil
	}

	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin transfer upsert: %w", err)
	}
	defer tx.Rollback()

	for _, b := range chunkBounds(len(rows), transferUpsertBatch) {
		query, args := buildTransferUpsert(rows[b[0]:b[1]])
		res, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return store.BulkUpsertResult{}, fmt.Errorf("bulk upsert transfers: %w", err)
		}
		for res.Next() {
			var inserted bool
			if err := res.Scan(&inserted); err != nil {
				res.Close()
				return store.BulkUpsertResult{}, fmt.Errorf("scan upsert result: %w", err)
			}
			if inserted {
				result.InsertedCount++
			} else {
				result.UpdatedCount++
			}
		}
		if err := res.Err(); err != nil {
			res.Close()
			return store.BulkUpsertResult{}, fmt.Errorf("bulk upsert transfers: %w", err)
		}
		res.Close()
	}

	if err := tx.Commit(); err != nil {
		return store.BulkUpsertResult{}, fmt.Errorf("commit transfer upsert: %w", err)
	}
	return result, nil
}

func buildTransferUpsert(rows []*model.Transfer) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO transfers (tx_hash, block_number, log_index, from_address, to_address, amount, observed_at, time_exact)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*transferColumns)
	for i, t := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * transferColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		args = append(args,
			t.TxHash, t.BlockNumber, t.LogIndex, t.FromAddress, t.ToAddress,
			t.Amount, t.ObservedAt.UTC(), t.TimeExact,
		)
	}

	sb.WriteString(`
		ON CONFLICT (tx_hash)
		DO UPDATE SET block_number = EXCLUDED.block_number,
		              log_index = EXCLUDED.log_index,
		              from_address = EXCLUDED.from_address,
		              to_address = EXCLUDED.to_address,
		              amount = EXCLUDED.amount,
		              observed_at = EXCLUDED.observed_at,
		              time_exact = EXCLUDED.time_exact,
		              updated_at = now()
		RETURNING (xmax = 0)
	`)
	return sb.String(), args
}

func (r *TransferRepo) ListPage(ctx context.Context, after *model.TransferPageKey, limit int) ([]model.Transfer, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	const cols = `tx_hash, block_number, log_index, from_address, to_address, amount, observed_at, time_exact`
	var (
		query string
		args  []interface{}
	)
	if after == nil {
		query = `SELECT ` + cols + ` FROM transfers ORDER BY block_number, tx_hash LIMIT $1`
		args = []interface{}{limit}
	} else {
		query = `SELECT ` + cols + ` FROM transfers
			WHERE (block_number, tx_hash) > ($1, $2)
			ORDER BY block_number, tx_hash LIMIT $3`
		args = []interface{}{after.BlockNumber, after.TxHash, limit}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	out := make([]model.Transfer, 0, limit)
	for rows.Next() {
		var t model.Transfer
		if err := rows.Scan(&t.TxHash, &t.BlockNumber, &t.LogIndex, &t.FromAddress, &t.ToAddress,
			&t.Amount, &t.ObservedAt, &t.TimeExact); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TransferRepo) Count(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM transfers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return n, nil
}

// chunkBounds splits n items into [start, end) windows of at most size.
func chunkBounds(n, size int) [][2]int {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	out := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
