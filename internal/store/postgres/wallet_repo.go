package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/emperorhan/cca-indexer/internal/domain/model"
	"github.com/emperorhan/cca-indexer/internal/store"
	"github.com/lib/pq"
)

const (
	walletColumns     = 5
	walletUpsertBatch = 1000
)

const walletSelectColumns = `address, total_amount, transfer_count, last_activity_at, rank,
	alias_status, alias_name, alias_source`

type WalletRepo struct {
	db *DB
}

var _ store.WalletRepository = (*WalletRepo)(nil)

func NewWalletRepo(db *DB) *WalletRepo {
	return &WalletRepo{db: db}
}

// ReplaceAll makes wallet_aggregates match wallets exactly. Alias columns of
// surviving rows are left untouched; new rows start unchecked.
func (r *WalletRepo) ReplaceAll(ctx context.Context, wallets []model.WalletAggregate) error {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin wallet replace: %w", err)
	}
	defer tx.Rollback()

	addresses := make([]string, 0, len(wallets))
	for _, w := range wallets {
		addresses = append(addresses, w.Address)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM wallet_aggregates WHERE address <> ALL($1)`, pq.Array(addresses),
	); err != nil {
		return fmt.Errorf("prune wallet aggregates: %w", err)
	}

	for _, b := range chunkBounds(len(wallets), walletUpsertBatch) {
		query, args := buildWalletUpsert(wallets[b[0]:b[1]])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert wallet aggregates: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit wallet replace: %w", err)
	}
	return nil
}

func buildWalletUpsert(rows []model.WalletAggregate) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO wallet_aggregates (address, total_amount, transfer_count, last_activity_at, rank)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*walletColumns)
	for i, w := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * walletColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, w.Address, w.TotalAmount, w.TransferCount, w.LastActivityAt.UTC(), w.Rank)
	}

	sb.WriteString(`
		ON CONFLICT (address)
		DO UPDATE SET total_amount = EXCLUDED.total_amount,
		              transfer_count = EXCLUDED.transfer_count,
		              last_activity_at = EXCLUDED.last_activity_at,
		              rank = EXCLUDED.rank,
		              updated_at = now()
	`)
	return sb.String(), args
}

func (r *WalletRepo) ListUnresolved(ctx context.Context, limit int) ([]model.WalletAggregate, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+walletSelectColumns+`
		FROM wallet_aggregates
		WHERE alias_status = $1
		ORDER BY rank, address
		LIMIT $2
	`, model.AliasUnchecked, limit)
	if err != nil {
		return nil, fmt.Errorf("list unresolved wallets: %w", err)
	}
	return scanWallets(rows)
}

func (r *WalletRepo) SetAlias(ctx context.Context, address string, alias model.Alias) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE wallet_aggregates
		SET alias_status = $2, alias_name = $3, alias_source = $4, updated_at = now()
		WHERE address = $1
	`, address, alias.Status, nullString(alias.Name), nullString(string(alias.Source)))
	if err != nil {
		return fmt.Errorf("set alias for %s: %w", address, err)
	}
	return nil
}

func (r *WalletRepo) ListTop(ctx context.Context, q store.LeaderboardQuery) ([]model.WalletAggregate, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var (
		sb   strings.Builder
		args []interface{}
	)
	sb.WriteString(`SELECT ` + walletSelectColumns + ` FROM wallet_aggregates`)
	if search := strings.ToLower(strings.TrimSpace(q.Search)); search != "" {
		args = append(args, containsPattern(search))
		sb.WriteString(` WHERE address LIKE $1 ESCAPE '\' OR lower(alias_name) LIKE $1 ESCAPE '\'`)
	}
	sb.WriteString(` ORDER BY rank, address`)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list leaderboard: %w", err)
	}
	return scanWallets(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches search as a literal substring under LIKE ... ESCAPE '\'.
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}

func scanWallets(rows *sql.Rows) ([]model.WalletAggregate, error) {
	defer rows.Close()

	out := []model.WalletAggregate{}
	for rows.Next() {
		var (
			w      model.WalletAggregate
			name   sql.NullString
			source sql.NullString
		)
		if err := rows.Scan(&w.Address, &w.TotalAmount, &w.TransferCount, &w.LastActivityAt, &w.Rank,
			&w.Alias.Status, &name, &source); err != nil {
			return nil, fmt.Errorf("scan wallet aggregate: %w", err)
		}
		w.Alias.Name = name.String
		w.Alias.Source = model.AliasSource(source.String)
		out = append(out, w)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
