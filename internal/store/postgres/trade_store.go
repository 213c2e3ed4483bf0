package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeCols = `id, source_tx_hash, fill_index, wallet, condition_id, outcome_index,
	side, price, size, cost, fee, executed_at, applied_at, created_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	err := row.Scan(
		&t.ID, &t.SourceTxHash, &t.FillIndex, &t.Wallet, &t.ConditionID, &t.OutcomeIndex,
		&t.Side, &t.Price, &t.Size, &t.Cost, &t.Fee, &t.ExecutedAt, &t.AppliedAt, &t.CreatedAt,
	)
	return t, err
}

// InsertForWallet persists a batch of trades for one wallet and advances the
// wallet's sync watermark to the latest execution timestamp in the batch, all
// inside a single transaction. Rows whose (source_tx_hash, fill_index) pair is
// already present are silently skipped and reported in the duplicate count, so
// replaying an overlapping window never double-books a fill.
func (s *TradeStore) InsertForWallet(ctx context.Context, wallet string, trades []domain.Trade) (inserted, duplicates int, err error) {
	if len(trades) == 0 {
		return 0, 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: begin trade insert: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertQuery = `
		INSERT INTO trades (source_tx_hash, fill_index, wallet, condition_id, outcome_index,
			side, price, size, cost, fee, executed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (source_tx_hash, fill_index) DO NOTHING`

	batch := &pgx.Batch{}
	var watermark time.Time
	for _, t := range trades {
		batch.Queue(insertQuery,
			t.SourceTxHash, t.FillIndex, t.Wallet, t.ConditionID, t.OutcomeIndex,
			t.Side, t.Price, t.Size, t.Cost, t.Fee, t.ExecutedAt)
		if t.ExecutedAt.After(watermark) {
			watermark = t.ExecutedAt
		}
	}

	results := tx.SendBatch(ctx, batch)
	for range trades {
		tag, execErr := results.Exec()
		if execErr != nil {
			results.Close()
			return 0, 0, fmt.Errorf("postgres: insert trade batch: %w", execErr)
		}
		if tag.RowsAffected() > 0 {
			inserted++
		} else {
			duplicates++
		}
	}
	if err := results.Close(); err != nil {
		return 0, 0, fmt.Errorf("postgres: close trade batch: %w", err)
	}

	const watermarkQuery = `
		UPDATE tracked_wallets
		SET synced_through = GREATEST(synced_through, $2), updated_at = NOW()
		WHERE address = $1`
	if _, err := tx.Exec(ctx, watermarkQuery, wallet, watermark); err != nil {
		return 0, 0, fmt.Errorf("postgres: advance watermark for %s: %w", wallet, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("postgres: commit trade insert: %w", err)
	}
	return inserted, duplicates, nil
}

// ListUnapplied returns trades for a wallet that have not yet been folded into
// a position, in deterministic replay order.
func (s *TradeStore) ListUnapplied(ctx context.Context, wallet string) ([]domain.Trade, error) {
	const query = `
		SELECT ` + tradeCols + `
		FROM trades
		WHERE wallet = $1 AND applied_at IS NULL
		ORDER BY executed_at ASC, source_tx_hash ASC, fill_index ASC`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unapplied trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListByWallet returns trades for a wallet, newest first, honoring the
// provided pagination window.
func (s *TradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeCols + ` FROM trades WHERE wallet = $1`
	args := []any{wallet}

	if !opts.Since.IsZero() {
		args = append(args, opts.Since)
		query += fmt.Sprintf(" AND executed_at >= $%d", len(args))
	}
	if !opts.Until.IsZero() {
		args = append(args, opts.Until)
		query += fmt.Sprintf(" AND executed_at < $%d", len(args))
	}
	query += " ORDER BY executed_at DESC, source_tx_hash DESC, fill_index DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", wallet, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListBefore returns trades executed before the cutoff, oldest first. Used by
// the archiver to page through rows eligible for cold storage.
func (s *TradeStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Trade, error) {
	const query = `
		SELECT ` + tradeCols + `
		FROM trades
		WHERE executed_at < $1
		ORDER BY executed_at ASC, id ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// DeleteBefore removes trades executed before the cutoff and returns the
// number of rows deleted.
func (s *TradeStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE executed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trades before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: trade rows: %w", err)
	}
	return trades, nil
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
