package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, wallet, condition_id, outcome_index, shares, avg_entry_price,
	realized_pnl, unrealized_pnl, status, last_trade_id, opened_at, closed_at, updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ID, &p.Wallet, &p.ConditionID, &p.OutcomeIndex, &p.Shares, &p.AvgEntryPrice,
		&p.RealizedPnL, &p.UnrealizedPnL, &p.Status, &p.LastTradeID, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	return p, err
}

// Get retrieves the position for one (wallet, market, outcome) tuple.
func (s *PositionStore) Get(ctx context.Context, wallet, conditionID string, outcomeIdx int) (domain.Position, error) {
	const query = `
		SELECT ` + positionCols + `
		FROM positions
		WHERE wallet = $1 AND condition_id = $2 AND outcome_index = $3`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, wallet, conditionID, outcomeIdx))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s/%d: %w", wallet, conditionID, outcomeIdx, err)
	}
	return p, nil
}

const positionUpsertQuery = `
	INSERT INTO positions (wallet, condition_id, outcome_index, shares, avg_entry_price,
		realized_pnl, unrealized_pnl, status, last_trade_id, opened_at, closed_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	ON CONFLICT (wallet, condition_id, outcome_index) DO UPDATE SET
		shares          = EXCLUDED.shares,
		avg_entry_price = EXCLUDED.avg_entry_price,
		realized_pnl    = EXCLUDED.realized_pnl,
		unrealized_pnl  = EXCLUDED.unrealized_pnl,
		status          = EXCLUDED.status,
		last_trade_id   = EXCLUDED.last_trade_id,
		opened_at       = EXCLUDED.opened_at,
		closed_at       = EXCLUDED.closed_at,
		updated_at      = NOW()
	RETURNING ` + positionCols

// Apply writes the post-trade position state and marks the trade as applied
// in one transaction. If the trade was already applied by a previous run the
// whole transaction is rolled back and domain.ErrAlreadyExists is returned,
// so a crash between trade fetch and position write can never double-count.
func (s *PositionStore) Apply(ctx context.Context, pos domain.Position, tradeID int64) (domain.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin position apply: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE trades SET applied_at = NOW() WHERE id = $1 AND applied_at IS NULL`, tradeID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: mark trade %d applied: %w", tradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Position{}, domain.ErrAlreadyExists
	}

	updated, err := scanPosition(tx.QueryRow(ctx, positionUpsertQuery,
		pos.Wallet, pos.ConditionID, pos.OutcomeIndex, pos.Shares, pos.AvgEntryPrice,
		pos.RealizedPnL, pos.UnrealizedPnL, pos.Status, pos.LastTradeID, pos.OpenedAt, pos.ClosedAt))
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: upsert position %s/%s/%d: %w",
			pos.Wallet, pos.ConditionID, pos.OutcomeIndex, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit position apply: %w", err)
	}
	return updated, nil
}

// Update persists position fields that change outside trade replay, such as
// mark-to-market unrealized PnL and settlement sweeps.
func (s *PositionStore) Update(ctx context.Context, pos domain.Position) error {
	const query = `
		UPDATE positions SET
			shares          = $2,
			avg_entry_price = $3,
			realized_pnl    = $4,
			unrealized_pnl  = $5,
			status          = $6,
			closed_at       = $7,
			updated_at      = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		pos.ID, pos.Shares, pos.AvgEntryPrice, pos.RealizedPnL,
		pos.UnrealizedPnL, pos.Status, pos.ClosedAt)
	if err != nil {
		return fmt.Errorf("postgres: update position %d: %w", pos.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByWallet returns all positions for a wallet, open and closed.
func (s *PositionStore) ListByWallet(ctx context.Context, wallet string) ([]domain.Position, error) {
	const query = `
		SELECT ` + positionCols + `
		FROM positions
		WHERE wallet = $1
		ORDER BY condition_id, outcome_index`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", wallet, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListOpenByWallet returns the wallet's open positions.
func (s *PositionStore) ListOpenByWallet(ctx context.Context, wallet string) ([]domain.Position, error) {
	const query = `
		SELECT ` + positionCols + `
		FROM positions
		WHERE wallet = $1 AND status = 'open'
		ORDER BY condition_id, outcome_index`

	rows, err := s.pool.Query(ctx, query, wallet)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions for %s: %w", wallet, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListOpenByMarket returns every open position in a market across all
// tracked wallets. Used by the settlement sweep when the market resolves.
func (s *PositionStore) ListOpenByMarket(ctx context.Context, conditionID string) ([]domain.Position, error) {
	const query = `
		SELECT ` + positionCols + `
		FROM positions
		WHERE condition_id = $1 AND status = 'open'
		ORDER BY wallet, outcome_index`

	rows, err := s.pool.Query(ctx, query, conditionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions for market %s: %w", conditionID, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ReplaceForWallet atomically swaps the wallet's entire position set for the
// provided rows. The authoritative import path uses this so readers never see
// a half-replaced book.
func (s *PositionStore) ReplaceForWallet(ctx context.Context, wallet string, positions []domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin position replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE wallet = $1`, wallet); err != nil {
		return fmt.Errorf("postgres: clear positions for %s: %w", wallet, err)
	}

	const insertQuery = `
		INSERT INTO positions (wallet, condition_id, outcome_index, shares, avg_entry_price,
			realized_pnl, unrealized_pnl, status, last_trade_id, opened_at, closed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())`

	batch := &pgx.Batch{}
	for _, p := range positions {
		batch.Queue(insertQuery,
			wallet, p.ConditionID, p.OutcomeIndex, p.Shares, p.AvgEntryPrice,
			p.RealizedPnL, p.UnrealizedPnL, p.Status, p.LastTradeID, p.OpenedAt, p.ClosedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert replacement positions for %s: %w", wallet, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit position replace: %w", err)
	}
	return nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: position rows: %w", err)
	}
	return positions, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
