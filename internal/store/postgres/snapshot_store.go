package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotCols = `id, wallet, realized_pnl, unrealized_pnl, total_value, open_positions, taken_at`

// Insert persists a point-in-time wallet summary. An ID is assigned when the
// caller leaves it empty.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	const query = `
		INSERT INTO snapshots (id, wallet, realized_pnl, unrealized_pnl, total_value, open_positions, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		snap.ID, snap.Wallet, snap.RealizedPnL, snap.UnrealizedPnL,
		snap.TotalValue, snap.OpenPositions, snap.TakenAt)
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot for %s: %w", snap.Wallet, err)
	}
	return nil
}

// ListByWallet returns snapshots for a wallet ordered oldest first, honoring
// the provided time window and pagination.
func (s *SnapshotStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Snapshot, error) {
	query := `SELECT ` + snapshotCols + ` FROM snapshots WHERE wallet = $1`
	args := []any{wallet}

	if !opts.Since.IsZero() {
		args = append(args, opts.Since)
		query += fmt.Sprintf(" AND taken_at >= $%d", len(args))
	}
	if !opts.Until.IsZero() {
		args = append(args, opts.Until)
		query += fmt.Sprintf(" AND taken_at < $%d", len(args))
	}
	query += " ORDER BY taken_at ASC"
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
		return nil, fmt.Errorf("postgres: list snapshots for %s: %w", wallet, err)
	}
	defer rows.Close()

	var snaps []domain.Snapshot
	for rows.Next() {
		var sn domain.Snapshot
		if err := rows.Scan(&sn.ID, &sn.Wallet, &sn.RealizedPnL, &sn.UnrealizedPnL,
			&sn.TotalValue, &sn.OpenPositions, &sn.TakenAt); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: snapshot rows: %w", err)
	}
	return snaps, nil
}

// ListBefore returns snapshots taken before the cutoff, oldest first.
func (s *SnapshotStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Snapshot, error) {
	const query = `
		SELECT ` + snapshotCols + `
		FROM snapshots
		WHERE taken_at < $1
		ORDER BY taken_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var snaps []domain.Snapshot
	for rows.Next() {
		var sn domain.Snapshot
		if err := rows.Scan(&sn.ID, &sn.Wallet, &sn.RealizedPnL, &sn.UnrealizedPnL,
			&sn.TotalValue, &sn.OpenPositions, &sn.TakenAt); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: snapshot rows: %w", err)
	}
	return snaps, nil
}

// DeleteBefore removes snapshots taken before the cutoff and returns the
// number of rows deleted.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE taken_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
