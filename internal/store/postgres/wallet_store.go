package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// WalletStore implements domain.WalletStore using PostgreSQL.
type WalletStore struct {
	pool *pgxpool.Pool
}

// NewWalletStore creates a new WalletStore backed by the given connection pool.
func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

const walletCols = `address, alias, synced_through, created_at, updated_at`

// Upsert inserts a tracked wallet or updates its alias. The watermark is
// owned by trade ingestion and deliberately left untouched here.
func (s *WalletStore) Upsert(ctx context.Context, w domain.TrackedWallet) error {
	const query = `
		INSERT INTO tracked_wallets (address, alias, synced_through, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (address) DO UPDATE SET
			alias      = EXCLUDED.alias,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, w.Address, w.Alias, w.SyncedThrough)
	if err != nil {
		return fmt.Errorf("postgres: upsert wallet %s: %w", w.Address, err)
	}
	return nil
}

// Get retrieves a tracked wallet by address.
func (s *WalletStore) Get(ctx context.Context, address string) (domain.TrackedWallet, error) {
	var w domain.TrackedWallet
	err := s.pool.QueryRow(ctx,
		`SELECT `+walletCols+` FROM tracked_wallets WHERE address = $1`, address,
	).Scan(&w.Address, &w.Alias, &w.SyncedThrough, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TrackedWallet{}, domain.ErrNotFound
		}
		return domain.TrackedWallet{}, fmt.Errorf("postgres: get wallet %s: %w", address, err)
	}
	return w, nil
}

// List returns all tracked wallets.
func (s *WalletStore) List(ctx context.Context) ([]domain.TrackedWallet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+walletCols+` FROM tracked_wallets ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.TrackedWallet
	for rows.Next() {
		var w domain.TrackedWallet
		if err := rows.Scan(&w.Address, &w.Alias, &w.SyncedThrough, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list wallets rows: %w", err)
	}
	return wallets, nil
}

// Compile-time interface check.
var _ domain.WalletStore = (*WalletStore)(nil)
