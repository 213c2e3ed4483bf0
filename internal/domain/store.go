package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  time.Time
	Until  time.Time
}

// MarketStore persists market metadata. Markets are created on first
// observed trade or catalog pull and never deleted.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	UpsertBatch(ctx context.Context, markets []Market) error
	// CreateIfAbsent inserts a placeholder market without clobbering richer
	// metadata already present.
	CreateIfAbsent(ctx context.Context, market Market) error
	Get(ctx context.Context, conditionID string) (Market, error)
	ListUnresolved(ctx context.Context) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// WalletStore persists tracked wallets and their ingestion watermarks.
type WalletStore interface {
	Upsert(ctx context.Context, w TrackedWallet) error
	Get(ctx context.Context, address string) (TrackedWallet, error)
	List(ctx context.Context) ([]TrackedWallet, error)
}

// TradeStore persists immutable trade events.
type TradeStore interface {
	// InsertForWallet inserts a batch of trades and advances the wallet's
	// watermark in the same transaction. Rows violating the
	// (source_tx_hash, fill_index) uniqueness constraint are skipped and
	// counted as duplicates.
	InsertForWallet(ctx context.Context, wallet string, trades []Trade) (inserted, duplicates int, err error)
	// ListUnapplied returns trades not yet folded into a position, in
	// execution-timestamp order with insertion-order tie-breaking.
	ListUnapplied(ctx context.Context, wallet string) ([]Trade, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Trade, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Trade, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists reconciled positions. Exactly one row is the
// current truth per (wallet, market, outcome) tuple.
type PositionStore interface {
	Get(ctx context.Context, wallet, conditionID string, outcomeIdx int) (Position, error)
	// Apply writes the post-trade position state and marks the trade applied
	// in one transaction. If the trade was already applied it performs
	// nothing and returns ErrAlreadyExists.
	Apply(ctx context.Context, pos Position, tradeID int64) (Position, error)
	Update(ctx context.Context, pos Position) error
	ListByWallet(ctx context.Context, wallet string) ([]Position, error)
	ListOpenByWallet(ctx context.Context, wallet string) ([]Position, error)
	ListOpenByMarket(ctx context.Context, conditionID string) ([]Position, error)
	// ReplaceForWallet atomically swaps a wallet's position set for
	// venue-reported rows (authoritative import).
	ReplaceForWallet(ctx context.Context, wallet string, positions []Position) error
}

// SnapshotStore persists append-only wallet valuation snapshots.
type SnapshotStore interface {
	Insert(ctx context.Context, s Snapshot) error
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Snapshot, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Snapshot, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PriceSampleStore reads the append-only price observation feed. The core
// consumes it read-only; Insert exists for the external collectors that
// share this module.
type PriceSampleStore interface {
	Insert(ctx context.Context, s PriceSample) error
	ListRange(ctx context.Context, source, symbol, side string, from, to time.Time) ([]PriceSample, error)
	Latest(ctx context.Context, source, symbol, side string) (PriceSample, error)
}
