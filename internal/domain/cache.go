package domain

import (
	"context"
	"fmt"
	"time"
)

// OutcomeSymbol is the cache/feed key for one outcome of a market.
func OutcomeSymbol(conditionID string, outcomeIdx int) string {
	return fmt.Sprintf("%s:%d", conditionID, outcomeIdx)
}

// PriceCache stores the latest observed price per outcome symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	// GetPrice returns ErrNotFound when no price has been observed.
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// LockManager provides advisory locks keyed by wallet address, used to
// keep the full-sync and authoritative-import pipelines mutually exclusive
// per wallet.
type LockManager interface {
	// Acquire returns ErrLockHeld immediately when the lock is taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
	// AcquireWait retries for up to maxWait before giving up with
	// ErrLockHeld.
	AcquireWait(ctx context.Context, key string, ttl, maxWait time.Duration) (func(), error)
}

// SignalBus publishes ledger events (trade ingested, position closed,
// market resolved) to downstream consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}
