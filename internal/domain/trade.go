package domain

import "time"

// TradeSide is the direction of an execution from the tracked wallet's
// point of view.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// Trade is one immutable execution event. (SourceTxHash, FillIndex) is the
// global dedup key: a transaction can contain multiple fills, each with its
// own index. Cost is price x size, signed positive for buys and negative
// for sells. AppliedAt is set once the reconciler has folded the trade into
// its position; it is the per-trade idempotency mark.
type Trade struct {
	ID           int64
	SourceTxHash string
	FillIndex    int
	Wallet       string
	ConditionID  string
	OutcomeIndex int
	Side         TradeSide
	Price        float64
	Size         float64
	Cost         float64
	Fee          float64
	ExecutedAt   time.Time
	AppliedAt    *time.Time
	CreatedAt    time.Time
}

// RawFill is an unparsed order-fill event as returned by the upstream
// subgraph. Numeric fields arrive as decimal strings; the ingestor parses
// and validates them, reporting malformed records individually.
type RawFill struct {
	TransactionHash string
	FillIndex       int
	Timestamp       int64
	Wallet          string
	ConditionID     string
	OutcomeIndex    int
	Side            string
	Price           string
	Size            string
	Fee             string
}
