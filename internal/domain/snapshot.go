package domain

import "time"

// Snapshot is an immutable point-in-time record of a wallet's aggregate
// PnL, used for historical trend queries. Rows are append-only.
type Snapshot struct {
	ID            string
	Wallet        string
	RealizedPnL   float64
	UnrealizedPnL float64
	TotalValue    float64
	OpenPositions int
	TakenAt       time.Time
}
