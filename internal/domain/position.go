package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is the reconciled holding of one wallet in one (market, outcome)
// tuple. Shares is signed: positive long, negative short, zero iff the
// position is closed. AvgEntryPrice is meaningful only while the position is
// open. LastTradeID records the newest trade folded into this row.
type Position struct {
	ID            int64
	Wallet        string
	ConditionID   string
	OutcomeIndex  int
	Shares        float64
	AvgEntryPrice float64
	RealizedPnL   float64
	UnrealizedPnL float64
	Status        PositionStatus
	LastTradeID   int64
	OpenedAt      time.Time
	ClosedAt      *time.Time
	UpdatedAt     time.Time
}

// Open reports whether the position currently holds shares.
func (p Position) Open() bool {
	return p.Status == PositionStatusOpen
}

// VenuePosition is a wallet position as the venue itself reports it,
// including the venue's own PnL figures. The authoritative-import pipeline
// persists these verbatim instead of replaying trades.
type VenuePosition struct {
	ConditionID  string
	OutcomeIndex int
	Size         float64
	AvgPrice     float64
	CurPrice     float64
	InitialValue float64
	CurrentValue float64
	CashPnL      float64
	Redeemable   bool
	Title        string
}
