package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusClosed   MarketStatus = "closed"
)

// Market represents a multi-outcome prediction market, keyed by its
// condition ID. ResolutionPrices is populated only once the market has
// resolved and carries one value per outcome.
type Market struct {
	ConditionID      string
	Question         string
	Slug             string
	Outcomes         []string
	Status           MarketStatus
	EndAt            *time.Time
	ResolutionPrices []float64
	ResolvedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Resolved reports whether the market has reached its terminal resolved
// state and carries a usable resolution price vector.
func (m Market) Resolved() bool {
	return m.Status == MarketStatusResolved && len(m.ResolutionPrices) > 0
}

// ResolutionPrice returns the settlement price for the given outcome index.
// The second return is false when the market is unresolved or the index is
// out of range.
func (m Market) ResolutionPrice(outcomeIdx int) (float64, bool) {
	if !m.Resolved() || outcomeIdx < 0 || outcomeIdx >= len(m.ResolutionPrices) {
		return 0, false
	}
	return m.ResolutionPrices[outcomeIdx], true
}

// HasOutcome reports whether the outcome index exists in the market's
// outcome list.
func (m Market) HasOutcome(outcomeIdx int) bool {
	return outcomeIdx >= 0 && outcomeIdx < len(m.Outcomes)
}
