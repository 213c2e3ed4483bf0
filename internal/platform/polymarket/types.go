package polymarket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether flags are sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// APIMarket represents a market as returned by the Gamma catalog API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"`
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`      // JSON-encoded: "[\"Yes\",\"No\"]"
	OutcomePrices string   `json:"outcomePrices"` // JSON-encoded: "[\"1\",\"0\"]"
	Resolved      flexBool `json:"umaResolved"`
	EndDateISO    string   `json:"endDateIso"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt"`
}

// ToDomainMarket converts an APIMarket to a domain.Market. The resolution
// price vector is populated only when the market has resolved.
func (a *APIMarket) ToDomainMarket() domain.Market {
	m := domain.Market{
		ConditionID: a.ConditionID,
		Question:    a.Question,
		Slug:        a.Slug,
	}

	var outcomes []string
	if err := json.Unmarshal([]byte(a.Outcomes), &outcomes); err == nil {
		m.Outcomes = outcomes
	}

	switch {
	case bool(a.Resolved):
		m.Status = domain.MarketStatusResolved
		var priceStrs []string
		if err := json.Unmarshal([]byte(a.OutcomePrices), &priceStrs); err == nil {
			prices := make([]float64, 0, len(priceStrs))
			for _, p := range priceStrs {
				var v float64
				if err := json.Unmarshal([]byte(p), &v); err != nil {
					prices = nil
					break
				}
				prices = append(prices, v)
			}
			m.ResolutionPrices = prices
		}
	case a.Closed:
		m.Status = domain.MarketStatusClosed
	default:
		m.Status = domain.MarketStatusOpen
	}

	if t, err := time.Parse(time.RFC3339, a.EndDateISO); err == nil {
		m.EndAt = &t
	}
	if t, err := time.Parse(time.RFC3339, a.CreatedAt); err == nil {
		m.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, a.UpdatedAt); err == nil {
		m.UpdatedAt = t
	}
	return m
}

// APIPosition represents a wallet position as reported by the venue's
// data API, including the venue's own PnL figures.
type APIPosition struct {
	ConditionID  string  `json:"conditionId"`
	OutcomeIndex int     `json:"outcomeIndex"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurPrice     float64 `json:"curPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
	PercentPnL   float64 `json:"percentPnl"`
	Redeemable   bool    `json:"redeemable"`
	Title        string  `json:"title"`
}
