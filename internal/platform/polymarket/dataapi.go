package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// DataClient is the REST client for the venue's wallet-data API, which
// reports per-wallet positions with the venue's own PnL figures. It feeds
// the authoritative-import pipeline.
type DataClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataClient creates a new wallet-data client.
//
// baseURL is the API root, e.g. "https://data-api.polymarket.com".
func NewDataClient(baseURL string, timeout time.Duration) *DataClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DataClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetUserPositions returns all positions the venue reports for a wallet.
func (d *DataClient) GetUserPositions(ctx context.Context, wallet string) ([]APIPosition, error) {
	params := url.Values{}
	params.Set("user", strings.ToLower(wallet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/positions?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions for %s: %w", wallet, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("polymarket/data: get positions for %s: %w", wallet, err)
	}

	var positions []APIPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("polymarket/data: decode positions: %w", err)
	}
	return positions, nil
}

// FetchVenuePositions returns the venue-reported positions for a wallet in
// domain form.
func (d *DataClient) FetchVenuePositions(ctx context.Context, wallet string) ([]domain.VenuePosition, error) {
	raw, err := d.GetUserPositions(ctx, wallet)
	if err != nil {
		return nil, err
	}

	positions := make([]domain.VenuePosition, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, domain.VenuePosition{
			ConditionID:  p.ConditionID,
			OutcomeIndex: p.OutcomeIndex,
			Size:         p.Size,
			AvgPrice:     p.AvgPrice,
			CurPrice:     p.CurPrice,
			InitialValue: p.InitialValue,
			CurrentValue: p.CurrentValue,
			CashPnL:      p.CashPnL,
			Redeemable:   p.Redeemable,
			Title:        p.Title,
		})
	}
	return positions, nil
}
