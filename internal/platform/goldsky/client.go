// Package goldsky implements a GraphQL client for the subgraph indexer
// that exposes on-chain order fills per wallet.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// Client queries order-fill events from the subgraph. Fields arrive as
// decimal strings and are passed through unparsed; the ingestor owns
// validation.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new subgraph client. timeout bounds every query so a
// stalled upstream can never hang an ingestion run.
func NewClient(graphqlURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchWalletFills queries fills for a single wallet at or after the given
// timestamp, ordered ascending, limited by first.
func (c *Client) FetchWalletFills(ctx context.Context, wallet string, since time.Time, first int) ([]domain.RawFill, error) {
	query := `
		query WalletFills($wallet: String!, $since: BigInt!, $first: Int!) {
			fills(
				first: $first
				orderBy: timestamp
				orderDirection: asc
				where: { wallet: $wallet, timestamp_gte: $since }
			) {
				transactionHash
				fillIndex
				timestamp
				wallet
				conditionId
				outcomeIndex
				side
				price
				size
				fee
			}
		}
	`

	variables := map[string]any{
		"wallet": strings.ToLower(wallet),
		"since":  fmt.Sprintf("%d", since.Unix()),
		"first":  first,
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch fills for %s: %w", wallet, err)
	}

	var result struct {
		Fills []struct {
			TransactionHash string `json:"transactionHash"`
			FillIndex       int    `json:"fillIndex"`
			Timestamp       string `json:"timestamp"`
			Wallet          string `json:"wallet"`
			ConditionID     string `json:"conditionId"`
			OutcomeIndex    int    `json:"outcomeIndex"`
			Side            string `json:"side"`
			Price           string `json:"price"`
			Size            string `json:"size"`
			Fee             string `json:"fee"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode fills: %w", err)
	}

	fills := make([]domain.RawFill, 0, len(result.Fills))
	for _, f := range result.Fills {
		var ts int64
		fmt.Sscanf(f.Timestamp, "%d", &ts)

		fills = append(fills, domain.RawFill{
			TransactionHash: f.TransactionHash,
			FillIndex:       f.FillIndex,
			Timestamp:       ts,
			Wallet:          f.Wallet,
			ConditionID:     f.ConditionID,
			OutcomeIndex:    f.OutcomeIndex,
			Side:            f.Side,
			Price:           f.Price,
			Size:            f.Size,
			Fee:             f.Fee,
		})
	}
	return fills, nil
}

// FetchLatestBlock returns the latest block number indexed by the subgraph,
// useful for monitoring indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}
	return result.Meta.Block.Number, nil
}

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	jsonBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}
