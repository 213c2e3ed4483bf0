// Package pipeline contains the sync engine: trade ingestion, position
// reconciliation, mark-to-market valuation, market lifecycle sync, snapshot
// recording, and the orchestrator that sequences them.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// FillSource fetches raw fill events for a wallet from the upstream venue.
type FillSource interface {
	FetchWalletFills(ctx context.Context, wallet string, since time.Time, first int) ([]domain.RawFill, error)
}

// IngestResult summarizes one ingestion pass for a single wallet.
type IngestResult struct {
	Wallet     string   `json:"wallet"`
	Fetched    int      `json:"fetched"`
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Malformed  int      `json:"malformed"`
	Errors     []string `json:"errors,omitempty"`
}

// Ingestor pulls new fills per tracked wallet, normalizes them into trades,
// and persists only unseen ones. Re-running over an overlapping window is
// safe: duplicates are skipped and counted, never re-booked.
type Ingestor struct {
	source   FillSource
	trades   domain.TradeStore
	markets  domain.MarketStore
	bus      domain.SignalBus
	pageSize int
	logger   *slog.Logger
}

// NewIngestor creates a new Ingestor.
func NewIngestor(source FillSource, trades domain.TradeStore, markets domain.MarketStore, bus domain.SignalBus, pageSize int, logger *slog.Logger) *Ingestor {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Ingestor{
		source:   source,
		trades:   trades,
		markets:  markets,
		bus:      bus,
		pageSize: pageSize,
		logger:   logger,
	}
}

// SyncWallet fetches fills for one wallet since its watermark and persists
// them. Malformed fills are skipped and counted rather than failing the
// batch. The wallet's watermark advances with the stored batch, so a crash
// mid-run re-fetches the tail instead of skipping ahead.
func (in *Ingestor) SyncWallet(ctx context.Context, wallet domain.TrackedWallet) (IngestResult, error) {
	res := IngestResult{Wallet: wallet.Address}

	fills, err := in.source.FetchWalletFills(ctx, wallet.Address, wallet.SyncedThrough, in.pageSize)
	if err != nil {
		return res, fmt.Errorf("fetch fills for %s: %w", wallet.Address, err)
	}
	res.Fetched = len(fills)
	if len(fills) == 0 {
		return res, nil
	}

	trades := make([]domain.Trade, 0, len(fills))
	var failedAt time.Time
	for _, fill := range fills {
		trade, err := normalizeFill(wallet.Address, fill)
		if err != nil {
			res.Malformed++
			res.Errors = append(res.Errors, err.Error())
			in.logger.Warn("skipping malformed fill",
				slog.String("wallet", wallet.Address),
				slog.String("tx_hash", fill.TransactionHash),
				slog.String("error", err.Error()),
			)
			continue
		}

		// Placeholder market row so the trade never dangles; lifecycle sync
		// fills in real metadata on its next pass.
		if err := in.markets.CreateIfAbsent(ctx, domain.Market{
			ConditionID: trade.ConditionID,
			Status:      domain.MarketStatusOpen,
		}); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("ensure market %s: %v", trade.ConditionID, err))
			if failedAt.IsZero() || trade.ExecutedAt.Before(failedAt) {
				failedAt = trade.ExecutedAt
			}
			continue
		}

		trades = append(trades, trade)
	}

	// A store-side failure is transient and retried on the next run. The
	// watermark advances with the inserted batch, so everything executed at
	// or after the earliest failed fill is held back too; otherwise a later
	// fill would drag the watermark past the failure and the trade would
	// never be re-fetched.
	if !failedAt.IsZero() {
		kept := trades[:0]
		for _, t := range trades {
			if t.ExecutedAt.Before(failedAt) {
				kept = append(kept, t)
			}
		}
		if held := len(trades) - len(kept); held > 0 {
			in.logger.Warn("holding back fills behind a store failure",
				slog.String("wallet", wallet.Address),
				slog.Int("held", held),
			)
		}
		trades = kept
	}

	if len(trades) > 0 {
		inserted, duplicates, err := in.trades.InsertForWallet(ctx, wallet.Address, trades)
		if err != nil {
			return res, fmt.Errorf("insert trades for %s: %w", wallet.Address, err)
		}
		res.Inserted = inserted
		res.Duplicates = duplicates
	}

	if res.Inserted > 0 && in.bus != nil {
		payload, _ := json.Marshal(res)
		if err := in.bus.Publish(ctx, "trades.ingested", payload); err != nil {
			in.logger.Warn("publish ingest event failed", slog.String("error", err.Error()))
		}
	}

	in.logger.Info("wallet ingestion complete",
		slog.String("wallet", wallet.Address),
		slog.Int("fetched", res.Fetched),
		slog.Int("inserted", res.Inserted),
		slog.Int("duplicates", res.Duplicates),
		slog.Int("malformed", res.Malformed),
	)
	return res, nil
}

// normalizeFill validates a raw fill and converts it into a domain.Trade.
func normalizeFill(wallet string, fill domain.RawFill) (domain.Trade, error) {
	if fill.TransactionHash == "" {
		return domain.Trade{}, fmt.Errorf("fill missing transaction hash: %w", domain.ErrMalformed)
	}
	if fill.ConditionID == "" {
		return domain.Trade{}, fmt.Errorf("fill %s missing condition id: %w", fill.TransactionHash, domain.ErrMalformed)
	}
	if fill.OutcomeIndex < 0 {
		return domain.Trade{}, fmt.Errorf("fill %s has negative outcome index: %w", fill.TransactionHash, domain.ErrMalformed)
	}

	var side domain.TradeSide
	switch fill.Side {
	case "buy", "BUY":
		side = domain.TradeSideBuy
	case "sell", "SELL":
		side = domain.TradeSideSell
	default:
		return domain.Trade{}, fmt.Errorf("fill %s has unknown side %q: %w", fill.TransactionHash, fill.Side, domain.ErrMalformed)
	}

	price, err := strconv.ParseFloat(fill.Price, 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("fill %s has bad price %q: %w", fill.TransactionHash, fill.Price, domain.ErrMalformed)
	}
	if price < 0 || price > 1 {
		return domain.Trade{}, fmt.Errorf("fill %s price %v outside [0,1]: %w", fill.TransactionHash, price, domain.ErrMalformed)
	}

	size, err := strconv.ParseFloat(fill.Size, 64)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("fill %s has bad size %q: %w", fill.TransactionHash, fill.Size, domain.ErrMalformed)
	}
	if size <= 0 {
		return domain.Trade{}, fmt.Errorf("fill %s has non-positive size %v: %w", fill.TransactionHash, size, domain.ErrMalformed)
	}

	fee := 0.0
	if fill.Fee != "" {
		fee, err = strconv.ParseFloat(fill.Fee, 64)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("fill %s has bad fee %q: %w", fill.TransactionHash, fill.Fee, domain.ErrMalformed)
		}
	}

	if fill.Timestamp <= 0 {
		return domain.Trade{}, fmt.Errorf("fill %s has bad timestamp %d: %w", fill.TransactionHash, fill.Timestamp, domain.ErrMalformed)
	}

	cost := price * size
	if side == domain.TradeSideSell {
		cost = -cost
	}

	return domain.Trade{
		SourceTxHash: fill.TransactionHash,
		FillIndex:    fill.FillIndex,
		Wallet:       wallet,
		ConditionID:  fill.ConditionID,
		OutcomeIndex: fill.OutcomeIndex,
		Side:         side,
		Price:        price,
		Size:         size,
		Cost:         cost,
		Fee:          fee,
		ExecutedAt:   time.Unix(fill.Timestamp, 0).UTC(),
	}, nil
}
