package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// VenuePositionSource fetches venue-reported positions for a wallet.
type VenuePositionSource interface {
	FetchVenuePositions(ctx context.Context, wallet string) ([]domain.VenuePosition, error)
}

// ImportResult summarizes one authoritative import for a single wallet.
type ImportResult struct {
	Wallet            string   `json:"wallet"`
	PositionsImported int      `json:"positionsImported"`
	TotalCashPnL      float64  `json:"totalCashPnl"`
	TotalInitialValue float64  `json:"totalInitialValue"`
	TotalCurrentValue float64  `json:"totalCurrentValue"`
	Errors            []string `json:"errors,omitempty"`
}

// Importer replaces a wallet's computed position book with the venue's own
// figures. It is the alternate sync strategy: instead of replaying trades it
// trusts the venue's reported PnL, useful for backfilling a wallet whose
// trade history predates tracking.
type Importer struct {
	source    VenuePositionSource
	positions domain.PositionStore
	markets   domain.MarketStore
	logger    *slog.Logger
}

// NewImporter creates a new Importer.
func NewImporter(source VenuePositionSource, positions domain.PositionStore, markets domain.MarketStore, logger *slog.Logger) *Importer {
	return &Importer{
		source:    source,
		positions: positions,
		markets:   markets,
		logger:    logger,
	}
}

// ImportWallet fetches the venue's position book for the wallet and swaps it
// in atomically. The caller holds the wallet's sync lock so this never races
// the full reconciliation pipeline.
func (im *Importer) ImportWallet(ctx context.Context, wallet string) (ImportResult, error) {
	res := ImportResult{Wallet: wallet}

	venue, err := im.source.FetchVenuePositions(ctx, wallet)
	if err != nil {
		return res, fmt.Errorf("fetch venue positions for %s: %w", wallet, err)
	}

	now := time.Now().UTC()
	rows := make([]domain.Position, 0, len(venue))
	for _, vp := range venue {
		if vp.ConditionID == "" {
			res.Errors = append(res.Errors, "venue position missing condition id")
			continue
		}

		if err := im.markets.CreateIfAbsent(ctx, domain.Market{
			ConditionID: vp.ConditionID,
			Question:    vp.Title,
			Status:      domain.MarketStatusOpen,
		}); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("ensure market %s: %v", vp.ConditionID, err))
			continue
		}

		status := domain.PositionStatusOpen
		var closedAt *time.Time
		if vp.Size == 0 {
			status = domain.PositionStatusClosed
			closedAt = &now
		}

		rows = append(rows, domain.Position{
			Wallet:        wallet,
			ConditionID:   vp.ConditionID,
			OutcomeIndex:  vp.OutcomeIndex,
			Shares:        vp.Size,
			AvgEntryPrice: vp.AvgPrice,
			RealizedPnL:   vp.CashPnL,
			UnrealizedPnL: vp.CurrentValue - vp.InitialValue,
			Status:        status,
			OpenedAt:      now,
			ClosedAt:      closedAt,
		})

		res.TotalCashPnL += vp.CashPnL
		res.TotalInitialValue += vp.InitialValue
		res.TotalCurrentValue += vp.CurrentValue
	}

	if err := im.positions.ReplaceForWallet(ctx, wallet, rows); err != nil {
		return res, fmt.Errorf("replace positions for %s: %w", wallet, err)
	}
	res.PositionsImported = len(rows)

	im.logger.Info("authoritative import complete",
		slog.String("wallet", wallet),
		slog.Int("positions", res.PositionsImported),
		slog.Float64("total_cash_pnl", res.TotalCashPnL),
	)
	return res, nil
}
