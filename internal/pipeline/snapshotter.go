package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// Snapshotter captures a point-in-time valuation per wallet. Snapshots are
// append-only; re-running simply records another point on the curve.
type Snapshotter struct {
	positions domain.PositionStore
	snapshots domain.SnapshotStore
	logger    *slog.Logger
}

// NewSnapshotter creates a new Snapshotter.
func NewSnapshotter(positions domain.PositionStore, snapshots domain.SnapshotStore, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		positions: positions,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Record sums realized and unrealized PnL across all of the wallet's
// positions and persists one snapshot at the current timestamp. Total value
// is the mark value of the open book: shares times the implied mark, which
// for an open position is avg entry plus its unrealized per-share move.
func (s *Snapshotter) Record(ctx context.Context, wallet string) (domain.Snapshot, error) {
	positions, err := s.positions.ListByWallet(ctx, wallet)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("list positions for %s: %w", wallet, err)
	}

	snap := domain.Snapshot{
		ID:      uuid.New().String(),
		Wallet:  wallet,
		TakenAt: time.Now().UTC(),
	}
	for _, pos := range positions {
		snap.RealizedPnL += pos.RealizedPnL
		snap.UnrealizedPnL += pos.UnrealizedPnL
		if pos.Status == domain.PositionStatusOpen && pos.Shares != 0 {
			snap.OpenPositions++
			snap.TotalValue += pos.Shares*pos.AvgEntryPrice + pos.UnrealizedPnL
		}
	}

	if err := s.snapshots.Insert(ctx, snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("insert snapshot for %s: %w", wallet, err)
	}

	s.logger.Debug("snapshot recorded",
		slog.String("wallet", wallet),
		slog.Float64("realized_pnl", snap.RealizedPnL),
		slog.Float64("unrealized_pnl", snap.UnrealizedPnL),
		slog.Int("open_positions", snap.OpenPositions),
	)
	return snap, nil
}
