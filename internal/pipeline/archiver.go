package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// archivePageSize bounds one archive page so very old wallets with huge
// trade histories do not load everything at once.
const archivePageSize = 10000

// ColdStore uploads ledger rows to long-term storage.
type ColdStore interface {
	ArchiveTrades(ctx context.Context, trades []domain.Trade, cutoff time.Time) (int64, error)
	ArchiveSnapshots(ctx context.Context, snaps []domain.Snapshot, cutoff time.Time) (int64, error)
}

// Archiver moves trades and snapshots older than the retention window out of
// the database and into cold storage. Rows are deleted only after the upload
// for their page succeeded, so a failed run leaves everything queryable.
type Archiver struct {
	cold          ColdStore
	trades        domain.TradeStore
	snapshots     domain.SnapshotStore
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(cold ColdStore, trades domain.TradeStore, snapshots domain.SnapshotStore, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		cold:          cold,
		trades:        trades,
		snapshots:     snapshots,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Run executes a single archive pass against the retention cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	tradesArchived, err := a.archiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving trades before %v: %w", cutoff, err)
	}

	snapsArchived, err := a.archiveSnapshots(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving snapshots before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("trades_archived", tradesArchived),
		slog.Int64("snapshots_archived", snapsArchived),
	)
	return nil
}

func (a *Archiver) archiveTrades(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		page, err := a.trades.ListBefore(ctx, cutoff, archivePageSize)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}

		n, err := a.cold.ArchiveTrades(ctx, page, cutoff)
		if err != nil {
			return total, err
		}

		// Delete only up to the newest archived row, not the full cutoff,
		// in case the table grew between the list and now.
		pageCutoff := page[len(page)-1].ExecutedAt.Add(time.Nanosecond)
		if _, err := a.trades.DeleteBefore(ctx, pageCutoff); err != nil {
			return total, err
		}
		total += n

		if len(page) < archivePageSize {
			return total, nil
		}
	}
}

func (a *Archiver) archiveSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		page, err := a.snapshots.ListBefore(ctx, cutoff, archivePageSize)
		if err != nil {
			return total, err
		}
		if len(page) == 0 {
			return total, nil
		}

		n, err := a.cold.ArchiveSnapshots(ctx, page, cutoff)
		if err != nil {
			return total, err
		}

		pageCutoff := page[len(page)-1].TakenAt.Add(time.Nanosecond)
		if _, err := a.snapshots.DeleteBefore(ctx, pageCutoff); err != nil {
			return total, err
		}
		total += n

		if len(page) < archivePageSize {
			return total, nil
		}
	}
}

// RunCron runs the archiver on a cron schedule until the context is
// cancelled. Expressions use the standard 5-field format:
// "minute hour day-of-month month day-of-week".
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
