package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
	"github.com/gabagool-watch/watchmegain-sub001/internal/lagcorr"
	"github.com/gabagool-watch/watchmegain-sub001/internal/pipeline"
	"github.com/gabagool-watch/watchmegain-sub001/internal/platform/goldsky"
	"github.com/gabagool-watch/watchmegain-sub001/internal/platform/polymarket"
	"github.com/gabagool-watch/watchmegain-sub001/internal/pnl"
)

// upstreamTimeout bounds every venue API call.
const upstreamTimeout = 30 * time.Second

// registerWallets normalizes and upserts the configured tracked wallets so
// the sync engine sees them. Existing watermarks are preserved.
func (a *App) registerWallets(ctx context.Context, deps *Dependencies) error {
	for _, entry := range a.cfg.Wallets {
		address, err := domain.NormalizeAddress(entry.Address)
		if err != nil {
			return fmt.Errorf("register wallet %q: %w", entry.Address, err)
		}
		if err := deps.WalletStore.Upsert(ctx, domain.TrackedWallet{
			Address: address,
			Alias:   entry.Alias,
		}); err != nil {
			return err
		}
	}
	return nil
}

// fillsClient builds the subgraph client for trade ingestion.
func (a *App) fillsClient() *goldsky.Client {
	return goldsky.NewClient(a.cfg.Goldsky.URL, a.cfg.Goldsky.APIKey, upstreamTimeout)
}

// logIndexerHead records the subgraph's latest indexed block so operators
// can spot indexing lag at the start of a run.
func (a *App) logIndexerHead(ctx context.Context) {
	head, err := a.fillsClient().FetchLatestBlock(ctx)
	if err != nil {
		a.logger.Warn("subgraph head unavailable", slog.String("error", err.Error()))
		return
	}
	a.logger.Info("subgraph indexer head", slog.Int64("block", head))
}

// buildOrchestrator assembles the full sync engine from wired dependencies.
func (a *App) buildOrchestrator(deps *Dependencies) *pipeline.Orchestrator {
	logger := a.logger.With(slog.String("component", "pipeline"))

	fills := a.fillsClient()
	catalog := polymarket.NewGammaClient(a.cfg.Polymarket.GammaHost, upstreamTimeout)
	venueData := polymarket.NewDataClient(a.cfg.Polymarket.DataHost, upstreamTimeout)

	policy := pnl.Policy{AllowShort: a.cfg.Sync.AllowShort}

	ingestor := pipeline.NewIngestor(fills, deps.TradeStore, deps.MarketStore, deps.SignalBus, a.cfg.Goldsky.PageSize, logger)
	marketSync := pipeline.NewMarketSync(catalog, deps.MarketStore, deps.SignalBus, logger)
	reconciler := pipeline.NewReconciler(deps.TradeStore, deps.PositionStore, deps.MarketStore, deps.SignalBus, policy, logger)
	valuator := pipeline.NewValuator(deps.PositionStore, deps.MarketStore, deps.PriceSampleStore, deps.PriceCache, deps.SignalBus, logger)
	snapshotter := pipeline.NewSnapshotter(deps.PositionStore, deps.SnapshotStore, logger)
	importer := pipeline.NewImporter(venueData, deps.PositionStore, deps.MarketStore, logger)

	orch := pipeline.NewOrchestrator(
		deps.WalletStore,
		deps.MarketStore,
		ingestor,
		marketSync,
		reconciler,
		valuator,
		snapshotter,
		importer,
		deps.LockManager,
		pipeline.OrchestratorConfig{
			Interval:    a.cfg.Sync.Interval.Duration,
			Parallelism: a.cfg.Sync.Parallelism,
			LockTTL:     a.cfg.Sync.LockTTL.Duration,
			LockWait:    a.cfg.Sync.LockWait.Duration,
		},
		logger,
	)
	orch.SetNotifier(deps.Notifier)
	return orch
}

// SyncMode runs the full sync loop on the configured interval, with the
// cold-storage archiver on its cron schedule when S3 is enabled.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	if err := a.registerWallets(ctx, deps); err != nil {
		return err
	}
	a.logIndexerHead(ctx)
	orch := a.buildOrchestrator(deps)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := orch.RunLoop(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("sync loop: %w", err)
	})

	if deps.ColdStore != nil {
		archiver := pipeline.NewArchiver(
			deps.ColdStore,
			deps.TradeStore,
			deps.SnapshotStore,
			a.cfg.Sync.ArchiveRetentionDays,
			a.logger.With(slog.String("component", "archiver")),
		)
		g.Go(func() error {
			err := archiver.RunCron(ctx, a.cfg.Sync.ArchiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	return g.Wait()
}

// OnceMode performs a single full sync pass and writes the run result to
// stdout as JSON.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	if err := a.registerWallets(ctx, deps); err != nil {
		return err
	}
	a.logIndexerHead(ctx)
	orch := a.buildOrchestrator(deps)

	result, err := orch.FullSync(ctx)
	if err != nil {
		return fmt.Errorf("full sync: %w", err)
	}
	return writeJSON(os.Stdout, result)
}

// ImportMode replaces every tracked wallet's computed positions with the
// venue-reported figures and writes the per-wallet results to stdout.
func (a *App) ImportMode(ctx context.Context, deps *Dependencies) error {
	if err := a.registerWallets(ctx, deps); err != nil {
		return err
	}
	orch := a.buildOrchestrator(deps)

	results, err := orch.ImportAll(ctx)
	if err != nil {
		return fmt.Errorf("authoritative import: %w", err)
	}
	return writeJSON(os.Stdout, results)
}

// LagMode aligns the configured reference and derived price series over the
// trailing window and writes the lag report to stdout.
func (a *App) LagMode(ctx context.Context, deps *Dependencies) error {
	correlator := lagcorr.NewCorrelator(
		deps.PriceSampleStore,
		lagcorr.SeriesSpec{
			Source: a.cfg.Lag.ReferenceSource,
			Symbol: a.cfg.Lag.ReferenceSymbol,
			Side:   a.cfg.Lag.ReferenceSide,
		},
		lagcorr.SeriesSpec{
			Source: a.cfg.Lag.DerivedSource,
			Symbol: a.cfg.Lag.DerivedSymbol,
			Side:   a.cfg.Lag.DerivedSide,
		},
		a.cfg.Lag.Tolerance.Duration,
		a.logger.With(slog.String("component", "lagcorr")),
	)

	to := time.Now().UTC()
	from := to.Add(-a.cfg.Lag.Window.Duration)

	report, err := correlator.Query(ctx, from, to)
	if err != nil {
		return fmt.Errorf("lag query: %w", err)
	}
	return writeJSON(os.Stdout, report)
}

func writeJSON(w *os.File, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
