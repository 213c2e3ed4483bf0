package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// TradeTotals aggregates ingestion counts across wallets.
type TradeTotals struct {
	TotalFound  int `json:"totalFound"`
	TotalNew    int `json:"totalNew"`
	TotalErrors int `json:"totalErrors"`
}

// PositionTotals aggregates reconciliation counts across wallets.
type PositionTotals struct {
	TotalUpdated int `json:"totalUpdated"`
	TotalCreated int `json:"totalCreated"`
}

// MarketTotals aggregates lifecycle sync counts.
type MarketTotals struct {
	MarketsUpdated int      `json:"marketsUpdated"`
	Errors         []string `json:"errors,omitempty"`
}

// SnapshotTotals aggregates snapshot counts across wallets.
type SnapshotTotals struct {
	TotalCreated int `json:"totalCreated"`
	TotalErrors  int `json:"totalErrors"`
}

// SyncResult is the outcome of one full sync run.
type SyncResult struct {
	StartedAt time.Time      `json:"startedAt"`
	Duration  time.Duration  `json:"duration"`
	Trades    TradeTotals    `json:"trades"`
	Positions PositionTotals `json:"positions"`
	Markets   MarketTotals   `json:"markets"`
	Snapshots SnapshotTotals `json:"snapshots"`
	Wallets   int            `json:"wallets"`
	Failed    []string       `json:"failedWallets,omitempty"`
}

// SyncStatus reports the orchestrator's last and current activity.
type SyncStatus struct {
	InProgress bool           `json:"inProgress"`
	LastRunAt  time.Time      `json:"lastRunAt"`
	LastResult *SyncResult    `json:"lastResult,omitempty"`
	LastImport []ImportResult `json:"lastImport,omitempty"`
	LastError  string         `json:"lastError,omitempty"`
}

// RunNotifier receives operator alerts about sync outcomes. Event names
// follow the notify package's taxonomy.
type RunNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OrchestratorConfig tunes scheduling and concurrency.
type OrchestratorConfig struct {
	Interval    time.Duration
	Parallelism int
	LockTTL     time.Duration
	LockWait    time.Duration
}

// Orchestrator sequences ingestion, market lifecycle sync, reconciliation,
// valuation, and snapshotting into one full sync pass, and offers the
// authoritative-import alternative. The two strategies are mutually
// exclusive per wallet: each takes a venue-wide advisory lock on the wallet
// before touching its book.
type Orchestrator struct {
	wallets     domain.WalletStore
	markets     domain.MarketStore
	ingestor    *Ingestor
	marketSync  *MarketSync
	reconciler  *Reconciler
	valuator    *Valuator
	snapshotter *Snapshotter
	importer    *Importer
	locks       domain.LockManager
	notifier    RunNotifier
	cfg         OrchestratorConfig
	logger      *slog.Logger

	mu     sync.Mutex
	status SyncStatus
}

// SetNotifier attaches an optional operator alert channel.
func (o *Orchestrator) SetNotifier(n RunNotifier) {
	o.notifier = n
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	wallets domain.WalletStore,
	markets domain.MarketStore,
	ingestor *Ingestor,
	marketSync *MarketSync,
	reconciler *Reconciler,
	valuator *Valuator,
	snapshotter *Snapshotter,
	importer *Importer,
	locks domain.LockManager,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 30 * time.Second
	}
	return &Orchestrator{
		wallets:     wallets,
		markets:     markets,
		ingestor:    ingestor,
		marketSync:  marketSync,
		reconciler:  reconciler,
		valuator:    valuator,
		snapshotter: snapshotter,
		importer:    importer,
		locks:       locks,
		cfg:         cfg,
		logger:      logger,
	}
}

// Status returns the orchestrator's last-run summary and whether a run is
// currently in progress.
func (o *Orchestrator) Status() SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// begin marks a run as started; it fails with domain.ErrSyncRunning when
// another run is already in flight.
func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.InProgress {
		return domain.ErrSyncRunning
	}
	o.status.InProgress = true
	return nil
}

func (o *Orchestrator) finish(res *SyncResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.InProgress = false
	o.status.LastRunAt = time.Now().UTC()
	o.status.LastResult = res
	o.status.LastError = ""
	if err != nil {
		o.status.LastError = err.Error()
	}
}

// finishImport records an import run's summary without touching the last
// full-sync result.
func (o *Orchestrator) finishImport(results []ImportResult, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.InProgress = false
	o.status.LastRunAt = time.Now().UTC()
	o.status.LastImport = results
	o.status.LastError = ""
	if err != nil {
		o.status.LastError = err.Error()
	}
}

// FullSync runs one complete pass: market lifecycle sync and settlement
// sweep first, then per-wallet ingest, reconcile, mark, and snapshot in
// parallel across wallets. One failing wallet is recorded and does not
// abort the others; only storage unavailability fails the whole run.
func (o *Orchestrator) FullSync(ctx context.Context) (SyncResult, error) {
	if err := o.begin(); err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{StartedAt: time.Now().UTC()}
	err := o.runFullSync(ctx, &res)
	res.Duration = time.Since(res.StartedAt)
	o.finish(&res, err)

	if err != nil {
		o.notify(ctx, "sync.failed", "Full sync failed", err.Error())
		return res, err
	}
	if len(res.Failed) > 0 {
		o.notify(ctx, "sync.failed", "Wallet sync failures",
			fmt.Sprintf("%d of %d wallets failed this run", len(res.Failed), res.Wallets))
	}
	o.logger.Info("full sync complete",
		slog.Duration("duration", res.Duration),
		slog.Int("wallets", res.Wallets),
		slog.Int("trades_new", res.Trades.TotalNew),
		slog.Int("failed_wallets", len(res.Failed)),
	)
	return res, nil
}

func (o *Orchestrator) runFullSync(ctx context.Context, res *SyncResult) error {
	wallets, err := o.wallets.List(ctx)
	if err != nil {
		return fmt.Errorf("list wallets: %w", err)
	}
	res.Wallets = len(wallets)

	// Lifecycle first, so resolutions observed now settle before this run's
	// marks and snapshots.
	unresolved, err := o.markets.ListUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("list unresolved markets: %w", err)
	}
	ids := make([]string, 0, len(unresolved))
	for _, m := range unresolved {
		ids = append(ids, m.ConditionID)
	}

	msRes, freshlyResolved, err := o.marketSync.Sync(ctx, ids)
	if err != nil {
		return err
	}
	res.Markets.MarketsUpdated = msRes.Updated
	res.Markets.Errors = msRes.Errors

	for _, market := range freshlyResolved {
		if _, err := o.valuator.SettleMarket(ctx, market); err != nil {
			res.Markets.Errors = append(res.Markets.Errors, fmt.Sprintf("settle market %s: %v", market.ConditionID, err))
			continue
		}
		o.notify(ctx, "market.resolved", "Market resolved",
			fmt.Sprintf("%s settled open positions", market.ConditionID))
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.cfg.Parallelism)

	for _, w := range wallets {
		wallet := w
		g.Go(func() error {
			walletRes, err := o.syncWallet(ctx, wallet)

			mu.Lock()
			defer mu.Unlock()
			res.Trades.TotalFound += walletRes.ingest.Fetched
			res.Trades.TotalNew += walletRes.ingest.Inserted
			res.Trades.TotalErrors += walletRes.ingest.Malformed + len(walletRes.ingest.Errors)
			res.Positions.TotalUpdated += walletRes.reconcile.Updated
			res.Positions.TotalCreated += walletRes.reconcile.Created
			res.Snapshots.TotalCreated += walletRes.snapshots
			res.Snapshots.TotalErrors += walletRes.snapshotErrs
			if err != nil {
				res.Failed = append(res.Failed, wallet.Address)
				o.logger.Error("wallet sync failed",
					slog.String("wallet", wallet.Address),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// walletSyncResult carries one wallet's per-phase counters back to the
// aggregating goroutine.
type walletSyncResult struct {
	ingest       IngestResult
	reconcile    ReconcileResult
	snapshots    int
	snapshotErrs int
}

// syncWallet runs the per-wallet phases under the wallet's advisory lock.
func (o *Orchestrator) syncWallet(ctx context.Context, wallet domain.TrackedWallet) (walletSyncResult, error) {
	var res walletSyncResult

	unlock, err := o.locks.AcquireWait(ctx, walletLockKey(wallet.Address), o.cfg.LockTTL, o.cfg.LockWait)
	if err != nil {
		return res, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer unlock()

	res.ingest, err = o.ingestor.SyncWallet(ctx, wallet)
	if err != nil {
		return res, err
	}

	res.reconcile, err = o.reconciler.ReconcileWallet(ctx, wallet.Address)
	if err != nil {
		return res, err
	}

	if _, err := o.valuator.MarkWallet(ctx, wallet.Address); err != nil {
		return res, err
	}

	if _, err := o.snapshotter.Record(ctx, wallet.Address); err != nil {
		res.snapshotErrs++
		return res, err
	}
	res.snapshots++
	return res, nil
}

// ImportAll runs the authoritative import for every tracked wallet. It uses
// the same per-wallet locks as FullSync, so the two strategies never
// interleave on one wallet.
func (o *Orchestrator) ImportAll(ctx context.Context) (results []ImportResult, err error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer func() { o.finishImport(results, err) }()

	wallets, err := o.wallets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	results = make([]ImportResult, 0, len(wallets))
	for _, wallet := range wallets {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := o.importWallet(ctx, wallet.Address)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			o.logger.Error("wallet import failed",
				slog.String("wallet", wallet.Address),
				slog.String("error", err.Error()),
			)
		}
		results = append(results, result)
	}
	return results, nil
}

func (o *Orchestrator) importWallet(ctx context.Context, address string) (ImportResult, error) {
	unlock, err := o.locks.AcquireWait(ctx, walletLockKey(address), o.cfg.LockTTL, o.cfg.LockWait)
	if err != nil {
		return ImportResult{Wallet: address}, fmt.Errorf("acquire sync lock: %w", err)
	}
	defer unlock()

	return o.importer.ImportWallet(ctx, address)
}

// RunLoop triggers FullSync immediately and then on every interval tick
// until the context is cancelled.
func (o *Orchestrator) RunLoop(ctx context.Context) error {
	o.logger.Info("sync loop starting", slog.Duration("interval", o.cfg.Interval))

	if _, err := o.FullSync(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("full sync failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := o.FullSync(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("full sync failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, event, title, message string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, event, title, message); err != nil {
		o.logger.Warn("notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func walletLockKey(address string) string {
	return "wallet-sync:" + address
}
