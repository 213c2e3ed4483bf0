package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
	"github.com/gabagool-watch/watchmegain-sub001/internal/pnl"
)

// orchestratorFixture bundles the fakes behind one wired Orchestrator.
type orchestratorFixture struct {
	orch      *Orchestrator
	wallets   *fakeWalletStore
	markets   *fakeMarketStore
	trades    *fakeTradeStore
	positions *fakePositionStore
	snapshots *fakeSnapshotStore
	source    *fakeFillSource
	catalog   *fakeCatalog
	venue     *fakeVenueSource
	locks     *fakeLockManager
	bus       *fakeBus
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		wallets:   newFakeWalletStore(),
		markets:   newFakeMarketStore(),
		trades:    newFakeTradeStore(),
		positions: newFakePositionStore(),
		snapshots: &fakeSnapshotStore{},
		source:    newFakeFillSource(),
		catalog:   newFakeCatalog(),
		venue:     &fakeVenueSource{positions: make(map[string][]domain.VenuePosition)},
		locks:     newFakeLockManager(),
		bus:       &fakeBus{},
	}
	logger := testLogger()
	samples := newFakeSampleStore()
	cache := newFakePriceCache()

	f.orch = NewOrchestrator(
		f.wallets,
		f.markets,
		NewIngestor(f.source, f.trades, f.markets, f.bus, 100, logger),
		NewMarketSync(f.catalog, f.markets, f.bus, logger),
		NewReconciler(f.trades, f.positions, f.markets, f.bus, pnl.Policy{}, logger),
		NewValuator(f.positions, f.markets, samples, cache, f.bus, logger),
		NewSnapshotter(f.positions, f.snapshots, logger),
		NewImporter(f.venue, f.positions, f.markets, logger),
		f.locks,
		OrchestratorConfig{Interval: time.Hour},
		logger,
	)
	return f
}

func TestOrchestrator_FullSync(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.wallets.Upsert(context.Background(), domain.TrackedWallet{Address: testWallet})
	f.source.fills[testWallet] = []domain.RawFill{
		rawFill("0xaaa", 0, 1700000000, "buy", "0.40", "10"),
		rawFill("0xbbb", 0, 1700000060, "sell", "0.60", "4"),
	}

	res, err := f.orch.FullSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if res.Wallets != 1 || len(res.Failed) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Trades.TotalFound != 2 || res.Trades.TotalNew != 2 {
		t.Errorf("trade totals = %+v, want 2 found 2 new", res.Trades)
	}
	if res.Positions.TotalCreated != 1 || res.Positions.TotalUpdated != 1 {
		t.Errorf("position totals = %+v, want 1 created 1 updated", res.Positions)
	}
	if res.Snapshots.TotalCreated != 1 {
		t.Errorf("snapshot totals = %+v, want 1 created", res.Snapshots)
	}

	pos, err := f.positions.Get(context.Background(), testWallet, "0xcond1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Shares != 6 {
		t.Errorf("shares = %v, want 6", pos.Shares)
	}

	if got := f.locks.acquired; len(got) != 1 || got[0] != "wallet-sync:"+testWallet {
		t.Errorf("lock keys = %v, want per-wallet sync lock", got)
	}

	status := f.orch.Status()
	if status.InProgress {
		t.Error("status still in progress after run")
	}
	if status.LastResult == nil || status.LastResult.Trades.TotalNew != 2 {
		t.Errorf("last result not recorded: %+v", status.LastResult)
	}
}

func TestOrchestrator_RejectsConcurrentRun(t *testing.T) {
	f := newOrchestratorFixture(t)
	if err := f.orch.begin(); err != nil {
		t.Fatal(err)
	}

	if _, err := f.orch.FullSync(context.Background()); !errors.Is(err, domain.ErrSyncRunning) {
		t.Fatalf("err = %v, want ErrSyncRunning", err)
	}
	if _, err := f.orch.ImportAll(context.Background()); !errors.Is(err, domain.ErrSyncRunning) {
		t.Fatalf("import err = %v, want ErrSyncRunning", err)
	}
}

func TestOrchestrator_LockedWalletRecordedAsFailed(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.wallets.Upsert(context.Background(), domain.TrackedWallet{Address: testWallet})
	other := "0x0000000000000000000000000000000000000002"
	f.wallets.Upsert(context.Background(), domain.TrackedWallet{Address: other})
	f.locks.hold("wallet-sync:" + testWallet)

	res, err := f.orch.FullSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != testWallet {
		t.Errorf("failed = %v, want the locked wallet only", res.Failed)
	}
}

func TestOrchestrator_SettlesFreshlyResolvedMarkets(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.wallets.Upsert(context.Background(), domain.TrackedWallet{Address: testWallet})
	f.markets.Upsert(context.Background(), domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen})
	f.positions.seed(openPosition("0xcond1", 0, 10, 0.40))
	f.catalog.markets["0xcond1"] = resolvedMarket("0xcond1", []float64{1, 0})

	res, err := f.orch.FullSync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Markets.MarketsUpdated != 1 {
		t.Errorf("markets updated = %d, want 1", res.Markets.MarketsUpdated)
	}

	pos, _ := f.positions.Get(context.Background(), testWallet, "0xcond1", 0)
	if pos.Status != domain.PositionStatusClosed {
		t.Errorf("position not settled: %+v", pos)
	}

	// Settlement realizes before the snapshot is taken, so the curve
	// already reflects the resolution.
	snaps, _ := f.snapshots.ListByWallet(context.Background(), testWallet, domain.ListOpts{})
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	if diff := snaps[0].RealizedPnL - 6.00; diff < -1e-9 || diff > 1e-9 {
		t.Errorf("snapshot realized = %v, want 6.00", snaps[0].RealizedPnL)
	}
}

func TestOrchestrator_ImportAll(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.wallets.Upsert(context.Background(), domain.TrackedWallet{Address: testWallet})
	f.venue.positions[testWallet] = []domain.VenuePosition{
		{ConditionID: "0xcond1", OutcomeIndex: 0, Size: 5, AvgPrice: 0.50, CashPnL: 2.0},
	}

	results, err := f.orch.ImportAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].PositionsImported != 1 {
		t.Fatalf("results = %+v", results)
	}
	if got := f.locks.acquired; len(got) != 1 || got[0] != "wallet-sync:"+testWallet {
		t.Errorf("lock keys = %v, want per-wallet sync lock", got)
	}
	if f.orch.Status().InProgress {
		t.Error("status still in progress after import")
	}
}

func TestOrchestrator_StatusSurvivesImport(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.wallets.Upsert(context.Background(), domain.TrackedWallet{Address: testWallet})
	f.venue.positions[testWallet] = []domain.VenuePosition{
		{ConditionID: "0xcond1", OutcomeIndex: 0, Size: 5, AvgPrice: 0.50, CashPnL: 2.0},
	}

	if _, err := f.orch.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.orch.ImportAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	status := f.orch.Status()
	if status.LastResult == nil {
		t.Error("full-sync summary wiped by the import run")
	}
	if len(status.LastImport) != 1 {
		t.Fatalf("lastImport = %+v, want the import summary", status.LastImport)
	}
	if status.LastImport[0].PositionsImported != 1 {
		t.Errorf("imported = %d, want 1", status.LastImport[0].PositionsImported)
	}
}

type recordingNotifier struct {
	events []string
}

func (n *recordingNotifier) Notify(ctx context.Context, event, title, message string) error {
	n.events = append(n.events, event)
	return nil
}

func TestOrchestrator_NotifiesOnWalletFailures(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.wallets.Upsert(context.Background(), domain.TrackedWallet{Address: testWallet})
	f.source.err = errors.New("subgraph down")

	n := &recordingNotifier{}
	f.orch.SetNotifier(n)

	if _, err := f.orch.FullSync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(n.events) != 1 || n.events[0] != "sync.failed" {
		t.Errorf("notifications = %v, want [sync.failed]", n.events)
	}
}
