package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

func TestMarketSync_ResolutionTransitionReportedOnce(t *testing.T) {
	markets := newFakeMarketStore()
	markets.Upsert(context.Background(), domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen})

	catalog := newFakeCatalog()
	catalog.markets["0xcond1"] = resolvedMarket("0xcond1", []float64{1, 0})
	bus := &fakeBus{}

	ms := NewMarketSync(catalog, markets, bus, testLogger())

	res, fresh, err := ms.Sync(context.Background(), []string{"0xcond1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Resolved != 1 || len(fresh) != 1 {
		t.Fatalf("result = %+v, fresh = %d; want one freshly resolved", res, len(fresh))
	}
	if got := bus.channels(); len(got) != 1 || got[0] != "markets.resolved" {
		t.Errorf("bus events = %v, want [markets.resolved]", got)
	}

	// Second pass over the same catalog state: the transition already
	// happened, so nothing is freshly resolved.
	res, fresh, err = ms.Sync(context.Background(), []string{"0xcond1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Resolved != 0 || len(fresh) != 0 {
		t.Fatalf("second pass result = %+v, fresh = %d; want none", res, len(fresh))
	}
}

func TestMarketSync_ResolvedStatusIsTerminal(t *testing.T) {
	markets := newFakeMarketStore()
	markets.Upsert(context.Background(), resolvedMarket("0xcond1", []float64{0, 1}))

	// Catalog glitches back to open; the stored resolution must survive.
	catalog := newFakeCatalog()
	catalog.markets["0xcond1"] = domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen}

	ms := NewMarketSync(catalog, markets, nil, testLogger())
	if _, _, err := ms.Sync(context.Background(), []string{"0xcond1"}); err != nil {
		t.Fatal(err)
	}

	stored, err := markets.Get(context.Background(), "0xcond1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.MarketStatusResolved {
		t.Errorf("status = %v, want resolved", stored.Status)
	}
	if len(stored.ResolutionPrices) != 2 {
		t.Errorf("resolution prices lost: %v", stored.ResolutionPrices)
	}
	if stored.ResolvedAt == nil {
		t.Error("resolvedAt lost")
	}
}

func TestMarketSync_NewMarketUpserted(t *testing.T) {
	markets := newFakeMarketStore()
	catalog := newFakeCatalog()
	catalog.markets["0xcond9"] = domain.Market{
		ConditionID: "0xcond9",
		Question:    "Will it rain tomorrow?",
		Outcomes:    []string{"Yes", "No"},
		Status:      domain.MarketStatusOpen,
	}

	ms := NewMarketSync(catalog, markets, nil, testLogger())
	res, _, err := ms.Sync(context.Background(), []string{"0xcond9"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 {
		t.Fatalf("updated = %d, want 1", res.Updated)
	}

	stored, err := markets.Get(context.Background(), "0xcond9")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Question == "" || len(stored.Outcomes) != 2 {
		t.Errorf("metadata not stored: %+v", stored)
	}
}

func TestMarketSync_CatalogFailureRecordedNotFatal(t *testing.T) {
	markets := newFakeMarketStore()
	catalog := newFakeCatalog()
	catalog.err = errors.New("gamma api 502")

	ms := NewMarketSync(catalog, markets, nil, testLogger())
	res, _, err := ms.Sync(context.Background(), []string{"0xcond1", "0xcond2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 1 {
		t.Errorf("errors = %v, want one batch error", res.Errors)
	}
}

func TestMarketSync_BatchesCatalogRequests(t *testing.T) {
	markets := newFakeMarketStore()
	catalog := newFakeCatalog()

	ids := make([]string, 0, catalogBatchSize+10)
	for i := 0; i < catalogBatchSize+10; i++ {
		ids = append(ids, domain.OutcomeSymbol("0xcond", i))
	}

	ms := NewMarketSync(catalog, markets, nil, testLogger())
	if _, _, err := ms.Sync(context.Background(), ids); err != nil {
		t.Fatal(err)
	}
	if catalog.calls != 2 {
		t.Errorf("catalog calls = %d, want 2", catalog.calls)
	}
}

func TestMarketSync_EndAtMetadataRefreshed(t *testing.T) {
	markets := newFakeMarketStore()
	markets.Upsert(context.Background(), domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen})

	endAt := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	catalog := newFakeCatalog()
	catalog.markets["0xcond1"] = domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen, EndAt: &endAt}

	ms := NewMarketSync(catalog, markets, nil, testLogger())
	if _, _, err := ms.Sync(context.Background(), []string{"0xcond1"}); err != nil {
		t.Fatal(err)
	}

	stored, _ := markets.Get(context.Background(), "0xcond1")
	if stored.EndAt == nil || !stored.EndAt.Equal(endAt) {
		t.Errorf("endAt = %v, want %v", stored.EndAt, endAt)
	}
}
