package pipeline

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

func openPosition(conditionID string, outcomeIdx int, shares, avg float64) domain.Position {
	return domain.Position{
		Wallet:        testWallet,
		ConditionID:   conditionID,
		OutcomeIndex:  outcomeIdx,
		Shares:        shares,
		AvgEntryPrice: avg,
		Status:        domain.PositionStatusOpen,
		OpenedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestValuator_MarkFromCache(t *testing.T) {
	positions := newFakePositionStore()
	positions.seed(openPosition("0xcond1", 0, 10, 0.40))
	markets := newFakeMarketStore()
	markets.Upsert(context.Background(), domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen})
	cache := newFakePriceCache()
	cache.SetPrice(context.Background(), domain.OutcomeSymbol("0xcond1", 0), 0.55, time.Now())

	v := NewValuator(positions, markets, newFakeSampleStore(), cache, nil, testLogger())
	res, err := v.MarkWallet(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if res.Marked != 1 || res.NoPrice != 0 {
		t.Fatalf("result = %+v", res)
	}

	pos, _ := positions.Get(context.Background(), testWallet, "0xcond1", 0)
	if math.Abs(pos.UnrealizedPnL-1.50) > 1e-9 {
		t.Errorf("unrealized = %v, want 1.50", pos.UnrealizedPnL)
	}
}

func TestValuator_MarkFallsBackToSampleStore(t *testing.T) {
	positions := newFakePositionStore()
	positions.seed(openPosition("0xcond1", 0, 10, 0.40))
	markets := newFakeMarketStore()
	markets.Upsert(context.Background(), domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen})
	samples := newFakeSampleStore()
	samples.Insert(context.Background(), domain.PriceSample{
		Source:     domain.PriceSourcePrediction,
		Symbol:     domain.OutcomeSymbol("0xcond1", 0),
		Side:       domain.PriceSideMid,
		Price:      0.60,
		ObservedAt: time.Now(),
	})

	v := NewValuator(positions, markets, samples, newFakePriceCache(), nil, testLogger())
	res, err := v.MarkWallet(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if res.Marked != 1 {
		t.Fatalf("result = %+v", res)
	}

	pos, _ := positions.Get(context.Background(), testWallet, "0xcond1", 0)
	if math.Abs(pos.UnrealizedPnL-2.00) > 1e-9 {
		t.Errorf("unrealized = %v, want 2.00", pos.UnrealizedPnL)
	}
}

func TestValuator_NoPriceKeepsPreviousMark(t *testing.T) {
	positions := newFakePositionStore()
	pos := openPosition("0xcond1", 0, 10, 0.40)
	pos.UnrealizedPnL = 0.75
	positions.seed(pos)
	markets := newFakeMarketStore()
	markets.Upsert(context.Background(), domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen})

	v := NewValuator(positions, markets, newFakeSampleStore(), newFakePriceCache(), nil, testLogger())
	res, err := v.MarkWallet(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if res.NoPrice != 1 || res.Marked != 0 {
		t.Fatalf("result = %+v, want 1 noPrice", res)
	}

	got, _ := positions.Get(context.Background(), testWallet, "0xcond1", 0)
	if got.UnrealizedPnL != 0.75 {
		t.Errorf("unrealized = %v, want previous mark 0.75", got.UnrealizedPnL)
	}
}

func resolvedMarket(conditionID string, prices []float64) domain.Market {
	resolvedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return domain.Market{
		ConditionID:      conditionID,
		Status:           domain.MarketStatusResolved,
		ResolutionPrices: prices,
		ResolvedAt:       &resolvedAt,
	}
}

func TestValuator_MarkSettlesResolvedMarket(t *testing.T) {
	positions := newFakePositionStore()
	positions.seed(openPosition("0xcond1", 0, 10, 0.40))
	markets := newFakeMarketStore()
	markets.Upsert(context.Background(), resolvedMarket("0xcond1", []float64{1, 0}))

	v := NewValuator(positions, markets, newFakeSampleStore(), newFakePriceCache(), nil, testLogger())
	res, err := v.MarkWallet(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if res.Settled != 1 {
		t.Fatalf("result = %+v, want 1 settled", res)
	}

	pos, _ := positions.Get(context.Background(), testWallet, "0xcond1", 0)
	if pos.Status != domain.PositionStatusClosed {
		t.Fatalf("status = %v, want closed", pos.Status)
	}
	if math.Abs(pos.RealizedPnL-6.00) > 1e-9 {
		t.Errorf("realized = %v, want 6.00", pos.RealizedPnL)
	}
	if pos.UnrealizedPnL != 0 {
		t.Errorf("unrealized = %v, want 0 after settlement", pos.UnrealizedPnL)
	}
}

func TestValuator_SettleMarket(t *testing.T) {
	positions := newFakePositionStore()
	// Winner and loser outcome holders in the same market, plus an
	// unrelated market that must stay open.
	positions.seed(openPosition("0xcond1", 0, 10, 0.40))
	loser := openPosition("0xcond1", 1, 4, 0.30)
	loser.Wallet = "0x0000000000000000000000000000000000000001"
	positions.seed(loser)
	positions.seed(openPosition("0xcond2", 0, 3, 0.50))

	market := resolvedMarket("0xcond1", []float64{1, 0})
	bus := &fakeBus{}
	v := NewValuator(positions, newFakeMarketStore(), newFakeSampleStore(), newFakePriceCache(), bus, testLogger())

	settled, err := v.SettleMarket(context.Background(), market)
	if err != nil {
		t.Fatal(err)
	}
	if settled != 2 {
		t.Fatalf("settled = %d, want 2", settled)
	}

	winner, _ := positions.Get(context.Background(), testWallet, "0xcond1", 0)
	if math.Abs(winner.RealizedPnL-6.00) > 1e-9 {
		t.Errorf("winner realized = %v, want 6.00", winner.RealizedPnL)
	}
	lost, _ := positions.Get(context.Background(), loser.Wallet, "0xcond1", 1)
	if math.Abs(lost.RealizedPnL-(-1.20)) > 1e-9 {
		t.Errorf("loser realized = %v, want -1.20", lost.RealizedPnL)
	}
	if winner.ClosedAt == nil || !winner.ClosedAt.Equal(*market.ResolvedAt) {
		t.Errorf("closedAt = %v, want market resolution time", winner.ClosedAt)
	}

	untouched, _ := positions.Get(context.Background(), testWallet, "0xcond2", 0)
	if untouched.Status != domain.PositionStatusOpen {
		t.Errorf("unrelated market position settled: %+v", untouched)
	}

	if got := len(bus.channels()); got != 2 {
		t.Errorf("published %d settle events, want 2", got)
	}
}

func TestValuator_SettleMarketRejectsUnresolved(t *testing.T) {
	v := NewValuator(newFakePositionStore(), newFakeMarketStore(), newFakeSampleStore(), newFakePriceCache(), nil, testLogger())
	if _, err := v.SettleMarket(context.Background(), domain.Market{ConditionID: "0xcond1", Status: domain.MarketStatusOpen}); err == nil {
		t.Fatal("expected error settling an unresolved market")
	}
}
