package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

func TestImporter_ImportWallet(t *testing.T) {
	source := &fakeVenueSource{positions: map[string][]domain.VenuePosition{
		testWallet: {
			{
				ConditionID:  "0xcond1",
				OutcomeIndex: 0,
				Size:         10,
				AvgPrice:     0.40,
				CurPrice:     0.55,
				InitialValue: 4.0,
				CurrentValue: 5.5,
				CashPnL:      1.2,
				Title:        "Will it rain tomorrow?",
			},
			{
				ConditionID:  "0xcond2",
				OutcomeIndex: 1,
				Size:         0,
				CashPnL:      -0.8,
				InitialValue: 2.0,
				CurrentValue: 0,
			},
		},
	}}
	positions := newFakePositionStore()
	markets := newFakeMarketStore()

	im := NewImporter(source, positions, markets, testLogger())
	res, err := im.ImportWallet(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}

	if res.PositionsImported != 2 {
		t.Fatalf("imported = %d, want 2", res.PositionsImported)
	}
	if math.Abs(res.TotalCashPnL-0.4) > 1e-9 {
		t.Errorf("total cash pnl = %v, want 0.4", res.TotalCashPnL)
	}
	if math.Abs(res.TotalInitialValue-6.0) > 1e-9 {
		t.Errorf("total initial = %v, want 6.0", res.TotalInitialValue)
	}
	if math.Abs(res.TotalCurrentValue-5.5) > 1e-9 {
		t.Errorf("total current = %v, want 5.5", res.TotalCurrentValue)
	}

	open, _ := positions.Get(context.Background(), testWallet, "0xcond1", 0)
	if open.Status != domain.PositionStatusOpen || open.Shares != 10 {
		t.Errorf("open row = %+v", open)
	}
	if math.Abs(open.UnrealizedPnL-1.5) > 1e-9 {
		t.Errorf("unrealized = %v, want current minus initial 1.5", open.UnrealizedPnL)
	}

	flat, _ := positions.Get(context.Background(), testWallet, "0xcond2", 1)
	if flat.Status != domain.PositionStatusClosed || flat.ClosedAt == nil {
		t.Errorf("zero-size row should import closed: %+v", flat)
	}

	if m, err := markets.Get(context.Background(), "0xcond1"); err != nil || m.Question == "" {
		t.Errorf("market placeholder missing title: %+v err=%v", m, err)
	}
}

func TestImporter_ReplacesComputedBook(t *testing.T) {
	// Pre-existing computed positions must be swapped out wholesale.
	positions := newFakePositionStore()
	positions.seed(openPosition("0xstale", 0, 99, 0.10))

	source := &fakeVenueSource{positions: map[string][]domain.VenuePosition{
		testWallet: {{ConditionID: "0xcond1", OutcomeIndex: 0, Size: 5, AvgPrice: 0.50}},
	}}

	im := NewImporter(source, positions, newFakeMarketStore(), testLogger())
	if _, err := im.ImportWallet(context.Background(), testWallet); err != nil {
		t.Fatal(err)
	}

	if _, err := positions.Get(context.Background(), testWallet, "0xstale", 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("stale computed position survived import: err=%v", err)
	}
	all, _ := positions.ListByWallet(context.Background(), testWallet)
	if len(all) != 1 {
		t.Errorf("position set = %d rows, want 1", len(all))
	}
}

func TestImporter_SkipsRowsWithoutConditionID(t *testing.T) {
	source := &fakeVenueSource{positions: map[string][]domain.VenuePosition{
		testWallet: {
			{ConditionID: "", Size: 5},
			{ConditionID: "0xcond1", OutcomeIndex: 0, Size: 5, AvgPrice: 0.50},
		},
	}}
	im := NewImporter(source, newFakePositionStore(), newFakeMarketStore(), testLogger())

	res, err := im.ImportWallet(context.Background(), testWallet)
	if err != nil {
		t.Fatal(err)
	}
	if res.PositionsImported != 1 || len(res.Errors) != 1 {
		t.Errorf("result = %+v, want 1 imported 1 error", res)
	}
}

func TestImporter_SourceErrorPropagates(t *testing.T) {
	source := &fakeVenueSource{err: errors.New("data api down")}
	positions := newFakePositionStore()
	im := NewImporter(source, positions, newFakeMarketStore(), testLogger())

	if _, err := im.ImportWallet(context.Background(), testWallet); err == nil {
		t.Fatal("expected error from failing source")
	}
	if positions.replaceCalls != 0 {
		t.Error("positions replaced despite fetch failure")
	}
}
