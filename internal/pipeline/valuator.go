package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
	"github.com/gabagool-watch/watchmegain-sub001/internal/pnl"
)

// MarkResult summarizes one mark-to-market pass for a single wallet.
type MarkResult struct {
	Wallet  string   `json:"wallet"`
	Marked  int      `json:"marked"`
	Settled int      `json:"settled"`
	NoPrice int      `json:"noPrice"`
	Errors  []string `json:"errors,omitempty"`
}

// Valuator computes unrealized PnL for open positions and settles positions
// in resolved markets at the resolution price.
type Valuator struct {
	positions domain.PositionStore
	markets   domain.MarketStore
	samples   domain.PriceSampleStore
	cache     domain.PriceCache
	bus       domain.SignalBus
	logger    *slog.Logger
}

// NewValuator creates a new Valuator.
func NewValuator(positions domain.PositionStore, markets domain.MarketStore, samples domain.PriceSampleStore, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *Valuator {
	return &Valuator{
		positions: positions,
		markets:   markets,
		samples:   samples,
		cache:     cache,
		bus:       bus,
		logger:    logger,
	}
}

// MarkWallet recomputes unrealized PnL for every open position of one wallet.
// A resolved market freezes the mark at the outcome's resolution price; a
// position whose outcome has no observed price yet keeps its previous mark
// and is counted rather than zeroed.
func (v *Valuator) MarkWallet(ctx context.Context, wallet string) (MarkResult, error) {
	res := MarkResult{Wallet: wallet}

	open, err := v.positions.ListOpenByWallet(ctx, wallet)
	if err != nil {
		return res, fmt.Errorf("list open positions for %s: %w", wallet, err)
	}

	for _, pos := range open {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		market, err := v.markets.Get(ctx, pos.ConditionID)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("market %s: %v", pos.ConditionID, err))
			continue
		}

		if market.Resolved() {
			if err := v.settlePosition(ctx, pos, market); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("settle %s/%d: %v", pos.ConditionID, pos.OutcomeIndex, err))
				continue
			}
			res.Settled++
			continue
		}

		price, ok, err := v.lookupPrice(ctx, pos.ConditionID, pos.OutcomeIndex)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("price %s/%d: %v", pos.ConditionID, pos.OutcomeIndex, err))
			continue
		}
		if !ok {
			res.NoPrice++
			continue
		}

		book := pnl.FromPosition(pos)
		pos.UnrealizedPnL = book.Unrealized(price)
		if err := v.positions.Update(ctx, pos); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("update %s/%d: %v", pos.ConditionID, pos.OutcomeIndex, err))
			continue
		}
		res.Marked++
	}

	return res, nil
}

// SettleMarket force-closes every open position in a freshly resolved market
// at its resolution prices. The caller guards the once-only semantics by
// invoking this only on an observed open-to-resolved transition.
func (v *Valuator) SettleMarket(ctx context.Context, market domain.Market) (int, error) {
	if !market.Resolved() {
		return 0, fmt.Errorf("market %s is not resolved", market.ConditionID)
	}

	open, err := v.positions.ListOpenByMarket(ctx, market.ConditionID)
	if err != nil {
		return 0, fmt.Errorf("list open positions for market %s: %w", market.ConditionID, err)
	}

	settled := 0
	for _, pos := range open {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if err := v.settlePosition(ctx, pos, market); err != nil {
			v.logger.Error("settlement failed",
				slog.String("wallet", pos.Wallet),
				slog.String("condition_id", market.ConditionID),
				slog.Int("outcome_index", pos.OutcomeIndex),
				slog.String("error", err.Error()),
			)
			continue
		}
		settled++
	}

	v.logger.Info("market settled",
		slog.String("condition_id", market.ConditionID),
		slog.Int("positions", settled),
	)
	return settled, nil
}

// settlePosition realizes the remaining value of one position at the
// market's resolution price and closes it.
func (v *Valuator) settlePosition(ctx context.Context, pos domain.Position, market domain.Market) error {
	price, ok := market.ResolutionPrice(pos.OutcomeIndex)
	if !ok {
		return fmt.Errorf("market %s has no resolution price for outcome %d: %w",
			market.ConditionID, pos.OutcomeIndex, domain.ErrIntegrity)
	}

	book := pnl.FromPosition(pos).Settle(price)
	pos = pnl.ToPosition(book, pos)
	if pos.ClosedAt == nil {
		ts := time.Now().UTC()
		if market.ResolvedAt != nil {
			ts = *market.ResolvedAt
		}
		pos.ClosedAt = &ts
	}

	if err := v.positions.Update(ctx, pos); err != nil {
		return err
	}

	if v.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"wallet":        pos.Wallet,
			"condition_id":  pos.ConditionID,
			"outcome_index": pos.OutcomeIndex,
			"realized_pnl":  pos.RealizedPnL,
			"settle_price":  price,
		})
		if err := v.bus.Publish(ctx, "positions.settled", payload); err != nil {
			v.logger.Warn("publish settle event failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// lookupPrice returns the freshest mark for one outcome, preferring the hot
// cache and falling back to the price-sample store. A missing price in both
// is not an error; the position simply keeps its previous mark.
func (v *Valuator) lookupPrice(ctx context.Context, conditionID string, outcomeIdx int) (float64, bool, error) {
	symbol := domain.OutcomeSymbol(conditionID, outcomeIdx)

	if v.cache != nil {
		price, _, err := v.cache.GetPrice(ctx, symbol)
		if err == nil {
			return price, true, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			v.logger.Warn("price cache lookup failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		}
	}

	sample, err := v.samples.Latest(ctx, domain.PriceSourcePrediction, symbol, domain.PriceSideMid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return sample.Price, true, nil
}
