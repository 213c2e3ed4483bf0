package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// MarketCatalog fetches market metadata from the upstream catalog.
type MarketCatalog interface {
	GetMarkets(ctx context.Context, conditionIDs []string) ([]domain.Market, error)
}

// MarketSyncResult summarizes one lifecycle pass.
type MarketSyncResult struct {
	Checked  int      `json:"checked"`
	Updated  int      `json:"updated"`
	Resolved int      `json:"resolved"`
	Errors   []string `json:"errors,omitempty"`
}

// MarketSync refreshes market metadata and resolution status from the
// catalog. The open-to-resolved transition is detected here, exactly once,
// by comparing the stored status before the upsert; freshly resolved markets
// are returned so the caller can run the settlement sweep.
type MarketSync struct {
	catalog MarketCatalog
	markets domain.MarketStore
	bus     domain.SignalBus
	logger  *slog.Logger
}

// NewMarketSync creates a new MarketSync.
func NewMarketSync(catalog MarketCatalog, markets domain.MarketStore, bus domain.SignalBus, logger *slog.Logger) *MarketSync {
	return &MarketSync{
		catalog: catalog,
		markets: markets,
		bus:     bus,
		logger:  logger,
	}
}

// catalogBatchSize bounds one catalog request.
const catalogBatchSize = 50

// Sync refreshes the given markets and returns the result plus the markets
// that transitioned into resolved during this pass.
func (ms *MarketSync) Sync(ctx context.Context, conditionIDs []string) (MarketSyncResult, []domain.Market, error) {
	res := MarketSyncResult{Checked: len(conditionIDs)}
	var freshlyResolved []domain.Market

	for start := 0; start < len(conditionIDs); start += catalogBatchSize {
		if err := ctx.Err(); err != nil {
			return res, freshlyResolved, err
		}

		end := start + catalogBatchSize
		if end > len(conditionIDs) {
			end = len(conditionIDs)
		}
		batch := conditionIDs[start:end]

		fetched, err := ms.catalog.GetMarkets(ctx, batch)
		if err != nil {
			// Transient catalog failures are recorded and retried next run.
			res.Errors = append(res.Errors, fmt.Sprintf("catalog batch: %v", err))
			ms.logger.Warn("market catalog fetch failed",
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()),
			)
			continue
		}

		adjusted := make([]domain.Market, 0, len(fetched))
		var transitions []domain.Market
		for _, market := range fetched {
			market, transition, err := ms.reconcileStatus(ctx, market)
			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("market %s: %v", market.ConditionID, err))
				continue
			}
			adjusted = append(adjusted, market)
			if transition {
				transitions = append(transitions, market)
			}
		}
		if len(adjusted) == 0 {
			continue
		}

		if err := ms.markets.UpsertBatch(ctx, adjusted); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("upsert batch: %v", err))
			continue
		}
		res.Updated += len(adjusted)
		res.Resolved += len(transitions)
		freshlyResolved = append(freshlyResolved, transitions...)
		for _, market := range transitions {
			ms.publishResolved(ctx, market)
		}
	}

	total, err := ms.markets.Count(ctx)
	if err != nil {
		ms.logger.Warn("market count unavailable", slog.String("error", err.Error()))
	}
	ms.logger.Info("market lifecycle sync complete",
		slog.Int("checked", res.Checked),
		slog.Int("updated", res.Updated),
		slog.Int("resolved", res.Resolved),
		slog.Int64("catalog_size", total),
	)
	return res, freshlyResolved, nil
}

// reconcileStatus merges the catalog's view of one market with the stored
// row and reports whether it transitioned into resolved with this pass.
func (ms *MarketSync) reconcileStatus(ctx context.Context, market domain.Market) (domain.Market, bool, error) {
	prior, err := ms.markets.Get(ctx, market.ConditionID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return market, false, err
	}

	// The resolved status is terminal: a catalog reporting a resolved
	// market as open again is ignored for lifecycle purposes.
	if prior.Status == domain.MarketStatusResolved && market.Status != domain.MarketStatusResolved {
		market.Status = domain.MarketStatusResolved
		market.ResolutionPrices = prior.ResolutionPrices
		market.ResolvedAt = prior.ResolvedAt
	}

	transition := market.Resolved() && prior.Status != domain.MarketStatusResolved
	return market, transition, nil
}

func (ms *MarketSync) publishResolved(ctx context.Context, market domain.Market) {
	if ms.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"condition_id":      market.ConditionID,
		"resolution_prices": market.ResolutionPrices,
	})
	if err := ms.bus.Publish(ctx, "markets.resolved", payload); err != nil {
		ms.logger.Warn("publish resolve event failed", slog.String("error", err.Error()))
	}
}
