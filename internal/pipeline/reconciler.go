package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
	"github.com/gabagool-watch/watchmegain-sub001/internal/pnl"
)

// ReconcileResult summarizes one reconciliation pass for a single wallet.
type ReconcileResult struct {
	Wallet  string   `json:"wallet"`
	Applied int      `json:"applied"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Parked  int      `json:"parked"`
	Errors  []string `json:"errors,omitempty"`
}

// tupleKey identifies one position book.
type tupleKey struct {
	conditionID  string
	outcomeIndex int
}

// Reconciler folds newly persisted trades into position state. Trades for a
// single (wallet, market, outcome) tuple are replayed strictly in execution
// order so the resulting book is deterministic regardless of arrival order.
type Reconciler struct {
	trades    domain.TradeStore
	positions domain.PositionStore
	markets   domain.MarketStore
	bus       domain.SignalBus
	policy    pnl.Policy
	logger    *slog.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(trades domain.TradeStore, positions domain.PositionStore, markets domain.MarketStore, bus domain.SignalBus, policy pnl.Policy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		trades:    trades,
		positions: positions,
		markets:   markets,
		bus:       bus,
		policy:    policy,
		logger:    logger,
	}
}

// ReconcileWallet applies every unapplied trade for the wallet. Each trade is
// applied in its own transaction together with the applied marker, so a crash
// between trades leaves the remainder unapplied and a rerun picks them up. A
// trade that violates book integrity is parked: it stays unmarked in the
// ledger, is counted, and subsequent trades for that tuple are held back this
// run so they replay after the gap is investigated.
func (r *Reconciler) ReconcileWallet(ctx context.Context, wallet string) (ReconcileResult, error) {
	res := ReconcileResult{Wallet: wallet}

	trades, err := r.trades.ListUnapplied(ctx, wallet)
	if err != nil {
		return res, fmt.Errorf("list unapplied trades for %s: %w", wallet, err)
	}
	if len(trades) == 0 {
		return res, nil
	}

	groups := groupByTuple(trades)
	for _, key := range sortedTupleKeys(groups) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r.replayTuple(ctx, wallet, key, groups[key], &res)
	}

	r.logger.Info("wallet reconciliation complete",
		slog.String("wallet", wallet),
		slog.Int("applied", res.Applied),
		slog.Int("created", res.Created),
		slog.Int("skipped", res.Skipped),
		slog.Int("parked", res.Parked),
	)
	return res, nil
}

// replayTuple applies one tuple's trades in order, accumulating into res.
func (r *Reconciler) replayTuple(ctx context.Context, wallet string, key tupleKey, trades []domain.Trade, res *ReconcileResult) {
	if !r.knownOutcome(ctx, key, res) {
		res.Parked += len(trades)
		res.Errors = append(res.Errors, fmt.Sprintf("market %s has no outcome %d: %d trade(s) parked",
			key.conditionID, key.outcomeIndex, len(trades)))
		r.logger.Error("parking trades on unknown outcome index",
			slog.String("wallet", wallet),
			slog.String("condition_id", key.conditionID),
			slog.Int("outcome_index", key.outcomeIndex),
			slog.Int("trades", len(trades)),
		)
		return
	}

	pos, err := r.positions.Get(ctx, wallet, key.conditionID, key.outcomeIndex)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		pos = domain.Position{
			Wallet:       wallet,
			ConditionID:  key.conditionID,
			OutcomeIndex: key.outcomeIndex,
			Status:       domain.PositionStatusOpen,
		}
		created = true
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("get position %s/%d: %v", key.conditionID, key.outcomeIndex, err))
		return
	}

	book := pnl.FromPosition(pos)

	for _, trade := range trades {
		next, err := book.Apply(pnl.Fill{
			Side:  trade.Side,
			Price: trade.Price,
			Size:  trade.Size,
			Fee:   trade.Fee,
		}, r.policy)
		if err != nil {
			// Integrity gap: park this trade and everything after it on the
			// tuple so the book is not corrupted by replaying past the hole.
			res.Parked += len(trades) - indexOf(trades, trade.ID)
			res.Errors = append(res.Errors, fmt.Sprintf("trade %s#%d on %s/%d: %v",
				trade.SourceTxHash, trade.FillIndex, key.conditionID, key.outcomeIndex, err))
			r.logger.Error("parking trade after integrity violation",
				slog.String("wallet", wallet),
				slog.String("condition_id", key.conditionID),
				slog.Int("outcome_index", key.outcomeIndex),
				slog.String("tx_hash", trade.SourceTxHash),
				slog.String("error", err.Error()),
			)
			return
		}

		wasOpen := pos.Status == domain.PositionStatusOpen && pos.Shares != 0
		pos = pnl.ToPosition(next, pos)
		pos.LastTradeID = trade.ID
		if pos.OpenedAt.IsZero() {
			pos.OpenedAt = trade.ExecutedAt
		}
		if pos.Status == domain.PositionStatusClosed && pos.ClosedAt == nil {
			ts := trade.ExecutedAt
			pos.ClosedAt = &ts
		}

		applied, err := r.positions.Apply(ctx, pos, trade.ID)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				// Another writer applied this trade between our list and now.
				res.Skipped++
				book = next
				continue
			}
			res.Errors = append(res.Errors, fmt.Sprintf("apply trade %d: %v", trade.ID, err))
			return
		}

		pos = applied
		book = next
		res.Applied++
		if created {
			res.Created++
			created = false
		} else {
			res.Updated++
		}

		if wasOpen && pos.Status == domain.PositionStatusClosed {
			r.publishClosed(ctx, pos)
		}
	}
}

// knownOutcome reports whether the tuple's outcome index exists in the
// market's outcome list. A market that is missing or still a placeholder
// without outcomes is tolerated; lifecycle sync has not described it yet.
// A market store error is recorded but does not park the tuple, since it
// says nothing about the trades themselves.
func (r *Reconciler) knownOutcome(ctx context.Context, key tupleKey, res *ReconcileResult) bool {
	market, err := r.markets.Get(ctx, key.conditionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			res.Errors = append(res.Errors, fmt.Sprintf("get market %s: %v", key.conditionID, err))
		}
		return true
	}
	if len(market.Outcomes) == 0 {
		return true
	}
	return market.HasOutcome(key.outcomeIndex)
}

func (r *Reconciler) publishClosed(ctx context.Context, pos domain.Position) {
	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"wallet":        pos.Wallet,
		"condition_id":  pos.ConditionID,
		"outcome_index": pos.OutcomeIndex,
		"realized_pnl":  pos.RealizedPnL,
		"closed_at":     pos.ClosedAt.Format(time.RFC3339),
	})
	if err := r.bus.Publish(ctx, "positions.closed", payload); err != nil {
		r.logger.Warn("publish close event failed", slog.String("error", err.Error()))
	}
}

// groupByTuple splits trades by (market, outcome) preserving their order,
// which ListUnapplied already guarantees is chronological with stable ties.
func groupByTuple(trades []domain.Trade) map[tupleKey][]domain.Trade {
	groups := make(map[tupleKey][]domain.Trade)
	for _, t := range trades {
		key := tupleKey{conditionID: t.ConditionID, outcomeIndex: t.OutcomeIndex}
		groups[key] = append(groups[key], t)
	}
	return groups
}

// sortedTupleKeys gives a stable iteration order over the tuple map.
func sortedTupleKeys(groups map[tupleKey][]domain.Trade) []tupleKey {
	keys := make([]tupleKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].conditionID != keys[j].conditionID {
			return keys[i].conditionID < keys[j].conditionID
		}
		return keys[i].outcomeIndex < keys[j].outcomeIndex
	})
	return keys
}

func indexOf(trades []domain.Trade, id int64) int {
	for i, t := range trades {
		if t.ID == id {
			return i
		}
	}
	return len(trades)
}
