package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---- trade store ----

type fakeTradeStore struct {
	mu         sync.Mutex
	nextID     int64
	rows       []domain.Trade
	watermarks map[string]time.Time
}

func newFakeTradeStore() *fakeTradeStore {
	return &fakeTradeStore{watermarks: make(map[string]time.Time)}
}

func (s *fakeTradeStore) InsertForWallet(ctx context.Context, wallet string, trades []domain.Trade) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted, duplicates := 0, 0
	for _, t := range trades {
		dup := false
		for _, existing := range s.rows {
			if existing.SourceTxHash == t.SourceTxHash && existing.FillIndex == t.FillIndex {
				dup = true
				break
			}
		}
		if dup {
			duplicates++
			continue
		}
		s.nextID++
		t.ID = s.nextID
		t.CreatedAt = time.Now().UTC()
		s.rows = append(s.rows, t)
		inserted++
		if t.ExecutedAt.After(s.watermarks[wallet]) {
			s.watermarks[wallet] = t.ExecutedAt
		}
	}
	return inserted, duplicates, nil
}

func (s *fakeTradeStore) ListUnapplied(ctx context.Context, wallet string) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Trade
	for _, t := range s.rows {
		if t.Wallet == wallet && t.AppliedAt == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.Before(out[j].ExecutedAt)
		}
		if out[i].SourceTxHash != out[j].SourceTxHash {
			return out[i].SourceTxHash < out[j].SourceTxHash
		}
		return out[i].FillIndex < out[j].FillIndex
	})
	return out, nil
}

func (s *fakeTradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.rows {
		if t.Wallet == wallet {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.rows {
		if t.ExecutedAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeTradeStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var deleted int64
	for _, t := range s.rows {
		if t.ExecutedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.rows = kept
	return deleted, nil
}

// markApplied backdates rows as already reconciled, for seeding tests.
func (s *fakeTradeStore) markApplied(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.rows {
		for _, id := range ids {
			if s.rows[i].ID == id {
				s.rows[i].AppliedAt = &now
			}
		}
	}
}

// ---- position store ----

type fakePositionStore struct {
	mu           sync.Mutex
	nextID       int64
	rows         map[string]domain.Position
	applied      map[int64]bool
	replaced     map[string][]domain.Position
	replaceCalls int
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{
		rows:     make(map[string]domain.Position),
		applied:  make(map[int64]bool),
		replaced: make(map[string][]domain.Position),
	}
}

func posKey(wallet, conditionID string, outcomeIdx int) string {
	return fmt.Sprintf("%s|%s|%d", wallet, conditionID, outcomeIdx)
}

func (s *fakePositionStore) Get(ctx context.Context, wallet, conditionID string, outcomeIdx int) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.rows[posKey(wallet, conditionID, outcomeIdx)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *fakePositionStore) Apply(ctx context.Context, pos domain.Position, tradeID int64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied[tradeID] {
		return domain.Position{}, domain.ErrAlreadyExists
	}
	s.applied[tradeID] = true

	key := posKey(pos.Wallet, pos.ConditionID, pos.OutcomeIndex)
	if existing, ok := s.rows[key]; ok {
		pos.ID = existing.ID
	} else {
		s.nextID++
		pos.ID = s.nextID
	}
	pos.UpdatedAt = time.Now().UTC()
	s.rows[key] = pos
	return pos, nil
}

func (s *fakePositionStore) Update(ctx context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := posKey(pos.Wallet, pos.ConditionID, pos.OutcomeIndex)
	if _, ok := s.rows[key]; !ok {
		return domain.ErrNotFound
	}
	s.rows[key] = pos
	return nil
}

func (s *fakePositionStore) ListByWallet(ctx context.Context, wallet string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if p.Wallet == wallet {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListOpenByWallet(ctx context.Context, wallet string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if p.Wallet == wallet && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ListOpenByMarket(ctx context.Context, conditionID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.rows {
		if p.ConditionID == conditionID && p.Status == domain.PositionStatusOpen {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) ReplaceForWallet(ctx context.Context, wallet string, positions []domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, p := range s.rows {
		if p.Wallet == wallet {
			delete(s.rows, key)
		}
	}
	for _, p := range positions {
		s.nextID++
		p.ID = s.nextID
		s.rows[posKey(p.Wallet, p.ConditionID, p.OutcomeIndex)] = p
	}
	s.replaced[wallet] = positions
	s.replaceCalls++
	return nil
}

// seed installs a position row directly.
func (s *fakePositionStore) seed(pos domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	pos.ID = s.nextID
	s.rows[posKey(pos.Wallet, pos.ConditionID, pos.OutcomeIndex)] = pos
}

// ---- market store ----

type fakeMarketStore struct {
	mu        sync.Mutex
	rows      map[string]domain.Market
	createErr map[string]error
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{
		rows:      make(map[string]domain.Market),
		createErr: make(map[string]error),
	}
}

func (s *fakeMarketStore) Upsert(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[m.ConditionID] = m
	return nil
}

func (s *fakeMarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	for _, m := range markets {
		if err := s.Upsert(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeMarketStore) CreateIfAbsent(ctx context.Context, m domain.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[m.ConditionID]; err != nil {
		return err
	}
	if _, ok := s.rows[m.ConditionID]; !ok {
		s.rows[m.ConditionID] = m
	}
	return nil
}

func (s *fakeMarketStore) Get(ctx context.Context, conditionID string) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[conditionID]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeMarketStore) ListUnresolved(ctx context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Market
	for _, m := range s.rows {
		if m.Status != domain.MarketStatusResolved {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConditionID < out[j].ConditionID })
	return out, nil
}

func (s *fakeMarketStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// ---- wallet store ----

type fakeWalletStore struct {
	mu   sync.Mutex
	rows map[string]domain.TrackedWallet
}

func newFakeWalletStore() *fakeWalletStore {
	return &fakeWalletStore{rows: make(map[string]domain.TrackedWallet)}
}

func (s *fakeWalletStore) Upsert(ctx context.Context, w domain.TrackedWallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[w.Address] = w
	return nil
}

func (s *fakeWalletStore) Get(ctx context.Context, address string) (domain.TrackedWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.rows[address]
	if !ok {
		return domain.TrackedWallet{}, domain.ErrNotFound
	}
	return w, nil
}

func (s *fakeWalletStore) List(ctx context.Context) ([]domain.TrackedWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TrackedWallet, 0, len(s.rows))
	for _, w := range s.rows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// ---- snapshot store ----

type fakeSnapshotStore struct {
	mu   sync.Mutex
	rows []domain.Snapshot
}

func (s *fakeSnapshotStore) Insert(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, snap)
	return nil
}

func (s *fakeSnapshotStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Snapshot
	for _, snap := range s.rows {
		if snap.Wallet == wallet {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *fakeSnapshotStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Snapshot
	for _, snap := range s.rows {
		if snap.TakenAt.Before(before) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.Before(out[j].TakenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeSnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.rows[:0]
	var deleted int64
	for _, snap := range s.rows {
		if snap.TakenAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, snap)
	}
	s.rows = kept
	return deleted, nil
}

// ---- price sample store ----

type fakeSampleStore struct {
	mu     sync.Mutex
	latest map[string]domain.PriceSample
}

func newFakeSampleStore() *fakeSampleStore {
	return &fakeSampleStore{latest: make(map[string]domain.PriceSample)}
}

func sampleKey(source, symbol, side string) string {
	return source + "|" + symbol + "|" + side
}

func (s *fakeSampleStore) Insert(ctx context.Context, ps domain.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[sampleKey(ps.Source, ps.Symbol, ps.Side)] = ps
	return nil
}

func (s *fakeSampleStore) ListRange(ctx context.Context, source, symbol, side string, from, to time.Time) ([]domain.PriceSample, error) {
	return nil, nil
}

func (s *fakeSampleStore) Latest(ctx context.Context, source, symbol, side string) (domain.PriceSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.latest[sampleKey(source, symbol, side)]
	if !ok {
		return domain.PriceSample{}, domain.ErrNotFound
	}
	return ps, nil
}

// ---- price cache ----

type fakePriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{prices: make(map[string]float64)}
}

func (c *fakePriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
	return nil
}

func (c *fakePriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return price, time.Now().UTC(), nil
}

// ---- lock manager ----

type fakeLockManager struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: make(map[string]bool)}
}

func (l *fakeLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

func (l *fakeLockManager) AcquireWait(ctx context.Context, key string, ttl, maxWait time.Duration) (func(), error) {
	return l.Acquire(ctx, key, ttl)
}

// hold marks a key as taken by another process.
func (l *fakeLockManager) hold(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[key] = true
}

// ---- signal bus ----

type busEvent struct {
	channel string
	payload []byte
}

type fakeBus struct {
	mu     sync.Mutex
	events []busEvent
}

func (b *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, busEvent{channel: channel, payload: payload})
	return nil
}

func (b *fakeBus) channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.channel)
	}
	return out
}

// ---- upstream sources ----

type fakeFillSource struct {
	mu        sync.Mutex
	fills     map[string][]domain.RawFill
	lastSince map[string]time.Time
	err       error
}

func newFakeFillSource() *fakeFillSource {
	return &fakeFillSource{
		fills:     make(map[string][]domain.RawFill),
		lastSince: make(map[string]time.Time),
	}
}

func (f *fakeFillSource) FetchWalletFills(ctx context.Context, wallet string, since time.Time, first int) ([]domain.RawFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastSince[wallet] = since
	return f.fills[wallet], nil
}

type fakeCatalog struct {
	mu      sync.Mutex
	markets map[string]domain.Market
	calls   int
	err     error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{markets: make(map[string]domain.Market)}
}

func (c *fakeCatalog) GetMarkets(ctx context.Context, conditionIDs []string) ([]domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	var out []domain.Market
	for _, id := range conditionIDs {
		if m, ok := c.markets[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeVenueSource struct {
	positions map[string][]domain.VenuePosition
	err       error
}

func (f *fakeVenueSource) FetchVenuePositions(ctx context.Context, wallet string) ([]domain.VenuePosition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.positions[wallet], nil
}
