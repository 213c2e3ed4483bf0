package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `condition_id, question, slug, outcomes, status,
	end_at, resolution_prices, resolved_at, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	err := row.Scan(
		&m.ConditionID, &m.Question, &m.Slug, &m.Outcomes, &status,
		&m.EndAt, &m.ResolutionPrices, &m.ResolvedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

const marketUpsertQuery = `
	INSERT INTO markets (
		condition_id, question, slug, outcomes, status,
		end_at, resolution_prices, resolved_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	ON CONFLICT (condition_id) DO UPDATE SET
		question          = EXCLUDED.question,
		slug              = EXCLUDED.slug,
		outcomes          = EXCLUDED.outcomes,
		status            = EXCLUDED.status,
		end_at            = EXCLUDED.end_at,
		resolution_prices = EXCLUDED.resolution_prices,
		resolved_at       = EXCLUDED.resolved_at,
		updated_at        = NOW()`

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	_, err := s.pool.Exec(ctx, marketUpsertQuery,
		m.ConditionID, m.Question, m.Slug, m.Outcomes, string(m.Status),
		m.EndAt, m.ResolutionPrices, m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ConditionID, err)
	}
	return nil
}

// UpsertBatch inserts or updates multiple markets in a single batch operation.
func (s *MarketStore) UpsertBatch(ctx context.Context, markets []domain.Market) error {
	if len(markets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, m := range markets {
		batch.Queue(marketUpsertQuery,
			m.ConditionID, m.Question, m.Slug, m.Outcomes, string(m.Status),
			m.EndAt, m.ResolutionPrices, m.ResolvedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range markets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert market batch item %d: %w", i, err)
		}
	}
	return nil
}

// CreateIfAbsent inserts a placeholder market row, leaving any existing row
// untouched so catalog metadata is never clobbered by a stub.
func (s *MarketStore) CreateIfAbsent(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			condition_id, question, slug, outcomes, status,
			end_at, resolution_prices, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (condition_id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		m.ConditionID, m.Question, m.Slug, m.Outcomes, string(m.Status),
		m.EndAt, m.ResolutionPrices, m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ConditionID, err)
	}
	return nil
}

// Get retrieves a market by its condition ID.
func (s *MarketStore) Get(ctx context.Context, conditionID string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE condition_id = $1`, conditionID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", conditionID, err)
	}
	return m, nil
}

// ListUnresolved returns every market not yet in a resolved state.
func (s *MarketStore) ListUnresolved(ctx context.Context) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+` FROM markets WHERE status <> 'resolved' ORDER BY condition_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unresolved markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan unresolved market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unresolved markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.MarketStore = (*MarketStore)(nil)
