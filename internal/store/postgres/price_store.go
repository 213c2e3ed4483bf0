package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// PriceSampleStore implements domain.PriceSampleStore using PostgreSQL.
type PriceSampleStore struct {
	pool *pgxpool.Pool
}

// NewPriceSampleStore creates a new PriceSampleStore backed by the given connection pool.
func NewPriceSampleStore(pool *pgxpool.Pool) *PriceSampleStore {
	return &PriceSampleStore{pool: pool}
}

const priceSampleCols = `id, source, symbol, side, price, observed_at`

// Insert persists one observed price point. The row id is assigned by the
// database.
func (s *PriceSampleStore) Insert(ctx context.Context, sample domain.PriceSample) error {
	const query = `
		INSERT INTO price_samples (source, symbol, side, price, observed_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		sample.Source, sample.Symbol, sample.Side, sample.Price, sample.ObservedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert price sample %s/%s: %w", sample.Source, sample.Symbol, err)
	}
	return nil
}

// ListRange returns samples for one (source, symbol, side) series inside the
// half-open window [from, to), ordered by observation time ascending.
func (s *PriceSampleStore) ListRange(ctx context.Context, source, symbol, side string, from, to time.Time) ([]domain.PriceSample, error) {
	const query = `
		SELECT ` + priceSampleCols + `
		FROM price_samples
		WHERE source = $1 AND symbol = $2 AND side = $3
			AND observed_at >= $4 AND observed_at < $5
		ORDER BY observed_at ASC`

	rows, err := s.pool.Query(ctx, query, source, symbol, side, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list price samples %s/%s: %w", source, symbol, err)
	}
	defer rows.Close()

	var samples []domain.PriceSample
	for rows.Next() {
		var p domain.PriceSample
		if err := rows.Scan(&p.ID, &p.Source, &p.Symbol, &p.Side, &p.Price, &p.ObservedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan price sample: %w", err)
		}
		samples = append(samples, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: price sample rows: %w", err)
	}
	return samples, nil
}

// Latest returns the most recent sample for a series.
func (s *PriceSampleStore) Latest(ctx context.Context, source, symbol, side string) (domain.PriceSample, error) {
	const query = `
		SELECT ` + priceSampleCols + `
		FROM price_samples
		WHERE source = $1 AND symbol = $2 AND side = $3
		ORDER BY observed_at DESC
		LIMIT 1`

	var p domain.PriceSample
	err := s.pool.QueryRow(ctx, query, source, symbol, side).
		Scan(&p.ID, &p.Source, &p.Symbol, &p.Side, &p.Price, &p.ObservedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PriceSample{}, domain.ErrNotFound
		}
		return domain.PriceSample{}, fmt.Errorf("postgres: latest price sample %s/%s: %w", source, symbol, err)
	}
	return p, nil
}

// Compile-time interface check.
var _ domain.PriceSampleStore = (*PriceSampleStore)(nil)
