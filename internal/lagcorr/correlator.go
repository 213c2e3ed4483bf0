// Package lagcorr aligns two irregularly-sampled price series and reports
// timing and price divergence statistics between them.
package lagcorr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// DefaultTolerance is the maximum timestamp distance for a derived sample
// to be matched against the reference series.
const DefaultTolerance = 60 * time.Second

// Pair is one derived sample matched to its nearest reference sample.
// LagMs is signed: positive means the derived feed lags the reference.
type Pair struct {
	Timestamp      time.Time `json:"timestamp"`
	ReferencePrice float64   `json:"referencePrice"`
	DerivedPrice   float64   `json:"derivedPrice"`
	LagMs          int64     `json:"lagMs"`
	PriceDiff      float64   `json:"priceDiff"`
}

// Stats aggregates the lag distribution of a set of pairs.
type Stats struct {
	Total       int     `json:"total"`
	AvgLagMs    float64 `json:"avgLagMs"`
	MinLagMs    int64   `json:"minLagMs"`
	MaxLagMs    int64   `json:"maxLagMs"`
	MedianLagMs float64 `json:"medianLagMs"`
	TimeRange   string  `json:"timeRange"`
}

// Report is the full result of one correlation query.
type Report struct {
	LagData []Pair `json:"lagData"`
	Stats   Stats  `json:"stats"`
}

// Align matches every derived sample to its nearest reference sample by
// absolute time distance. Both series must be ascending by timestamp; the
// forward-advancing pointer makes the pass O(len(ref)+len(derived)).
// Derived samples farther than tolerance from every reference sample are
// dropped, not reported as zero lag. Distance ties prefer the
// earlier-indexed reference sample.
func Align(ref, derived []domain.PriceSample, tolerance time.Duration) []Pair {
	if len(ref) == 0 || len(derived) == 0 {
		return nil
	}

	pairs := make([]Pair, 0, len(derived))
	j := 0
	for _, d := range derived {
		// Advance only while the next reference sample is strictly closer,
		// so equidistant candidates resolve to the earlier index.
		for j+1 < len(ref) && absDur(ref[j+1].ObservedAt.Sub(d.ObservedAt)) < absDur(ref[j].ObservedAt.Sub(d.ObservedAt)) {
			j++
		}

		lag := d.ObservedAt.Sub(ref[j].ObservedAt)
		if absDur(lag) > tolerance {
			continue
		}

		diff := d.Price - ref[j].Price
		if diff < 0 {
			diff = -diff
		}
		pairs = append(pairs, Pair{
			Timestamp:      d.ObservedAt,
			ReferencePrice: ref[j].Price,
			DerivedPrice:   d.Price,
			LagMs:          lag.Milliseconds(),
			PriceDiff:      diff,
		})
	}
	return pairs
}

// Summarize computes the aggregate lag statistics of a pair set. The median
// of an even-length list is the mean of the two middle elements.
func Summarize(pairs []Pair, from, to time.Time) Stats {
	st := Stats{
		Total:     len(pairs),
		TimeRange: fmt.Sprintf("%s - %s", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339)),
	}
	if len(pairs) == 0 {
		return st
	}

	lags := make([]int64, len(pairs))
	var sum int64
	st.MinLagMs = pairs[0].LagMs
	st.MaxLagMs = pairs[0].LagMs
	for i, p := range pairs {
		lags[i] = p.LagMs
		sum += p.LagMs
		if p.LagMs < st.MinLagMs {
			st.MinLagMs = p.LagMs
		}
		if p.LagMs > st.MaxLagMs {
			st.MaxLagMs = p.LagMs
		}
	}
	st.AvgLagMs = float64(sum) / float64(len(lags))

	sort.Slice(lags, func(i, k int) bool { return lags[i] < lags[k] })
	mid := len(lags) / 2
	if len(lags)%2 == 1 {
		st.MedianLagMs = float64(lags[mid])
	} else {
		st.MedianLagMs = float64(lags[mid-1]+lags[mid]) / 2
	}
	return st
}

func absDur(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// SeriesSpec identifies one stored price series.
type SeriesSpec struct {
	Source string
	Symbol string
	Side   string
}

// Correlator answers lag queries by reading two series from the price
// store and aligning them.
type Correlator struct {
	samples   domain.PriceSampleStore
	reference SeriesSpec
	derived   SeriesSpec
	tolerance time.Duration
	logger    *slog.Logger
}

// NewCorrelator creates a Correlator for a fixed reference/derived series
// pair. A non-positive tolerance falls back to DefaultTolerance.
func NewCorrelator(samples domain.PriceSampleStore, reference, derived SeriesSpec, tolerance time.Duration, logger *slog.Logger) *Correlator {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Correlator{
		samples:   samples,
		reference: reference,
		derived:   derived,
		tolerance: tolerance,
		logger:    logger,
	}
}

// Query aligns the two series over [from, to] and returns matched pairs
// with aggregate statistics.
func (c *Correlator) Query(ctx context.Context, from, to time.Time) (Report, error) {
	ref, err := c.samples.ListRange(ctx, c.reference.Source, c.reference.Symbol, c.reference.Side, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("lagcorr: list reference series: %w", err)
	}
	der, err := c.samples.ListRange(ctx, c.derived.Source, c.derived.Symbol, c.derived.Side, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("lagcorr: list derived series: %w", err)
	}

	pairs := Align(ref, der, c.tolerance)
	stats := Summarize(pairs, from, to)

	c.logger.InfoContext(ctx, "lag correlation computed",
		slog.Int("reference_samples", len(ref)),
		slog.Int("derived_samples", len(der)),
		slog.Int("matched", stats.Total),
		slog.Float64("median_lag_ms", stats.MedianLagMs),
	)

	return Report{LagData: pairs, Stats: stats}, nil
}
