package domain

import "time"

// Well-known price sample sources. Collectors may introduce others; the
// lag correlator treats source as an opaque tag.
const (
	PriceSourceSpot       = "spot"
	PriceSourcePrediction = "prediction"
)

// Well-known sides for two-sided feeds. The mark-to-market valuator reads
// the mid series.
const (
	PriceSideBid = "bid"
	PriceSideAsk = "ask"
	PriceSideMid = "mid"
)

// PriceSample is one immutable price observation from a feed collector.
// Side distinguishes bid/ask on two-sided feeds and is empty for mids.
type PriceSample struct {
	ID         int64
	Source     string
	Symbol     string
	Side       string
	Price      float64
	ObservedAt time.Time
}
