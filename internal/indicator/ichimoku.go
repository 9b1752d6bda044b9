// Package indicator computes the five-line cloud indicator over candle windows
// and detects crossover signals between consecutive snapshots.
package indicator

import (
	"math"

	"quantbot-core/internal/domain"
)

// Window lengths in candles.
const (
	ConversionPeriod = 9
	BasePeriod       = 26
	SpanBPeriod      = 52
	Displacement     = 26
)

// MinCandles is the number of candles required for a snapshot.
const MinCandles = SpanBPeriod

// Snapshot is the indicator state at one candle.
// Leading spans are evaluated at the candle itself, without forward displacement.
type Snapshot struct {
	Conversion       float64 // midpoint of the last 9 candles
	Base             float64 // midpoint of the last 26 candles
	SpanA            float64 // (Conversion + Base) / 2
	SpanB            float64 // midpoint of the last 52 candles
	Lagging          float64 // close at the candle
	LaggingReference float64 // close 26 candles earlier
	CloudTop         float64
	CloudBottom      float64
	Price            float64 // close at the candle
	Timestamp        int64
}

// Calculate returns the snapshot for candles[index], or nil when fewer than
// MinCandles candles end at index.
func Calculate(candles []domain.Candle, index int) *Snapshot {
	if index < 0 || index >= len(candles) || index+1 < MinCandles {
		return nil
	}

	conversion := midpoint(candles, index, ConversionPeriod)
	base := midpoint(candles, index, BasePeriod)
	spanA := (conversion + base) / 2
	spanB := midpoint(candles, index, SpanBPeriod)

	c := candles[index]
	return &Snapshot{
		Conversion:       conversion,
		Base:             base,
		SpanA:            spanA,
		SpanB:            spanB,
		Lagging:          c.Close,
		LaggingReference: candles[index-Displacement].Close,
		CloudTop:         math.Max(spanA, spanB),
		CloudBottom:      math.Min(spanA, spanB),
		Price:            c.Close,
		Timestamp:        c.Timestamp,
	}
}

// CalculateLatest returns the snapshot at the last candle.
func CalculateLatest(candles []domain.Candle) *Snapshot {
	return Calculate(candles, len(candles)-1)
}

// midpoint is (highest high + lowest low) / 2 over the period ending at index.
func midpoint(candles []domain.Candle, index, period int) float64 {
	hi := math.Inf(-1)
	lo := math.Inf(1)
	for i := index - period + 1; i <= index; i++ {
		hi = math.Max(hi, candles[i].High)
		lo = math.Min(lo, candles[i].Low)
	}
	return (hi + lo) / 2
}

// CloudPosition describes where a price sits relative to the cloud.
type CloudPosition string

// Cloud positions.
const (
	AboveCloud  CloudPosition = "above"
	InsideCloud CloudPosition = "inside"
	BelowCloud  CloudPosition = "below"
)

// Position classifies price against the cloud.
func (s *Snapshot) Position(price float64) CloudPosition {
	switch {
	case price > s.CloudTop:
		return AboveCloud
	case price < s.CloudBottom:
		return BelowCloud
	default:
		return InsideCloud
	}
}

// Lines returns the five indicator lines keyed by name.
func (s *Snapshot) Lines() map[string]float64 {
	return map[string]float64{
		"conversion": s.Conversion,
		"base":       s.Base,
		"span_a":     s.SpanA,
		"span_b":     s.SpanB,
		"lagging":    s.LaggingReference,
	}
}

// NearestLineDistance returns the smallest |price - line| / price over the five
// lines. Returns +Inf for non-positive prices.
func (s *Snapshot) NearestLineDistance(price float64) float64 {
	if price <= 0 {
		return math.Inf(1)
	}
	nearest := math.Inf(1)
	for _, line := range []float64{s.Conversion, s.Base, s.SpanA, s.SpanB, s.LaggingReference} {
		d := math.Abs(price-line) / price
		if d < nearest {
			nearest = d
		}
	}
	return nearest
}
