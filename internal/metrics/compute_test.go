package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot-core/internal/domain"
)

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil)
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Count)
	assert.Equal(t, 0.0, s.WinRate)
}

func TestCompute_Basic(t *testing.T) {
	samples := []Sample{
		{Key: "c", Timestamp: 3, Outcome: -0.2},
		{Key: "a", Timestamp: 1, Outcome: 0.5},
		{Key: "b", Timestamp: 2, Outcome: -0.1},
		{Key: "d", Timestamp: 4, Outcome: 1.0},
	}

	s := Compute(samples)

	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-9)
	assert.InDelta(t, 0.3, s.OutcomeMean, 1e-9)
	assert.InDelta(t, 0.2, s.OutcomeMedian, 1e-9)
	assert.InDelta(t, -0.2, s.OutcomeMin, 1e-9)
	assert.InDelta(t, 1.0, s.OutcomeMax, 1e-9)
	assert.Equal(t, "d", s.Best)
	assert.Equal(t, "c", s.Worst)

	// cumulative: 0.5, 0.4, 0.2, 1.2 → drawdown 0.3
	assert.InDelta(t, 0.3, s.MaxDrawdown, 1e-9)
	assert.Equal(t, 2, s.MaxConsecutiveLosses)
}

func TestCompute_Deterministic(t *testing.T) {
	a := []Sample{{Key: "x", Timestamp: 1, Outcome: 0.1}, {Key: "y", Timestamp: 1, Outcome: -0.3}}
	b := []Sample{{Key: "y", Timestamp: 1, Outcome: -0.3}, {Key: "x", Timestamp: 1, Outcome: 0.1}}

	assert.Equal(t, Compute(a), Compute(b))
}

func TestComputePercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty", nil, 0.5, 0},
		{"single", []float64{3}, 0.9, 3},
		{"median odd", []float64{1, 2, 3}, 0.5, 2},
		{"median even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10 interpolated", []float64{0, 10}, 0.1, 1},
		{"p100", []float64{1, 2}, 1.0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, computePercentile(tt.sorted, tt.p), 1e-9)
		})
	}
}

func TestComputeStddev(t *testing.T) {
	outcomes := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	mean := computeMean(outcomes)
	assert.InDelta(t, 5.0, mean, 1e-9)
	assert.InDelta(t, math.Sqrt(32.0/7.0), computeStddev(outcomes, mean), 1e-9)
	assert.Equal(t, 0.0, computeStddev([]float64{1}, 1))
}

func TestFromPerformance(t *testing.T) {
	rows := []*domain.AssetPerformance{
		{AssetKey: "mintA", Symbol: "AAA", CallPrice: 1, CallTimestamp: 100, LastPrice: 2, PeakPrice: 3},
		{AssetKey: "mintB", Symbol: "BBB", CallPrice: 2, CallTimestamp: 200, LastPrice: 1, PeakPrice: 2},
		{AssetKey: "mintC", CallPrice: 1, CallTimestamp: 300},
	}

	s := FromPerformance(rows)

	assert.Equal(t, 2, s.Count)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Wins)
	assert.InDelta(t, 0.25, s.OutcomeMean, 1e-9) // (1.0 + -0.5) / 2
	assert.InDelta(t, 1.0, s.PeakMean, 1e-9)     // (2.0 + 0.0) / 2
	assert.Equal(t, "AAA", s.Best)
	assert.Equal(t, "BBB", s.Worst)
}

func TestFromBacktests(t *testing.T) {
	records := []*domain.BacktestRecord{
		{AssetKey: "a", StartTime: 1, FinalPnl: 1.25},
		{AssetKey: "b", StartTime: 2, FinalPnl: 0.7},
	}

	s := FromBacktests(records)

	assert.Equal(t, 2, s.Count)
	assert.InDelta(t, -0.025, s.OutcomeMean, 1e-9)
	assert.InDelta(t, 0.3, s.MaxDrawdown, 1e-9)
}
