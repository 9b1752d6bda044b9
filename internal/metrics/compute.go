package metrics

import (
	"math"
	"sort"

	"quantbot-core/internal/domain"
)

// Sample is one outcome fed into a Summary.
type Sample struct {
	Key       string  // asset key or run id, used for tie-breaking and best/worst
	Timestamp int64   // Unix seconds, chronological order for drawdown
	Outcome   float64 // return, 0.25 = +25%
	Peak      float64 // best return seen, 0 when unknown
}

// Summary is the statistics block of a performance report.
type Summary struct {
	Count   int
	Pending int // rows without a price yet; not included in Count
	Wins    int
	Losses  int
	WinRate float64

	OutcomeMean   float64
	OutcomeMedian float64
	OutcomeP10    float64
	OutcomeP90    float64
	OutcomeMin    float64
	OutcomeMax    float64
	OutcomeStddev float64
	PeakMean      float64

	MaxDrawdown          float64
	MaxConsecutiveLosses int

	Best  string
	Worst string
}

// Compute calculates a Summary from samples.
// Samples are sorted by Timestamp ASC, Key ASC before computing
// order-dependent metrics (MaxDrawdown, MaxConsecutiveLosses).
func Compute(samples []Sample) *Summary {
	n := len(samples)
	if n == 0 {
		return &Summary{}
	}

	sorted := make([]Sample, n)
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].Key < sorted[j].Key
	})

	wins := 0
	outcomes := make([]float64, n)
	peaks := make([]float64, n)
	best, worst := 0, 0
	for i, s := range sorted {
		outcomes[i] = s.Outcome
		peaks[i] = s.Peak
		if s.Outcome > 0 {
			wins++
		}
		if s.Outcome > sorted[best].Outcome {
			best = i
		}
		if s.Outcome < sorted[worst].Outcome {
			worst = i
		}
	}

	sortedOutcomes := make([]float64, n)
	copy(sortedOutcomes, outcomes)
	sort.Float64s(sortedOutcomes)

	mean := computeMean(outcomes)

	return &Summary{
		Count:   n,
		Wins:    wins,
		Losses:  n - wins,
		WinRate: computeWinRate(wins, n),

		OutcomeMean:   mean,
		OutcomeMedian: computePercentile(sortedOutcomes, 0.50),
		OutcomeP10:    computePercentile(sortedOutcomes, 0.10),
		OutcomeP90:    computePercentile(sortedOutcomes, 0.90),
		OutcomeMin:    sortedOutcomes[0],
		OutcomeMax:    sortedOutcomes[n-1],
		OutcomeStddev: computeStddev(outcomes, mean),
		PeakMean:      computeMean(peaks),

		MaxDrawdown:          computeMaxDrawdown(outcomes),
		MaxConsecutiveLosses: computeMaxConsecutiveLosses(outcomes),

		Best:  sorted[best].Key,
		Worst: sorted[worst].Key,
	}
}

// FromPerformance summarizes live tracking rows. Rows without a last price
// are counted as pending.
func FromPerformance(rows []*domain.AssetPerformance) *Summary {
	samples := make([]Sample, 0, len(rows))
	pending := 0
	for _, r := range rows {
		cur := r.CurrentMultiple()
		if cur == 0 {
			pending++
			continue
		}
		peak := r.PeakMultiple()
		if peak > 0 {
			peak--
		}
		key := r.Symbol
		if key == "" {
			key = r.AssetKey
		}
		samples = append(samples, Sample{
			Key:       key,
			Timestamp: r.CallTimestamp,
			Outcome:   cur - 1,
			Peak:      peak,
		})
	}
	s := Compute(samples)
	s.Pending = pending
	return s
}

// FromBacktests summarizes journaled backtest runs.
func FromBacktests(records []*domain.BacktestRecord) *Summary {
	samples := make([]Sample, len(records))
	for i, r := range records {
		samples[i] = Sample{
			Key:       r.AssetKey,
			Timestamp: r.StartTime,
			Outcome:   r.FinalPnl - 1,
		}
	}
	return Compute(samples)
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// computeMean calculates arithmetic mean of outcomes.
func computeMean(outcomes []float64) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range outcomes {
		sum += o
	}
	return sum / float64(len(outcomes))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(outcomes []float64, mean float64) float64 {
	n := len(outcomes)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, o := range outcomes {
		diff := o - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxDrawdown calculates worst peak-to-trough on cumulative outcomes.
// Outcomes must be in chronological order.
func computeMaxDrawdown(outcomes []float64) float64 {
	if len(outcomes) == 0 {
		return 0
	}

	cumulative := 0.0
	peak := 0.0
	maxDrawdown := 0.0

	for _, o := range outcomes {
		cumulative += o
		if cumulative > peak {
			peak = cumulative
		}
		drawdown := peak - cumulative
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// computeMaxConsecutiveLosses finds longest streak of outcome <= 0.
// Outcomes must be in chronological order.
func computeMaxConsecutiveLosses(outcomes []float64) int {
	maxStreak := 0
	currentStreak := 0

	for _, o := range outcomes {
		if o <= 0 {
			currentStreak++
			if currentStreak > maxStreak {
				maxStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxStreak
}
