package simulation

import (
	"fmt"
	"math"

	"quantbot-core/internal/domain"
)

// positionEpsilon treats tiny float remainders as a closed position.
const positionEpsilon = 1e-9

// remainderTolerance is the leftover, relative to leg size, closed once every
// take-profit level has filled. It matches the ladder's percent-sum tolerance.
const remainderTolerance = 0.01

// Simulate replays candles against a take-profit ladder, stop-loss config and
// optional entry/re-entry configs. It is pure and deterministic.
//
// The strategy is not validated here; callers run Strategy.Validate first.
// Within one candle take-profit fills resolve before the stop check, so a
// candle that touches both is resolved in favor of profit. Fills always lie
// within the candle's range: a candle that gaps through a level fills at its
// open.
func Simulate(
	candles []domain.Candle,
	strategy domain.Strategy,
	stopLoss domain.StopLossConfig,
	entry *domain.EntryConfig,
	reEntry *domain.ReEntryConfig,
) *domain.SimulationResult {
	result := &domain.SimulationResult{
		FinalPnl:     1.0,
		TotalCandles: len(candles),
	}
	if len(candles) == 0 {
		return result
	}

	r := &replay{
		candles:  candles,
		ladder:   strategy.SortedByTarget(),
		stopLoss: stopLoss,
		reEntry:  reEntry,
		pnl:      1.0,
		result:   result,
	}
	r.run(entry)

	result.FinalPnl = r.pnl
	result.TargetsHit = r.targetsHit
	result.ReEntries = r.reEntries
	return result
}

// replay holds the mutable state of one simulation run.
type replay struct {
	candles  []domain.Candle
	ladder   domain.Strategy
	stopLoss domain.StopLossConfig
	reEntry  *domain.ReEntryConfig
	result   *domain.SimulationResult

	// current leg
	legEntry       float64
	legSize        float64
	position       float64
	filled         []bool
	peak           float64
	trailingActive bool

	// re-entry
	waitingReEntry bool
	postStopLow    float64
	reEntries      int

	// drawdown tracking against the first entry
	lowest   float64
	lowestTs int64

	pnl        float64
	targetsHit int
}

func (r *replay) run(entry *domain.EntryConfig) {
	entryIdx := r.enter(entry)
	last := r.candles[len(r.candles)-1]

	r.result.EntryPrice = r.legEntry
	r.result.EntryTimestamp = r.result.Events[len(r.result.Events)-1].Timestamp
	r.lowest = r.legEntry
	r.lowestTs = r.result.EntryTimestamp

	for i := entryIdx + 1; i < len(r.candles); i++ {
		c := r.candles[i]
		if c.Low < r.lowest {
			r.lowest = c.Low
			r.lowestTs = c.Timestamp
		}

		if r.waitingReEntry {
			r.checkReEntry(c)
			continue
		}

		r.fillTargets(c)
		if r.position <= positionEpsilon {
			break
		}

		if r.checkStop(c) {
			if !r.canReEnter() {
				break
			}
			r.waitingReEntry = true
			continue
		}

		r.updatePeak(c)
	}

	if r.position > positionEpsilon {
		r.exit(domain.EventFinalExit, last.Timestamp, last.Close, r.position, "candles exhausted, closed at final close")
	}

	r.result.EntryOptimization = domain.EntryOptimization{
		LowestPrice:              r.lowest,
		LowestPricePercent:       (r.lowest - r.result.EntryPrice) / r.result.EntryPrice,
		LowestPriceTimeFromEntry: r.lowestTs - r.result.EntryTimestamp,
		LowestPriceTimestamp:     r.lowestTs,
	}
}

// enter opens the first leg and returns the index of the entry candle.
func (r *replay) enter(cfg *domain.EntryConfig) int {
	if cfg.Immediate() {
		c := r.candles[0]
		r.openLeg(c.Open, 1.0, true)
		r.emit(domain.EventEntry, c.Timestamp, c.Open, 1.0, "immediate entry at first candle open")
		return 0
	}

	ref := r.candles[0].Open
	start := r.candles[0].Timestamp
	dipReached := cfg.InitialEntry == 0
	lowest := math.Inf(1)

	for i, c := range r.candles {
		if !dipReached {
			dip := ref * (1 + cfg.InitialEntry)
			if c.Low <= dip {
				dipReached = true
				if cfg.TrailingEntry == 0 {
					fill := math.Min(dip, c.Open)
					r.openLeg(fill, 1.0, true)
					r.emit(domain.EventEntry, c.Timestamp, fill, 1.0,
						fmt.Sprintf("entry on %.1f%% dip", cfg.InitialEntry*100))
					return i
				}
				lowest = c.Low
				continue
			}
		} else if cfg.TrailingEntry > 0 {
			if math.IsInf(lowest, 1) {
				lowest = c.Low
			} else {
				trigger := lowest * (1 + cfg.TrailingEntry)
				if c.High >= trigger {
					r.emit(domain.EventTrailingEntryTriggered, c.Timestamp, trigger, 0,
						fmt.Sprintf("rebound %.1f%% off low %.8g", cfg.TrailingEntry*100, lowest))
					fill := math.Max(trigger, c.Open)
					r.openLeg(fill, 1.0, true)
					r.emit(domain.EventEntry, c.Timestamp, fill, 1.0, "trailing entry")
					return i
				}
				if c.Low < lowest {
					lowest = c.Low
				}
			}
		}

		if cfg.MaxWaitSeconds > 0 && c.Timestamp-start >= cfg.MaxWaitSeconds {
			r.openLeg(c.Close, 1.0, true)
			r.emit(domain.EventEntry, c.Timestamp, c.Close, 1.0, "max wait elapsed, entered at close")
			return i
		}
	}

	last := len(r.candles) - 1
	c := r.candles[last]
	r.openLeg(c.Close, 1.0, true)
	r.emit(domain.EventEntry, c.Timestamp, c.Close, 1.0, "entry condition not met, entered at final close")
	return last
}

// openLeg starts a new position leg of size at price. A kept peak whose
// trailing stop would sit at or above price is reset to price.
func (r *replay) openLeg(price, size float64, resetPeak bool) {
	r.legEntry = price
	r.legSize = size
	r.position += size
	r.filled = make([]bool, len(r.ladder))
	if !resetPeak && r.currentStop() >= price {
		resetPeak = true
	}
	if resetPeak {
		r.peak = price
		r.trailingActive = r.stopLoss.TrailingEnabled() && r.stopLoss.TrailingActivation == 0
	}
}

// fillTargets realizes every unfilled take-profit level reached by the candle,
// in ascending target order.
func (r *replay) fillTargets(c domain.Candle) {
	hits := 0
	for j, step := range r.ladder {
		if r.filled[j] || !step.IsTakeProfit() {
			continue
		}
		level := step.Target * r.legEntry
		if c.High < level {
			continue
		}
		r.filled[j] = true
		r.targetsHit++
		hits++
		fraction := math.Min(step.Percent*r.legSize, r.position)
		r.exit(domain.EventTargetHit, c.Timestamp, math.Max(level, c.Open), fraction,
			fmt.Sprintf("%.0f%% at %.4gx", step.Percent*100, step.Target))
	}
	if hits == 0 || !r.allTargetsFilled() {
		return
	}

	lastFill := math.Max(r.ladder[len(r.ladder)-1].Target*r.legEntry, c.Open)
	switch {
	case r.position <= positionEpsilon:
		r.emit(domain.EventFinalExit, c.Timestamp, lastFill, 0, "all targets filled")
	case r.position <= r.legSize*remainderTolerance+positionEpsilon:
		r.exit(domain.EventFinalExit, c.Timestamp, lastFill, r.position, "all targets filled, closed rounding remainder")
	}
}

func (r *replay) allTargetsFilled() bool {
	for j, step := range r.ladder {
		if !step.IsTakeProfit() || !r.filled[j] {
			return false
		}
	}
	return true
}

// currentStop returns the stop price in force, or 0 when none.
func (r *replay) currentStop() float64 {
	stop := r.stopLoss.InitialStopPrice(r.legEntry)
	if r.trailingActive {
		trail := r.peak * (1 - r.stopLoss.Trailing)
		if trail > stop {
			stop = trail
		}
	}
	return stop
}

// checkStop closes the leg when the candle low breaches the stop in force
// before the candle. A candle opening below the stop fills at its open.
// Returns true if the leg was stopped out.
func (r *replay) checkStop(c domain.Candle) bool {
	stop := r.currentStop()
	if stop <= 0 || c.Low > stop {
		return false
	}
	reason := "initial stop"
	if r.trailingActive && stop > r.stopLoss.InitialStopPrice(r.legEntry) {
		reason = "trailing stop"
	}
	fill := math.Min(stop, c.Open)
	r.exit(domain.EventStopLoss, c.Timestamp, fill, r.position,
		fmt.Sprintf("%s at %+.1f%% from entry", reason, (fill/r.legEntry-1)*100))
	r.postStopLow = fill
	return true
}

// updatePeak ratchets the peak with the candle high and engages the trailing
// stop once the activation multiple is reached.
func (r *replay) updatePeak(c domain.Candle) {
	if c.High > r.peak {
		r.peak = c.High
	}
	if r.trailingActive || !r.stopLoss.TrailingEnabled() {
		return
	}
	if r.peak >= r.legEntry*r.stopLoss.TrailingActivation {
		r.trailingActive = true
		r.emit(domain.EventStopMoved, c.Timestamp, r.currentStop(), 0,
			fmt.Sprintf("trailing stop engaged at %.4gx, trailing %.1f%%", r.stopLoss.TrailingActivation, r.stopLoss.Trailing*100))
	}
}

func (r *replay) canReEnter() bool {
	return r.reEntry.Enabled() && r.reEntries < r.reEntry.MaxReEntries
}

// checkReEntry opens a new leg once price rebounds off the post-stop low.
func (r *replay) checkReEntry(c domain.Candle) {
	trigger := r.postStopLow * (1 + r.reEntry.TrailingReEntry)
	if c.High >= trigger {
		r.waitingReEntry = false
		r.reEntries++
		fill := math.Max(trigger, c.Open)
		r.openLeg(fill, r.reEntry.SizePercent, r.reEntry.ResetTrailingReference)
		r.emit(domain.EventReEntry, c.Timestamp, fill, r.reEntry.SizePercent,
			fmt.Sprintf("re-entry %d/%d after %.1f%% rebound", r.reEntries, r.reEntry.MaxReEntries, r.reEntry.TrailingReEntry*100))
		return
	}
	if c.Low < r.postStopLow {
		r.postStopLow = c.Low
	}
}

// exit realizes fraction of the original position at price.
func (r *replay) exit(t domain.EventType, ts int64, price, fraction float64, desc string) {
	r.position -= fraction
	if r.position < positionEpsilon {
		r.position = 0
	}
	r.pnl += fraction * (price/r.legEntry - 1)
	r.emit(t, ts, price, fraction, desc)
}

func (r *replay) emit(t domain.EventType, ts int64, price, fraction float64, desc string) {
	r.result.Events = append(r.result.Events, domain.SimulationEvent{
		Type:              t,
		Timestamp:         ts,
		Price:             price,
		Fraction:          fraction,
		RemainingPosition: r.position,
		PnL:               r.pnl,
		Description:       desc,
	})
}
