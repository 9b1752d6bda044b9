package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Strategy validation errors.
var (
	ErrEmptyStrategy      = errors.New("strategy has no take-profit steps")
	ErrInvalidStep        = errors.New("invalid take-profit step")
	ErrPercentSum         = errors.New("take-profit percentages must sum to 1.0")
	ErrInvalidStopLoss    = errors.New("invalid stop-loss config")
	ErrInvalidEntryConfig = errors.New("invalid entry config")
	ErrInvalidReEntry     = errors.New("invalid re-entry config")
)

// percentSumTolerance is the allowed deviation of sum(Percent) from 1.0.
const percentSumTolerance = 0.01

// TakeProfitStep realizes Percent of the original position when price reaches
// Target × entry price.
type TakeProfitStep struct {
	Percent float64 `json:"percent" yaml:"percent"` // fraction of original position, (0, 1]
	Target  float64 `json:"target" yaml:"target"`   // price multiple of entry, > 0
}

// IsTakeProfit reports whether the step can fill. Steps with Target <= 1 are
// hold markers: they carry position weight but never realize a profit.
func (s TakeProfitStep) IsTakeProfit() bool {
	return s.Target > 1
}

// Strategy is an ordered take-profit ladder.
type Strategy []TakeProfitStep

// Validate checks step ranges and that percentages sum to 1.0 (±0.01).
// The simulator does not validate; callers must.
func (s Strategy) Validate() error {
	if len(s) == 0 {
		return ErrEmptyStrategy
	}
	sum := 0.0
	for i, step := range s {
		if step.Percent <= 0 || step.Percent > 1 {
			return fmt.Errorf("%w: step %d percent %.4f out of (0,1]", ErrInvalidStep, i, step.Percent)
		}
		if step.Target <= 0 {
			return fmt.Errorf("%w: step %d target %.4f must be positive", ErrInvalidStep, i, step.Target)
		}
		sum += step.Percent
	}
	if math.Abs(sum-1.0) > percentSumTolerance {
		return fmt.Errorf("%w: got %.4f", ErrPercentSum, sum)
	}
	return nil
}

// SortedByTarget returns a copy of the ladder ordered by Target ASC.
// Ties keep their original order.
func (s Strategy) SortedByTarget() Strategy {
	out := make(Strategy, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Target < out[j].Target
	})
	return out
}

// IsMonitorOnly reports whether no step can ever fill.
func (s Strategy) IsMonitorOnly() bool {
	for _, step := range s {
		if step.IsTakeProfit() {
			return false
		}
	}
	return true
}

// String renders the ladder in the same "percent@target" form ParseStrategy accepts.
func (s Strategy) String() string {
	parts := make([]string, len(s))
	for i, step := range s {
		parts[i] = strconv.FormatFloat(step.Percent, 'f', -1, 64) + "@" + strconv.FormatFloat(step.Target, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// ParseStrategy parses "0.5@2,0.3@3,0.2@5" or a preset name.
// The result is not validated.
func ParseStrategy(spec string) (Strategy, error) {
	spec = strings.TrimSpace(spec)
	if preset, ok := StrategyPresets[strings.ToLower(spec)]; ok {
		out := make(Strategy, len(preset))
		copy(out, preset)
		return out, nil
	}
	if spec == "" {
		return nil, ErrEmptyStrategy
	}

	var out Strategy
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := strings.SplitN(part, "@", 2)
		if len(pieces) != 2 {
			return nil, fmt.Errorf("%w: %q (want percent@target)", ErrInvalidStep, part)
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(pieces[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: percent %q: %v", ErrInvalidStep, pieces[0], err)
		}
		target, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(pieces[1]), "x"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: target %q: %v", ErrInvalidStep, pieces[1], err)
		}
		out = append(out, TakeProfitStep{Percent: pct, Target: target})
	}
	if len(out) == 0 {
		return nil, ErrEmptyStrategy
	}
	return out, nil
}

// StrategyPresets are named ladders accepted by ParseStrategy.
var StrategyPresets = map[string]Strategy{
	"monitor":      {{Percent: 1, Target: 1}},
	"conservative": {{Percent: 0.5, Target: 1.5}, {Percent: 0.3, Target: 2}, {Percent: 0.2, Target: 3}},
	"balanced":     {{Percent: 0.3, Target: 2}, {Percent: 0.3, Target: 3}, {Percent: 0.4, Target: 5}},
	"moonbag":      {{Percent: 0.5, Target: 2}, {Percent: 0.25, Target: 5}, {Percent: 0.25, Target: 10}},
}

// StopLossConfig controls the initial and trailing stop.
type StopLossConfig struct {
	// Initial is a negative fraction of entry (-0.3 = stop 30% below entry). 0 disables it.
	Initial float64 `json:"initial" yaml:"initial"`
	// Trailing is a positive fraction below the running peak. 0 disables it.
	Trailing float64 `json:"trailing" yaml:"trailing"`
	// TrailingActivation is the price multiple of entry at which the trailing
	// stop engages. 0 engages it immediately.
	TrailingActivation float64 `json:"trailing_activation" yaml:"trailing_activation"`
}

// StopLossDisabled is a config with no initial and no trailing stop.
var StopLossDisabled = StopLossConfig{}

// Disabled reports whether no stop can ever trigger.
func (c StopLossConfig) Disabled() bool {
	return c.Initial == 0 && c.Trailing == 0
}

// TrailingEnabled reports whether a trailing stop is configured.
func (c StopLossConfig) TrailingEnabled() bool {
	return c.Trailing > 0
}

// Validate checks field ranges.
func (c StopLossConfig) Validate() error {
	if c.Initial > 0 || c.Initial <= -1 {
		return fmt.Errorf("%w: initial %.4f must be in (-1, 0]", ErrInvalidStopLoss, c.Initial)
	}
	if c.Trailing < 0 || c.Trailing >= 1 {
		return fmt.Errorf("%w: trailing %.4f must be in [0, 1)", ErrInvalidStopLoss, c.Trailing)
	}
	if c.TrailingActivation < 0 {
		return fmt.Errorf("%w: trailing activation %.4f must be >= 0", ErrInvalidStopLoss, c.TrailingActivation)
	}
	return nil
}

// InitialStopPrice returns the initial stop for an entry price, or 0 when disabled.
func (c StopLossConfig) InitialStopPrice(entryPrice float64) float64 {
	if c.Initial == 0 {
		return 0
	}
	return entryPrice * (1 + c.Initial)
}

// EntryConfig controls delayed entry. A nil or zero config enters immediately.
type EntryConfig struct {
	// InitialEntry waits for a dip to reference × (1 + InitialEntry). Negative; 0 disables.
	InitialEntry float64 `json:"initial_entry" yaml:"initial_entry"`
	// TrailingEntry enters once price rebounds this fraction above the lowest low. 0 disables.
	TrailingEntry float64 `json:"trailing_entry" yaml:"trailing_entry"`
	// MaxWaitSeconds bounds the wait; after it the position is entered at that candle's close.
	// 0 waits until the data ends.
	MaxWaitSeconds int64 `json:"max_wait_seconds" yaml:"max_wait_seconds"`
}

// Immediate reports whether the config requests no delay.
func (c *EntryConfig) Immediate() bool {
	return c == nil || (c.InitialEntry == 0 && c.TrailingEntry == 0)
}

// Validate checks field ranges.
func (c *EntryConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.InitialEntry > 0 || c.InitialEntry <= -1 {
		return fmt.Errorf("%w: initial entry %.4f must be in (-1, 0]", ErrInvalidEntryConfig, c.InitialEntry)
	}
	if c.TrailingEntry < 0 {
		return fmt.Errorf("%w: trailing entry %.4f must be >= 0", ErrInvalidEntryConfig, c.TrailingEntry)
	}
	if c.MaxWaitSeconds < 0 {
		return fmt.Errorf("%w: max wait %d must be >= 0", ErrInvalidEntryConfig, c.MaxWaitSeconds)
	}
	return nil
}

// ReEntryConfig controls re-entry after a stop-out.
type ReEntryConfig struct {
	// TrailingReEntry re-enters once price rebounds this fraction above the post-stop low.
	TrailingReEntry float64 `json:"trailing_re_entry" yaml:"trailing_re_entry"`
	// MaxReEntries caps re-entries per run. 0 disables re-entry.
	MaxReEntries int `json:"max_re_entries" yaml:"max_re_entries"`
	// SizePercent is the re-entry size as a fraction of the original position.
	SizePercent float64 `json:"size_percent" yaml:"size_percent"`
	// ResetTrailingReference restarts the trailing peak at the re-entry price.
	// When false the peak carries over from the previous leg.
	ResetTrailingReference bool `json:"reset_trailing_reference" yaml:"reset_trailing_reference"`
}

// Enabled reports whether re-entry can ever happen.
func (c *ReEntryConfig) Enabled() bool {
	return c != nil && c.TrailingReEntry > 0 && c.MaxReEntries > 0 && c.SizePercent > 0
}

// Validate checks field ranges.
func (c *ReEntryConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.TrailingReEntry < 0 {
		return fmt.Errorf("%w: trailing re-entry %.4f must be >= 0", ErrInvalidReEntry, c.TrailingReEntry)
	}
	if c.MaxReEntries < 0 {
		return fmt.Errorf("%w: max re-entries %d must be >= 0", ErrInvalidReEntry, c.MaxReEntries)
	}
	if c.SizePercent < 0 || c.SizePercent > 1 {
		return fmt.Errorf("%w: size %.4f must be in [0, 1]", ErrInvalidReEntry, c.SizePercent)
	}
	return nil
}
