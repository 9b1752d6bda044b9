package notify

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/indicator"
	"quantbot-core/internal/metrics"
)

// significantDigits kept for sub-cent prices.
const significantDigits = 4

// FormatPrice renders a token price: 2 decimals above 1, 4 above 0.01 and
// 4 significant digits below that.
func FormatPrice(p float64) string {
	d := decimal.NewFromFloat(p)
	abs := math.Abs(p)
	switch {
	case p == 0:
		return "0"
	case abs >= 1:
		return d.StringFixed(2)
	case abs >= 0.01:
		return d.StringFixed(4)
	}
	places := int32(-math.Floor(math.Log10(abs))) + significantDigits - 1
	return d.Round(places).String()
}

// FormatPercent renders a fractional return as a signed percentage.
func FormatPercent(f float64) string {
	return decimal.NewFromFloat(f*100).StringFixed(1) + "%"
}

func signedPercent(f float64) string {
	s := FormatPercent(f)
	if f >= 0 {
		return "+" + s
	}
	return s
}

// Label is the display name of an asset: its symbol, or a shortened address.
func Label(symbol, key string) string {
	if symbol != "" {
		return symbol
	}
	if len(key) > 10 {
		return key[:4] + ".." + key[len(key)-4:]
	}
	return key
}

// TargetHit renders a take-profit alert.
func TargetHit(label string, target, price, callPrice float64) Message {
	return Message{
		Level: LevelInfo,
		Title: fmt.Sprintf("%s hit %sx", label, decimal.NewFromFloat(target).String()),
		Body: fmt.Sprintf("Price %s (call %s, %s)",
			FormatPrice(price), FormatPrice(callPrice), signedPercent(price/callPrice-1)),
	}
}

// StopLoss renders a stop-loss alert.
func StopLoss(label string, price, stop, callPrice float64, trailing bool) Message {
	kind := "stop loss"
	if trailing {
		kind = "trailing stop"
	}
	return Message{
		Level: LevelWarning,
		Title: fmt.Sprintf("%s %s triggered", label, kind),
		Body: fmt.Sprintf("Price %s breached stop %s (call %s, %s)",
			FormatPrice(price), FormatPrice(stop), FormatPrice(callPrice), signedPercent(price/callPrice-1)),
	}
}

// CloudCross renders a price crossing one of the cloud spans.
func CloudCross(label, line string, direction indicator.Direction, price, level float64) Message {
	verb := "crossed above"
	if direction == indicator.Bearish {
		verb = "crossed below"
	}
	return Message{
		Level: LevelInfo,
		Title: fmt.Sprintf("%s %s %s", label, verb, lineName(line)),
		Body:  fmt.Sprintf("Price %s, %s at %s", FormatPrice(price), lineName(line), FormatPrice(level)),
	}
}

// Signal renders an indicator crossover signal.
func Signal(label string, s indicator.Signal) Message {
	return Message{
		Level: LevelInfo,
		Title: fmt.Sprintf("%s %s %s", label, s.Direction, strings.ReplaceAll(string(s.Type), "_", " ")),
		Body: fmt.Sprintf("%s\nPrice %s, strength %s",
			s.Description, FormatPrice(s.Price), FormatPercent(s.Strength)),
	}
}

func lineName(line string) string {
	switch line {
	case "span_a":
		return "leading span A"
	case "span_b":
		return "leading span B"
	case "conversion":
		return "conversion line"
	case "base":
		return "base line"
	case "lagging":
		return "lagging span"
	}
	return line
}

// maxSummaryRows bounds the per-asset lines of a summary.
const maxSummaryRows = 10

// Summary renders the periodic performance summary for one destination.
// Rows are listed best current multiple first.
func Summary(window time.Duration, rows []*domain.AssetPerformance, s *metrics.Summary) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Calls: %d (pending %d)\n", s.Count+s.Pending, s.Pending)
	if s.Count > 0 {
		fmt.Fprintf(&b, "Win rate: %s\n", FormatPercent(s.WinRate))
		fmt.Fprintf(&b, "Mean: %s, median: %s\n", signedPercent(s.OutcomeMean), signedPercent(s.OutcomeMedian))
		fmt.Fprintf(&b, "Best: %s, worst: %s\n", signedPercent(s.OutcomeMax), signedPercent(s.OutcomeMin))
		fmt.Fprintf(&b, "Mean peak: %s\n", signedPercent(s.PeakMean))
	}

	sorted := make([]*domain.AssetPerformance, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CurrentMultiple() > sorted[j].CurrentMultiple()
	})
	if len(sorted) > maxSummaryRows {
		sorted = sorted[:maxSummaryRows]
	}
	for _, r := range sorted {
		cur := r.CurrentMultiple()
		if cur == 0 {
			fmt.Fprintf(&b, "\n%s: no price yet", Label(r.Symbol, r.AssetKey))
			continue
		}
		fmt.Fprintf(&b, "\n%s: %sx now, %sx peak",
			Label(r.Symbol, r.AssetKey),
			decimal.NewFromFloat(cur).StringFixed(2),
			decimal.NewFromFloat(r.PeakMultiple()).StringFixed(2))
	}

	return Message{
		Level: LevelInfo,
		Title: fmt.Sprintf("Performance, last %s", formatWindow(window)),
		Body:  strings.TrimRight(b.String(), "\n"),
	}
}

func formatWindow(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int(d/time.Hour))
	}
	return d.String()
}
