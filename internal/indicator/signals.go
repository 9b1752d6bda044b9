package indicator

import "fmt"

// SignalType names a crossover.
type SignalType string

// Signal types.
const (
	SignalLineCross  SignalType = "line_cross"  // conversion crosses base
	SignalCloudBreak SignalType = "cloud_break" // price leaves the cloud
	SignalSpanCross  SignalType = "span_cross"  // span A crosses span B
)

// Direction of a signal.
type Direction string

// Directions.
const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
)

// Signal is a crossover detected between two consecutive snapshots.
type Signal struct {
	Type        SignalType
	Direction   Direction
	Strength    float64 // fraction of the four trend checks agreeing with Direction
	Price       float64
	Timestamp   int64
	Description string
}

// DetectSignals compares the current snapshot with the previous one and
// returns the crossovers that happened in between. price is the current price;
// the previous price is previous.Price.
func DetectSignals(current, previous *Snapshot, price float64, ts int64) []Signal {
	if current == nil || previous == nil {
		return nil
	}

	var out []Signal
	add := func(t SignalType, d Direction, desc string) {
		out = append(out, Signal{
			Type:        t,
			Direction:   d,
			Strength:    strength(current, price, d),
			Price:       price,
			Timestamp:   ts,
			Description: desc,
		})
	}

	switch {
	case previous.Conversion <= previous.Base && current.Conversion > current.Base:
		add(SignalLineCross, Bullish, fmt.Sprintf("conversion %.8g crossed above base %.8g", current.Conversion, current.Base))
	case previous.Conversion >= previous.Base && current.Conversion < current.Base:
		add(SignalLineCross, Bearish, fmt.Sprintf("conversion %.8g crossed below base %.8g", current.Conversion, current.Base))
	}

	switch {
	case previous.Price <= previous.CloudTop && price > current.CloudTop:
		add(SignalCloudBreak, Bullish, fmt.Sprintf("price %.8g broke above cloud top %.8g", price, current.CloudTop))
	case previous.Price >= previous.CloudBottom && price < current.CloudBottom:
		add(SignalCloudBreak, Bearish, fmt.Sprintf("price %.8g broke below cloud bottom %.8g", price, current.CloudBottom))
	}

	switch {
	case previous.SpanA <= previous.SpanB && current.SpanA > current.SpanB:
		add(SignalSpanCross, Bullish, "span A crossed above span B")
	case previous.SpanA >= previous.SpanB && current.SpanA < current.SpanB:
		add(SignalSpanCross, Bearish, "span A crossed below span B")
	}

	return out
}

// strength counts how many of the four trend checks agree with d.
func strength(s *Snapshot, price float64, d Direction) float64 {
	checks := []bool{
		price > s.CloudTop,
		s.Conversion > s.Base,
		s.SpanA > s.SpanB,
		s.Lagging > s.LaggingReference,
	}
	if d == Bearish {
		checks = []bool{
			price < s.CloudBottom,
			s.Conversion < s.Base,
			s.SpanA < s.SpanB,
			s.Lagging < s.LaggingReference,
		}
	}
	n := 0
	for _, ok := range checks {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(checks))
}
