package domain

// Candle is one OHLCV bar for a fixed interval.
// Candles are ordered by Timestamp ASC and never modified once produced.
type Candle struct {
	Timestamp int64   // interval open time, Unix seconds
	Open      float64 // first price in interval
	High      float64 // highest price in interval
	Low       float64 // lowest price in interval
	Close     float64 // last price in interval
	Volume    float64 // traded volume in interval
}

// Contains reports whether price lies within the candle's [Low, High] range.
func (c Candle) Contains(price float64) bool {
	return price >= c.Low && price <= c.High
}

// Supported candle intervals (in seconds).
const (
	Interval1Min  = 60
	Interval5Min  = 300
	Interval15Min = 900
	Interval1Hour = 3600
)

// IntervalSeconds maps an interval label ("1m", "5m", "15m", "1h") to seconds.
// Returns 0 for unknown labels.
func IntervalSeconds(label string) int64 {
	switch label {
	case "1m":
		return Interval1Min
	case "5m":
		return Interval5Min
	case "15m":
		return Interval15Min
	case "1h", "1H":
		return Interval1Hour
	default:
		return 0
	}
}
