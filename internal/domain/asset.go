package domain

// AssetCall is the persisted record of a tracking request.
type AssetCall struct {
	AssetID       string
	AssetKey      string
	Chain         string
	Symbol        string
	Destination   string // notifier destination (chat id, webhook name)
	CallPrice     float64
	CallTimestamp int64 // Unix seconds
	Strategy      Strategy
	StopLoss      StopLossConfig
}

// AssetPerformance is one row of the trailing performance window.
type AssetPerformance struct {
	AssetID       string
	AssetKey      string
	Chain         string
	Symbol        string
	Destination   string
	CallPrice     float64
	CallTimestamp int64
	LastPrice     float64 // 0 when no update was seen
	PeakPrice     float64 // 0 when no update was seen
	AlertsSent    int
}

// CurrentMultiple is LastPrice / CallPrice, or 0 when unknown.
func (p *AssetPerformance) CurrentMultiple() float64 {
	if p.CallPrice <= 0 || p.LastPrice <= 0 {
		return 0
	}
	return p.LastPrice / p.CallPrice
}

// PeakMultiple is PeakPrice / CallPrice, or 0 when unknown.
func (p *AssetPerformance) PeakMultiple() float64 {
	if p.CallPrice <= 0 || p.PeakPrice <= 0 {
		return 0
	}
	return p.PeakPrice / p.CallPrice
}
