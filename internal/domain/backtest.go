package domain

// BacktestRecord is a journaled simulation run.
type BacktestRecord struct {
	RunID      string // deterministic hash of the request
	AssetKey   string
	Chain      string
	Interval   string
	StartTime  int64 // Unix seconds
	EndTime    int64 // Unix seconds
	Strategy   string
	StopLoss   StopLossConfig
	FinalPnl   float64
	TargetsHit int
	ReEntries  int
	EventCount int
	EntryPrice float64
	LowestPct  float64 // EntryOptimization.LowestPricePercent
	CreatedAt  int64   // Unix seconds
}

// NewBacktestRecord flattens a result into a journal row.
func NewBacktestRecord(runID, assetKey, chain, interval string, start, end int64, strategy Strategy, stopLoss StopLossConfig, r *SimulationResult, createdAt int64) *BacktestRecord {
	return &BacktestRecord{
		RunID:      runID,
		AssetKey:   assetKey,
		Chain:      chain,
		Interval:   interval,
		StartTime:  start,
		EndTime:    end,
		Strategy:   strategy.String(),
		StopLoss:   stopLoss,
		FinalPnl:   r.FinalPnl,
		TargetsHit: r.TargetsHit,
		ReEntries:  r.ReEntries,
		EventCount: len(r.Events),
		EntryPrice: r.EntryPrice,
		LowestPct:  r.EntryOptimization.LowestPricePercent,
		CreatedAt:  createdAt,
	}
}
