package domain

// EventType tags a SimulationEvent.
type EventType string

// Simulation event types.
const (
	EventEntry                  EventType = "entry"
	EventTargetHit              EventType = "target_hit"
	EventStopLoss               EventType = "stop_loss"
	EventStopMoved              EventType = "stop_moved"
	EventReEntry                EventType = "re_entry"
	EventTrailingEntryTriggered EventType = "trailing_entry_triggered"
	EventFinalExit              EventType = "final_exit"
)

// IsTerminal reports whether the event closes the current leg.
func (t EventType) IsTerminal() bool {
	return t == EventStopLoss || t == EventFinalExit
}

// SimulationEvent is one step of a replayed strategy timeline.
type SimulationEvent struct {
	Type              EventType `json:"type"`
	Timestamp         int64     `json:"timestamp"`          // candle timestamp, Unix seconds
	Price             float64   `json:"price"`              // fill or trigger price
	Fraction          float64   `json:"fraction"`           // position fraction opened or closed by this event
	RemainingPosition float64   `json:"remaining_position"` // open fraction after this event
	PnL               float64   `json:"pnl"`                // running realized PnL multiple
	Description       string    `json:"description"`
}

// EntryOptimization describes the deepest drawdown seen after entry.
type EntryOptimization struct {
	LowestPrice              float64 `json:"lowest_price"`
	LowestPricePercent       float64 `json:"lowest_price_percent"`         // (lowest - entry) / entry
	LowestPriceTimeFromEntry int64   `json:"lowest_price_time_from_entry"` // seconds
	LowestPriceTimestamp     int64   `json:"lowest_price_timestamp"`
}

// SimulationResult is the deterministic output of one replay.
type SimulationResult struct {
	Events            []SimulationEvent `json:"events"`
	FinalPnl          float64           `json:"final_pnl"` // multiple of original capital, 1.0 = flat
	TotalCandles      int               `json:"total_candles"`
	EntryPrice        float64           `json:"entry_price"`
	EntryTimestamp    int64             `json:"entry_timestamp"`
	TargetsHit        int               `json:"targets_hit"`
	ReEntries         int               `json:"re_entries"`
	EntryOptimization EntryOptimization `json:"entry_optimization"`
}

// EventsOfType returns the events with the given type, in order.
func (r *SimulationResult) EventsOfType(t EventType) []SimulationEvent {
	var out []SimulationEvent
	for _, e := range r.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Outcome is FinalPnl expressed as a return (0.25 = +25%).
func (r *SimulationResult) Outcome() float64 {
	return r.FinalPnl - 1
}
