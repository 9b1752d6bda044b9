// Package monitor tracks assets against the live price feed, evaluates
// take-profit, stop-loss and indicator rules on each tick and emits
// deduplicated alerts.
package monitor

import (
	"errors"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/indicator"
)

var (
	ErrAlreadyTracked = errors.New("asset already tracked")
	ErrNotTracked     = errors.New("asset not tracked")
)

// TrackedAsset is the live state of one tracked asset. It is owned by the
// monitor event loop and never shared across goroutines.
type TrackedAsset struct {
	ID            string // ULID
	Key           string
	Chain         string
	Symbol        string
	Destination   string
	CallPrice     float64
	CallTimestamp int64
	Strategy      domain.Strategy // sorted by target
	StopLoss      domain.StopLossConfig

	LastPrice     float64
	LastTimestamp int64
	PeakPrice     float64

	Candles         []domain.Candle
	Snapshot        *indicator.Snapshot
	PrevSnapshot    *indicator.Snapshot
	LastRefresh     time.Time
	LastResubscribe time.Time

	alertsSent map[string]struct{}
	signalled  map[string]struct{} // signal type:direction seen for the current snapshot pair
	refreshing bool
}

// NewTrackedAsset creates a tracked asset from a call with a fresh ULID.
func NewTrackedAsset(call domain.AssetCall) *TrackedAsset {
	return &TrackedAsset{
		ID:            ulid.Make().String(),
		Key:           call.AssetKey,
		Chain:         call.Chain,
		Symbol:        call.Symbol,
		Destination:   call.Destination,
		CallPrice:     call.CallPrice,
		CallTimestamp: call.CallTimestamp,
		Strategy:      call.Strategy.SortedByTarget(),
		StopLoss:      call.StopLoss,
		PeakPrice:     call.CallPrice,
		alertsSent:    make(map[string]struct{}),
	}
}

// Call returns the persisted form of the asset.
func (a *TrackedAsset) Call() domain.AssetCall {
	return domain.AssetCall{
		AssetID:       a.ID,
		AssetKey:      a.Key,
		Chain:         a.Chain,
		Symbol:        a.Symbol,
		Destination:   a.Destination,
		CallPrice:     a.CallPrice,
		CallTimestamp: a.CallTimestamp,
		Strategy:      a.Strategy,
		StopLoss:      a.StopLoss,
	}
}

// Sent reports whether key was already alerted.
func (a *TrackedAsset) Sent(key string) bool {
	_, ok := a.alertsSent[key]
	return ok
}

// markSent records key and reports whether it was new.
func (a *TrackedAsset) markSent(key string) bool {
	if _, ok := a.alertsSent[key]; ok {
		return false
	}
	a.alertsSent[key] = struct{}{}
	return true
}

// markSignalled records a signal for the current snapshot pair and reports
// whether it was new.
func (a *TrackedAsset) markSignalled(key string) bool {
	if _, ok := a.signalled[key]; ok {
		return false
	}
	if a.signalled == nil {
		a.signalled = make(map[string]struct{})
	}
	a.signalled[key] = struct{}{}
	return true
}

// AlertCount is the number of distinct alert keys fired.
func (a *TrackedAsset) AlertCount() int {
	return len(a.alertsSent)
}

// Refreshing reports whether a candle refresh is in flight.
func (a *TrackedAsset) Refreshing() bool {
	return a.refreshing
}

// Registry holds tracked assets keyed by asset key. Not safe for concurrent use.
type Registry struct {
	assets map[string]*TrackedAsset
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{assets: make(map[string]*TrackedAsset)}
}

// Add tracks a. Returns ErrAlreadyTracked when the key is present.
func (r *Registry) Add(a *TrackedAsset) error {
	if _, ok := r.assets[a.Key]; ok {
		return ErrAlreadyTracked
	}
	r.assets[a.Key] = a
	return nil
}

// Remove stops tracking key and returns the removed asset.
func (r *Registry) Remove(key string) (*TrackedAsset, bool) {
	a, ok := r.assets[key]
	if ok {
		delete(r.assets, key)
	}
	return a, ok
}

// Get returns the asset for key, or nil.
func (r *Registry) Get(key string) *TrackedAsset {
	return r.assets[key]
}

// All returns the tracked assets ordered by key.
func (r *Registry) All() []*TrackedAsset {
	out := make([]*TrackedAsset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of tracked assets.
func (r *Registry) Len() int {
	return len(r.assets)
}
