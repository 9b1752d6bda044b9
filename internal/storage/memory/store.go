package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu      sync.RWMutex
	calls   map[string]*domain.AssetCall   // keyed by asset_id
	alerts  map[string]*domain.AlertRecord // keyed by (asset_id, key)
	updates map[string][]domain.PriceUpdate
	now     func() time.Time
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		calls:   make(map[string]*domain.AssetCall),
		alerts:  make(map[string]*domain.AlertRecord),
		updates: make(map[string][]domain.PriceUpdate),
		now:     time.Now,
	}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// SetClock overrides the clock used by GetRecentPerformance.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SaveAssetCall records a tracking request. Returns ErrDuplicateKey if asset_id exists.
func (s *Store) SaveAssetCall(_ context.Context, c *domain.AssetCall) error {
	if c == nil || c.AssetID == "" || c.AssetKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.calls[c.AssetID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *c
	copy.Strategy = append(domain.Strategy(nil), c.Strategy...)
	s.calls[c.AssetID] = &copy
	return nil
}

// SavePriceUpdate records one update. Duplicate (asset_key, timestamp) pairs are ignored.
func (s *Store) SavePriceUpdate(_ context.Context, u *domain.PriceUpdate) error {
	if u == nil || u.AssetKey == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.updates[u.AssetKey] {
		if existing.Timestamp == u.Timestamp {
			return nil
		}
	}
	s.updates[u.AssetKey] = append(s.updates[u.AssetKey], *u)
	return nil
}

// SaveAlertSent records a delivered alert. Returns ErrDuplicateKey if (asset_id, key) exists.
func (s *Store) SaveAlertSent(_ context.Context, a *domain.AlertRecord) error {
	if a == nil || a.AssetID == "" || a.Key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s|%s", a.AssetID, a.Key)
	if _, exists := s.alerts[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *a
	s.alerts[key] = &copy
	return nil
}

// GetRecentPerformance returns one row per asset called within the trailing window,
// ordered by call timestamp ASC.
func (s *Store) GetRecentPerformance(_ context.Context, window time.Duration) ([]*domain.AssetPerformance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := s.now().Add(-window).Unix()

	alertCounts := make(map[string]int)
	for _, a := range s.alerts {
		alertCounts[a.AssetID]++
	}

	var result []*domain.AssetPerformance
	for _, c := range s.calls {
		if c.CallTimestamp < since {
			continue
		}
		row := &domain.AssetPerformance{
			AssetID:       c.AssetID,
			AssetKey:      c.AssetKey,
			Chain:         c.Chain,
			Symbol:        c.Symbol,
			Destination:   c.Destination,
			CallPrice:     c.CallPrice,
			CallTimestamp: c.CallTimestamp,
			AlertsSent:    alertCounts[c.AssetID],
		}
		lastTs := int64(-1)
		for _, u := range s.updates[c.AssetKey] {
			if u.Timestamp < c.CallTimestamp {
				continue
			}
			if u.Timestamp > lastTs {
				lastTs = u.Timestamp
				row.LastPrice = u.Price
			}
			if u.Price > row.PeakPrice {
				row.PeakPrice = u.Price
			}
		}
		result = append(result, row)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CallTimestamp != result[j].CallTimestamp {
			return result[i].CallTimestamp < result[j].CallTimestamp
		}
		return result[i].AssetID < result[j].AssetID
	})
	return result, nil
}

// Alerts returns all recorded alerts ordered by timestamp ASC.
func (s *Store) Alerts() []*domain.AlertRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.AlertRecord, 0, len(s.alerts))
	for _, a := range s.alerts {
		copy := *a
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].Key < result[j].Key
	})
	return result
}

// PriceUpdates returns recorded updates for an asset in insertion order.
func (s *Store) PriceUpdates(assetKey string) []domain.PriceUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.PriceUpdate(nil), s.updates[assetKey]...)
}
