package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleSource.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string][]domain.Candle // keyed by (asset_key, chain, interval), sorted by timestamp ASC
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string][]domain.Candle),
	}
}

// Compile-time interface check.
var _ storage.CandleSource = (*CandleStore)(nil)

// candleKey generates a unique key for a candle series.
func candleKey(assetKey, chain, interval string) string {
	return fmt.Sprintf("%s|%s|%s", assetKey, chain, interval)
}

// Put stores candles for a series, replacing candles with the same timestamp.
func (s *CandleStore) Put(assetKey, chain, interval string, candles []domain.Candle) error {
	if assetKey == "" || domain.IntervalSeconds(interval) == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := candleKey(assetKey, chain, interval)
	byTs := make(map[int64]domain.Candle, len(s.data[key])+len(candles))
	for _, c := range s.data[key] {
		byTs[c.Timestamp] = c
	}
	for _, c := range candles {
		byTs[c.Timestamp] = c
	}

	merged := make([]domain.Candle, 0, len(byTs))
	for _, c := range byTs {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	s.data[key] = merged
	return nil
}

// Fetch returns candles within [start, end] (inclusive), ordered by timestamp ASC.
func (s *CandleStore) Fetch(_ context.Context, assetKey, chain string, start, end int64, interval string) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Candle
	for _, c := range s.data[candleKey(assetKey, chain, interval)] {
		if c.Timestamp >= start && c.Timestamp <= end {
			result = append(result, c)
		}
	}
	return result, nil
}
