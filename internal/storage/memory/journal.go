package memory

import (
	"context"
	"sort"
	"sync"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

// ResultJournal is an in-memory implementation of storage.ResultJournal.
type ResultJournal struct {
	mu   sync.RWMutex
	data map[string]*domain.BacktestRecord // keyed by run_id
}

// NewResultJournal creates a new in-memory journal.
func NewResultJournal() *ResultJournal {
	return &ResultJournal{
		data: make(map[string]*domain.BacktestRecord),
	}
}

// Compile-time interface check.
var _ storage.ResultJournal = (*ResultJournal)(nil)

// Record adds a run. Returns ErrDuplicateKey if run_id exists.
func (j *ResultJournal) Record(_ context.Context, r *domain.BacktestRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	j.data[r.RunID] = &copy
	return nil
}

// GetByRunID retrieves a run. Returns ErrNotFound if not exists.
func (j *ResultJournal) GetByRunID(_ context.Context, runID string) (*domain.BacktestRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	r, ok := j.data[runID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *r
	return &copy, nil
}

// ListByAsset retrieves all runs for an asset, ordered by created_at ASC.
func (j *ResultJournal) ListByAsset(_ context.Context, assetKey string) ([]*domain.BacktestRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*domain.BacktestRecord
	for _, r := range j.data {
		if r.AssetKey == assetKey {
			copy := *r
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(a, b int) bool {
		if result[a].CreatedAt != result[b].CreatedAt {
			return result[a].CreatedAt < result[b].CreatedAt
		}
		return result[a].RunID < result[b].RunID
	})
	return result, nil
}
