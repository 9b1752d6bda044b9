package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func testRecord(runID, assetKey string, createdAt int64) *domain.BacktestRecord {
	return &domain.BacktestRecord{
		RunID:      runID,
		AssetKey:   assetKey,
		Chain:      "solana",
		Interval:   "5m",
		StartTime:  1000,
		EndTime:    2000,
		Strategy:   "0.5@2,0.5@3",
		StopLoss:   domain.StopLossConfig{Initial: -0.3, Trailing: 0.1, TrailingActivation: 2},
		FinalPnl:   1.75,
		TargetsHit: 2,
		ReEntries:  1,
		EventCount: 5,
		EntryPrice: 0.01,
		LowestPct:  -0.12,
		CreatedAt:  createdAt,
	}
}

func TestJournal_RecordAndGet(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	rec := testRecord("run-1", "mint1", 10)
	require.NoError(t, j.Record(ctx, rec))

	got, err := j.GetByRunID(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	assert.ErrorIs(t, j.Record(ctx, rec), storage.ErrDuplicateKey)
	assert.ErrorIs(t, j.Record(ctx, &domain.BacktestRecord{}), storage.ErrInvalidInput)

	_, err = j.GetByRunID(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJournal_ListByAsset(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, testRecord("run-b", "mint1", 20)))
	require.NoError(t, j.Record(ctx, testRecord("run-a", "mint1", 10)))
	require.NoError(t, j.Record(ctx, testRecord("run-c", "mint2", 5)))

	runs, err := j.ListByAsset(ctx, "mint1")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-a", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)

	runs, err = j.ListByAsset(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestJournal_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, testRecord("run-1", "mint1", 1)))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	_, err = j.GetByRunID(ctx, "run-1")
	assert.NoError(t, err)
}
