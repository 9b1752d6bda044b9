package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

func createTestCall(assetID, assetKey, destination string, ts int64) *domain.AssetCall {
	return &domain.AssetCall{
		AssetID:       assetID,
		AssetKey:      assetKey,
		Chain:         "solana",
		Symbol:        "TEST",
		Destination:   destination,
		CallPrice:     1.0,
		CallTimestamp: ts,
		Strategy:      domain.Strategy{{Percent: 0.5, Target: 2}, {Percent: 0.5, Target: 3}},
		StopLoss:      domain.StopLossConfig{Initial: -0.3, Trailing: 0.2, TrailingActivation: 1.5},
	}
}

func TestStore_SaveAndGetAssetCall(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	call := createTestCall("asset-1", "mint1", "chat-1", 1000)
	require.NoError(t, store.SaveAssetCall(ctx, call))

	got, err := store.GetAssetCall(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, call, got)

	err = store.SaveAssetCall(ctx, call)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetAssetCall(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_SaveAlertSentDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)

	alert := &domain.AlertRecord{
		AlertID:   uuid.NewString(),
		AssetID:   "asset-1",
		AssetKey:  "mint1",
		Kind:      domain.AlertTargetHit,
		Key:       "target:2",
		Price:     2.1,
		Timestamp: 1500,
		Message:   "TEST hit 2x",
	}
	require.NoError(t, store.SaveAlertSent(ctx, alert))

	again := *alert
	again.AlertID = uuid.NewString()
	assert.ErrorIs(t, store.SaveAlertSent(ctx, &again), storage.ErrDuplicateKey)

	assert.ErrorIs(t, store.SaveAlertSent(ctx, &domain.AlertRecord{}), storage.ErrInvalidInput)
}

func TestStore_GetRecentPerformance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewStore(pool)
	now := time.Unix(100_000, 0)
	store.now = func() time.Time { return now }

	old := now.Add(-48 * time.Hour).Unix()
	recent := now.Add(-time.Hour).Unix()
	newest := now.Add(-time.Minute).Unix()

	require.NoError(t, store.SaveAssetCall(ctx, createTestCall("old", "mint0", "chat-1", old)))
	require.NoError(t, store.SaveAssetCall(ctx, createTestCall("b", "mint2", "chat-2", newest)))
	require.NoError(t, store.SaveAssetCall(ctx, createTestCall("a", "mint1", "chat-1", recent)))

	for _, u := range []*domain.PriceUpdate{
		{AssetKey: "mint1", Chain: "solana", Price: 0.5, Timestamp: recent - 10}, // before the call
		{AssetKey: "mint1", Chain: "solana", Price: 2.5, Timestamp: recent + 10},
		{AssetKey: "mint1", Chain: "solana", Price: 1.8, Timestamp: recent + 20},
	} {
		require.NoError(t, store.SavePriceUpdate(ctx, u))
	}
	// Duplicate timestamps are ignored.
	require.NoError(t, store.SavePriceUpdate(ctx, &domain.PriceUpdate{AssetKey: "mint1", Chain: "solana", Price: 9, Timestamp: recent + 20}))

	require.NoError(t, store.SaveAlertSent(ctx, &domain.AlertRecord{
		AlertID: uuid.NewString(), AssetID: "a", AssetKey: "mint1",
		Kind: domain.AlertTargetHit, Key: "target:2", Price: 2.5, Timestamp: recent + 10,
	}))

	rows, err := store.GetRecentPerformance(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "a", rows[0].AssetID)
	assert.Equal(t, "chat-1", rows[0].Destination)
	assert.Equal(t, 1.8, rows[0].LastPrice)
	assert.Equal(t, 2.5, rows[0].PeakPrice)
	assert.Equal(t, 1, rows[0].AlertsSent)
	assert.InDelta(t, 1.8, rows[0].CurrentMultiple(), 1e-9)

	assert.Equal(t, "b", rows[1].AssetID)
	assert.Zero(t, rows[1].LastPrice)
	assert.Zero(t, rows[1].PeakPrice)
	assert.Zero(t, rows[1].AlertsSent)
}
