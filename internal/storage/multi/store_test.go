package multi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
	"quantbot-core/internal/storage/memory"
)

type failingSink struct {
	err   error
	calls int
}

func (f *failingSink) SavePriceUpdate(context.Context, *domain.PriceUpdate) error {
	f.calls++
	return f.err
}

func TestStore_FansOutPriceUpdates(t *testing.T) {
	primary := memory.NewStore()
	mirror := memory.NewStore()
	s := New(primary, mirror, nil)

	u := &domain.PriceUpdate{AssetKey: "mint1", Chain: "solana", Price: 1, Timestamp: 10}
	require.NoError(t, s.SavePriceUpdate(context.Background(), u))

	assert.Len(t, primary.PriceUpdates("mint1"), 1)
	assert.Len(t, mirror.PriceUpdates("mint1"), 1)
}

func TestStore_JoinsSinkErrors(t *testing.T) {
	primary := memory.NewStore()
	errA := errors.New("clickhouse down")
	errB := errors.New("redis down")
	a := &failingSink{err: errA}
	b := &failingSink{err: errB}
	s := New(primary, a, b)

	err := s.SavePriceUpdate(context.Background(), &domain.PriceUpdate{AssetKey: "mint1", Price: 1, Timestamp: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Len(t, primary.PriceUpdates("mint1"), 1)
}

func TestStore_DelegatesToPrimary(t *testing.T) {
	primary := memory.NewStore()
	s := New(primary)
	ctx := context.Background()

	call := &domain.AssetCall{AssetID: "a", AssetKey: "mint1", CallPrice: 1, CallTimestamp: time.Now().Unix()}
	require.NoError(t, s.SaveAssetCall(ctx, call))
	assert.ErrorIs(t, s.SaveAssetCall(ctx, call), storage.ErrDuplicateKey)

	require.NoError(t, s.SaveAlertSent(ctx, &domain.AlertRecord{AssetID: "a", Key: "target:2"}))
	assert.Len(t, primary.Alerts(), 1)

	rows, err := s.GetRecentPerformance(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AlertsSent)
}
