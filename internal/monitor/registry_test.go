package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot-core/internal/domain"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	b := NewTrackedAsset(domain.AssetCall{AssetKey: "bbb", CallPrice: 2})
	a := NewTrackedAsset(domain.AssetCall{AssetKey: "aaa"})

	require.NoError(t, r.Add(b))
	require.NoError(t, r.Add(a))
	assert.ErrorIs(t, r.Add(NewTrackedAsset(domain.AssetCall{AssetKey: "aaa"})), ErrAlreadyTracked)
	assert.Equal(t, 2, r.Len())

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "aaa", all[0].Key)
	assert.Equal(t, "bbb", all[1].Key)
	assert.Same(t, b, r.Get("bbb"))

	removed, ok := r.Remove("bbb")
	assert.True(t, ok)
	assert.Same(t, b, removed)
	_, ok = r.Remove("bbb")
	assert.False(t, ok)
	assert.Nil(t, r.Get("bbb"))
}

func TestNewTrackedAsset(t *testing.T) {
	call := domain.AssetCall{
		AssetKey:  "key",
		CallPrice: 1.5,
		Strategy:  domain.Strategy{{Percent: 0.5, Target: 3}, {Percent: 0.5, Target: 2}},
	}
	a := NewTrackedAsset(call)
	other := NewTrackedAsset(call)

	assert.Len(t, a.ID, 26)
	assert.NotEqual(t, a.ID, other.ID)
	assert.Equal(t, 1.5, a.PeakPrice)
	assert.Equal(t, 2.0, a.Strategy[0].Target)

	assert.True(t, a.markSent("x"))
	assert.False(t, a.markSent("x"))
	assert.True(t, a.Sent("x"))
	assert.Equal(t, 1, a.AlertCount())

	persisted := a.Call()
	assert.Equal(t, a.ID, persisted.AssetID)
	assert.Equal(t, "key", persisted.AssetKey)
}
