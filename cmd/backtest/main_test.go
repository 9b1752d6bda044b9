package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot-core/internal/config"
	"quantbot-core/internal/domain"
)

const bonkKey = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func TestParseTime(t *testing.T) {
	ts, err := parseTime("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)

	ts, err = parseTime("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts)

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}

func TestBuildRequests_ConfigDefaults(t *testing.T) {
	cfg := config.Default()
	now := time.Unix(1700000000, 0)

	reqs, err := buildRequests(cfg, &runOptions{
		assets:   []string{bonkKey},
		chain:    "Solana",
		lookback: 6 * time.Hour,
	}, now)
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	req := reqs[0]
	assert.Equal(t, "solana", req.Chain)
	assert.Equal(t, int64(1700000000), req.End)
	assert.Equal(t, int64(1700000000-6*3600), req.Start)
	assert.Equal(t, "5m", req.Interval)
	assert.Equal(t, domain.StrategyPresets["balanced"], req.Strategy)
	assert.Equal(t, -0.3, req.StopLoss.Initial)
	assert.Nil(t, req.Entry)
	assert.Nil(t, req.ReEntry)
	assert.NoError(t, req.Validate())
}

func TestBuildRequests_FlagOverrides(t *testing.T) {
	cfg := config.Default()
	reqs, err := buildRequests(cfg, &runOptions{
		assets:        []string{bonkKey},
		chain:         "solana",
		interval:      "1h",
		start:         "1699990000",
		end:           "1700000000",
		strategy:      "0.5@2,0.5@4",
		stopLoss:      -0.2,
		trailing:      0.25,
		activation:    1.5,
		initialEntry:  -0.1,
		maxWait:       time.Hour,
		reEntry:       0.1,
		maxReEntries:  2,
		reEntrySize:   0.5,
		resetTrailing: true,
	}, time.Now())
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	req := reqs[0]
	assert.Equal(t, int64(1699990000), req.Start)
	assert.Equal(t, "1h", req.Interval)
	assert.Equal(t, domain.Strategy{{Percent: 0.5, Target: 2}, {Percent: 0.5, Target: 4}}, req.Strategy)
	assert.Equal(t, domain.StopLossConfig{Initial: -0.2, Trailing: 0.25, TrailingActivation: 1.5}, req.StopLoss)
	require.NotNil(t, req.Entry)
	assert.Equal(t, int64(3600), req.Entry.MaxWaitSeconds)
	require.NotNil(t, req.ReEntry)
	assert.Equal(t, 2, req.ReEntry.MaxReEntries)
	assert.True(t, req.ReEntry.ResetTrailingReference)
}

func TestBuildRequests_Errors(t *testing.T) {
	cfg := config.Default()
	_, err := buildRequests(cfg, &runOptions{assets: []string{"not-base58!"}, chain: "solana"}, time.Now())
	assert.Error(t, err)

	_, err = buildRequests(cfg, &runOptions{assets: []string{bonkKey}, strategy: "half@2"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidStep)

	_, err = buildRequests(cfg, &runOptions{assets: []string{bonkKey}, end: "soon"}, time.Now())
	assert.Error(t, err)
}
