package monitor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/indicator"
	"quantbot-core/internal/notify"
	"quantbot-core/internal/storage/memory"
)

type sentMessage struct {
	destination string
	msg         notify.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, destination string, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{destination: destination, msg: msg})
	return n.err
}

func (n *recordingNotifier) Messages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentMessage, len(n.sent))
	copy(out, n.sent)
	return out
}

type countingCandles struct {
	mu      sync.Mutex
	calls   int
	candles []domain.Candle
	err     error
	lastReq [2]int64
}

func (c *countingCandles) Fetch(_ context.Context, _, _ string, start, end int64, _ string) ([]domain.Candle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastReq = [2]int64{start, end}
	return c.candles, c.err
}

func (c *countingCandles) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func flatCandles(n int, price float64) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		out[i] = domain.Candle{Timestamp: int64(i * 300), Open: price, High: price, Low: price, Close: price}
	}
	return out
}

func newTestEngine(t *testing.T, candles *countingCandles) (*Engine, *memory.Store, *recordingNotifier) {
	t.Helper()
	store := memory.NewStore()
	n := &recordingNotifier{}
	opts := EngineOptions{Store: store, Notifier: n}
	if candles != nil {
		opts.CandleSource = candles
	}
	return NewEngine(opts), store, n
}

func track(t *testing.T, e *Engine, call domain.AssetCall) *TrackedAsset {
	t.Helper()
	if call.AssetKey == "" {
		call.AssetKey = "asset1"
	}
	a := NewTrackedAsset(call)
	require.NoError(t, e.Registry().Add(a))
	return a
}

func keys(recs []domain.AlertRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key
	}
	return out
}

func TestEngine_TargetsAndStopFireOnce(t *testing.T) {
	e, store, n := newTestEngine(t, nil)
	a := track(t, e, domain.AssetCall{
		Destination: "chat-1",
		CallPrice:   1.0,
		Strategy:    domain.Strategy{{Percent: 0.5, Target: 3}, {Percent: 0.5, Target: 2}},
		StopLoss:    domain.StopLossConfig{Initial: -0.5},
	})

	var fired []string
	for i, p := range []float64{1.5, 2.0, 2.0, 3.5, 3.5, 0.4, 0.3, 0.4} {
		fired = append(fired, keys(e.OnPriceTick(a.Key, p, 0, int64(100+i)))...)
	}

	assert.Equal(t, []string{"target:2", "target:3", "stop_loss"}, fired)
	assert.Equal(t, 3, a.AlertCount())
	assert.Equal(t, 3.5, a.PeakPrice)
	assert.Equal(t, 0.4, a.LastPrice)

	msgs := n.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "chat-1", msgs[0].destination)
	assert.Equal(t, "asset1 hit 2x", msgs[0].msg.Title)
	assert.NotEmpty(t, msgs[0].msg.AlertID)

	assert.Len(t, store.Alerts(), 3)
	assert.Len(t, store.PriceUpdates(a.Key), 8)
}

func TestEngine_TrailingStop(t *testing.T) {
	e, _, n := newTestEngine(t, nil)
	a := track(t, e, domain.AssetCall{
		Symbol:    "BONK",
		CallPrice: 1.0,
		Strategy:  domain.StrategyPresets["monitor"],
		StopLoss:  domain.StopLossConfig{Initial: -0.5, Trailing: 0.2, TrailingActivation: 1.5},
	})

	var fired []string
	for i, p := range []float64{1.4, 1.2, 2.0, 1.7, 1.55, 1.4} {
		fired = append(fired, keys(e.OnPriceTick(a.Key, p, 0, int64(i)))...)
	}
	assert.Equal(t, []string{"stop_loss"}, fired)

	msgs := n.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "BONK trailing stop triggered", msgs[0].msg.Title)
}

func TestStopPrice(t *testing.T) {
	a := &TrackedAsset{CallPrice: 1.0, PeakPrice: 1.2, StopLoss: domain.StopLossConfig{Initial: -0.3, Trailing: 0.1, TrailingActivation: 1.5}}
	stop, trailing := StopPrice(a)
	assert.InDelta(t, 0.7, stop, 1e-9)
	assert.False(t, trailing)

	a.PeakPrice = 2.0
	stop, trailing = StopPrice(a)
	assert.InDelta(t, 1.8, stop, 1e-9)
	assert.True(t, trailing)

	a.StopLoss = domain.StopLossDisabled
	stop, _ = StopPrice(a)
	assert.Zero(t, stop)
}

func TestEngine_CloudCrossesAlertEachTime(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.StrategyPresets["monitor"]})
	a.Snapshot = &indicator.Snapshot{SpanA: 1.0, SpanB: 0.8, CloudTop: 1.0, CloudBottom: 0.8}

	var fired []string
	ticks := []struct {
		ts    int64
		price float64
	}{
		{100, 1.1},
		{200, 0.95},
		{300, 1.05},
		{400, 0.95},
		{500, 0.7},
		{600, 0.7},
	}
	for _, tk := range ticks {
		fired = append(fired, keys(e.OnPriceTick(a.Key, tk.price, 0, tk.ts))...)
	}

	assert.Equal(t, []string{
		"cloud_cross:span_a:bearish:200",
		"cloud_cross:span_a:bullish:300",
		"cloud_cross:span_a:bearish:400",
		"cloud_cross:span_b:bearish:500",
	}, fired)
}

func TestEngine_RefreshCadence(t *testing.T) {
	src := &countingCandles{candles: flatCandles(60, 1.0)}
	e, _, _ := newTestEngine(t, src)
	t0 := time.Unix(1_700_000_000, 0)
	now := t0
	e.now = func() time.Time { return now }

	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.StrategyPresets["monitor"]})

	// First tick always refreshes.
	e.OnPriceTick(a.Key, 2.0, 0, 1)
	require.Equal(t, 1, src.Calls())
	require.NotNil(t, a.Snapshot)
	assert.Equal(t, t0, a.LastRefresh)
	assert.Equal(t, [2]int64{t0.Unix() - 120*300, t0.Unix()}, src.lastReq)

	// Far from every line: default cadence.
	assert.Equal(t, 30*time.Minute, e.RefreshInterval(a, 2.0))
	now = t0.Add(6 * time.Minute)
	e.OnPriceTick(a.Key, 2.0, 0, 2)
	assert.Equal(t, 1, src.Calls())

	now = t0.Add(31 * time.Minute)
	e.OnPriceTick(a.Key, 2.0, 0, 3)
	assert.Equal(t, 2, src.Calls())

	// Within 20% of a line: fast cadence.
	assert.Equal(t, 5*time.Minute, e.RefreshInterval(a, 1.1))
	now = t0.Add(37 * time.Minute)
	e.OnPriceTick(a.Key, 1.1, 0, 4)
	assert.Equal(t, 3, src.Calls())

	now = t0.Add(39 * time.Minute)
	e.OnPriceTick(a.Key, 1.1, 0, 5)
	assert.Equal(t, 3, src.Calls())
}

func TestEngine_RefreshFailureIsSwallowed(t *testing.T) {
	src := &countingCandles{err: errors.New("upstream down")}
	e, _, _ := newTestEngine(t, src)
	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.StrategyPresets["monitor"]})

	e.OnPriceTick(a.Key, 1.0, 0, 1)
	assert.Equal(t, 1, src.Calls())
	assert.Nil(t, a.Snapshot)
	assert.False(t, a.Refreshing())
	assert.False(t, a.LastRefresh.IsZero())
}

func TestEngine_ApplyCandlesDropsStaleResults(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.StrategyPresets["monitor"]})

	e.ApplyCandles(a.Key, "another-id", flatCandles(60, 1.0), nil)
	assert.Nil(t, a.Candles)
	assert.Nil(t, a.Snapshot)

	e.ApplyCandles("unknown", a.ID, flatCandles(60, 1.0), nil)
	assert.Nil(t, a.Snapshot)

	e.ApplyCandles(a.Key, a.ID, flatCandles(200, 1.0), nil)
	assert.Len(t, a.Candles, 120)
	assert.NotNil(t, a.Snapshot)
}

func TestEngine_SignalsOncePerBucket(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.StrategyPresets["monitor"]})
	a.Candles = flatCandles(52, 1.0)

	// Each call installs a fresh pair with the same conversion/base cross.
	crossPair := func() {
		a.PrevSnapshot = &indicator.Snapshot{Conversion: 0.9, Base: 1.0, SpanA: 1, SpanB: 1, CloudTop: 1, CloudBottom: 1, Price: 1}
		a.Snapshot = &indicator.Snapshot{Conversion: 1.1, Base: 1.0, SpanA: 1, SpanB: 1, CloudTop: 1, CloudBottom: 1, Price: 1}
		a.signalled = nil
	}

	var fired []string
	crossPair()
	fired = append(fired, keys(e.OnPriceTick(a.Key, 1.0, 0, 36005))...)
	fired = append(fired, keys(e.OnPriceTick(a.Key, 1.0, 0, 36050))...)
	crossPair()
	fired = append(fired, keys(e.OnPriceTick(a.Key, 1.0, 0, 36100))...)
	crossPair()
	fired = append(fired, keys(e.OnPriceTick(a.Key, 1.0, 0, 39600))...)

	assert.Equal(t, []string{
		"signal:line_cross:bullish:10",
		"signal:line_cross:bullish:11",
	}, fired)
}

// breakoutCandles is flat at 1.0 with the last nine candles at 2.0. Its
// snapshot has conversion 2.0, base 1.5, span A 1.75 and span B 1.5.
func breakoutCandles() []domain.Candle {
	out := flatCandles(60, 1.0)
	for i := len(out) - 9; i < len(out); i++ {
		out[i].Open, out[i].High, out[i].Low, out[i].Close = 2.0, 2.0, 2.0, 2.0
	}
	return out
}

func TestEngine_StaleSnapshotPairDoesNotRealert(t *testing.T) {
	src := &countingCandles{candles: flatCandles(60, 1.0)}
	e, _, _ := newTestEngine(t, src)
	t0 := time.Unix(1_700_000_000, 0)
	now := t0
	e.now = func() time.Time { return now }
	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.StrategyPresets["monitor"]})

	assert.Empty(t, e.OnPriceTick(a.Key, 2.0, 0, 36000))
	require.NotNil(t, a.Snapshot)

	src.candles = breakoutCandles()
	now = now.Add(31 * time.Minute)
	first := keys(e.OnPriceTick(a.Key, 2.0, 0, 37800))
	require.Equal(t, 2, src.Calls())
	assert.Contains(t, first, "signal:line_cross:bullish:10")
	assert.Contains(t, first, "signal:span_cross:bullish:10")
	assert.Contains(t, first, "signal:cloud_break:bullish:10")

	src.err = errors.New("upstream down")
	var later []string
	for i := 1; i <= 5; i++ {
		now = now.Add(time.Hour)
		later = append(later, keys(e.OnPriceTick(a.Key, 2.0, 0, 37800+int64(i)*3600))...)
	}
	assert.Equal(t, 7, src.Calls())
	assert.Empty(t, later)
	assert.Equal(t, len(first), a.AlertCount())
}

func TestEngine_SubSecondSignalBucketFallsBack(t *testing.T) {
	e := NewEngine(EngineOptions{Config: EngineConfig{SignalBucket: 500 * time.Millisecond}})
	assert.Equal(t, time.Hour, e.cfg.SignalBucket)

	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.StrategyPresets["monitor"]})
	a.Candles = flatCandles(52, 1.0)
	a.PrevSnapshot = &indicator.Snapshot{Conversion: 0.9, Base: 1.0, SpanA: 1, SpanB: 1, CloudTop: 1, CloudBottom: 1, Price: 1}
	a.Snapshot = &indicator.Snapshot{Conversion: 1.1, Base: 1.0, SpanA: 1, SpanB: 1, CloudTop: 1, CloudBottom: 1, Price: 1}

	assert.NotPanics(t, func() {
		assert.Equal(t, []string{"signal:line_cross:bullish:10"}, keys(e.OnPriceTick(a.Key, 1.0, 0, 36005)))
	})
}

func TestEngine_CloudCrossFromCandleSnapshot(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.StrategyPresets["monitor"]})

	e.ApplyCandles(a.Key, a.ID, breakoutCandles(), nil)
	require.NotNil(t, a.Snapshot)
	require.InDelta(t, 1.75, a.Snapshot.SpanA, 1e-9)
	require.InDelta(t, 1.5, a.Snapshot.SpanB, 1e-9)

	var fired []string
	for i, p := range []float64{2.0, 2.0, 1.6, 1.6, 1.6, 1.9, 1.9, 1.9} {
		fired = append(fired, keys(e.OnPriceTick(a.Key, p, 0, int64(100+i)))...)
	}
	assert.Equal(t, []string{
		"cloud_cross:span_a:bearish:102",
		"cloud_cross:span_a:bullish:105",
	}, fired)
}

func TestEngine_FirstTickSetsMissingCallPrice(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	a := track(t, e, domain.AssetCall{Strategy: domain.Strategy{{Percent: 1, Target: 2}}})

	assert.Empty(t, e.OnPriceTick(a.Key, 2.0, 0, 1))
	assert.Equal(t, 2.0, a.CallPrice)
	assert.Equal(t, []string{"target:2"}, keys(e.OnPriceTick(a.Key, 4.0, 0, 2)))
}

func TestEngine_UnknownAssetIgnored(t *testing.T) {
	e, store, _ := newTestEngine(t, nil)
	assert.Nil(t, e.OnPriceTick("missing", 1.0, 0, 1))
	assert.Empty(t, store.PriceUpdates("missing"))
}

func TestEngine_NotifierFailureDoesNotBlock(t *testing.T) {
	e, store, n := newTestEngine(t, nil)
	n.err = errors.New("telegram down")
	a := track(t, e, domain.AssetCall{CallPrice: 1.0, Strategy: domain.Strategy{{Percent: 0.5, Target: 2}, {Percent: 0.5, Target: 3}}})

	assert.Equal(t, []string{"target:2"}, keys(e.OnPriceTick(a.Key, 2.0, 0, 1)))
	assert.Equal(t, []string{"target:3"}, keys(e.OnPriceTick(a.Key, 3.0, 0, 2)))
	assert.Len(t, store.Alerts(), 2)
}

func TestEngine_AlertKeysNeverRepeat(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	a := track(t, e, domain.AssetCall{
		CallPrice: 1.0,
		Strategy:  domain.StrategyPresets["balanced"],
		StopLoss:  domain.StopLossConfig{Initial: -0.4, Trailing: 0.3},
	})
	a.Snapshot = &indicator.Snapshot{SpanA: 1.2, SpanB: 0.9, CloudTop: 1.2, CloudBottom: 0.9}

	rng := rand.New(rand.NewSource(7))
	seen := make(map[string]bool)
	price := 1.0
	for i := 0; i < 2000; i++ {
		price *= 1 + (rng.Float64()-0.5)*0.2
		// Repeat every tick to exercise dedup on identical input.
		for r := 0; r < 2; r++ {
			for _, rec := range e.OnPriceTick(a.Key, price, 0, int64(i)) {
				require.False(t, seen[rec.Key], "key %s fired twice", rec.Key)
				seen[rec.Key] = true
			}
		}
	}
	assert.Equal(t, len(seen), a.AlertCount())
}
