package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/indicator"
	"quantbot-core/internal/logger"
	"quantbot-core/internal/notify"
	"quantbot-core/internal/observability"
	"quantbot-core/internal/storage"
)

// EngineConfig tunes the alert engine.
type EngineConfig struct {
	// CandleWindow bounds the candles kept per asset.
	CandleWindow int
	// Interval is the candle interval label requested from the CandleSource.
	Interval string
	// FastRefresh is the snapshot refresh cadence near an indicator line.
	FastRefresh time.Duration
	// DefaultRefresh is the cadence otherwise.
	DefaultRefresh time.Duration
	// ProximityThreshold is the relative distance to a line that selects FastRefresh.
	ProximityThreshold float64
	// SignalBucket deduplicates indicator signals per type and direction.
	// Values under a second fall back to the default.
	SignalBucket time.Duration
	// IOTimeout bounds each store, notifier and candle call.
	IOTimeout time.Duration
}

// DefaultEngineConfig returns the default cadence and window settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CandleWindow:       120,
		Interval:           "5m",
		FastRefresh:        5 * time.Minute,
		DefaultRefresh:     30 * time.Minute,
		ProximityThreshold: 0.2,
		SignalBucket:       time.Hour,
		IOTimeout:          10 * time.Second,
	}
}

// Engine evaluates ticks for tracked assets. All methods must be called from
// the goroutine that owns the registry; outbound I/O goes through spawn and
// results come back through deliver.
type Engine struct {
	cfg      EngineConfig
	registry *Registry
	store    storage.Store
	candles  storage.CandleSource
	notifier notify.Notifier
	log      *logrus.Entry

	// spawn runs outbound I/O off the event loop.
	spawn func(func())
	// deliver hands a result back to the event loop.
	deliver func(func())
	now     func() time.Time
}

// EngineOptions holds the engine collaborators.
type EngineOptions struct {
	Config       EngineConfig
	Registry     *Registry
	Store        storage.Store
	CandleSource storage.CandleSource
	Notifier     notify.Notifier
	Logger       *logrus.Entry
}

// NewEngine creates an engine. Until a Monitor takes it over, spawned work and
// delivered results run synchronously on the caller's goroutine.
func NewEngine(opts EngineOptions) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	cfg := opts.Config
	def := DefaultEngineConfig()
	if cfg.CandleWindow < indicator.MinCandles {
		cfg.CandleWindow = def.CandleWindow
	}
	if domain.IntervalSeconds(cfg.Interval) == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FastRefresh <= 0 {
		cfg.FastRefresh = def.FastRefresh
	}
	if cfg.DefaultRefresh <= 0 {
		cfg.DefaultRefresh = def.DefaultRefresh
	}
	if cfg.ProximityThreshold <= 0 {
		cfg.ProximityThreshold = def.ProximityThreshold
	}
	if cfg.SignalBucket < time.Second {
		cfg.SignalBucket = def.SignalBucket
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = def.IOTimeout
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		store:    opts.Store,
		candles:  opts.CandleSource,
		notifier: opts.Notifier,
		log:      log.WithField("component", "alert_engine"),
		spawn:    func(f func()) { f() },
		deliver:  func(f func()) { f() },
		now:      time.Now,
	}
}

// Registry returns the registry the engine evaluates.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// OnPriceTick evaluates one observed price and returns the alerts it fired.
// Unknown keys are ignored.
func (e *Engine) OnPriceTick(key string, price, marketcap float64, ts int64) []domain.AlertRecord {
	a := e.registry.Get(key)
	if a == nil || price <= 0 {
		return nil
	}
	start := time.Now()
	defer func() { observability.RecordTick(time.Since(start).Seconds()) }()

	e.persist(&domain.PriceUpdate{
		AssetKey:  a.Key,
		Chain:     a.Chain,
		Price:     price,
		Marketcap: marketcap,
		Timestamp: ts,
	})

	prev := a.LastPrice
	a.LastPrice = price
	a.LastTimestamp = ts

	var fired []domain.AlertRecord
	if a.CallPrice <= 0 {
		a.CallPrice = price
		a.PeakPrice = price
	} else {
		fired = append(fired, e.checkTargets(a, price, ts)...)
		fired = append(fired, e.checkStop(a, price, ts)...)
		if price > a.PeakPrice {
			a.PeakPrice = price
		}
	}

	if a.Snapshot != nil && prev > 0 {
		fired = append(fired, e.checkCloudCross(a, prev, price, ts)...)
	}

	e.maybeRefresh(a, price)

	if a.Snapshot != nil && a.PrevSnapshot != nil && len(a.Candles) >= indicator.MinCandles {
		fired = append(fired, e.checkSignals(a, price, ts)...)
	}
	return fired
}

// checkTargets alerts once per take-profit level reached.
func (e *Engine) checkTargets(a *TrackedAsset, price float64, ts int64) []domain.AlertRecord {
	var fired []domain.AlertRecord
	for _, step := range a.Strategy {
		if !step.IsTakeProfit() {
			continue
		}
		if price < step.Target*a.CallPrice {
			break
		}
		key := "target:" + strconv.FormatFloat(step.Target, 'f', -1, 64)
		msg := notify.TargetHit(notify.Label(a.Symbol, a.Key), step.Target, price, a.CallPrice)
		if rec, ok := e.fire(a, domain.AlertTargetHit, key, price, ts, msg); ok {
			fired = append(fired, rec)
		}
	}
	return fired
}

// StopPrice returns the stop in force for a: the initial stop, raised to
// peak × (1 − Trailing) once the trailing stop is active. 0 means no stop.
func StopPrice(a *TrackedAsset) (stop float64, trailing bool) {
	stop = a.StopLoss.InitialStopPrice(a.CallPrice)
	if !a.StopLoss.TrailingEnabled() {
		return stop, false
	}
	active := a.StopLoss.TrailingActivation == 0 || a.PeakPrice >= a.CallPrice*a.StopLoss.TrailingActivation
	if !active {
		return stop, false
	}
	if trail := a.PeakPrice * (1 - a.StopLoss.Trailing); trail > stop {
		return trail, true
	}
	return stop, false
}

func (e *Engine) checkStop(a *TrackedAsset, price float64, ts int64) []domain.AlertRecord {
	stop, trailing := StopPrice(a)
	if stop <= 0 || price > stop {
		return nil
	}
	msg := notify.StopLoss(notify.Label(a.Symbol, a.Key), price, stop, a.CallPrice, trailing)
	if rec, ok := e.fire(a, domain.AlertStopLoss, "stop_loss", price, ts, msg); ok {
		return []domain.AlertRecord{rec}
	}
	return nil
}

// checkCloudCross alerts when price crosses leading span A or B between two
// ticks. Every distinct cross alerts; the key carries the tick timestamp.
func (e *Engine) checkCloudCross(a *TrackedAsset, prev, price float64, ts int64) []domain.AlertRecord {
	var fired []domain.AlertRecord
	lines := []struct {
		name  string
		level float64
	}{
		{"span_a", a.Snapshot.SpanA},
		{"span_b", a.Snapshot.SpanB},
	}
	for _, l := range lines {
		var dir indicator.Direction
		switch {
		case prev < l.level && price >= l.level:
			dir = indicator.Bullish
		case prev > l.level && price <= l.level:
			dir = indicator.Bearish
		default:
			continue
		}
		key := fmt.Sprintf("cloud_cross:%s:%s:%d", l.name, dir, ts)
		msg := notify.CloudCross(notify.Label(a.Symbol, a.Key), l.name, dir, price, l.level)
		if rec, ok := e.fire(a, domain.AlertCloudCross, key, price, ts, msg); ok {
			fired = append(fired, rec)
		}
	}
	return fired
}

// checkSignals alerts on indicator signals once per type, direction and bucket.
// A snapshot pair yields each type and direction at most once, so a pair left
// in place by failed refreshes does not alert again in later buckets.
func (e *Engine) checkSignals(a *TrackedAsset, price float64, ts int64) []domain.AlertRecord {
	var fired []domain.AlertRecord
	bucket := ts / int64(e.cfg.SignalBucket/time.Second)
	for _, s := range indicator.DetectSignals(a.Snapshot, a.PrevSnapshot, price, ts) {
		if !a.markSignalled(string(s.Type) + ":" + string(s.Direction)) {
			continue
		}
		key := fmt.Sprintf("signal:%s:%s:%d", s.Type, s.Direction, bucket)
		msg := notify.Signal(notify.Label(a.Symbol, a.Key), s)
		if rec, ok := e.fire(a, domain.AlertSignal, key, price, ts, msg); ok {
			fired = append(fired, rec)
		}
	}
	return fired
}

// RefreshInterval returns the snapshot refresh cadence at price: FastRefresh
// within ProximityThreshold of any indicator line, DefaultRefresh otherwise.
func (e *Engine) RefreshInterval(a *TrackedAsset, price float64) time.Duration {
	if a.Snapshot != nil && a.Snapshot.NearestLineDistance(price) <= e.cfg.ProximityThreshold {
		return e.cfg.FastRefresh
	}
	return e.cfg.DefaultRefresh
}

func (e *Engine) maybeRefresh(a *TrackedAsset, price float64) {
	if a.refreshing || e.candles == nil {
		return
	}
	if !a.LastRefresh.IsZero() && e.now().Sub(a.LastRefresh) < e.RefreshInterval(a, price) {
		return
	}
	e.requestRefresh(a)
}

// requestRefresh fetches the candle window off the loop and applies it
// through deliver.
func (e *Engine) requestRefresh(a *TrackedAsset) {
	a.refreshing = true
	key, id, chain := a.Key, a.ID, a.Chain
	interval := e.cfg.Interval
	end := e.now().Unix()
	start := end - int64(e.cfg.CandleWindow)*domain.IntervalSeconds(interval)

	e.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.IOTimeout)
		candles, err := e.candles.Fetch(ctx, key, chain, start, end, interval)
		cancel()
		e.deliver(func() { e.ApplyCandles(key, id, candles, err) })
	})
}

// ApplyCandles installs a fetched candle window and recomputes the snapshot.
// Results for removed or replaced assets are dropped.
func (e *Engine) ApplyCandles(key, id string, candles []domain.Candle, err error) {
	a := e.registry.Get(key)
	if a == nil || a.ID != id {
		return
	}
	a.refreshing = false
	a.LastRefresh = e.now()

	log := e.log.WithFields(logrus.Fields{"asset": key, "asset_id": id})
	if err != nil {
		observability.RecordIndicatorRefresh("error")
		log.WithError(err).Warn("candle refresh failed")
		return
	}
	if len(candles) > e.cfg.CandleWindow {
		candles = candles[len(candles)-e.cfg.CandleWindow:]
	}
	a.Candles = candles

	snap := indicator.CalculateLatest(candles)
	if snap == nil {
		observability.RecordIndicatorRefresh("insufficient")
		log.WithField("candles", len(candles)).Debug("not enough candles for snapshot")
		return
	}
	a.PrevSnapshot = a.Snapshot
	a.Snapshot = snap
	a.signalled = nil
	observability.RecordIndicatorRefresh("ok")
}

// fire records key in the asset's sent set and, when new, delivers the
// alert and persists it asynchronously.
func (e *Engine) fire(a *TrackedAsset, kind domain.AlertKind, key string, price float64, ts int64, msg notify.Message) (domain.AlertRecord, bool) {
	if !a.markSent(key) {
		return domain.AlertRecord{}, false
	}

	rec := domain.AlertRecord{
		AlertID:   uuid.NewString(),
		AssetID:   a.ID,
		AssetKey:  a.Key,
		Kind:      kind,
		Key:       key,
		Price:     price,
		Timestamp: ts,
		Message:   msg.Title + "\n" + msg.Body,
	}
	msg.AlertID = rec.AlertID
	observability.RecordAlert(string(kind))

	log := e.log.WithFields(logrus.Fields{
		"asset":    a.Key,
		"asset_id": a.ID,
		"key":      key,
		"alert_id": rec.AlertID,
	})
	log.Info("alert fired")

	destination := a.Destination
	e.spawn(func() {
		if e.notifier != nil {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.IOTimeout)
			if err := e.notifier.Send(ctx, destination, msg); err != nil {
				observability.RecordNotifierFailure(notify.Name(e.notifier))
				log.WithError(err).Warn("alert delivery failed")
			}
			cancel()
		}
		if e.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.IOTimeout)
			if err := e.store.SaveAlertSent(ctx, &rec); err != nil {
				log.WithError(err).Warn("save alert failed")
			}
			cancel()
		}
	})
	return rec, true
}

func (e *Engine) persist(u *domain.PriceUpdate) {
	if e.store == nil {
		return
	}
	e.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.IOTimeout)
		defer cancel()
		if err := e.store.SavePriceUpdate(ctx, u); err != nil {
			e.log.WithError(err).WithField("asset", u.AssetKey).Warn("save price update failed")
		}
	})
}
