package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"quantbot-core/internal/address"
	"quantbot-core/internal/domain"
	"quantbot-core/internal/feed"
	"quantbot-core/internal/logger"
	"quantbot-core/internal/metrics"
	"quantbot-core/internal/notify"
	"quantbot-core/internal/observability"
	"quantbot-core/internal/storage"
)

// ErrStopped is returned by commands issued after the loop has exited.
var ErrStopped = errors.New("monitor stopped")

// Feed is the live subscription connection.
type Feed interface {
	Run(ctx context.Context) error
	Subscribe(account string) error
	Unsubscribe(account string) error
	Resubscribe(account string) error
	Updates() <-chan domain.PriceUpdate
	States() <-chan feed.State
	State() feed.State
}

// PricePoller fetches a single price on request. Used while the feed is disabled.
type PricePoller interface {
	FetchPrice(ctx context.Context, account, chain string) (domain.PriceUpdate, error)
}

// Config holds the monitor timers and engine settings.
type Config struct {
	Engine              EngineConfig
	SummaryInterval     time.Duration
	SummaryWindow       time.Duration
	ResubscribeInterval time.Duration
	ResubscribeMinGap   time.Duration
	PollInterval        time.Duration
}

// DefaultConfig returns the default timers.
func DefaultConfig() Config {
	return Config{
		Engine:              DefaultEngineConfig(),
		SummaryInterval:     time.Hour,
		SummaryWindow:       24 * time.Hour,
		ResubscribeInterval: 10 * time.Minute,
		ResubscribeMinGap:   5 * time.Minute,
		PollInterval:        time.Minute,
	}
}

// Options holds the monitor collaborators. Store, CandleSource, Notifier and
// Poller are optional.
type Options struct {
	Config       Config
	Feed         Feed
	Poller       PricePoller
	Store        storage.Store
	CandleSource storage.CandleSource
	Notifier     notify.Notifier
	Logger       *logrus.Entry
}

// Monitor runs the single event loop that owns the registry. Feed updates,
// feed state changes, I/O results, commands and timer firings are all
// processed one at a time on that loop.
type Monitor struct {
	cfg      Config
	engine   *Engine
	registry *Registry
	feed     Feed
	poller   PricePoller
	store    storage.Store
	notifier notify.Notifier
	log      *logrus.Entry

	events    chan func()
	done      chan struct{}
	running   atomic.Bool
	feedState feed.State
	now       func() time.Time
}

// New creates a monitor.
func New(opts Options) *Monitor {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	registry := NewRegistry()
	m := &Monitor{
		cfg:      opts.Config,
		registry: registry,
		feed:     opts.Feed,
		poller:   opts.Poller,
		store:    opts.Store,
		notifier: opts.Notifier,
		log:      log.WithField("component", "monitor"),
		events:   make(chan func(), 256),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	m.engine = NewEngine(EngineOptions{
		Config:       opts.Config.Engine,
		Registry:     registry,
		Store:        opts.Store,
		CandleSource: opts.CandleSource,
		Notifier:     opts.Notifier,
		Logger:       log,
	})
	m.engine.spawn = func(f func()) { go f() }
	m.engine.deliver = func(f func()) { m.post(f) }
	return m
}

// Engine returns the alert engine driven by the loop.
func (m *Monitor) Engine() *Engine {
	return m.engine
}

// post queues f on the loop. Returns false once the loop has exited.
func (m *Monitor) post(f func()) bool {
	select {
	case m.events <- f:
		return true
	case <-m.done:
		return false
	}
}

// do runs f on the loop and waits for it to finish.
func (m *Monitor) do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		f()
	}
	select {
	case m.events <- wrapped:
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the feed and the scheduler and processes events until ctx is
// cancelled. On return the registry is dropped.
func (m *Monitor) Run(ctx context.Context) error {
	if m.running.Swap(true) {
		return fmt.Errorf("monitor already running")
	}
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.feedState = m.feed.State()
	go func() {
		err := m.feed.Run(ctx)
		if ctx.Err() == nil {
			m.post(func() { m.onFeedStopped(err) })
		}
	}()

	sched := NewScheduler(m.post, m.log)
	sched.Every("performance_summary", m.cfg.SummaryInterval, m.sendSummaries)
	sched.Every("resubscribe", m.cfg.ResubscribeInterval, m.resubscribe)
	sched.Every("fallback_poll", m.cfg.PollInterval, m.poll)
	go sched.Run(ctx)

	m.log.WithField("jobs", len(sched.Jobs())).Info("monitor started")

	updates := m.feed.Updates()
	states := m.feed.States()
	for {
		select {
		case <-ctx.Done():
			for _, a := range m.registry.All() {
				m.registry.Remove(a.Key)
			}
			observability.SetTrackedAssets(0)
			m.log.Info("monitor stopped")
			return nil
		case u := <-updates:
			m.engine.OnPriceTick(u.AssetKey, u.Price, u.Marketcap, u.Timestamp)
		case s := <-states:
			m.onFeedState(s)
		case f := <-m.events:
			f()
		}
	}
}

func (m *Monitor) onFeedState(s feed.State) {
	prev := m.feedState
	m.feedState = s
	if s == feed.Disabled && prev != feed.Disabled {
		m.log.Warn("feed disabled, switching to fallback polling")
	}
}

func (m *Monitor) onFeedStopped(err error) {
	m.feedState = m.feed.State()
	m.log.WithError(err).WithField("state", m.feedState.String()).Error("feed stopped")
}

// AddAsset starts tracking a call. The strategy, stop loss and address are
// validated before the loop sees the request.
func (m *Monitor) AddAsset(ctx context.Context, call domain.AssetCall) (domain.AssetCall, error) {
	call.Chain = address.Normalize(call.Chain)
	if err := address.Validate(call.Chain, call.AssetKey); err != nil {
		return domain.AssetCall{}, err
	}
	if err := call.Strategy.Validate(); err != nil {
		return domain.AssetCall{}, err
	}
	if err := call.StopLoss.Validate(); err != nil {
		return domain.AssetCall{}, err
	}
	if call.CallPrice < 0 {
		return domain.AssetCall{}, fmt.Errorf("%w: negative call price", storage.ErrInvalidInput)
	}

	var out domain.AssetCall
	var addErr error
	err := m.do(ctx, func() {
		if call.CallTimestamp == 0 {
			call.CallTimestamp = m.now().Unix()
		}
		a := NewTrackedAsset(call)
		if addErr = m.registry.Add(a); addErr != nil {
			return
		}
		out = a.Call()
		observability.SetTrackedAssets(m.registry.Len())

		log := m.log.WithFields(logrus.Fields{"asset": a.Key, "asset_id": a.ID, "chain": a.Chain})
		if a.Chain == address.ChainSolana && !address.IsOnCurve(a.Key) {
			log = log.WithField("program_derived", true)
		}
		log.Info("tracking asset")

		if m.store != nil {
			persisted := out
			m.engine.spawn(func() {
				ctx, cancel := context.WithTimeout(context.Background(), m.engine.cfg.IOTimeout)
				defer cancel()
				if err := m.store.SaveAssetCall(ctx, &persisted); err != nil {
					log.WithError(err).Warn("save asset call failed")
				}
			})
		}
		if err := m.feed.Subscribe(a.Key); err != nil {
			log.WithError(err).Warn("subscribe failed")
		}
		if m.engine.candles != nil {
			m.engine.requestRefresh(a)
		}
	})
	if err != nil {
		return domain.AssetCall{}, err
	}
	return out, addErr
}

// RemoveAsset stops tracking key and unsubscribes it.
func (m *Monitor) RemoveAsset(ctx context.Context, key string) error {
	var removeErr error
	err := m.do(ctx, func() {
		a, ok := m.registry.Remove(key)
		if !ok {
			removeErr = ErrNotTracked
			return
		}
		observability.SetTrackedAssets(m.registry.Len())
		if err := m.feed.Unsubscribe(key); err != nil {
			m.log.WithError(err).WithField("asset", key).Warn("unsubscribe failed")
		}
		m.log.WithFields(logrus.Fields{"asset": key, "asset_id": a.ID}).Info("stopped tracking asset")
	})
	if err != nil {
		return err
	}
	return removeErr
}

// AssetStatus is the public view of one tracked asset.
type AssetStatus struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Chain       string    `json:"chain"`
	Symbol      string    `json:"symbol,omitempty"`
	CallPrice   float64   `json:"call_price"`
	LastPrice   float64   `json:"last_price"`
	PeakPrice   float64   `json:"peak_price"`
	AlertsSent  int       `json:"alerts_sent"`
	Candles     int       `json:"candles"`
	HasSnapshot bool      `json:"has_snapshot"`
	LastRefresh time.Time `json:"last_refresh"`
}

// Status is the monitor state exposed on /status.
type Status struct {
	Connection    string        `json:"connection"`
	Polling       bool          `json:"polling"`
	TrackedAssets int           `json:"tracked_assets"`
	Assets        []AssetStatus `json:"assets"`
}

// Status snapshots the monitor state from the loop.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	var st Status
	err := m.do(ctx, func() {
		st.Connection = m.feedState.String()
		st.Polling = m.feedState == feed.Disabled
		all := m.registry.All()
		st.TrackedAssets = len(all)
		st.Assets = make([]AssetStatus, 0, len(all))
		for _, a := range all {
			st.Assets = append(st.Assets, AssetStatus{
				ID:          a.ID,
				Key:         a.Key,
				Chain:       a.Chain,
				Symbol:      a.Symbol,
				CallPrice:   a.CallPrice,
				LastPrice:   a.LastPrice,
				PeakPrice:   a.PeakPrice,
				AlertsSent:  a.AlertCount(),
				Candles:     len(a.Candles),
				HasSnapshot: a.Snapshot != nil,
				LastRefresh: a.LastRefresh,
			})
		}
	})
	return st, err
}

// sendSummaries sends the trailing performance summary to each destination.
// The store query and delivery run off the loop.
func (m *Monitor) sendSummaries() {
	if m.store == nil || m.notifier == nil {
		return
	}
	window := m.cfg.SummaryWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	timeout := m.engine.cfg.IOTimeout

	m.engine.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		rows, err := m.store.GetRecentPerformance(ctx, window)
		cancel()
		if err != nil {
			m.log.WithError(err).Warn("performance query failed")
			return
		}

		byDest := make(map[string][]*domain.AssetPerformance)
		var order []string
		for _, r := range rows {
			if _, ok := byDest[r.Destination]; !ok {
				order = append(order, r.Destination)
			}
			byDest[r.Destination] = append(byDest[r.Destination], r)
		}

		for _, dest := range order {
			destRows := byDest[dest]
			msg := notify.Summary(window, destRows, metrics.FromPerformance(destRows))
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := m.notifier.Send(ctx, dest, msg)
			cancel()
			if err != nil {
				observability.RecordNotifierFailure(notify.Name(m.notifier))
				m.log.WithError(err).WithField("destination", dest).Warn("summary delivery failed")
				continue
			}
			observability.RecordAlert(string(domain.AlertSummary))
		}
	})
}

// resubscribe re-requests the subscription of every asset not refreshed
// within ResubscribeMinGap.
func (m *Monitor) resubscribe() {
	if m.feedState != feed.Connected {
		return
	}
	now := m.now()
	for _, a := range m.registry.All() {
		if !a.LastResubscribe.IsZero() && now.Sub(a.LastResubscribe) < m.cfg.ResubscribeMinGap {
			continue
		}
		if err := m.feed.Resubscribe(a.Key); err != nil {
			m.log.WithError(err).WithField("asset", a.Key).Debug("resubscribe failed")
			continue
		}
		a.LastResubscribe = now
	}
}

// poll fetches every tracked price while the feed is disabled and feeds the
// results back as ticks.
func (m *Monitor) poll() {
	if m.feedState != feed.Disabled || m.poller == nil {
		return
	}
	timeout := m.engine.cfg.IOTimeout
	for _, a := range m.registry.All() {
		key, chain := a.Key, a.Chain
		m.engine.spawn(func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			u, err := m.poller.FetchPrice(ctx, key, chain)
			cancel()
			if err != nil {
				m.log.WithError(err).WithField("asset", key).Warn("poll failed")
				return
			}
			m.post(func() {
				m.engine.OnPriceTick(key, u.Price, u.Marketcap, u.Timestamp)
			})
		})
	}
}
