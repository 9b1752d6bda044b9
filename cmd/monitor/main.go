// Package main runs the live price monitor:
// - Feed: streaming price subscription with fallback polling
// - Engine: target / stop / indicator alerts per tracked asset
// - HTTP: /health, /metrics, /status and /assets
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quantbot-core/internal/config"
	"quantbot-core/internal/domain"
	"quantbot-core/internal/feed"
	"quantbot-core/internal/logger"
	"quantbot-core/internal/monitor"
	"quantbot-core/internal/notify"
	"quantbot-core/internal/storage"
	chstore "quantbot-core/internal/storage/clickhouse"
	"quantbot-core/internal/storage/httpcandles"
	"quantbot-core/internal/storage/memory"
	"quantbot-core/internal/storage/migrations"
	"quantbot-core/internal/storage/multi"
	pgstore "quantbot-core/internal/storage/postgres"
	redisstore "quantbot-core/internal/storage/redis"
)

type options struct {
	configPath  string
	logLevel    string
	addr        string
	useMemory   bool
	assets      []string
	chain       string
	destination string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Track called assets and send price alerts",
		Long: `Subscribe to live prices for every tracked asset and alert on
take-profit targets, stop losses and Ichimoku cloud events.

Assets can be seeded with --asset and added or removed at runtime via
POST /assets and DELETE /assets/{key}.

Examples:
  monitor --asset <mint>:BONK
  monitor --config configs/config.yaml --memory`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "Path to config file (default configs/config.yaml)")
	f.StringVar(&o.logLevel, "log-level", "", "Override log level: debug|info|warn|error")
	f.StringVar(&o.addr, "addr", "", "HTTP listen address (default http.addr)")
	f.BoolVar(&o.useMemory, "memory", false, "Use in-memory storage instead of PostgreSQL")
	f.StringSliceVar(&o.assets, "asset", nil, "Asset to track at startup, key[:symbol] (repeatable)")
	f.StringVar(&o.chain, "chain", "solana", "Chain of the --asset entries")
	f.StringVar(&o.destination, "destination", "", "Notifier destination for the --asset entries")
	return cmd
}

func run(o *options) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.addr != "" {
		cfg.HTTP.Addr = o.addr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if !o.useMemory && cfg.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn is required (use --memory for in-memory storage)")
	}

	log := logger.New(cfg.Log).Entry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := createStores(ctx, cfg, o.useMemory, log)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer stores.close()

	notifier, err := createNotifier(cfg, log)
	if err != nil {
		return err
	}

	candles := stores.candles
	if candles == nil {
		candles = httpcandles.New(cfg.Candles.BaseURL,
			httpcandles.WithAPIKey(cfg.Candles.APIKey),
			httpcandles.WithTimeout(cfg.Candles.Timeout),
			httpcandles.WithMaxRetries(cfg.Candles.MaxRetries),
		)
	}

	m := monitor.New(monitor.Options{
		Config:       monitorConfig(cfg),
		Feed:         feed.NewConnectionManager(feedConfig(cfg), log),
		Poller:       newPoller(cfg),
		Store:        stores.store,
		CandleSource: candles,
		Notifier:     notifier,
		Logger:       log,
	})

	calls, err := seedCalls(cfg, o)
	if err != nil {
		return err
	}

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Warn("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	srv := newHTTPServer(cfg.HTTP.Addr, m, defaultCall(cfg), log)
	go srv.start()
	defer srv.shutdown()

	go func() {
		for _, call := range calls {
			if _, err := m.AddAsset(ctx, call); err != nil {
				log.WithError(err).WithField("asset", call.AssetKey).Warn("seed asset rejected")
			}
		}
	}()

	err = m.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// allStores holds the monitor store and the optional tick archive.
type allStores struct {
	store   storage.Store
	candles storage.CandleSource
	closers []func()
}

func (s *allStores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// createStores opens PostgreSQL (or memory) as the primary store and mirrors
// price updates to ClickHouse and Redis when they are configured.
func createStores(ctx context.Context, cfg *config.Config, useMemory bool, log *logrus.Entry) (*allStores, error) {
	out := &allStores{}

	var primary storage.Store
	if useMemory {
		log.Info("using in-memory storage")
		primary = memory.NewStore()
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		out.closers = append(out.closers, pool.Close)
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			out.close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		primary = pgstore.NewStore(pool)
	}

	var sinks []storage.PriceSink
	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			out.close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		out.closers = append(out.closers, func() { conn.Close() })
		ticks := chstore.NewTickStore(conn)
		sinks = append(sinks, ticks)
		if cfg.Candles.Source == "clickhouse" {
			out.candles = ticks
		}
	} else if cfg.Candles.Source == "clickhouse" {
		out.close()
		return nil, fmt.Errorf("candles.source clickhouse needs storage.clickhouse_dsn")
	}

	if cfg.Storage.Redis.Addr != "" {
		cache, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			TTL:      cfg.Storage.Redis.TTL,
		})
		if err != nil {
			out.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		out.closers = append(out.closers, func() { cache.Close() })
		sinks = append(sinks, cache)
	}

	if len(sinks) > 0 {
		out.store = multi.New(primary, sinks...)
	} else {
		out.store = primary
	}
	log.WithFields(logrus.Fields{
		"memory": useMemory,
		"sinks":  len(sinks),
	}).Info("stores ready")
	return out, nil
}

func createNotifier(cfg *config.Config, log *logrus.Entry) (notify.Notifier, error) {
	switch cfg.Notify.Kind {
	case "log", "":
		return notify.NewLogNotifier(log), nil
	case "telegram":
		return notify.NewTelegramNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.APIBase), nil
	case "webhook":
		return notify.NewWebhookNotifier(cfg.Notify.Webhook.URL), nil
	default:
		return nil, fmt.Errorf("unknown notifier %q", cfg.Notify.Kind)
	}
}

func newPoller(cfg *config.Config) *feed.PollClient {
	return feed.NewPollClient(cfg.Poll.BaseURL,
		feed.WithPollAPIKey(cfg.Poll.APIKey),
		feed.WithPollTimeout(cfg.Poll.Timeout),
		feed.WithPollMaxRetries(cfg.Poll.MaxRetries),
	)
}

func feedConfig(cfg *config.Config) feed.Config {
	return feed.Config{
		URL:               cfg.Feed.URL,
		APIKey:            cfg.Feed.APIKey,
		Topic:             cfg.Feed.Topic,
		MaxAttempts:       cfg.Feed.MaxAttempts,
		ReconnectDelay:    cfg.Feed.ReconnectDelay,
		MaxReconnectDelay: cfg.Feed.MaxReconnectDelay,
		PingInterval:      cfg.Feed.PingInterval,
		ReadTimeout:       cfg.Feed.ReadTimeout,
		WriteTimeout:      cfg.Feed.WriteTimeout,
	}
}

func monitorConfig(cfg *config.Config) monitor.Config {
	mc := cfg.Monitor
	return monitor.Config{
		Engine: monitor.EngineConfig{
			CandleWindow:       mc.CandleWindow,
			Interval:           cfg.Candles.Interval,
			FastRefresh:        mc.FastRefresh,
			DefaultRefresh:     mc.DefaultRefresh,
			ProximityThreshold: mc.ProximityThreshold,
			SignalBucket:       mc.SignalBucket,
			IOTimeout:          mc.IOTimeout,
		},
		SummaryInterval:     mc.SummaryInterval,
		SummaryWindow:       mc.SummaryWindow,
		ResubscribeInterval: mc.ResubscribeInterval,
		ResubscribeMinGap:   mc.ResubscribeMinGap,
		PollInterval:        cfg.Poll.Interval,
	}
}

// defaultCall carries the strategy and stop loss applied to calls that do
// not name their own.
func defaultCall(cfg *config.Config) domain.AssetCall {
	strategy, err := domain.ParseStrategy(cfg.Backtest.Strategy)
	if err != nil {
		strategy = domain.StrategyPresets["monitor"]
	}
	return domain.AssetCall{
		Chain:    "solana",
		Strategy: strategy,
		StopLoss: cfg.Backtest.StopLossConfig(),
	}
}

// seedCalls parses the --asset entries.
func seedCalls(cfg *config.Config, o *options) ([]domain.AssetCall, error) {
	base := defaultCall(cfg)
	calls := make([]domain.AssetCall, 0, len(o.assets))
	for _, entry := range o.assets {
		key, symbol, _ := strings.Cut(strings.TrimSpace(entry), ":")
		if key == "" {
			return nil, fmt.Errorf("--asset %q: missing key", entry)
		}
		call := base
		call.AssetKey = key
		call.Symbol = symbol
		call.Chain = o.chain
		call.Destination = o.destination
		calls = append(calls, call)
	}
	return calls, nil
}
