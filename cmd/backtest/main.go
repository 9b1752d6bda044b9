// Package main provides the backtest CLI: it replays candle history through the
// take-profit / stop-loss simulator and journals every run to SQLite.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quantbot-core/internal/address"
	"quantbot-core/internal/config"
	"quantbot-core/internal/domain"
	"quantbot-core/internal/logger"
	"quantbot-core/internal/metrics"
	"quantbot-core/internal/observability"
	"quantbot-core/internal/simulation"
	"quantbot-core/internal/storage"
	"quantbot-core/internal/storage/clickhouse"
	"quantbot-core/internal/storage/httpcandles"
	"quantbot-core/internal/storage/sqlite"
)

type rootOptions struct {
	configPath string
	logLevel   string
	journal    string
}

type runOptions struct {
	assets        []string
	chain         string
	interval      string
	start         string
	end           string
	lookback      time.Duration
	strategy      string
	stopLoss      float64
	trailing      float64
	activation    float64
	initialEntry  float64
	trailingEntry float64
	maxWait       time.Duration
	reEntry       float64
	maxReEntries  int
	reEntrySize   float64
	resetTrailing bool
	source        string
	outputJSON    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	ro := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "backtest",
		Short:         "Simulate take-profit ladders over historical candles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&ro.configPath, "config", "", "Path to config file (default configs/config.yaml)")
	cmd.PersistentFlags().StringVar(&ro.logLevel, "log-level", "", "Override log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&ro.journal, "journal", "", "SQLite journal path (default storage.sqlite_path)")

	cmd.AddCommand(newRunCmd(ro), newJournalCmd(ro))
	return cmd
}

func loadConfig(ro *rootOptions) (*config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(ro.configPath)
	if err != nil {
		return nil, nil, err
	}
	if ro.logLevel != "" {
		cfg.Log.Level = ro.logLevel
	}
	if ro.journal != "" {
		cfg.Storage.SQLitePath = ro.journal
	}
	return cfg, logger.New(cfg.Log).Entry(), nil
}

func newRunCmd(ro *rootOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Backtest one or more assets",
		Long: `Fetch candles for each asset and run the simulator.

Strategies are a preset name (monitor, conservative, balanced, moonbag) or
an explicit ladder "percent@target,...", e.g. "0.5@2,0.3@3,0.2@5".

Examples:
  backtest run --asset <mint> --lookback 72h
  backtest run --asset <mint1> --asset <mint2> --strategy 0.5@2,0.5@4 --trailing 0.2 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(cmd.Context(), ro, o)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&o.assets, "asset", nil, "Asset address to backtest (repeatable)")
	f.StringVar(&o.chain, "chain", "solana", "Chain of the assets")
	f.StringVar(&o.interval, "interval", "", "Candle interval (default backtest.interval)")
	f.StringVar(&o.start, "start", "", "Window start, RFC3339 or Unix seconds")
	f.StringVar(&o.end, "end", "", "Window end, RFC3339 or Unix seconds (default now)")
	f.DurationVar(&o.lookback, "lookback", 24*time.Hour, "Window length when --start is not set")
	f.StringVar(&o.strategy, "strategy", "", "Preset name or percent@target ladder (default backtest.strategy)")
	f.Float64Var(&o.stopLoss, "stop-loss", 0, "Initial stop as a negative fraction of entry (default backtest.stop_loss)")
	f.Float64Var(&o.trailing, "trailing", 0, "Trailing stop fraction below the peak")
	f.Float64Var(&o.activation, "trailing-activation", 0, "Entry multiple that arms the trailing stop")
	f.Float64Var(&o.initialEntry, "initial-entry", 0, "Wait for a dip of this negative fraction before entering")
	f.Float64Var(&o.trailingEntry, "trailing-entry", 0, "Enter on a rebound of this fraction above the low")
	f.DurationVar(&o.maxWait, "max-wait", 0, "Maximum entry wait")
	f.Float64Var(&o.reEntry, "re-entry", 0, "Re-enter on a rebound of this fraction after a stop")
	f.IntVar(&o.maxReEntries, "max-re-entries", 0, "Maximum re-entries per run")
	f.Float64Var(&o.reEntrySize, "re-entry-size", 1, "Re-entry size as a fraction of the original position")
	f.BoolVar(&o.resetTrailing, "reset-trailing", false, "Restart the trailing peak at each re-entry")
	f.StringVar(&o.source, "source", "", "Candle source: http|clickhouse (default candles.source)")
	f.BoolVar(&o.outputJSON, "json", false, "Print results as JSON")
	_ = cmd.MarkFlagRequired("asset")
	return cmd
}

func runBacktest(ctx context.Context, ro *rootOptions, o *runOptions) error {
	cfg, log, err := loadConfig(ro)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reqs, err := buildRequests(cfg, o, time.Now())
	if err != nil {
		return err
	}

	source := cfg.Candles.Source
	if o.source != "" {
		source = o.source
	}
	candles, closeCandles, err := createCandleSource(ctx, cfg, source)
	if err != nil {
		return err
	}
	defer closeCandles()

	var journal storage.ResultJournal
	if cfg.Storage.SQLitePath != "" {
		j, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
	}

	runner := simulation.NewRunner(simulation.RunnerOptions{
		CandleSource: candles,
		Journal:      journal,
		Logger:       log,
	})

	start := time.Now()
	results, summary, err := runner.RunBatch(ctx, reqs)
	status := "ok"
	if err != nil {
		status = "error"
	}
	for _, bt := range results {
		observability.RecordBacktest(status, bt.Result.FinalPnl)
	}
	if err != nil {
		observability.RecordBacktest(status, 0)
		return err
	}
	log.WithFields(logrus.Fields{
		"runs":     len(results),
		"requests": len(reqs),
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("batch complete")

	if o.outputJSON {
		return printJSON(results, summary)
	}
	for _, bt := range results {
		printBacktest(bt)
	}
	printSummary(summary)
	return nil
}

// buildRequests merges flags over the backtest config section.
func buildRequests(cfg *config.Config, o *runOptions, now time.Time) ([]simulation.BacktestRequest, error) {
	strategySpec := cfg.Backtest.Strategy
	if o.strategy != "" {
		strategySpec = o.strategy
	}
	strategy, err := domain.ParseStrategy(strategySpec)
	if err != nil {
		return nil, err
	}

	interval := cfg.Backtest.Interval
	if o.interval != "" {
		interval = o.interval
	}

	stopLoss := cfg.Backtest.StopLossConfig()
	if o.stopLoss != 0 {
		stopLoss.Initial = o.stopLoss
	}
	if o.trailing != 0 {
		stopLoss.Trailing = o.trailing
	}
	if o.activation != 0 {
		stopLoss.TrailingActivation = o.activation
	}

	end := now.Unix()
	if o.end != "" {
		if end, err = parseTime(o.end); err != nil {
			return nil, fmt.Errorf("--end: %w", err)
		}
	}
	start := end - int64(o.lookback/time.Second)
	if o.start != "" {
		if start, err = parseTime(o.start); err != nil {
			return nil, fmt.Errorf("--start: %w", err)
		}
	}

	var entry *domain.EntryConfig
	if o.initialEntry != 0 || o.trailingEntry != 0 {
		entry = &domain.EntryConfig{
			InitialEntry:   o.initialEntry,
			TrailingEntry:  o.trailingEntry,
			MaxWaitSeconds: int64(o.maxWait / time.Second),
		}
	}
	var reEntry *domain.ReEntryConfig
	if o.maxReEntries > 0 {
		reEntry = &domain.ReEntryConfig{
			TrailingReEntry:        o.reEntry,
			MaxReEntries:           o.maxReEntries,
			SizePercent:            o.reEntrySize,
			ResetTrailingReference: o.resetTrailing,
		}
	}

	chain := address.Normalize(o.chain)
	reqs := make([]simulation.BacktestRequest, 0, len(o.assets))
	for _, asset := range o.assets {
		asset = strings.TrimSpace(asset)
		if err := address.Validate(chain, asset); err != nil {
			return nil, err
		}
		reqs = append(reqs, simulation.BacktestRequest{
			AssetKey: asset,
			Chain:    chain,
			Start:    start,
			End:      end,
			Interval: interval,
			Strategy: strategy,
			StopLoss: stopLoss,
			Entry:    entry,
			ReEntry:  reEntry,
		})
	}
	return reqs, nil
}

// parseTime accepts RFC3339 or Unix seconds.
func parseTime(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (want RFC3339 or Unix seconds)", s)
	}
	return t.Unix(), nil
}

// createCandleSource opens the configured candle source.
func createCandleSource(ctx context.Context, cfg *config.Config, source string) (storage.CandleSource, func(), error) {
	switch source {
	case "clickhouse":
		if cfg.Storage.ClickhouseDSN == "" {
			return nil, nil, fmt.Errorf("storage.clickhouse_dsn is required for the clickhouse candle source")
		}
		conn, err := clickhouse.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return nil, nil, err
		}
		return clickhouse.NewTickStore(conn), func() { conn.Close() }, nil
	case "http", "":
		client := httpcandles.New(cfg.Candles.BaseURL,
			httpcandles.WithAPIKey(cfg.Candles.APIKey),
			httpcandles.WithTimeout(cfg.Candles.Timeout),
			httpcandles.WithMaxRetries(cfg.Candles.MaxRetries),
		)
		return client, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown candle source %q", source)
	}
}

type jsonOutput struct {
	Runs    []jsonRun        `json:"runs"`
	Summary *metrics.Summary `json:"summary"`
}

type jsonRun struct {
	RunID    string                   `json:"run_id"`
	Asset    string                   `json:"asset"`
	Chain    string                   `json:"chain"`
	Interval string                   `json:"interval"`
	Start    int64                    `json:"start"`
	End      int64                    `json:"end"`
	Strategy string                   `json:"strategy"`
	StopLoss domain.StopLossConfig    `json:"stop_loss"`
	Result   *domain.SimulationResult `json:"result"`
}

func printJSON(results []*simulation.Backtest, summary *metrics.Summary) error {
	out := jsonOutput{Summary: summary, Runs: make([]jsonRun, 0, len(results))}
	for _, bt := range results {
		out.Runs = append(out.Runs, jsonRun{
			RunID:    bt.RunID,
			Asset:    bt.Request.AssetKey,
			Chain:    bt.Request.Chain,
			Interval: bt.Request.Interval,
			Start:    bt.Request.Start,
			End:      bt.Request.End,
			Strategy: bt.Request.Strategy.String(),
			StopLoss: bt.Request.StopLoss,
			Result:   bt.Result,
		})
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printBacktest(bt *simulation.Backtest) {
	r := bt.Result
	fmt.Println()
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Run ID:             %s\n", bt.RunID)
	fmt.Printf("Asset:              %s (%s)\n", bt.Request.AssetKey, bt.Request.Chain)
	fmt.Printf("Window:             %s -> %s (%s)\n",
		time.Unix(bt.Request.Start, 0).UTC().Format(time.RFC3339),
		time.Unix(bt.Request.End, 0).UTC().Format(time.RFC3339),
		bt.Request.Interval)
	fmt.Printf("Strategy:           %s\n", bt.Request.Strategy)
	fmt.Println()

	fmt.Println("Entry:")
	if r.EntryTimestamp > 0 {
		fmt.Printf("  Time:             %s\n", time.Unix(r.EntryTimestamp, 0).UTC().Format(time.RFC3339))
		fmt.Printf("  Price:            %.8f\n", r.EntryPrice)
		fmt.Printf("  Lowest Before:    %.2f%%\n", r.EntryOptimization.LowestPricePercent*100)
	} else {
		fmt.Println("  not entered")
	}
	fmt.Println()

	fmt.Println("Events:")
	for _, e := range r.Events {
		fmt.Printf("  %s  %-16s price=%.8f pnl=%.4f\n",
			time.Unix(e.Timestamp, 0).UTC().Format(time.RFC3339), e.Type, e.Price, e.PnL)
	}
	fmt.Println()

	fmt.Println("Result:")
	fmt.Printf("  Candles:          %d\n", r.TotalCandles)
	fmt.Printf("  Targets Hit:      %d\n", r.TargetsHit)
	fmt.Printf("  Re-entries:       %d\n", r.ReEntries)
	fmt.Printf("  Final PnL:        %.4fx (%+.2f%%)\n", r.FinalPnl, (r.FinalPnl-1)*100)
}

func printSummary(s *metrics.Summary) {
	if s == nil {
		return
	}
	fmt.Println()
	fmt.Println("=== Summary ===")
	fmt.Printf("Runs:               %d\n", s.Count)
	fmt.Printf("Win Rate:           %.1f%% (%d/%d)\n", s.WinRate*100, s.Wins, s.Count)
	fmt.Printf("Outcome Mean:       %+.2f%%\n", s.OutcomeMean*100)
	fmt.Printf("Outcome Median:     %+.2f%%\n", s.OutcomeMedian*100)
	fmt.Printf("Outcome P10/P90:    %+.2f%% / %+.2f%%\n", s.OutcomeP10*100, s.OutcomeP90*100)
	fmt.Printf("Max Drawdown:       %.2f%%\n", s.MaxDrawdown*100)
	fmt.Printf("Max Loss Streak:    %d\n", s.MaxConsecutiveLosses)
	if s.Best != "" {
		fmt.Printf("Best / Worst:       %s / %s\n", s.Best, s.Worst)
	}
}

func newJournalCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query journaled backtest runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run <run-id>",
		Short: "Show one journaled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(ro, func(j *sqlite.Journal) error {
				rec, err := j.GetByRunID(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("get run: %w", err)
				}
				printRecords([]*domain.BacktestRecord{rec})
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "asset <address>",
		Short: "List journaled runs for an asset, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(ro, func(j *sqlite.Journal) error {
				recs, err := j.ListByAsset(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				printRecords(recs)
				return nil
			})
		},
	})
	return cmd
}

func withJournal(ro *rootOptions, f func(*sqlite.Journal) error) error {
	cfg, _, err := loadConfig(ro)
	if err != nil {
		return err
	}
	if cfg.Storage.SQLitePath == "" {
		return fmt.Errorf("no journal configured (set --journal or storage.sqlite_path)")
	}
	j, err := sqlite.Open(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()
	return f(j)
}

func printRecords(recs []*domain.BacktestRecord) {
	if len(recs) == 0 {
		fmt.Println("no runs")
		return
	}
	fmt.Printf("%-14s %-10s %-8s %-26s %8s %6s %s\n", "RUN", "ASSET", "INTERVAL", "STRATEGY", "PNL", "HITS", "CREATED")
	for _, r := range recs {
		fmt.Printf("%-14s %-10s %-8s %-26s %8.4f %6d %s\n",
			shorten(r.RunID, 12), shorten(r.AssetKey, 8), r.Interval, r.Strategy,
			r.FinalPnl, r.TargetsHit, time.Unix(r.CreatedAt, 0).UTC().Format(time.RFC3339))
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
