package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/idhash"
	"quantbot-core/internal/logger"
	"quantbot-core/internal/metrics"
	"quantbot-core/internal/storage"
)

// Runner errors
var (
	ErrNoData          = errors.New("no candle data available")
	ErrInvalidStrategy = errors.New("invalid strategy")
)

// BacktestRequest describes one simulation run.
type BacktestRequest struct {
	AssetKey string
	Chain    string
	Start    int64 // Unix seconds
	End      int64 // Unix seconds
	Interval string
	Strategy domain.Strategy
	StopLoss domain.StopLossConfig
	Entry    *domain.EntryConfig
	ReEntry  *domain.ReEntryConfig
}

// Validate checks the request and its strategy configs.
func (r *BacktestRequest) Validate() error {
	if r.AssetKey == "" {
		return fmt.Errorf("%w: asset key is required", storage.ErrInvalidInput)
	}
	if r.End <= r.Start {
		return fmt.Errorf("%w: end %d must be after start %d", storage.ErrInvalidInput, r.End, r.Start)
	}
	if domain.IntervalSeconds(r.Interval) == 0 {
		return fmt.Errorf("%w: unknown interval %q", storage.ErrInvalidInput, r.Interval)
	}
	for _, err := range []error{
		r.Strategy.Validate(),
		r.StopLoss.Validate(),
		r.Entry.Validate(),
		r.ReEntry.Validate(),
	} {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidStrategy, err)
		}
	}
	return nil
}

// RunID returns the deterministic id of the request.
func (r *BacktestRequest) RunID() string {
	return idhash.ComputeRunID(r.AssetKey, r.Chain, r.Interval, r.Start, r.End, r.Strategy, r.StopLoss, r.Entry, r.ReEntry)
}

// Backtest is the outcome of one Runner.Run.
type Backtest struct {
	RunID   string
	Request BacktestRequest
	Result  *domain.SimulationResult
}

// Runner executes simulations over candles from a CandleSource.
type Runner struct {
	candles storage.CandleSource
	journal storage.ResultJournal
	log     *logrus.Entry
	now     func() time.Time
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	CandleSource storage.CandleSource
	Journal      storage.ResultJournal // optional
	Logger       *logrus.Entry         // optional
}

// NewRunner creates a simulation runner.
func NewRunner(opts RunnerOptions) *Runner {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{
		candles: opts.CandleSource,
		journal: opts.Journal,
		log:     log.WithField("component", "backtest"),
		now:     time.Now,
	}
}

// Run executes a simulation for one request.
// Steps:
//  1. Validate request and strategy
//  2. Fetch candles (any failure or an empty window is ErrNoData)
//  3. Simulate
//  4. Journal the result when a journal is configured
func (r *Runner) Run(ctx context.Context, req BacktestRequest) (*Backtest, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	candles, err := r.candles.Fetch(ctx, req.AssetKey, req.Chain, req.Start, req.End, req.Interval)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoData, err)
	}
	if len(candles) == 0 {
		return nil, ErrNoData
	}

	result := Simulate(candles, req.Strategy, req.StopLoss, req.Entry, req.ReEntry)
	bt := &Backtest{
		RunID:   req.RunID(),
		Request: req,
		Result:  result,
	}

	r.log.WithFields(logrus.Fields{
		"asset":       req.AssetKey,
		"run_id":      bt.RunID[:12],
		"candles":     result.TotalCandles,
		"events":      len(result.Events),
		"final_pnl":   result.FinalPnl,
		"targets_hit": result.TargetsHit,
	}).Info("backtest complete")

	if r.journal != nil {
		rec := domain.NewBacktestRecord(bt.RunID, req.AssetKey, req.Chain, req.Interval, req.Start, req.End,
			req.Strategy, req.StopLoss, result, r.now().Unix())
		if err := r.journal.Record(ctx, rec); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return bt, fmt.Errorf("journal backtest: %w", err)
		}
	}

	return bt, nil
}

// RunBatch runs every request and summarizes the successful ones.
// Failed requests are logged and skipped; the error is non-nil only when
// every request failed or ctx was cancelled.
func (r *Runner) RunBatch(ctx context.Context, reqs []BacktestRequest) ([]*Backtest, *metrics.Summary, error) {
	var (
		out     []*Backtest
		records []*domain.BacktestRecord
		errs    []error
	)
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return out, nil, err
		}
		bt, err := r.Run(ctx, req)
		if err != nil {
			r.log.WithError(err).WithField("asset", req.AssetKey).Warn("backtest failed")
			errs = append(errs, fmt.Errorf("%s: %w", req.AssetKey, err))
			if bt == nil {
				continue
			}
		}
		out = append(out, bt)
		records = append(records, domain.NewBacktestRecord(bt.RunID, req.AssetKey, req.Chain, req.Interval,
			req.Start, req.End, req.Strategy, req.StopLoss, bt.Result, 0))
	}

	if len(out) == 0 && len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return out, metrics.FromBacktests(records), nil
}
