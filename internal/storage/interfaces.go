// Package storage defines the persistence contracts shared by the live
// monitor and the backtest runner, and the errors every adapter returns.
package storage

import (
	"context"
	"time"

	"quantbot-core/internal/domain"
)

// CandleSource provides historical OHLCV candles.
type CandleSource interface {
	// Fetch returns candles for an asset within [start, end] (Unix seconds), ordered by timestamp ASC.
	// interval is a label such as "1m", "5m", "15m" or "1h".
	Fetch(ctx context.Context, assetKey, chain string, start, end int64, interval string) ([]domain.Candle, error)
}

// PriceSink accepts observed price updates.
type PriceSink interface {
	// SavePriceUpdate records one update. Duplicate (asset_key, timestamp) pairs are ignored.
	SavePriceUpdate(ctx context.Context, u *domain.PriceUpdate) error
}

// Store is the persistence collaborator of the live monitor.
type Store interface {
	PriceSink

	// SaveAssetCall records a tracking request. Returns ErrDuplicateKey if asset_id exists.
	SaveAssetCall(ctx context.Context, c *domain.AssetCall) error

	// SaveAlertSent records a delivered alert. Returns ErrDuplicateKey if (asset_id, key) exists.
	SaveAlertSent(ctx context.Context, a *domain.AlertRecord) error

	// GetRecentPerformance returns one row per asset called within the trailing window,
	// ordered by call timestamp ASC.
	GetRecentPerformance(ctx context.Context, window time.Duration) ([]*domain.AssetPerformance, error)
}

// ResultJournal stores backtest results.
type ResultJournal interface {
	// Record adds a run. Returns ErrDuplicateKey if run_id exists.
	Record(ctx context.Context, r *domain.BacktestRecord) error

	// GetByRunID retrieves a run. Returns ErrNotFound if not exists.
	GetByRunID(ctx context.Context, runID string) (*domain.BacktestRecord, error)

	// ListByAsset retrieves all runs for an asset, ordered by created_at ASC.
	ListByAsset(ctx context.Context, assetKey string) ([]*domain.BacktestRecord, error)
}
