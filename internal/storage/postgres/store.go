package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/observability"
	"quantbot-core/internal/storage"
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	pool *Pool
	now  func() time.Time
}

// NewStore creates a new Store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// SaveAssetCall records a tracking request. Returns ErrDuplicateKey if asset_id exists.
func (s *Store) SaveAssetCall(ctx context.Context, c *domain.AssetCall) error {
	if c == nil || c.AssetID == "" || c.AssetKey == "" {
		return storage.ErrInvalidInput
	}

	strategy, err := json.Marshal(c.Strategy)
	if err != nil {
		return fmt.Errorf("marshal strategy: %w", err)
	}
	stopLoss, err := json.Marshal(c.StopLoss)
	if err != nil {
		return fmt.Errorf("marshal stop loss: %w", err)
	}

	query := `
		INSERT INTO asset_calls (
			asset_id, asset_key, chain, symbol, destination,
			call_price, call_timestamp, strategy, stop_loss
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		c.AssetID, c.AssetKey, c.Chain, c.Symbol, c.Destination,
		c.CallPrice, c.CallTimestamp, strategy, stopLoss,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert asset call: %w", err)
	}
	return nil
}

// GetAssetCall retrieves a call by asset_id. Returns ErrNotFound if not exists.
func (s *Store) GetAssetCall(ctx context.Context, assetID string) (*domain.AssetCall, error) {
	query := `
		SELECT asset_id, asset_key, chain, symbol, destination,
			call_price, call_timestamp, strategy, stop_loss
		FROM asset_calls
		WHERE asset_id = $1
	`

	var c domain.AssetCall
	var strategy, stopLoss []byte
	err := s.pool.QueryRow(ctx, query, assetID).Scan(
		&c.AssetID, &c.AssetKey, &c.Chain, &c.Symbol, &c.Destination,
		&c.CallPrice, &c.CallTimestamp, &strategy, &stopLoss,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset call: %w", err)
	}
	if err := json.Unmarshal(strategy, &c.Strategy); err != nil {
		return nil, fmt.Errorf("unmarshal strategy: %w", err)
	}
	if err := json.Unmarshal(stopLoss, &c.StopLoss); err != nil {
		return nil, fmt.Errorf("unmarshal stop loss: %w", err)
	}
	return &c, nil
}

// SavePriceUpdate records one update. Duplicate (asset_key, timestamp) pairs are ignored.
func (s *Store) SavePriceUpdate(ctx context.Context, u *domain.PriceUpdate) error {
	if u == nil || u.AssetKey == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO price_updates (asset_key, chain, price, marketcap, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_key, timestamp) DO NOTHING
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query, u.AssetKey, u.Chain, u.Price, u.Marketcap, u.Timestamp)
	observability.RecordDBQuery("postgres", "insert_price_update", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("insert price update: %w", err)
	}
	return nil
}

// SaveAlertSent records a delivered alert. Returns ErrDuplicateKey if (asset_id, key) exists.
func (s *Store) SaveAlertSent(ctx context.Context, a *domain.AlertRecord) error {
	if a == nil || a.AlertID == "" || a.AssetID == "" || a.Key == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO alerts_sent (
			alert_id, asset_id, asset_key, kind, alert_key, price, timestamp, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		a.AlertID, a.AssetID, a.AssetKey, string(a.Kind), a.Key, a.Price, a.Timestamp, a.Message,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetRecentPerformance returns one row per asset called within the trailing window,
// ordered by call timestamp ASC.
func (s *Store) GetRecentPerformance(ctx context.Context, window time.Duration) ([]*domain.AssetPerformance, error) {
	query := `
		SELECT
			c.asset_id, c.asset_key, c.chain, c.symbol, c.destination,
			c.call_price, c.call_timestamp,
			COALESCE(last.price, 0),
			COALESCE(peak.price, 0),
			COALESCE(sent.n, 0)
		FROM asset_calls c
		LEFT JOIN LATERAL (
			SELECT u.price FROM price_updates u
			WHERE u.asset_key = c.asset_key AND u.timestamp >= c.call_timestamp
			ORDER BY u.timestamp DESC
			LIMIT 1
		) last ON true
		LEFT JOIN LATERAL (
			SELECT MAX(u.price) AS price FROM price_updates u
			WHERE u.asset_key = c.asset_key AND u.timestamp >= c.call_timestamp
		) peak ON true
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS n FROM alerts_sent a
			WHERE a.asset_id = c.asset_id
		) sent ON true
		WHERE c.call_timestamp >= $1
		ORDER BY c.call_timestamp ASC, c.asset_id ASC
	`

	since := s.now().Add(-window).Unix()
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, since)
	observability.RecordDBQuery("postgres", "recent_performance", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query recent performance: %w", err)
	}
	defer rows.Close()

	return scanPerformance(rows)
}

func scanPerformance(rows pgx.Rows) ([]*domain.AssetPerformance, error) {
	var result []*domain.AssetPerformance
	for rows.Next() {
		var p domain.AssetPerformance
		var alerts int64
		err := rows.Scan(
			&p.AssetID, &p.AssetKey, &p.Chain, &p.Symbol, &p.Destination,
			&p.CallPrice, &p.CallTimestamp,
			&p.LastPrice, &p.PeakPrice, &alerts,
		)
		if err != nil {
			return nil, fmt.Errorf("scan performance row: %w", err)
		}
		p.AlertsSent = int(alerts)
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate performance rows: %w", err)
	}
	return result, nil
}
