package clickhouse

import (
	"context"
	"fmt"
	"time"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/idhash"
	"quantbot-core/internal/observability"
	"quantbot-core/internal/storage"
)

// TickStore records price ticks and aggregates them into OHLC candles.
type TickStore struct {
	conn *Conn
}

// NewTickStore creates a new TickStore.
func NewTickStore(conn *Conn) *TickStore {
	return &TickStore{conn: conn}
}

// Compile-time interface checks.
var (
	_ storage.PriceSink    = (*TickStore)(nil)
	_ storage.CandleSource = (*TickStore)(nil)
)

// SavePriceUpdate records one tick. Replays of the same (asset_key, chain,
// timestamp) share a tick_id and collapse when ClickHouse merges parts.
func (s *TickStore) SavePriceUpdate(ctx context.Context, u *domain.PriceUpdate) error {
	if u == nil || u.AssetKey == "" {
		return storage.ErrInvalidInput
	}
	return s.InsertBulk(ctx, []*domain.PriceUpdate{u})
}

// InsertBulk records many ticks in one batch.
func (s *TickStore) InsertBulk(ctx context.Context, updates []*domain.PriceUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_ticks (
			tick_id, asset_key, chain, price, marketcap, timestamp
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, u := range updates {
		err = batch.Append(
			idhash.ComputeTickID(u.AssetKey, u.Chain, u.Timestamp),
			u.AssetKey, u.Chain, u.Price, u.Marketcap, u.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	start := time.Now()
	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "insert_ticks", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// Fetch aggregates ticks within [start, end] into candles of the given
// interval, ordered by timestamp ASC. Buckets without ticks are omitted.
func (s *TickStore) Fetch(ctx context.Context, assetKey, chain string, start, end int64, interval string) ([]domain.Candle, error) {
	step := domain.IntervalSeconds(interval)
	if step == 0 {
		return nil, fmt.Errorf("%w: interval %q", storage.ErrInvalidInput, interval)
	}

	query := `
		SELECT
			intDiv(timestamp, ?) * ? AS bucket,
			argMin(price, timestamp) AS open,
			max(price) AS high,
			min(price) AS low,
			argMax(price, timestamp) AS close
		FROM price_ticks FINAL
		WHERE asset_key = ? AND chain = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY bucket
		ORDER BY bucket ASC
	`

	began := time.Now()
	rows, err := s.conn.Query(ctx, query, step, step, assetKey, chain, start, end)
	observability.RecordDBQuery("clickhouse", "fetch_candles", time.Since(began).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query candles: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// Count returns the number of distinct ticks stored for an asset.
func (s *TickStore) Count(ctx context.Context, assetKey, chain string) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM price_ticks FINAL
		WHERE asset_key = ? AND chain = ?
	`, assetKey, chain).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count ticks: %w", err)
	}
	return n, nil
}

func scanCandles(rows chRows) ([]domain.Candle, error) {
	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return candles, nil
}
