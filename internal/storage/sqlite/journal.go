// Package sqlite journals backtest results in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

// Schema is applied on open.
const Schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id              TEXT PRIMARY KEY,
	asset_key           TEXT NOT NULL,
	chain               TEXT NOT NULL,
	interval            TEXT NOT NULL,
	start_time          INTEGER NOT NULL,
	end_time            INTEGER NOT NULL,
	strategy            TEXT NOT NULL,
	stop_initial        REAL NOT NULL,
	stop_trailing       REAL NOT NULL,
	trailing_activation REAL NOT NULL,
	final_pnl           REAL NOT NULL,
	targets_hit         INTEGER NOT NULL,
	re_entries          INTEGER NOT NULL,
	event_count         INTEGER NOT NULL,
	entry_price         REAL NOT NULL,
	lowest_pct          REAL NOT NULL,
	created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_runs_asset ON backtest_runs (asset_key, created_at);
`

// Journal implements storage.ResultJournal on SQLite.
type Journal struct {
	db *sql.DB
}

// Compile-time interface check.
var _ storage.ResultJournal = (*Journal)(nil)

// Open opens (or creates) the journal at path and applies the schema.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record adds a run. Returns ErrDuplicateKey if run_id exists.
func (j *Journal) Record(ctx context.Context, r *domain.BacktestRecord) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (
			run_id, asset_key, chain, interval, start_time, end_time, strategy,
			stop_initial, stop_trailing, trailing_activation,
			final_pnl, targets_hit, re_entries, event_count, entry_price, lowest_pct, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.AssetKey, r.Chain, r.Interval, r.StartTime, r.EndTime, r.Strategy,
		r.StopLoss.Initial, r.StopLoss.Trailing, r.StopLoss.TrailingActivation,
		r.FinalPnl, r.TargetsHit, r.ReEntries, r.EventCount, r.EntryPrice, r.LowestPct, r.CreatedAt,
	)
	if err != nil {
		if isConstraintError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backtest run: %w", err)
	}
	return nil
}

const selectColumns = `
	run_id, asset_key, chain, interval, start_time, end_time, strategy,
	stop_initial, stop_trailing, trailing_activation,
	final_pnl, targets_hit, re_entries, event_count, entry_price, lowest_pct, created_at`

// GetByRunID retrieves a run. Returns ErrNotFound if not exists.
func (j *Journal) GetByRunID(ctx context.Context, runID string) (*domain.BacktestRecord, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM backtest_runs WHERE run_id = ?`, runID)
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backtest run: %w", err)
	}
	return r, nil
}

// ListByAsset retrieves all runs for an asset, ordered by created_at ASC.
func (j *Journal) ListByAsset(ctx context.Context, assetKey string) ([]*domain.BacktestRecord, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM backtest_runs
		WHERE asset_key = ?
		ORDER BY created_at ASC, run_id ASC`, assetKey)
	if err != nil {
		return nil, fmt.Errorf("list backtest runs: %w", err)
	}
	defer rows.Close()

	var result []*domain.BacktestRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backtest run: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*domain.BacktestRecord, error) {
	var r domain.BacktestRecord
	err := s.Scan(
		&r.RunID, &r.AssetKey, &r.Chain, &r.Interval, &r.StartTime, &r.EndTime, &r.Strategy,
		&r.StopLoss.Initial, &r.StopLoss.Trailing, &r.StopLoss.TrailingActivation,
		&r.FinalPnl, &r.TargetsHit, &r.ReEntries, &r.EventCount, &r.EntryPrice, &r.LowestPct, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
