package storage

import "errors"

// Sentinel errors shared by every adapter. Wrap them with %w.
var (
	// ErrNotFound is returned for a missing asset call, cached price or backtest run.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when an asset id, alert key or run id is already stored.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when a request is rejected before it reaches a backend.
	ErrInvalidInput = errors.New("invalid input")
)
