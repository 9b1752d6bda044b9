package memory

import (
	"context"
	"errors"
	"testing"

	"quantbot-core/internal/domain"
	"quantbot-core/internal/storage"
)

func TestCandleStore_PutAndFetch(t *testing.T) {
	store := NewCandleStore()
	ctx := context.Background()

	candles := []domain.Candle{
		{Timestamp: 600, Close: 3},
		{Timestamp: 0, Close: 1},
		{Timestamp: 300, Close: 2},
	}
	if err := store.Put("mint1", "solana", "5m", candles); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// replaces timestamp 300
	if err := store.Put("mint1", "solana", "5m", []domain.Candle{{Timestamp: 300, Close: 2.5}}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Fetch(ctx, "mint1", "solana", 0, 300, "5m")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(got))
	}
	if got[0].Timestamp != 0 || got[1].Close != 2.5 {
		t.Errorf("unexpected candles: %+v", got)
	}

	other, err := store.Fetch(ctx, "mint1", "solana", 0, 600, "1m")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no candles for other interval, got %d", len(other))
	}
}

func TestCandleStore_InvalidInterval(t *testing.T) {
	store := NewCandleStore()
	err := store.Put("mint1", "solana", "7m", nil)
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResultJournal(t *testing.T) {
	j := NewResultJournal()
	ctx := context.Background()

	if err := j.Record(ctx, &domain.BacktestRecord{RunID: "r2", AssetKey: "m", CreatedAt: 20}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := j.Record(ctx, &domain.BacktestRecord{RunID: "r1", AssetKey: "m", CreatedAt: 10}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := j.Record(ctx, &domain.BacktestRecord{RunID: "r1"}); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	if _, err := j.GetByRunID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, err := j.ListByAsset(ctx, "m")
	if err != nil {
		t.Fatalf("ListByAsset failed: %v", err)
	}
	if len(list) != 2 || list[0].RunID != "r1" {
		t.Errorf("unexpected list order: %+v", list)
	}
}
