package idhash

import (
	"testing"

	"quantbot-core/internal/domain"
)

func TestComputeRunID(t *testing.T) {
	strategy := domain.Strategy{{Percent: 0.5, Target: 2}, {Percent: 0.5, Target: 3}}
	stop := domain.StopLossConfig{Initial: -0.3}

	tests := []struct {
		name    string
		entry   *domain.EntryConfig
		reEntry *domain.ReEntryConfig
	}{
		{name: "immediate entry"},
		{name: "delayed entry", entry: &domain.EntryConfig{InitialEntry: -0.1}},
		{name: "with re-entry", reEntry: &domain.ReEntryConfig{TrailingReEntry: 0.1, MaxReEntries: 1, SizePercent: 0.5}},
	}

	seen := make(map[string]string)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeRunID("So11111111111111111111111111111111111111112", "solana", "5m", 1000, 2000, strategy, stop, tt.entry, tt.reEntry)
			if len(got) != 64 {
				t.Errorf("ComputeRunID() length = %d, want 64", len(got))
			}

			got2 := ComputeRunID("So11111111111111111111111111111111111111112", "solana", "5m", 1000, 2000, strategy, stop, tt.entry, tt.reEntry)
			if got != got2 {
				t.Errorf("ComputeRunID() not deterministic: %s != %s", got, got2)
			}

			if other, ok := seen[got]; ok {
				t.Errorf("ComputeRunID() collision between %q and %q", tt.name, other)
			}
			seen[got] = tt.name
		})
	}
}

func TestComputeTickID(t *testing.T) {
	a := ComputeTickID("mint1", "solana", 1000)
	b := ComputeTickID("mint1", "solana", 1001)
	if len(a) != 64 {
		t.Errorf("ComputeTickID() length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("ComputeTickID() should differ for different timestamps")
	}
	if a != ComputeTickID("mint1", "solana", 1000) {
		t.Error("ComputeTickID() not deterministic")
	}
}
