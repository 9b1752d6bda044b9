package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"quantbot-core/internal/domain"
)

// ComputeRunID computes a deterministic backtest run_id using SHA256.
// Formula: SHA256(asset_key|chain|interval|start|end|strategy|stop_loss|entry|re_entry)
// Returns hex-encoded hash (64 characters).
func ComputeRunID(
	assetKey string,
	chain string,
	interval string,
	start, end int64,
	strategy domain.Strategy,
	stopLoss domain.StopLossConfig,
	entry *domain.EntryConfig,
	reEntry *domain.ReEntryConfig,
) string {
	entryStr := ""
	if entry != nil {
		entryStr = fmt.Sprintf("%g/%g/%d", entry.InitialEntry, entry.TrailingEntry, entry.MaxWaitSeconds)
	}
	reEntryStr := ""
	if reEntry != nil {
		reEntryStr = fmt.Sprintf("%g/%d/%g/%t", reEntry.TrailingReEntry, reEntry.MaxReEntries, reEntry.SizePercent, reEntry.ResetTrailingReference)
	}

	data := fmt.Sprintf("%s|%s|%s|%d|%d|%s|%g/%g/%g|%s|%s",
		assetKey,
		chain,
		interval,
		start,
		end,
		strategy.String(),
		stopLoss.Initial, stopLoss.Trailing, stopLoss.TrailingActivation,
		entryStr,
		reEntryStr,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
