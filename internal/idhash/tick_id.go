package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTickID computes a deterministic tick_id using SHA256.
// Formula: SHA256(asset_key|chain|timestamp)
// Returns hex-encoded hash (64 characters).
func ComputeTickID(assetKey, chain string, timestamp int64) string {
	data := fmt.Sprintf("%s|%s|%d", assetKey, chain, timestamp)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
