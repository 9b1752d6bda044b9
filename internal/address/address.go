// Package address validates asset keys for the supported chains.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrUnsupportedChain = errors.New("unsupported chain")
)

// ChainSolana is the default chain.
const ChainSolana = "solana"

// evmChains share 20-byte hex addresses.
var evmChains = map[string]bool{
	"ethereum":  true,
	"base":      true,
	"bsc":       true,
	"arbitrum":  true,
	"optimism":  true,
	"polygon":   true,
	"avalanche": true,
}

// Normalize lowercases the chain and defaults it to solana.
func Normalize(chain string) string {
	chain = strings.ToLower(strings.TrimSpace(chain))
	if chain == "" {
		return ChainSolana
	}
	return chain
}

// Validate checks that key is a well-formed address on chain.
func Validate(chain, key string) error {
	switch c := Normalize(chain); {
	case c == ChainSolana:
		_, err := DecodeSolana(key)
		return err
	case evmChains[c]:
		return validateEVM(key)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChain, chain)
	}
}

// DecodeSolana decodes a base58 public key into its 32 bytes.
func DecodeSolana(key string) ([]byte, error) {
	b, err := base58.Decode(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAddress, key, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: %s decodes to %d bytes, want 32", ErrInvalidAddress, key, len(b))
	}
	return b, nil
}

// IsOnCurve reports whether a Solana key is a point on the ed25519 curve.
// Program derived addresses are off-curve.
func IsOnCurve(key string) bool {
	b, err := DecodeSolana(key)
	if err != nil {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(b)
	return err == nil
}

func validateEVM(key string) error {
	if !strings.HasPrefix(key, "0x") && !strings.HasPrefix(key, "0X") {
		return fmt.Errorf("%w: %s missing 0x prefix", ErrInvalidAddress, key)
	}
	raw := key[2:]
	if len(raw) != 40 {
		return fmt.Errorf("%w: %s has %d hex digits, want 40", ErrInvalidAddress, key, len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAddress, key, err)
	}
	return nil
}
