package address

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		chain   string
		key     string
		wantErr error
	}{
		{"solana mint", "solana", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", nil},
		{"default chain", "", "So11111111111111111111111111111111111111112", nil},
		{"solana bad alphabet", "solana", "0OIl", ErrInvalidAddress},
		{"solana short", "solana", "abc", ErrInvalidAddress},
		{"evm", "ethereum", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", nil},
		{"evm uppercase chain", "BASE", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", nil},
		{"evm no prefix", "ethereum", "A0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ErrInvalidAddress},
		{"evm short", "bsc", "0x1234", ErrInvalidAddress},
		{"evm not hex", "ethereum", "0xZZb86991c6218b36c1d19D4a2e9Eb0cE3606eB48", ErrInvalidAddress},
		{"unknown chain", "tron", "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", ErrUnsupportedChain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.chain, tt.key)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsOnCurve(t *testing.T) {
	var onCurve, offCurve string
	for i := uint64(0); onCurve == "" || offCurve == ""; i++ {
		var seed [8]byte
		binary.LittleEndian.PutUint64(seed[:], i)
		hash := sha256.Sum256(seed[:])
		_, err := new(edwards25519.Point).SetBytes(hash[:])
		if err == nil && onCurve == "" {
			onCurve = base58.Encode(hash[:])
		}
		if err != nil && offCurve == "" {
			offCurve = base58.Encode(hash[:])
		}
	}

	if !IsOnCurve(onCurve) {
		t.Errorf("IsOnCurve(%s) = false, want true", onCurve)
	}
	if IsOnCurve(offCurve) {
		t.Errorf("IsOnCurve(%s) = true, want false", offCurve)
	}
	if IsOnCurve("not-base58") {
		t.Error("IsOnCurve accepted an invalid key")
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(" Solana "); got != "solana" {
		t.Errorf("Normalize = %q", got)
	}
	if got := Normalize(""); got != ChainSolana {
		t.Errorf("Normalize(\"\") = %q", got)
	}
}
