package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// CreateNonce returns a fresh random 32-byte nonce, 0x-hex encoded.
func CreateNonce() (string, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce[:]), nil
}

// BytesToHex encodes b as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexToBytes decodes a hex string with or without the 0x prefix.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// IsValidAddress reports whether s is a 20-byte hex address.
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s) && strings.HasPrefix(strings.ToLower(s), "0x")
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	if !IsValidAddress(a) || !IsValidAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
