package evm

import (
	"context"
	"math/big"
)

// TypedDataDomain is the EIP-712 domain separator.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// TypedDataField is one member of an EIP-712 struct type.
type TypedDataField struct {
	Name string
	Type string
}

// ClientSigner is the payer's signing capability.
//
// SignTypedData returns a 65-byte (r, s, v) signature. Implementations that
// front a wallet should return an error wrapping x402.ErrSignatureRejected
// when the user declines.
type ClientSigner interface {
	Address() string
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]any,
	) ([]byte, error)
}
