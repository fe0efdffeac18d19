// Package evm provides private-key backed signers for the EVM exact scheme.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402evm "github.com/pinion-os/x402-go/mechanisms/evm"
)

// PrivateKeySigner implements x402evm.ClientSigner using an ECDSA private key.
type PrivateKeySigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewPrivateKeySigner creates a signer from a hex-encoded private key, with
// or without the 0x prefix.
//
// Example:
//
//	signer, err := evm.NewPrivateKeySigner(os.Getenv("PRIVATE_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	scheme := x402evm.NewExactEvmScheme(signer)
func NewPrivateKeySigner(privateKeyHex string) (*PrivateKeySigner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, fmt.Errorf("private key is empty")
	}

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewPrivateKeySignerFromECDSA(privateKey), nil
}

// NewPrivateKeySignerFromECDSA wraps an existing key.
func NewPrivateKeySignerFromECDSA(privateKey *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Address returns the checksummed address of the signer.
func (s *PrivateKeySigner) Address() string {
	return s.address.Hex()
}

// SignTypedData hashes the typed data per EIP-712 and returns a 65-byte
// signature with v in {27, 28}.
func (s *PrivateKeySigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]any,
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// recovery id 0/1 -> 27/28
	signature[64] += 27
	return signature, nil
}

var _ x402evm.ClientSigner = (*PrivateKeySigner)(nil)
