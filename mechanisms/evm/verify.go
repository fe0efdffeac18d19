package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/pinion-os/x402-go"
)

// RecoverSigner returns the address that produced the payload's signature
// over its authorization, using the domain described by requirements.
func RecoverSigner(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (common.Address, error) {
	digest, err := HashAuthorization(payload.Payload.Authorization, requirements)
	if err != nil {
		return common.Address{}, err
	}

	sig, err := HexToBytes(payload.Payload.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}

	// crypto.SigToPub wants v in {0, 1}
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether the payload was signed by its
// authorization.from address.
func VerifySignature(payload x402.PaymentPayload, requirements x402.PaymentRequirements) (bool, error) {
	from := payload.Payload.Authorization.From
	if !IsValidAddress(from) {
		return false, fmt.Errorf("invalid from address: %s", from)
	}
	signer, err := RecoverSigner(payload, requirements)
	if err != nil {
		return false, err
	}
	return signer == common.HexToAddress(from), nil
}
