// Package evm implements the x402 "exact" scheme on EVM chains: EIP-3009
// transferWithAuthorization messages signed as EIP-712 typed data.
package evm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	x402 "github.com/pinion-os/x402-go"
)

// DefaultValidAfterBuffer backdates validAfter to tolerate clock drift
// between payer and verifier.
const DefaultValidAfterBuffer = 10 * time.Minute

// DefaultMaxTimeoutSeconds is used when a requirement carries no timeout.
const DefaultMaxTimeoutSeconds = 600

// ExactEvmScheme creates signed exact-scheme payloads for a payer.
type ExactEvmScheme struct {
	signer           ClientSigner
	now              func() time.Time
	validAfterBuffer time.Duration
}

// SchemeOption configures an ExactEvmScheme.
type SchemeOption func(*ExactEvmScheme)

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchemeOption {
	return func(s *ExactEvmScheme) {
		s.now = now
	}
}

// WithValidAfterBuffer overrides how far validAfter is backdated.
func WithValidAfterBuffer(d time.Duration) SchemeOption {
	return func(s *ExactEvmScheme) {
		s.validAfterBuffer = d
	}
}

// NewExactEvmScheme creates a scheme bound to signer. A nil signer is
// accepted; payload creation then fails with x402.ErrNoSigner.
func NewExactEvmScheme(signer ClientSigner, opts ...SchemeOption) *ExactEvmScheme {
	s := &ExactEvmScheme{
		signer:           signer,
		now:              time.Now,
		validAfterBuffer: DefaultValidAfterBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scheme returns the scheme identifier
func (s *ExactEvmScheme) Scheme() string {
	return x402.SchemeExact
}

// Address returns the payer address, or "" without a signer.
func (s *ExactEvmScheme) Address() string {
	if s.signer == nil {
		return ""
	}
	return s.signer.Address()
}

// CreatePaymentPayload signs an authorization paying requirements in full.
// x402Version, scheme and network are echoed from the challenge.
func (s *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	x402Version int,
	requirements x402.PaymentRequirements,
) (x402.PaymentPayload, error) {
	if s.signer == nil {
		return x402.PaymentPayload{}, x402.ErrNoSigner
	}
	if x402Version != x402.ProtocolVersion {
		return x402.PaymentPayload{}, fmt.Errorf("unsupported x402 version %d", x402Version)
	}
	if requirements.Scheme != x402.SchemeExact {
		return x402.PaymentPayload{}, fmt.Errorf("unsupported scheme %q", requirements.Scheme)
	}
	if requirements.MaxTimeoutSeconds <= 0 {
		requirements.MaxTimeoutSeconds = DefaultMaxTimeoutSeconds
	}
	if err := requirements.Validate(); err != nil {
		return x402.PaymentPayload{}, err
	}

	domain, err := AuthorizationDomain(requirements)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	nonce, err := CreateNonce()
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	now := s.now().Unix()
	validAfter := now - int64(s.validAfterBuffer/time.Second)
	if validAfter < 0 {
		validAfter = 0
	}
	validBefore := now + int64(requirements.MaxTimeoutSeconds)

	authorization := x402.Authorization{
		From:        s.signer.Address(),
		To:          requirements.PayTo,
		Value:       requirements.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(validAfter, 10),
		ValidBefore: strconv.FormatInt(validBefore, 10),
		Nonce:       nonce,
	}

	message, err := AuthorizationMessage(authorization)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	signature, err := s.signer.SignTypedData(ctx, domain, TransferWithAuthorizationTypes(), PrimaryTypeTransferWithAuthorization, message)
	if err != nil {
		if errors.Is(err, x402.ErrSignatureRejected) {
			return x402.PaymentPayload{}, err
		}
		return x402.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	return x402.PaymentPayload{
		X402Version: x402Version,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload: x402.ExactEvmPayload{
			Signature:     BytesToHex(signature),
			Authorization: authorization,
		},
	}, nil
}
