package x402

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// ProtocolVersion is the x402 wire version spoken by this module.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme supported: pay exactly the
// required amount through an EIP-3009 transferWithAuthorization.
const SchemeExact = "exact"

// Header names used on the wire.
const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// Network identifies a chain, either by legacy name ("base") or in CAIP-2
// form ("eip155:8453").
type Network string

// Parse splits a CAIP-2 network into namespace and reference.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match reports whether the network equals pattern, where pattern may be a
// namespace wildcard such as "eip155:*".
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	p := string(pattern)
	if strings.HasSuffix(p, ":*") {
		return strings.HasPrefix(string(n), strings.TrimSuffix(p, "*"))
	}
	return false
}

// PaymentExtra carries the token's EIP-712 domain fields.
type PaymentExtra struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// PaymentRequirements describes one acceptable way to pay for a resource.
type PaymentRequirements struct {
	Scheme            string        `json:"scheme"`
	Network           Network       `json:"network"`
	MaxAmountRequired string        `json:"maxAmountRequired"`
	Resource          string        `json:"resource"`
	Description       string        `json:"description"`
	MimeType          string        `json:"mimeType"`
	PayTo             string        `json:"payTo"`
	MaxTimeoutSeconds int           `json:"maxTimeoutSeconds"`
	Asset             string        `json:"asset"`
	OutputSchema      any           `json:"outputSchema,omitempty"`
	Extra             *PaymentExtra `json:"extra,omitempty"`
}

// Validate checks the structural invariants of a requirement.
func (r PaymentRequirements) Validate() error {
	switch {
	case r.Scheme == "":
		return errors.New("x402: requirement scheme is required")
	case r.Network == "":
		return errors.New("x402: requirement network is required")
	case r.PayTo == "":
		return ErrMissingRecipient
	case r.Asset == "":
		return errors.New("x402: requirement asset is required")
	case r.MaxTimeoutSeconds <= 0:
		return fmt.Errorf("x402: maxTimeoutSeconds must be positive, got %d", r.MaxTimeoutSeconds)
	}
	if _, err := ParseUint256(r.MaxAmountRequired); err != nil {
		return fmt.Errorf("x402: invalid maxAmountRequired: %w", err)
	}
	return nil
}

// PaymentRequired is the JSON body of a 402 response.
type PaymentRequired struct {
	X402Version   int                   `json:"x402Version"`
	Error         string                `json:"error,omitempty"`
	InvalidReason string                `json:"invalidReason,omitempty"`
	Payer         string                `json:"payer,omitempty"`
	Accepts       []PaymentRequirements `json:"accepts"`
}

// Validate rejects a challenge that offers no way to pay.
func (p PaymentRequired) Validate() error {
	if len(p.Accepts) == 0 {
		return errors.New("x402: payment required response has no accepted requirements")
	}
	return nil
}

// Authorization is the EIP-3009 TransferWithAuthorization message.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEvmPayload is the scheme-specific part of a payment payload.
type ExactEvmPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// PaymentPayload is the envelope carried in the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     Network         `json:"network"`
	Payload     ExactEvmPayload `json:"payload"`
}

// VerifyRequest is the body sent to a facilitator's /verify and /settle endpoints.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest shares the verify request shape.
type SettleRequest = VerifyRequest

// VerifyResponse is a facilitator's verdict on a payload.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the settlement receipt. It is what the server exposes in
// the X-PAYMENT-RESPONSE header.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
	Payer       string  `json:"payer,omitempty"`
}

// SupportedKind is one scheme/network pair a facilitator can handle.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     Network        `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse is the body of a facilitator's /supported endpoint.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// ParseUint256 parses a non-negative base-10 integer string.
func ParseUint256(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty integer string")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("not a base-10 integer: %q", s)
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", s)
	}
	if v.BitLen() > 256 {
		return nil, fmt.Errorf("integer overflows uint256: %q", s)
	}
	return v, nil
}
