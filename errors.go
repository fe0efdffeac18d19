package x402

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrMissingPrice     = errors.New("x402: price is required")
	ErrMissingRecipient = errors.New("x402: recipient is required")
	ErrUnknownNetwork   = errors.New("x402: unknown network")
	ErrInvalidPrice     = errors.New("x402: invalid price")
)

// Payment processing errors. Every typed error below unwraps to exactly one
// of these so callers can classify failures with errors.Is.
var (
	ErrMalformedPayment       = errors.New("x402: malformed payment")
	ErrInvalidPayment         = errors.New("x402: invalid payment")
	ErrFacilitatorUnavailable = errors.New("x402: facilitator unavailable")
	ErrHandlerFailure         = errors.New("x402: handler failed after settlement")
)

// Client-side signing errors
var (
	ErrNoSigner              = errors.New("x402: no signer configured")
	ErrSignatureRejected     = errors.New("x402: signature rejected")
	ErrMissingDomainMetadata = errors.New("x402: requirement is missing asset domain metadata")
	ErrAmountExceeded        = errors.New("x402: required amount exceeds client limit")
	ErrNoAcceptableOption    = errors.New("x402: no acceptable payment requirement")
)

// Error codes used in JSON error bodies.
const (
	ErrCodeMalformedPayment       = "malformed_payment"
	ErrCodeInvalidPayment         = "invalid_payment"
	ErrCodePaymentRequired        = "payment_required"
	ErrCodeFacilitatorUnavailable = "facilitator_unavailable"
	ErrCodeHandlerFailure         = "handler_failed_after_settlement"
)

// Invalid reasons reported for payloads rejected before the facilitator is
// consulted. The strings follow the facilitator vocabulary.
const (
	ReasonInvalidPayment          = "invalid_payment"
	ReasonInvalidScheme           = "invalid_scheme"
	ReasonInvalidNetwork          = "invalid_network"
	ReasonInvalidX402Version      = "invalid_x402_version"
	ReasonRecipientMismatch       = "invalid_exact_evm_payload_recipient_mismatch"
	ReasonInsufficientValue       = "invalid_exact_evm_payload_authorization_value"
	ReasonValidBeforeExpired      = "invalid_exact_evm_payload_authorization_valid_before"
	ReasonValidAfterInFuture      = "invalid_exact_evm_payload_authorization_valid_after"
	ReasonInvalidSignature        = "invalid_exact_evm_payload_signature"
	ReasonNonceAlreadyUsed        = "invalid_exact_evm_payload_authorization_nonce_used"
	ReasonUnexpectedSettleFailure = "unexpected_settle_error"
)

// PaymentError is the JSON shape of a payment-layer error response.
type PaymentError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]any) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// MalformedPaymentError reports an X-PAYMENT header that could not be decoded.
type MalformedPaymentError struct {
	Field  string
	Reason string
	Err    error
}

// NewMalformedPaymentError creates a MalformedPaymentError for field.
func NewMalformedPaymentError(field, reason string, err error) *MalformedPaymentError {
	return &MalformedPaymentError{Field: field, Reason: reason, Err: err}
}

func (e *MalformedPaymentError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed payment: %s", e.Reason)
	}
	return fmt.Sprintf("malformed payment: %s: %s", e.Field, e.Reason)
}

func (e *MalformedPaymentError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedPayment}
	}
	return []error{ErrMalformedPayment, e.Err}
}

// VerifyError is a facilitator (or local precheck) rejection of a payload.
type VerifyError struct {
	InvalidReason string
	Payer         string
	Message       string
}

// NewVerifyError creates a VerifyError.
func NewVerifyError(reason, payer, message string) *VerifyError {
	return &VerifyError{InvalidReason: reason, Payer: payer, Message: message}
}

func (e *VerifyError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment rejected: %s: %s", e.InvalidReason, e.Message)
	}
	return fmt.Sprintf("payment rejected: %s", e.InvalidReason)
}

func (e *VerifyError) Unwrap() error { return ErrInvalidPayment }

// SettleError is a facilitator refusal to settle a verified payload.
type SettleError struct {
	ErrorReason string
	Payer       string
	Network     Network
	Transaction string
	Message     string
}

// NewSettleError creates a SettleError.
func NewSettleError(reason, payer string, network Network, transaction, message string) *SettleError {
	return &SettleError{
		ErrorReason: reason,
		Payer:       payer,
		Network:     network,
		Transaction: transaction,
		Message:     message,
	}
}

func (e *SettleError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("settlement failed: %s: %s", e.ErrorReason, e.Message)
	}
	return fmt.Sprintf("settlement failed: %s", e.ErrorReason)
}

func (e *SettleError) Unwrap() error { return ErrInvalidPayment }

// FacilitatorError reports an infrastructure fault talking to the facilitator.
type FacilitatorError struct {
	Op         string
	StatusCode int
	Err        error
}

// NewFacilitatorError creates a FacilitatorError for op ("verify", "settle", "supported").
func NewFacilitatorError(op string, status int, err error) *FacilitatorError {
	return &FacilitatorError{Op: op, StatusCode: status, Err: err}
}

func (e *FacilitatorError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("facilitator %s failed (%d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("facilitator %s failed: %v", e.Op, e.Err)
}

func (e *FacilitatorError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFacilitatorUnavailable}
	}
	return []error{ErrFacilitatorUnavailable, e.Err}
}

// InvalidReason extracts the rejection reason from a VerifyError or SettleError.
func InvalidReason(err error) (string, bool) {
	var verr *VerifyError
	if errors.As(err, &verr) {
		return verr.InvalidReason, true
	}
	var serr *SettleError
	if errors.As(err, &serr) {
		return serr.ErrorReason, true
	}
	return "", false
}
