package x402

import "context"

// Facilitator verifies and settles payments on behalf of a resource server.
//
// VerifyAndSettle returns the settlement receipt on success. Rejections are
// reported as *VerifyError or *SettleError (errors.Is ErrInvalidPayment);
// transport or protocol faults as *FacilitatorError (errors.Is
// ErrFacilitatorUnavailable).
type Facilitator interface {
	VerifyAndSettle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
}

// FacilitatorClient is the full facilitator API.
type FacilitatorClient interface {
	Facilitator

	Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*VerifyResponse, error)
	Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)
	GetSupported(ctx context.Context) (SupportedResponse, error)
}

// PaymentCreator turns a selected requirement into a signed payload.
// Implemented by scheme mechanisms such as mechanisms/evm.ExactEvmScheme.
type PaymentCreator interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, x402Version int, requirements PaymentRequirements) (PaymentPayload, error)
}

// FacilitatorFunc adapts a function to the Facilitator interface.
type FacilitatorFunc func(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error)

// VerifyAndSettle calls f.
func (f FacilitatorFunc) VerifyAndSettle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) (*SettleResponse, error) {
	return f(ctx, payload, requirements)
}
