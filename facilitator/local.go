// Package facilitator is a self-contained x402 facilitator for development
// and integration testing.
//
// It checks everything a remote facilitator checks except on-chain state:
// settlement is attested with a deterministic transaction id instead of a
// transferWithAuthorization call. Balances are checked only when a
// BalanceChecker is configured.
package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/pinion-os/x402-go"
	"github.com/pinion-os/x402-go/mechanisms/evm"
)

// Reasons specific to this facilitator.
const (
	ReasonInvalidTimeWindow = "invalid_exact_evm_payload_authorization_time_window"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonInvalidPayload    = "invalid_payload"
	ReasonAssetMismatch     = "invalid_exact_evm_payload_asset_mismatch"
)

// BalanceChecker reports a token balance.
type BalanceChecker interface {
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// Local implements x402.FacilitatorClient in process.
type Local struct {
	networks []x402.Network
	nonces   NonceStore
	balances BalanceChecker
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Local facilitator.
type Option func(*Local)

// WithNetworks restricts the networks the facilitator accepts.
func WithNetworks(networks ...x402.Network) Option {
	return func(f *Local) {
		f.networks = networks
	}
}

// WithNonceStore replaces the in-memory nonce store.
func WithNonceStore(store NonceStore) Option {
	return func(f *Local) {
		f.nonces = store
	}
}

// WithBalanceChecker enables payer balance checks.
func WithBalanceChecker(checker BalanceChecker) Option {
	return func(f *Local) {
		f.balances = checker
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Local) {
		f.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Local) {
		f.logger = logger
	}
}

// NewLocal creates a facilitator accepting every network in the x402
// network table unless WithNetworks narrows it.
func NewLocal(opts ...Option) *Local {
	f := &Local{
		networks: x402.SupportedNetworks(),
		nonces:   NewMemoryNonceStore(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Verify checks a payload against requirements without consuming its nonce.
// Rejections are reported in the response, never as an error.
func (f *Local) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	payer := payload.Payload.Authorization.From
	if reason := f.check(ctx, payload, requirements); reason != "" {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: reason, Payer: payer}, nil
	}
	if f.nonces.Used(nonceKey(payload)) {
		return &x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonNonceAlreadyUsed, Payer: payer}, nil
	}
	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle re-verifies the payload and consumes its nonce.
func (f *Local) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	payer := payload.Payload.Authorization.From
	fail := func(reason string) *x402.SettleResponse {
		return &x402.SettleResponse{
			Success:     false,
			ErrorReason: reason,
			Network:     requirements.Network,
			Payer:       payer,
		}
	}

	if reason := f.check(ctx, payload, requirements); reason != "" {
		return fail(reason), nil
	}
	if !f.nonces.MarkUsed(nonceKey(payload)) {
		return fail(x402.ReasonNonceAlreadyUsed), nil
	}

	tx := settlementID(payload)
	f.logger.Info("payment settled",
		"payer", payer,
		"payTo", requirements.PayTo,
		"value", payload.Payload.Authorization.Value,
		"network", requirements.Network,
		"transaction", tx,
	)
	return &x402.SettleResponse{
		Success:     true,
		Transaction: tx,
		Network:     requirements.Network,
		Payer:       payer,
	}, nil
}

// VerifyAndSettle implements x402.Facilitator.
func (f *Local) VerifyAndSettle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	verified, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verified.IsValid {
		return nil, x402.NewVerifyError(verified.InvalidReason, verified.Payer, "")
	}

	settled, err := f.Settle(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !settled.Success {
		return nil, x402.NewSettleError(settled.ErrorReason, settled.Payer, settled.Network, settled.Transaction, "")
	}
	return settled, nil
}

// GetSupported lists one exact-scheme kind per accepted network.
func (f *Local) GetSupported(context.Context) (x402.SupportedResponse, error) {
	kinds := make([]x402.SupportedKind, 0, len(f.networks))
	for _, network := range f.networks {
		kinds = append(kinds, x402.SupportedKind{
			X402Version: x402.ProtocolVersion,
			Scheme:      x402.SchemeExact,
			Network:     network,
		})
	}
	return x402.SupportedResponse{Kinds: kinds}, nil
}

func (f *Local) supports(network x402.Network) bool {
	for _, n := range f.networks {
		if x402.SameNetwork(n, network) {
			return true
		}
	}
	return false
}

// check returns an invalid reason, or "" when the payload is acceptable.
func (f *Local) check(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) string {
	auth := payload.Payload.Authorization

	if payload.X402Version != x402.ProtocolVersion {
		return x402.ReasonInvalidX402Version
	}
	if payload.Scheme != x402.SchemeExact || requirements.Scheme != x402.SchemeExact {
		return x402.ReasonInvalidScheme
	}
	if !x402.SameNetwork(payload.Network, requirements.Network) || !f.supports(requirements.Network) {
		return x402.ReasonInvalidNetwork
	}
	if err := requirements.Validate(); err != nil {
		return ReasonInvalidPayload
	}
	asset, err := x402.GetAssetInfo(requirements.Network, requirements.Asset)
	if err != nil {
		return ReasonAssetMismatch
	}
	if !evm.SameAddress(auth.To, requirements.PayTo) {
		return x402.ReasonRecipientMismatch
	}

	value, err := x402.ParseUint256(auth.Value)
	if err != nil {
		return ReasonInvalidPayload
	}
	required, _ := x402.ParseUint256(requirements.MaxAmountRequired)
	if value.Cmp(required) < 0 {
		return x402.ReasonInsufficientValue
	}

	validAfter, err := strconv.ParseInt(auth.ValidAfter, 10, 64)
	if err != nil {
		return x402.ReasonValidAfterInFuture
	}
	validBefore, err := strconv.ParseInt(auth.ValidBefore, 10, 64)
	if err != nil {
		return x402.ReasonValidBeforeExpired
	}
	if validAfter >= validBefore {
		return ReasonInvalidTimeWindow
	}
	now := f.now().Unix()
	if now < validAfter {
		return x402.ReasonValidAfterInFuture
	}
	if now >= validBefore {
		return x402.ReasonValidBeforeExpired
	}
	// validBefore may overshoot the offered timeout by the drift allowance only.
	if validBefore > now+int64(requirements.MaxTimeoutSeconds)+int64(evm.DefaultValidAfterBuffer/time.Second) {
		return ReasonInvalidTimeWindow
	}

	ok, err := evm.VerifySignature(payload, requirements)
	if err != nil || !ok {
		return x402.ReasonInvalidSignature
	}

	if f.balances != nil {
		balance, err := f.balances.TokenBalance(ctx, common.HexToAddress(asset.Address), common.HexToAddress(auth.From))
		if err != nil {
			f.logger.Warn("balance check failed", "payer", auth.From, "error", err)
			return ReasonInsufficientFunds
		}
		if balance.Cmp(value) < 0 {
			return ReasonInsufficientFunds
		}
	}
	return ""
}

// EIP-3009 nonces are scoped per authorizer.
func nonceKey(payload x402.PaymentPayload) string {
	auth := payload.Payload.Authorization
	network := payload.Network
	if cfg, err := x402.GetNetworkConfig(network); err == nil {
		network = cfg.CAIP2()
	}
	return fmt.Sprintf("%s:%s:%s",
		network,
		strings.ToLower(auth.From),
		strings.ToLower(auth.Nonce),
	)
}

func settlementID(payload x402.PaymentPayload) string {
	sig, _ := evm.HexToBytes(payload.Payload.Signature)
	return evm.BytesToHex(crypto.Keccak256(sig, []byte(payload.Payload.Authorization.Nonce)))
}
