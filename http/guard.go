package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	x402 "github.com/pinion-os/x402-go"
	"github.com/pinion-os/x402-go/encoding"
	"github.com/pinion-os/x402-go/mechanisms/evm"
)

// Guard decides, for each inbound request, whether it passes through, is
// challenged, is rejected, or has been paid for. A Guard holds no mutable
// state after construction and is safe for concurrent use.
type Guard struct {
	routes             []*compiledRoute
	facilitator        x402.Facilitator
	logger             *slog.Logger
	facilitatorTimeout time.Duration
	resourceRootURL    string
	paywall            *PaywallConfig
	payTo              string
	network            x402.Network
}

// NewGuard compiles the route table and prebuilds every route's payment
// requirements. Misconfigured prices, recipients and networks fail here
// rather than on the first request.
func NewGuard(cfg Config, opts ...Option) (*Guard, error) {
	if cfg.Facilitator == nil {
		return nil, errors.New("x402http: facilitator is required")
	}
	if len(cfg.Routes) == 0 {
		return nil, errors.New("x402http: at least one priced route is required")
	}

	routes, err := compileRoutes(cfg)
	if err != nil {
		return nil, err
	}

	g := &Guard{
		routes:             routes,
		facilitator:        cfg.Facilitator,
		logger:             slog.Default(),
		facilitatorTimeout: DefaultFacilitatorTimeout,
		resourceRootURL:    strings.TrimRight(cfg.ResourceRootURL, "/"),
		payTo:              cfg.PayTo,
		network:            cfg.Network,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// RequestInfo is the transport-neutral view of a request that the guard
// needs. Adapters build it from their framework's request type. Path is the
// decoded path as in url.URL.Path; EscapedPath is the optional wire form as
// returned by url.URL.EscapedPath.
type RequestInfo struct {
	Method        string
	Path          string
	EscapedPath   string
	PaymentHeader string
	Accept        string
	UserAgent     string
	Host          string
	Scheme        string
}

// RequestInfoFromHTTP extracts a RequestInfo from a net/http request.
func RequestInfoFromHTTP(r *http.Request) RequestInfo {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return RequestInfo{
		Method:        r.Method,
		Path:          r.URL.Path,
		EscapedPath:   r.URL.EscapedPath(),
		PaymentHeader: strings.TrimSpace(r.Header.Get(x402.PaymentHeader)),
		Accept:        r.Header.Get("Accept"),
		UserAgent:     r.Header.Get("User-Agent"),
		Host:          r.Host,
		Scheme:        scheme,
	}
}

// DecisionKind is the terminal state of a request in the payment state machine.
type DecisionKind int

const (
	// DecisionPassThrough: the route is not priced.
	DecisionPassThrough DecisionKind = iota
	// DecisionPaymentRequired: no proof supplied, 402 challenge.
	DecisionPaymentRequired
	// DecisionMalformed: the proof header could not be decoded, 400.
	DecisionMalformed
	// DecisionInvalid: the proof was rejected, 402 with invalidReason.
	DecisionInvalid
	// DecisionFacilitatorUnavailable: the facilitator could not be reached, 502.
	DecisionFacilitatorUnavailable
	// DecisionSettled: payment settled, the handler must run.
	DecisionSettled
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionPassThrough:
		return "pass_through"
	case DecisionPaymentRequired:
		return "payment_required"
	case DecisionMalformed:
		return "malformed"
	case DecisionInvalid:
		return "invalid"
	case DecisionFacilitatorUnavailable:
		return "facilitator_unavailable"
	case DecisionSettled:
		return "settled"
	default:
		return fmt.Sprintf("DecisionKind(%d)", int(k))
	}
}

// Decision is the outcome of Guard.Process.
type Decision struct {
	Kind   DecisionKind
	Status int
	// Body is the JSON response for every kind except PassThrough and Settled.
	Body any
	// HTML replaces Body for browser clients when a paywall is configured.
	HTML string

	Requirements  *x402.PaymentRequirements
	Payload       *x402.PaymentPayload
	Settlement    *x402.SettleResponse
	ReceiptHeader string
	PaymentID     string
	Err           error
}

// Process runs the payment state machine for one request. It never invokes
// the business handler; the caller does that only for DecisionSettled.
func (g *Guard) Process(ctx context.Context, info RequestInfo) Decision {
	route := g.matchRequest(info)
	if route == nil {
		return Decision{Kind: DecisionPassThrough}
	}

	requirements := route.requirements
	requirements.Resource = g.resourceURL(info)

	if info.PaymentHeader == "" {
		return g.challenge(requirements, info)
	}

	paymentID := newPaymentID()
	logger := g.logger.With(
		"paymentId", paymentID,
		"method", info.Method,
		"path", info.Path,
	)

	payload, err := encoding.DecodePayment(info.PaymentHeader)
	if err != nil {
		logger.Info("malformed payment header", "error", err)
		return Decision{
			Kind:         DecisionMalformed,
			Status:       http.StatusBadRequest,
			Body:         malformedBody(err),
			Requirements: &requirements,
			PaymentID:    paymentID,
			Err:          err,
		}
	}

	payer := payload.Payload.Authorization.From
	if reason := precheck(payload, requirements); reason != "" {
		err := x402.NewVerifyError(reason, payer, "payload does not match payment requirements")
		logger.Info("payment rejected", "payer", payer, "invalidReason", reason)
		return g.rejected(requirements, &payload, paymentID, err)
	}

	timeout := g.facilitatorTimeout
	if bound := time.Duration(requirements.MaxTimeoutSeconds) * time.Second; bound < timeout {
		timeout = bound
	}
	// Settlement is not cancellable on chain, so a dropped client must not
	// abort the call mid-flight.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	settlement, err := g.facilitator.VerifyAndSettle(callCtx, payload, requirements)
	if err == nil && settlement != nil && !settlement.Success {
		err = x402.NewSettleError(settlement.ErrorReason, settlement.Payer, settlement.Network, settlement.Transaction, "")
	}
	if err == nil && settlement == nil {
		err = x402.NewFacilitatorError("settle", 0, errors.New("empty settlement response"))
	}

	switch {
	case err == nil:
	case errors.Is(err, x402.ErrInvalidPayment):
		reason, _ := x402.InvalidReason(err)
		logger.Info("payment rejected", "payer", payer, "invalidReason", reason)
		return g.rejected(requirements, &payload, paymentID, err)
	default:
		logger.Error("facilitator unavailable", "payer", payer, "error", err)
		return Decision{
			Kind:         DecisionFacilitatorUnavailable,
			Status:       http.StatusBadGateway,
			Body:         facilitatorUnavailableBody(),
			Requirements: &requirements,
			Payload:      &payload,
			PaymentID:    paymentID,
			Err:          fmt.Errorf("%w: %w", x402.ErrFacilitatorUnavailable, err),
		}
	}

	if settlement.Payer == "" {
		settlement.Payer = payer
	}
	if settlement.Network == "" {
		settlement.Network = requirements.Network
	}
	receipt, err := encoding.EncodeSettlement(*settlement)
	if err != nil {
		logger.Error("failed to encode settlement receipt", "error", err)
	}

	logger.Info("payment settled",
		"payer", settlement.Payer,
		"transaction", settlement.Transaction,
		"network", settlement.Network,
		"amount", requirements.MaxAmountRequired,
	)
	return Decision{
		Kind:          DecisionSettled,
		Status:        http.StatusOK,
		Requirements:  &requirements,
		Payload:       &payload,
		Settlement:    settlement,
		ReceiptHeader: receipt,
		PaymentID:     paymentID,
	}
}

// HandlerFailed records a failure of the business handler after payment
// settled and returns the body to send when the handler wrote nothing.
func (g *Guard) HandlerFailed(d Decision, info RequestInfo, cause error) HandlerFailureResponse {
	body := HandlerFailureResponse{
		Error:     x402.ErrCodeHandlerFailure,
		Message:   "payment settled but the request could not be fulfilled",
		Settled:   true,
		PaymentID: d.PaymentID,
	}
	if d.Settlement != nil {
		body.Transaction = d.Settlement.Transaction
		body.Network = d.Settlement.Network
		body.Payer = d.Settlement.Payer
	}

	g.logger.Error("handler failed after settlement",
		"paymentId", d.PaymentID,
		"method", info.Method,
		"path", info.Path,
		"payer", body.Payer,
		"transaction", body.Transaction,
		"network", body.Network,
		"error", fmt.Errorf("%w: %w", x402.ErrHandlerFailure, cause),
	)
	return body
}

// PricedRoute describes a guarded route for discovery documents.
type PricedRoute struct {
	Pattern      string
	Method       string
	Path         string
	Price        string
	Example      string
	Description  string
	Requirements x402.PaymentRequirements
}

// Routes lists the priced routes in match order.
func (g *Guard) Routes() []PricedRoute {
	out := make([]PricedRoute, 0, len(g.routes))
	for _, r := range g.routes {
		price := r.config.Price
		if asset, err := x402.GetAssetInfo(r.requirements.Network, r.requirements.Asset); err == nil {
			price = x402.FormatUSD(r.requirements.MaxAmountRequired, asset.Decimals)
		}
		method := r.verb
		if method == "*" {
			method = http.MethodGet
		}
		out = append(out, PricedRoute{
			Pattern:      r.pattern,
			Method:       method,
			Path:         displayPath(r.path),
			Price:        price,
			Example:      r.config.Example,
			Description:  r.config.Description,
			Requirements: r.requirements,
		})
	}
	return out
}

// PayTo returns the default recipient.
func (g *Guard) PayTo() string { return g.payTo }

// Network returns the default network.
func (g *Guard) Network() x402.Network { return g.network }

// matchRequest prices a request if either view of its path hits a priced
// route. Routers split on the escaped path (net/http.ServeMux, echo) or the
// decoded one (gin), and an encoded slash lands in different segments.
func (g *Guard) matchRequest(info RequestInfo) *compiledRoute {
	if info.EscapedPath != "" {
		if r := g.match(info.Method, escapedSegmentsPath(info.EscapedPath)); r != nil {
			return r
		}
	}
	return g.match(info.Method, info.Path)
}

func (g *Guard) match(method, path string) *compiledRoute {
	path = normalizePath(path)
	for _, r := range g.routes {
		if r.matches(method, path) {
			return r
		}
	}
	return nil
}

func (g *Guard) resourceURL(info RequestInfo) string {
	path := normalizePath(info.Path)
	if g.resourceRootURL != "" {
		return g.resourceRootURL + path
	}
	if info.Host == "" {
		return path
	}
	scheme := info.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + info.Host + path
}

func (g *Guard) challenge(requirements x402.PaymentRequirements, info RequestInfo) Decision {
	body := x402.PaymentRequired{
		X402Version: x402.ProtocolVersion,
		Error:       "X-PAYMENT header is required",
		Accepts:     []x402.PaymentRequirements{requirements},
	}
	d := Decision{
		Kind:         DecisionPaymentRequired,
		Status:       http.StatusPaymentRequired,
		Body:         body,
		Requirements: &requirements,
	}
	if g.paywall != nil && isWebBrowser(info) {
		html, err := renderPaywall(body, g.paywall)
		if err != nil {
			g.logger.Warn("failed to render paywall", "error", err)
			return d
		}
		d.HTML = html
	}
	return d
}

func (g *Guard) rejected(requirements x402.PaymentRequirements, payload *x402.PaymentPayload, paymentID string, err error) Decision {
	reason, _ := x402.InvalidReason(err)
	payer := ""
	if payload != nil {
		payer = payload.Payload.Authorization.From
	}
	return Decision{
		Kind:   DecisionInvalid,
		Status: http.StatusPaymentRequired,
		Body: x402.PaymentRequired{
			X402Version:   x402.ProtocolVersion,
			Error:         "payment rejected",
			InvalidReason: reason,
			Payer:         payer,
			Accepts:       []x402.PaymentRequirements{requirements},
		},
		Requirements: &requirements,
		Payload:      payload,
		PaymentID:    paymentID,
		Err:          err,
	}
}

// precheck rejects payloads that cannot satisfy the requirement, saving a
// facilitator round trip. It returns "" when the payload may proceed.
func precheck(payload x402.PaymentPayload, requirements x402.PaymentRequirements) string {
	if payload.X402Version != x402.ProtocolVersion {
		return x402.ReasonInvalidX402Version
	}
	if payload.Scheme != requirements.Scheme {
		return x402.ReasonInvalidScheme
	}
	if !x402.SameNetwork(payload.Network, requirements.Network) {
		return x402.ReasonInvalidNetwork
	}

	auth := payload.Payload.Authorization
	if !evm.SameAddress(auth.To, requirements.PayTo) {
		return x402.ReasonRecipientMismatch
	}
	value, err := x402.ParseUint256(auth.Value)
	if err != nil {
		return x402.ReasonInsufficientValue
	}
	required, err := x402.ParseUint256(requirements.MaxAmountRequired)
	if err != nil || value.Cmp(required) < 0 {
		return x402.ReasonInsufficientValue
	}
	return ""
}

func newPaymentID() string {
	return "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
