package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"

	x402 "github.com/pinion-os/x402-go"
	"github.com/pinion-os/x402-go/encoding"
)

// Selector picks one requirement from the acceptable candidates of a challenge.
type Selector func(candidates []x402.PaymentRequirements) (x402.PaymentRequirements, error)

// Client pays x402 challenges with a single payment mechanism.
type Client struct {
	creator  x402.PaymentCreator
	maxValue *big.Int
	networks []x402.Network
	selector Selector
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMaxValue refuses to pay more than max smallest units per request.
func WithMaxValue(max *big.Int) ClientOption {
	return func(c *Client) {
		c.maxValue = max
	}
}

// WithNetworks restricts the networks the client pays on. By default every
// network in the x402 network table is acceptable.
func WithNetworks(networks ...x402.Network) ClientOption {
	return func(c *Client) {
		c.networks = networks
	}
}

// WithSelector overrides the default first-acceptable selection.
func WithSelector(selector Selector) ClientOption {
	return func(c *Client) {
		c.selector = selector
	}
}

// WithClientLogger sets the client's logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client that signs with creator.
func NewClient(creator x402.PaymentCreator, opts ...ClientOption) *Client {
	c := &Client{
		creator: creator,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectRequirements filters accepts down to requirements this client can
// pay and applies the selector. The server orders accepts by preference, so
// the default selector takes the first candidate.
func (c *Client) SelectRequirements(accepts []x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	if c.creator == nil {
		return x402.PaymentRequirements{}, x402.ErrNoSigner
	}

	var candidates []x402.PaymentRequirements
	overLimit := false
	for _, req := range accepts {
		if req.Scheme != c.creator.Scheme() || !c.supports(req.Network) {
			continue
		}
		if c.maxValue != nil {
			amount, err := x402.ParseUint256(req.MaxAmountRequired)
			if err != nil {
				continue
			}
			if amount.Cmp(c.maxValue) > 0 {
				overLimit = true
				continue
			}
		}
		candidates = append(candidates, req)
	}

	if len(candidates) == 0 {
		if overLimit {
			return x402.PaymentRequirements{}, x402.ErrAmountExceeded
		}
		return x402.PaymentRequirements{}, x402.ErrNoAcceptableOption
	}
	if c.selector != nil {
		return c.selector(candidates)
	}
	return candidates[0], nil
}

// CreatePaymentHeader signs a fresh payment for a challenge and returns the
// X-PAYMENT header value with the requirement it pays.
func (c *Client) CreatePaymentHeader(ctx context.Context, required x402.PaymentRequired) (string, x402.PaymentRequirements, error) {
	if err := required.Validate(); err != nil {
		return "", x402.PaymentRequirements{}, err
	}
	selected, err := c.SelectRequirements(required.Accepts)
	if err != nil {
		return "", x402.PaymentRequirements{}, err
	}

	version := required.X402Version
	if version == 0 {
		version = x402.ProtocolVersion
	}
	payload, err := c.creator.CreatePaymentPayload(ctx, version, selected)
	if err != nil {
		return "", x402.PaymentRequirements{}, err
	}

	header, err := encoding.EncodePayment(payload)
	if err != nil {
		return "", x402.PaymentRequirements{}, err
	}
	return header, selected, nil
}

func (c *Client) supports(network x402.Network) bool {
	if len(c.networks) == 0 {
		_, err := x402.GetNetworkConfig(network)
		return err == nil
	}
	for _, n := range c.networks {
		if x402.SameNetwork(n, network) {
			return true
		}
	}
	return false
}

// ============================================================================
// HTTP Client Wrapper
// ============================================================================

// maxChallengeBytes caps how much of a 402 body is read.
const maxChallengeBytes = 1 << 20

// PaymentRoundTripper answers a 402 by signing a payment and retrying the
// request once. Requests that already carry X-PAYMENT are sent unchanged.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Client    *Client
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if req.Header.Get(x402.PaymentHeader) != "" {
		return transport.RoundTrip(req)
	}

	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	resp, err := transport.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusPaymentRequired {
		return resp, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChallengeBytes))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}
	required, err := encoding.DecodePaymentRequired(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}
	if !replayable {
		return nil, errors.New("x402http: request body cannot be replayed for the paid retry")
	}

	ctx := req.Context()
	header, selected, err := t.Client.CreatePaymentHeader(ctx, required)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	paid := req.Clone(ctx)
	if req.GetBody != nil {
		paid.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
	}
	paid.Header.Set(x402.PaymentHeader, header)

	t.Client.logger.Debug("paying x402 challenge",
		"url", req.URL.String(),
		"network", selected.Network,
		"amount", selected.MaxAmountRequired,
		"payTo", selected.PayTo,
	)
	return transport.RoundTrip(paid)
}

// WrapHTTPClientWithPayment returns a copy of client whose transport pays
// x402 challenges. A nil client wraps http.DefaultClient.
func WrapHTTPClientWithPayment(client *http.Client, c *Client) *http.Client {
	if client == nil {
		client = http.DefaultClient
	}
	wrapped := *client
	wrapped.Transport = &PaymentRoundTripper{
		Transport: client.Transport,
		Client:    c,
	}
	return &wrapped
}

// ============================================================================
// Convenience Methods
// ============================================================================

// Do performs req, paying a 402 if one is returned.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return WrapHTTPClientWithPayment(nil, c).Do(req.WithContext(ctx))
}

// Get performs a GET, paying a 402 if one is returned.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// ReceiptFromResponse decodes the X-PAYMENT-RESPONSE header. It returns nil
// when the response carries no receipt.
func ReceiptFromResponse(resp *http.Response) (*x402.SettleResponse, error) {
	header := resp.Header.Get(x402.PaymentResponseHeader)
	if header == "" {
		return nil, nil
	}
	receipt, err := encoding.DecodeSettlement(header)
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}
