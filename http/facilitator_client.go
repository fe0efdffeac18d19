package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/pinion-os/x402-go"
)

// ============================================================================
// HTTP Facilitator Client
// ============================================================================

// HTTPFacilitatorClient talks to a remote facilitator over HTTP.
// Implements x402.FacilitatorClient.
type HTTPFacilitatorClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	identifier   string
}

// AuthProvider generates authentication headers for facilitator requests
type AuthProvider interface {
	// GetAuthHeaders returns authentication headers for each endpoint
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers for facilitator endpoints
type AuthHeaders struct {
	Verify    map[string]string
	Settle    map[string]string
	Supported map[string]string
}

// FacilitatorConfig configures the HTTP facilitator client
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration

	// Identifier for this facilitator (optional)
	Identifier string
}

// DefaultFacilitatorURL is the default public facilitator
const DefaultFacilitatorURL = "https://facilitator.payai.network"

// getSupportedRetries is the number of attempts for GetSupported on 429 rate limit errors
const getSupportedRetries = 3

// getSupportedRetryBaseDelay is the base delay for exponential backoff on retries
var getSupportedRetryBaseDelay = 1 * time.Second

// maxResponseBytes caps how much of a facilitator response is read.
const maxResponseBytes = 1 << 20

// NewHTTPFacilitatorClient creates a new HTTP facilitator client
func NewHTTPFacilitatorClient(config *FacilitatorConfig) *HTTPFacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := strings.TrimRight(config.URL, "/")
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	identifier := config.Identifier
	if identifier == "" {
		identifier = url
	}

	return &HTTPFacilitatorClient{
		url:          url,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		identifier:   identifier,
	}
}

// Identifier names this facilitator in logs.
func (c *HTTPFacilitatorClient) Identifier() string {
	return c.identifier
}

// ============================================================================
// FacilitatorClient Implementation
// ============================================================================

// Verify asks the facilitator whether payload satisfies requirements. A
// well-formed rejection is returned as a response with IsValid false; a
// non-2xx carrying an invalidReason becomes a *x402.VerifyError.
func (c *HTTPFacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.VerifyResponse, error) {
	status, body, err := c.post(ctx, "verify", payload, requirements)
	if err != nil {
		return nil, err
	}

	var verdict struct {
		IsValid       *bool  `json:"isValid"`
		InvalidReason string `json:"invalidReason"`
		Payer         string `json:"payer"`
	}
	decodeErr := json.Unmarshal(body, &verdict)

	if status != http.StatusOK {
		if decodeErr == nil && verdict.InvalidReason != "" {
			return nil, x402.NewVerifyError(verdict.InvalidReason, verdict.Payer, "")
		}
		return nil, x402.NewFacilitatorError("verify", status, errors.New(http.StatusText(status)))
	}
	if decodeErr != nil || verdict.IsValid == nil {
		return nil, x402.NewFacilitatorError("verify", status, fmt.Errorf("malformed verify response: %w", orMissing(decodeErr, "isValid")))
	}

	return &x402.VerifyResponse{
		IsValid:       *verdict.IsValid,
		InvalidReason: verdict.InvalidReason,
		Payer:         verdict.Payer,
	}, nil
}

// Settle asks the facilitator to execute the transfer.
func (c *HTTPFacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	status, body, err := c.post(ctx, "settle", payload, requirements)
	if err != nil {
		return nil, err
	}

	var result struct {
		Success     *bool        `json:"success"`
		ErrorReason string       `json:"errorReason"`
		Transaction string       `json:"transaction"`
		Network     x402.Network `json:"network"`
		Payer       string       `json:"payer"`
	}
	decodeErr := json.Unmarshal(body, &result)

	if status != http.StatusOK {
		if decodeErr == nil && result.ErrorReason != "" {
			return nil, x402.NewSettleError(result.ErrorReason, result.Payer, result.Network, result.Transaction, "")
		}
		return nil, x402.NewFacilitatorError("settle", status, errors.New(http.StatusText(status)))
	}
	if decodeErr != nil || result.Success == nil {
		return nil, x402.NewFacilitatorError("settle", status, fmt.Errorf("malformed settle response: %w", orMissing(decodeErr, "success")))
	}

	return &x402.SettleResponse{
		Success:     *result.Success,
		ErrorReason: result.ErrorReason,
		Transaction: result.Transaction,
		Network:     result.Network,
		Payer:       result.Payer,
	}, nil
}

// VerifyAndSettle verifies then settles. Rejections come back as
// *x402.VerifyError or *x402.SettleError, faults as *x402.FacilitatorError.
func (c *HTTPFacilitatorClient) VerifyAndSettle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (*x402.SettleResponse, error) {
	verified, err := c.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !verified.IsValid {
		reason := verified.InvalidReason
		if reason == "" {
			reason = x402.ReasonInvalidPayment
		}
		return nil, x402.NewVerifyError(reason, verified.Payer, "")
	}

	settled, err := c.Settle(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if !settled.Success {
		reason := settled.ErrorReason
		if reason == "" {
			reason = x402.ReasonUnexpectedSettleFailure
		}
		return nil, x402.NewSettleError(reason, settled.Payer, settled.Network, settled.Transaction, "")
	}
	return settled, nil
}

// GetSupported gets supported payment kinds.
// Retries up to 3 times with exponential backoff on 429 rate limit errors.
func (c *HTTPFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	var lastErr error

	for attempt := range getSupportedRetries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/supported", nil)
		if err != nil {
			return x402.SupportedResponse{}, fmt.Errorf("failed to create supported request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if err := c.applyAuth(ctx, req, func(h AuthHeaders) map[string]string { return h.Supported }); err != nil {
			return x402.SupportedResponse{}, x402.NewFacilitatorError("supported", 0, err)
		}

		status, body, err := c.do(req)
		if err != nil {
			return x402.SupportedResponse{}, x402.NewFacilitatorError("supported", 0, err)
		}

		if status == http.StatusOK {
			var supported x402.SupportedResponse
			if err := json.Unmarshal(body, &supported); err != nil {
				return x402.SupportedResponse{}, x402.NewFacilitatorError("supported", status, fmt.Errorf("failed to decode supported response: %w", err))
			}
			return supported, nil
		}

		lastErr = x402.NewFacilitatorError("supported", status, errors.New(http.StatusText(status)))

		// Retry on 429 with exponential backoff, except on the last attempt
		if status == http.StatusTooManyRequests && attempt < getSupportedRetries-1 {
			delay := getSupportedRetryBaseDelay * time.Duration(1<<uint(attempt))
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return x402.SupportedResponse{}, x402.NewFacilitatorError("supported", 0, ctx.Err())
			}
		}

		return x402.SupportedResponse{}, lastErr
	}

	return x402.SupportedResponse{}, lastErr
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *HTTPFacilitatorClient) post(ctx context.Context, op string, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (int, []byte, error) {
	body, err := json.Marshal(x402.VerifyRequest{
		X402Version:         payload.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirements,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/"+op, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	pick := func(h AuthHeaders) map[string]string { return h.Verify }
	if op == "settle" {
		pick = func(h AuthHeaders) map[string]string { return h.Settle }
	}
	if err := c.applyAuth(ctx, req, pick); err != nil {
		return 0, nil, x402.NewFacilitatorError(op, 0, err)
	}

	status, respBody, err := c.do(req)
	if err != nil {
		return 0, nil, x402.NewFacilitatorError(op, 0, err)
	}
	return status, respBody, nil
}

func (c *HTTPFacilitatorClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *HTTPFacilitatorClient) applyAuth(ctx context.Context, req *http.Request, pick func(AuthHeaders) map[string]string) error {
	if c.authProvider == nil {
		return nil
	}
	headers, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return fmt.Errorf("failed to get auth headers: %w", err)
	}
	for k, v := range pick(headers) {
		req.Header.Set(k, v)
	}
	return nil
}

func orMissing(err error, field string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("missing %q", field)
}

// ============================================================================
// Auth providers
// ============================================================================

type staticAuthProvider struct {
	headers AuthHeaders
}

// NewStaticAuthProvider sends "Authorization: Bearer <apiKey>" to every endpoint.
func NewStaticAuthProvider(apiKey string) AuthProvider {
	h := map[string]string{"Authorization": "Bearer " + apiKey}
	return staticAuthProvider{headers: AuthHeaders{Verify: h, Settle: h, Supported: h}}
}

func (p staticAuthProvider) GetAuthHeaders(context.Context) (AuthHeaders, error) {
	return p.headers, nil
}

// FuncAuthProvider adapts a function to AuthProvider.
type FuncAuthProvider func(ctx context.Context) (AuthHeaders, error)

// NewFuncAuthProvider wraps fn.
func NewFuncAuthProvider(fn func(ctx context.Context) (AuthHeaders, error)) AuthProvider {
	return FuncAuthProvider(fn)
}

// GetAuthHeaders calls f.
func (f FuncAuthProvider) GetAuthHeaders(ctx context.Context) (AuthHeaders, error) {
	return f(ctx)
}
