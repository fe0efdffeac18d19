package echo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/pinion-os/x402-go"
	"github.com/pinion-os/x402-go/encoding"
	x402http "github.com/pinion-os/x402-go/http"
	"github.com/pinion-os/x402-go/mechanisms/evm"
	evmsigners "github.com/pinion-os/x402-go/signers/evm"
)

const (
	payTo    = "0x101Cd32b9bEEE93845Ead7Bc604a5F1873330acf"
	payerKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

type server struct {
	e           *echo.Echo
	settlements atomic.Int32
	handled     atomic.Int32
}

func newServer(t *testing.T, settleErr error) *server {
	t.Helper()
	s := &server{e: echo.New()}

	guard, err := x402http.NewGuard(x402http.Config{
		PayTo:   payTo,
		Network: "base",
		Routes: x402http.RoutesConfig{
			"GET /tx/{hash}": {Price: "$0.01"},
			"GET /teapot":    {Price: "$0.01"},
			"GET /failing":   {Price: "$0.01"},
			"GET /panicking": {Price: "$0.01"},
		},
		Facilitator: x402.FacilitatorFunc(func(_ context.Context, p x402.PaymentPayload, r x402.PaymentRequirements) (*x402.SettleResponse, error) {
			s.settlements.Add(1)
			if settleErr != nil {
				return nil, settleErr
			}
			return &x402.SettleResponse{Success: true, Transaction: "0xbeef", Network: r.Network, Payer: p.Payload.Authorization.From}, nil
		}),
	})
	require.NoError(t, err)

	s.e.Use(CORS(), PaymentMiddleware(guard))
	s.e.GET("/tx/:hash", func(c echo.Context) error {
		s.handled.Add(1)
		settlement, ok := Settlement(c)
		if !ok {
			return errors.New("missing settlement")
		}
		return c.JSON(http.StatusOK, map[string]string{"hash": c.Param("hash"), "paidWith": settlement.Transaction})
	})
	s.e.GET("/teapot", func(c echo.Context) error {
		s.handled.Add(1)
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})
	s.e.GET("/failing", func(c echo.Context) error {
		s.handled.Add(1)
		return errors.New("rpc unavailable")
	})
	s.e.GET("/panicking", func(c echo.Context) error {
		s.handled.Add(1)
		panic("boom")
	})
	s.e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return s
}

func (s *server) get(path, payment string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if payment != "" {
		req.Header.Set(x402.PaymentHeader, payment)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *server) pay(t *testing.T, path string) string {
	t.Helper()
	rec := s.get(path, "")
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	required, err := encoding.DecodePaymentRequired(rec.Body.Bytes())
	require.NoError(t, err)

	signer, err := evmsigners.NewPrivateKeySigner(payerKey)
	require.NoError(t, err)
	payload, err := evm.NewExactEvmScheme(signer).CreatePaymentPayload(context.Background(), required.X402Version, required.Accepts[0])
	require.NoError(t, err)
	header, err := encoding.EncodePayment(payload)
	require.NoError(t, err)
	return header
}

func TestPaymentMiddlewareSettles(t *testing.T) {
	s := newServer(t, nil)

	rec := s.get("/tx/0x01", s.pay(t, "/tx/0x01"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"hash":"0x01","paidWith":"0xbeef"}`, rec.Body.String())

	receipt, err := encoding.DecodeSettlement(rec.Header().Get(x402.PaymentResponseHeader))
	require.NoError(t, err)
	assert.Equal(t, "0xbeef", receipt.Transaction)
	assert.Equal(t, int32(1), s.handled.Load())
}

func TestPaymentMiddlewareRejectsWithoutHandler(t *testing.T) {
	tests := []struct {
		name      string
		settleErr error
		payment   func(t *testing.T, s *server) string
		status    int
	}{
		{
			name:    "no proof",
			payment: func(*testing.T, *server) string { return "" },
			status:  http.StatusPaymentRequired,
		},
		{
			name:    "malformed proof",
			payment: func(*testing.T, *server) string { return "%%%" },
			status:  http.StatusBadRequest,
		},
		{
			name:      "rejected proof",
			settleErr: x402.NewVerifyError(x402.ReasonInvalidSignature, "", ""),
			payment:   func(t *testing.T, s *server) string { return s.pay(t, "/tx/0x01") },
			status:    http.StatusPaymentRequired,
		},
		{
			name:      "facilitator down",
			settleErr: x402.NewFacilitatorError("settle", 0, context.DeadlineExceeded),
			payment:   func(t *testing.T, s *server) string { return s.pay(t, "/tx/0x01") },
			status:    http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, tt.settleErr)
			rec := s.get("/tx/0x01", tt.payment(t, s))
			assert.Equal(t, tt.status, rec.Code)
			assert.Zero(t, s.handled.Load())
		})
	}
}

func TestPaymentMiddlewareHandlerErrors(t *testing.T) {
	t.Run("client error passes through", func(t *testing.T) {
		s := newServer(t, nil)
		rec := s.get("/teapot", s.pay(t, "/teapot"))
		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(x402.PaymentResponseHeader))
	})

	for _, path := range []string{"/failing", "/panicking"} {
		t.Run(path, func(t *testing.T) {
			s := newServer(t, nil)
			rec := s.get(path, s.pay(t, path))
			require.Equal(t, http.StatusInternalServerError, rec.Code)

			var body x402http.HandlerFailureResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, x402.ErrCodeHandlerFailure, body.Error)
			assert.True(t, body.Settled)
			assert.Equal(t, "0xbeef", body.Transaction)
			assert.NotEmpty(t, body.PaymentID)
			assert.Equal(t, int32(1), s.settlements.Load())
		})
	}
}

func TestCORS(t *testing.T) {
	s := newServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/tx/0x01", nil)
	req.Header.Set(echo.HeaderOrigin, "https://example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowHeaders), x402.PaymentHeader)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderOrigin, "https://example.com")
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, x402.PaymentResponseHeader, rec.Header().Get(echo.HeaderAccessControlExposeHeaders))
	assert.Zero(t, s.settlements.Load())
}
