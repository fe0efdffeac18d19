package gin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
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

type fixture struct {
	router      *gin.Engine
	settlements atomic.Int32
	handled     atomic.Int32
}

func newFixture(t *testing.T, settleErr error) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fixture{}

	facilitator := x402.FacilitatorFunc(func(_ context.Context, p x402.PaymentPayload, r x402.PaymentRequirements) (*x402.SettleResponse, error) {
		f.settlements.Add(1)
		if settleErr != nil {
			return nil, settleErr
		}
		return &x402.SettleResponse{Success: true, Transaction: "0xfeed", Network: r.Network, Payer: p.Payload.Authorization.From}, nil
	})
	guard, err := x402http.NewGuard(x402http.Config{
		PayTo:   payTo,
		Network: "base",
		Routes: x402http.RoutesConfig{
			"GET /balance/[address]": {Price: "$0.01"},
			"GET /broken":            {Price: "$0.01"},
			"GET /panics":            {Price: "$0.01"},
		},
		Facilitator: facilitator,
	})
	require.NoError(t, err)

	router := gin.New()
	router.Use(CORS(), PaymentMiddleware(guard))
	router.GET("/balance/:address", func(c *gin.Context) {
		f.handled.Add(1)
		settlement, ok := Settlement(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no settlement"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "paidWith": settlement.Transaction})
	})
	router.GET("/broken", func(c *gin.Context) {
		f.handled.Add(1)
		_ = c.Error(errors.New("rpc unavailable"))
	})
	router.GET("/panics", func(c *gin.Context) {
		f.handled.Add(1)
		panic("boom")
	})
	router.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	f.router = router
	return f
}

func (f *fixture) get(path, payment string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if payment != "" {
		req.Header.Set(x402.PaymentHeader, payment)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) pay(t *testing.T, path string) string {
	t.Helper()
	w := f.get(path, "")
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	var challenge x402.PaymentRequired
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))

	signer, err := evmsigners.NewPrivateKeySigner(payerKey)
	require.NoError(t, err)
	payload, err := evm.NewExactEvmScheme(signer).CreatePaymentPayload(context.Background(), 1, challenge.Accepts[0])
	require.NoError(t, err)
	header, err := encoding.EncodePayment(payload)
	require.NoError(t, err)
	return header
}

func TestPaymentMiddlewareHappyPath(t *testing.T) {
	f := newFixture(t, nil)

	w := f.get("/balance/0xabc", f.pay(t, "/balance/0xabc"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"address":"0xabc","paidWith":"0xfeed"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(x402.PaymentResponseHeader))
	assert.Equal(t, int32(1), f.handled.Load())
	assert.Equal(t, int32(1), f.settlements.Load())
}

func TestPaymentMiddlewareRejections(t *testing.T) {
	t.Run("no proof", func(t *testing.T) {
		f := newFixture(t, nil)
		w := f.get("/balance/0xabc", "")
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Zero(t, f.handled.Load())
	})

	t.Run("encoded slash in param", func(t *testing.T) {
		f := newFixture(t, nil)
		for _, path := range []string{"/balance/0x%2Fabc", "/balance/0x%252Fabc"} {
			w := f.get(path, "")
			assert.Equal(t, http.StatusPaymentRequired, w.Code, path)
		}
		assert.Zero(t, f.handled.Load())
	})

	t.Run("malformed", func(t *testing.T) {
		f := newFixture(t, nil)
		w := f.get("/balance/0xabc", "not-a-payment")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, f.handled.Load())
		assert.Zero(t, f.settlements.Load())
	})

	t.Run("invalid", func(t *testing.T) {
		f := newFixture(t, x402.NewVerifyError(x402.ReasonNonceAlreadyUsed, "", ""))
		w := f.get("/balance/0xabc", f.pay(t, "/balance/0xabc"))
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Contains(t, w.Body.String(), x402.ReasonNonceAlreadyUsed)
		assert.Zero(t, f.handled.Load())
	})

	t.Run("facilitator down", func(t *testing.T) {
		f := newFixture(t, x402.NewFacilitatorError("verify", 503, errors.New("unavailable")))
		w := f.get("/balance/0xabc", f.pay(t, "/balance/0xabc"))
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Zero(t, f.handled.Load())
	})
}

func TestPaymentMiddlewareHandlerFailure(t *testing.T) {
	for _, path := range []string{"/broken", "/panics"} {
		t.Run(path, func(t *testing.T) {
			f := newFixture(t, nil)
			w := f.get(path, f.pay(t, path))

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			var body x402http.HandlerFailureResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, x402.ErrCodeHandlerFailure, body.Error)
			assert.True(t, body.Settled)
			assert.Equal(t, "0xfeed", body.Transaction)
			assert.Equal(t, int32(1), f.handled.Load())
		})
	}
}

func TestCORSAndPassThrough(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/balance/0xabc", nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, x402.PaymentResponseHeader, w.Header().Get("Access-Control-Expose-Headers"))

	w = f.get("/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, f.settlements.Load())
}
