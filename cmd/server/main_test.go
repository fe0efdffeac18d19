package main

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/pinion-os/x402-go"
	x402http "github.com/pinion-os/x402-go/http"
	"github.com/pinion-os/x402-go/internal/chain"
	"github.com/pinion-os/x402-go/internal/config"
	"github.com/pinion-os/x402-go/internal/skills"
)

type idleReader struct{}

func (idleReader) NativeBalance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (idleReader) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (idleReader) Transaction(context.Context, common.Hash) (chain.TxInfo, error) {
	return chain.TxInfo{}, chain.ErrNotFound
}

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	cfg, err := config.FromEnv(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	cfg.ResourceRootURL = "https://skills.example.com"

	skillSet, err := skills.New(idleReader{}, cfg.Network, nil)
	require.NoError(t, err)
	guard, err := x402http.NewGuard(x402http.Config{
		PayTo:   cfg.PayTo,
		Network: cfg.Network,
		Routes:  skills.Routes(skillPrice, cfg.Network),
		Facilitator: x402.FacilitatorFunc(func(context.Context, x402.PaymentPayload, x402.PaymentRequirements) (*x402.SettleResponse, error) {
			t.Fatal("facilitator must not be called")
			return nil, nil
		}),
		ResourceRootURL: cfg.ResourceRootURL,
	})
	require.NoError(t, err)

	router := newRouter(guard, skillSet, cfg)
	gin.SetMode(gin.TestMode)
	return router
}

func TestFreeEndpoints(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{"/health", "/catalog", "/.well-known/x402"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"), path)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	var catalog x402http.Catalog
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &catalog))
	assert.Len(t, catalog.Skills, 3)
	assert.Equal(t, config.DefaultAddress, catalog.PayTo)
}

func TestSkillsArePaymentGated(t *testing.T) {
	router := testRouter(t)

	for _, path := range []string{
		"/balance/" + config.DefaultAddress,
		"/tx/0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
		"/wallet/generate",
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusPaymentRequired, w.Code, path)

		var challenge x402.PaymentRequired
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &challenge))
		require.NotEmpty(t, challenge.Accepts)
		assert.Equal(t, "10000", challenge.Accepts[0].MaxAmountRequired)
		assert.Equal(t, "https://skills.example.com"+path, challenge.Accepts[0].Resource)
	}
}
