package facilitator

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/pinion-os/x402-go"
)

// NewRouter exposes a facilitator over the x402 facilitator HTTP API:
//
//	POST /verify
//	POST /settle
//	GET  /supported
//	GET  /health
func NewRouter(f x402.FacilitatorClient, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/verify", func(c *gin.Context) {
		req, ok := bindRequest(c)
		if !ok {
			return
		}
		response, err := f.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			logger.Error("verify failed", "error", err)
			c.JSON(http.StatusInternalServerError, x402.NewPaymentError("verify_failed", "verification could not be completed", nil))
			return
		}
		c.JSON(http.StatusOK, response)
	})

	router.POST("/settle", func(c *gin.Context) {
		req, ok := bindRequest(c)
		if !ok {
			return
		}
		response, err := f.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
		if err != nil {
			logger.Error("settle failed", "error", err)
			c.JSON(http.StatusInternalServerError, x402.NewPaymentError("settle_failed", "settlement could not be completed", nil))
			return
		}
		c.JSON(http.StatusOK, response)
	})

	router.GET("/supported", func(c *gin.Context) {
		supported, err := f.GetSupported(c.Request.Context())
		if err != nil {
			logger.Error("supported failed", "error", err)
			c.JSON(http.StatusInternalServerError, x402.NewPaymentError("supported_failed", err.Error(), nil))
			return
		}
		c.JSON(http.StatusOK, supported)
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

func bindRequest(c *gin.Context) (x402.VerifyRequest, bool) {
	var req x402.VerifyRequest
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, x402.NewPaymentError("invalid_request", "failed to read request body", nil))
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, x402.NewPaymentError("invalid_request", "request body is not valid JSON", map[string]any{"cause": err.Error()}))
		return req, false
	}
	if req.X402Version == 0 {
		req.X402Version = req.PaymentPayload.X402Version
	}
	return req, true
}
