// Package gin adapts the x402 route guard to gin.
package gin

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/pinion-os/x402-go"
	x402http "github.com/pinion-os/x402-go/http"
)

// Context keys set on settled requests.
const (
	SettlementKey = "x402.settlement"
	PaymentIDKey  = "x402.paymentId"
)

// PaymentMiddleware is the gin middleware for resource servers using the x402
// payment protocol. Handlers behind it run only after settlement.
func PaymentMiddleware(guard *x402http.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		info := x402http.RequestInfoFromHTTP(c.Request)
		decision := guard.Process(c.Request.Context(), info)

		switch decision.Kind {
		case x402http.DecisionPassThrough:
			c.Next()
			return
		case x402http.DecisionSettled:
		default:
			c.Abort()
			decision.Write(c.Writer)
			return
		}

		decision.Write(c.Writer)
		c.Set(SettlementKey, decision.Settlement)
		c.Set(PaymentIDKey, decision.PaymentID)

		defer func() {
			p := recover()
			if p == nil {
				return
			}
			body := guard.HandlerFailed(decision, info, fmt.Errorf("handler panicked: %v", p))
			if p == http.ErrAbortHandler {
				panic(p)
			}
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()

		c.Next()

		status := c.Writer.Status()
		unanswered := len(c.Errors) > 0 && !c.Writer.Written()
		if status < http.StatusInternalServerError && !unanswered {
			return
		}
		cause := errors.New(http.StatusText(status))
		if last := c.Errors.Last(); last != nil {
			cause = last.Err
		}
		body := guard.HandlerFailed(decision, info, cause)
		if !c.Writer.Written() {
			if status < http.StatusInternalServerError {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, body)
		}
	}
}

// Settlement returns the receipt of the payment that unlocked this request.
func Settlement(c *gin.Context) (*x402.SettleResponse, bool) {
	v, ok := c.Get(SettlementKey)
	if !ok {
		return nil, false
	}
	settlement, ok := v.(*x402.SettleResponse)
	return settlement, ok
}

// CORS sets the x402 CORS headers and answers preflight requests with 204.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		x402http.ApplyCORS(c.Writer.Header())
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
