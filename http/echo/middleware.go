// Package echo adapts the x402 route guard to echo.
package echo

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	x402 "github.com/pinion-os/x402-go"
	x402http "github.com/pinion-os/x402-go/http"
)

// Context keys set on settled requests.
const (
	SettlementKey = "x402.settlement"
	PaymentIDKey  = "x402.paymentId"
)

// PaymentMiddleware guards echo handlers with x402 payments.
//
// An *echo.HTTPError below 500 returned by a settled handler is handed back to
// echo unchanged. Any other error or a panic is logged as a post-settlement
// failure and answered with a 500 unless the response is already committed.
func PaymentMiddleware(guard *x402http.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			info := x402http.RequestInfoFromHTTP(c.Request())
			decision := guard.Process(c.Request().Context(), info)

			switch decision.Kind {
			case x402http.DecisionPassThrough:
				return next(c)
			case x402http.DecisionSettled:
			default:
				decision.Write(c.Response())
				return nil
			}

			decision.Write(c.Response())
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
				err = respondFailure(c, body)
			}()

			if herr := next(c); herr != nil {
				var httpErr *echo.HTTPError
				if errors.As(herr, &httpErr) && httpErr.Code < http.StatusInternalServerError {
					return herr
				}
				return respondFailure(c, guard.HandlerFailed(decision, info, herr))
			}

			if status := c.Response().Status; status >= http.StatusInternalServerError {
				guard.HandlerFailed(decision, info, fmt.Errorf("handler responded with status %d", status))
			}
			return nil
		}
	}
}

func respondFailure(c echo.Context, body x402http.HandlerFailureResponse) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusInternalServerError, body)
}

// Settlement returns the receipt of the payment that unlocked this request.
func Settlement(c echo.Context) (*x402.SettleResponse, bool) {
	settlement, ok := c.Get(SettlementKey).(*x402.SettleResponse)
	return settlement, ok && settlement != nil
}

// CORS returns echo's CORS middleware configured for x402 browser clients.
func CORS() echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, x402.PaymentHeader, echo.HeaderAccept},
		ExposeHeaders: []string{x402.PaymentResponseHeader},
	})
}
