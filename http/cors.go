package http

import (
	"net/http"

	x402 "github.com/pinion-os/x402-go"
)

const (
	corsAllowMethods = "GET, OPTIONS"
	corsAllowHeaders = "Content-Type, " + x402.PaymentHeader + ", Accept"
)

// ApplyCORS sets the headers browser clients need to send X-PAYMENT and read
// X-PAYMENT-RESPONSE.
func ApplyCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	h.Set("Access-Control-Expose-Headers", x402.PaymentResponseHeader)
}

// CORS answers preflight requests with 204 and decorates every other
// response. Mount it outside the guard so preflights are never challenged.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ApplyCORS(w.Header())
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
