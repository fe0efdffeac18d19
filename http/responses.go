package http

import (
	"encoding/json"
	"errors"
	"net/http"

	x402 "github.com/pinion-os/x402-go"
)

// ErrorResponse is the JSON body of 400 and 502 responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

// HandlerFailureResponse is the JSON body sent when the business handler
// fails after payment settled. It never claims the payment was invalid.
type HandlerFailureResponse struct {
	Error       string       `json:"error"`
	Message     string       `json:"message"`
	Settled     bool         `json:"settled"`
	Transaction string       `json:"transaction,omitempty"`
	Network     x402.Network `json:"network,omitempty"`
	Payer       string       `json:"payer,omitempty"`
	PaymentID   string       `json:"paymentId,omitempty"`
}

// Write sends the decision's response. For DecisionSettled it only sets the
// receipt header; the handler writes the body. PassThrough writes nothing.
func (d Decision) Write(w http.ResponseWriter) {
	switch d.Kind {
	case DecisionPassThrough:
		return
	case DecisionSettled:
		if d.ReceiptHeader != "" {
			w.Header().Set(x402.PaymentResponseHeader, d.ReceiptHeader)
		}
		return
	}

	if d.HTML != "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(d.Status)
		_, _ = w.Write([]byte(d.HTML))
		return
	}
	writeJSON(w, d.Status, d.Body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func malformedBody(err error) ErrorResponse {
	body := ErrorResponse{
		Error:   x402.ErrCodeMalformedPayment,
		Message: "X-PAYMENT header could not be decoded",
	}
	var malformed *x402.MalformedPaymentError
	if errors.As(err, &malformed) {
		body.Field = malformed.Field
		body.Message = malformed.Reason
	}
	return body
}

func facilitatorUnavailableBody() ErrorResponse {
	return ErrorResponse{
		Error:   x402.ErrCodeFacilitatorUnavailable,
		Message: "payment facilitator is unavailable, retry with a freshly signed payment",
	}
}
