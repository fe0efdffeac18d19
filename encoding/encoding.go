// Package encoding converts x402 wire objects to and from the base64 JSON
// values carried in the X-PAYMENT and X-PAYMENT-RESPONSE headers.
//
// The codec is purely structural: it never checks signatures or balances.
package encoding

import (
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/pinion-os/x402-go"
)

//go:embed schema/payment_payload.json
var paymentPayloadSchema []byte

// Standard alphabet, padding optional.
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(paymentPayloadSchema))
})

// EncodePayment serializes a payload for the X-PAYMENT header.
func EncodePayment(payload x402.PaymentPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePayment parses an X-PAYMENT header value. Any structural problem is
// reported as a *x402.MalformedPaymentError.
func DecodePayment(header string) (x402.PaymentPayload, error) {
	raw, err := decodeBase64(header)
	if err != nil {
		return x402.PaymentPayload{}, err
	}

	if !json.Valid(raw) {
		return x402.PaymentPayload{}, x402.NewMalformedPaymentError("", "not valid JSON", nil)
	}
	if err := validatePayload(raw); err != nil {
		return x402.PaymentPayload{}, err
	}

	var payload x402.PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return x402.PaymentPayload{}, x402.NewMalformedPaymentError("", "failed to parse payment payload", err)
	}
	return payload, nil
}

// EncodeSettlement serializes a settlement receipt for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement x402.SettleResponse) (string, error) {
	data, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeSettlement parses an X-PAYMENT-RESPONSE header value.
func DecodeSettlement(header string) (x402.SettleResponse, error) {
	raw, err := decodeBase64(header)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	var settlement x402.SettleResponse
	if err := json.Unmarshal(raw, &settlement); err != nil {
		return x402.SettleResponse{}, fmt.Errorf("failed to parse settlement: %w", err)
	}
	return settlement, nil
}

// DecodePaymentRequired parses a 402 response body.
func DecodePaymentRequired(body []byte) (x402.PaymentRequired, error) {
	var required x402.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return x402.PaymentRequired{}, fmt.Errorf("failed to parse payment required response: %w", err)
	}
	if err := required.Validate(); err != nil {
		return x402.PaymentRequired{}, err
	}
	return required, nil
}

func decodeBase64(header string) ([]byte, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, x402.NewMalformedPaymentError("", "header is empty", nil)
	}
	if !base64Regex.MatchString(header) {
		return nil, x402.NewMalformedPaymentError("", "not valid base64", nil)
	}

	enc := base64.StdEncoding
	if len(header)%4 != 0 && !strings.HasSuffix(header, "=") {
		enc = base64.RawStdEncoding
	}
	raw, err := enc.DecodeString(header)
	if err != nil {
		return nil, x402.NewMalformedPaymentError("", "base64 decoding failed", err)
	}
	return raw, nil
}

func validatePayload(raw []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile payment payload schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return x402.NewMalformedPaymentError("", "not valid JSON", err)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field() < errs[j].Field() })
	first := errs[0]
	return x402.NewMalformedPaymentError(fieldPath(first), describe(first), nil)
}

func fieldPath(e gojsonschema.ResultError) string {
	field := e.Field()
	if e.Type() == "required" {
		property, _ := e.Details()["property"].(string)
		if field == "(root)" {
			return property
		}
		return field + "." + property
	}
	if field == "(root)" {
		return ""
	}
	return field
}

func describe(e gojsonschema.ResultError) string {
	switch e.Type() {
	case "required":
		return "missing required field"
	case "invalid_type":
		return fmt.Sprintf("invalid field type, expected %v", e.Details()["expected"])
	case "pattern":
		return "invalid format"
	default:
		return e.Description()
	}
}
