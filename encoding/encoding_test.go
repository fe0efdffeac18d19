package encoding

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/pinion-os/x402-go"
)

func samplePayload() x402.PaymentPayload {
	return x402.PaymentPayload{
		X402Version: 1,
		Scheme:      x402.SchemeExact,
		Network:     "base",
		Payload: x402.ExactEvmPayload{
			Signature: "0x" + strings.Repeat("ab", 65),
			Authorization: x402.Authorization{
				From:        "0x857b06519E91e3A54538791bDbb0E22373e36b66",
				To:          "0x101Cd32b9bEEE93845Ead7Bc604a5F1873330acf",
				Value:       "10000",
				ValidAfter:  "1740672089",
				ValidBefore: "1740672154",
				Nonce:       "0x" + strings.Repeat("f3", 32),
			},
		},
	}
}

func encodeMap(t *testing.T, m map[string]any) string {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(data)
}

func payloadMap(t *testing.T) map[string]any {
	t.Helper()
	data, err := json.Marshal(samplePayload())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func authorizationOf(m map[string]any) map[string]any {
	return m["payload"].(map[string]any)["authorization"].(map[string]any)
}

func TestPaymentRoundTrip(t *testing.T) {
	want := samplePayload()

	header, err := EncodePayment(want)
	require.NoError(t, err)

	got, err := DecodePayment(header)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodePaymentAcceptsUnpaddedBase64(t *testing.T) {
	data, err := json.Marshal(samplePayload())
	require.NoError(t, err)

	got, err := DecodePayment(base64.RawStdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, samplePayload(), got)
}

func TestDecodePaymentMalformed(t *testing.T) {
	tests := []struct {
		name      string
		header    func(t *testing.T) string
		wantField string
	}{
		{
			name:   "empty",
			header: func(*testing.T) string { return "" },
		},
		{
			name:   "not base64",
			header: func(*testing.T) string { return "!!not-base64!!" },
		},
		{
			name:   "not json",
			header: func(*testing.T) string { return base64.StdEncoding.EncodeToString([]byte("hello")) },
		},
		{
			name: "missing version",
			header: func(t *testing.T) string {
				m := payloadMap(t)
				delete(m, "x402Version")
				return encodeMap(t, m)
			},
			wantField: "x402Version",
		},
		{
			name: "version is a string",
			header: func(t *testing.T) string {
				m := payloadMap(t)
				m["x402Version"] = "1"
				return encodeMap(t, m)
			},
			wantField: "x402Version",
		},
		{
			name: "missing signature",
			header: func(t *testing.T) string {
				m := payloadMap(t)
				delete(m["payload"].(map[string]any), "signature")
				return encodeMap(t, m)
			},
			wantField: "payload.signature",
		},
		{
			name: "missing nonce",
			header: func(t *testing.T) string {
				m := payloadMap(t)
				delete(authorizationOf(m), "nonce")
				return encodeMap(t, m)
			},
			wantField: "payload.authorization.nonce",
		},
		{
			name: "nonce not hex",
			header: func(t *testing.T) string {
				m := payloadMap(t)
				authorizationOf(m)["nonce"] = "not-a-nonce"
				return encodeMap(t, m)
			},
			wantField: "payload.authorization.nonce",
		},
		{
			name: "value not numeric string",
			header: func(t *testing.T) string {
				m := payloadMap(t)
				authorizationOf(m)["value"] = "0.01"
				return encodeMap(t, m)
			},
			wantField: "payload.authorization.value",
		},
		{
			name: "value is a number",
			header: func(t *testing.T) string {
				m := payloadMap(t)
				authorizationOf(m)["value"] = 10000
				return encodeMap(t, m)
			},
			wantField: "payload.authorization.value",
		},
		{
			name: "from not an address",
			header: func(t *testing.T) string {
				m := payloadMap(t)
				authorizationOf(m)["from"] = "alice"
				return encodeMap(t, m)
			},
			wantField: "payload.authorization.from",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayment(tt.header(t))
			require.Error(t, err)
			assert.True(t, errors.Is(err, x402.ErrMalformedPayment), "got %v", err)

			var merr *x402.MalformedPaymentError
			require.True(t, errors.As(err, &merr))
			if tt.wantField != "" {
				assert.Equal(t, tt.wantField, merr.Field)
			}
		})
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	want := x402.SettleResponse{
		Success:     true,
		Transaction: "0x" + strings.Repeat("1", 64),
		Network:     "base",
		Payer:       "0x857b06519E91e3A54538791bDbb0E22373e36b66",
	}
	header, err := EncodeSettlement(want)
	require.NoError(t, err)

	got, err := DecodeSettlement(header)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodePaymentRequired(t *testing.T) {
	_, err := DecodePaymentRequired([]byte(`{"x402Version":1,"accepts":[]}`))
	assert.Error(t, err)

	_, err = DecodePaymentRequired([]byte(`not json`))
	assert.Error(t, err)

	got, err := DecodePaymentRequired([]byte(`{"x402Version":1,"error":"X-PAYMENT header is required","accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"10000","resource":"/x","description":"","mimeType":"","payTo":"0x1","maxTimeoutSeconds":60,"asset":"0x2"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "10000", got.Accepts[0].MaxAmountRequired)
}
