package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/pinion-os/x402-go"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultAddress, cfg.PayTo)
	assert.Equal(t, DefaultNetwork, cfg.Network)
	assert.Equal(t, DefaultFacilitatorURL, cfg.FacilitatorURL)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, ":4020", cfg.Addr())
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Zero(t, cfg.FacilitatorTimeout)
	assert.Empty(t, cfg.PrivateKey)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(lookupFrom(map[string]string{
		"ADDRESS":             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		"NETWORK":             "eip155:84532",
		"FACILITATOR_URL":     "http://localhost:4022",
		"FACILITATOR_TIMEOUT": "5",
		"PORT":                "8080",
		"RESOURCE_ROOT_URL":   "https://api.example.com/",
		"LOG_LEVEL":           "debug",
		"LOG_FORMAT":          "json",
		"PRIVATE_KEY":         "0xabc",
	}))
	require.NoError(t, err)

	assert.Equal(t, x402.Network("eip155:84532"), cfg.Network)
	assert.Equal(t, 5*time.Second, cfg.FacilitatorTimeout)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://api.example.com", cfg.ResourceRootURL)
	assert.Equal(t, "0xabc", cfg.PrivateKey)
}

func TestFromEnvRejects(t *testing.T) {
	tests := map[string]map[string]string{
		"non-hex address":   {"ADDRESS": "alice.eth"},
		"unknown network":   {"NETWORK": "solana"},
		"port out of range": {"PORT": "70000"},
		"port not numeric":  {"PORT": "http"},
		"negative timeout":  {"FACILITATOR_TIMEOUT": "-1s"},
		"garbage timeout":   {"FACILITATOR_TIMEOUT": "soon"},
		"bad level":         {"LOG_LEVEL": "loud"},
		"bad format":        {"LOG_FORMAT": "xml"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromEnv(lookupFrom(env))
			assert.Error(t, err)
		})
	}
}

func TestParseTimeout(t *testing.T) {
	d, err := parseTimeout("1500ms")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	_, err = parseTimeout("0")
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("PORT=9191\nLOG_FORMAT=json\n"), 0o600))
	t.Setenv("PORT", "")
	t.Setenv("LOG_FORMAT", "")
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_FORMAT")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "paymentId", "pay_1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"paymentId":"pay_1"`)
}
