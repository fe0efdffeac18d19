// Package config loads process configuration for the binaries in cmd/.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	x402 "github.com/pinion-os/x402-go"
	x402http "github.com/pinion-os/x402-go/http"
)

// Defaults applied when the environment leaves a value unset.
const (
	DefaultAddress        = "0x101Cd32b9bEEE93845Ead7Bc604a5F1873330acf"
	DefaultNetwork        = x402.Network("base")
	DefaultPort           = 4020
	DefaultRPCURL         = "https://mainnet.base.org"
	DefaultFacilitatorURL = x402http.DefaultFacilitatorURL
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "text"
)

// Config is read once at startup and passed down explicitly.
type Config struct {
	// PayTo receives every payment.
	PayTo string
	// Network payments settle on.
	Network x402.Network
	// FacilitatorURL is the base URL of the verify/settle service.
	FacilitatorURL string
	// FacilitatorTimeout bounds a single verify-and-settle exchange. Zero
	// keeps the guard default.
	FacilitatorTimeout time.Duration
	// FacilitatorAPIKey is sent as a bearer token when set.
	FacilitatorAPIKey string
	Port              int
	RPCURL            string
	// ResourceRootURL prefixes the resource of each payment requirement,
	// e.g. https://api.example.com. Empty derives it from the request.
	ResourceRootURL string
	LogLevel        string
	LogFormat       string
	// PrivateKey is only read by the paying client.
	PrivateKey string
}

// Load reads an optional .env file followed by the process environment.
// Variables already set in the environment win over the .env file.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	cfg := Config{
		PayTo:             get("ADDRESS", DefaultAddress),
		Network:           x402.Network(get("NETWORK", string(DefaultNetwork))),
		FacilitatorURL:    get("FACILITATOR_URL", DefaultFacilitatorURL),
		FacilitatorAPIKey: get("FACILITATOR_API_KEY", ""),
		RPCURL:            get("RPC_URL", DefaultRPCURL),
		ResourceRootURL:   strings.TrimRight(get("RESOURCE_ROOT_URL", ""), "/"),
		LogLevel:          get("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         get("LOG_FORMAT", DefaultLogFormat),
		PrivateKey:        get("PRIVATE_KEY", ""),
	}

	port, err := strconv.Atoi(get("PORT", strconv.Itoa(DefaultPort)))
	if err != nil || port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid PORT %q", get("PORT", ""))
	}
	cfg.Port = port

	if raw := get("FACILITATOR_TIMEOUT", ""); raw != "" {
		timeout, err := parseTimeout(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FACILITATOR_TIMEOUT %q: %w", raw, err)
		}
		cfg.FacilitatorTimeout = timeout
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if !common.IsHexAddress(c.PayTo) {
		return fmt.Errorf("ADDRESS %q is not a hex address", c.PayTo)
	}
	if _, err := x402.GetNetworkConfig(c.Network); err != nil {
		return fmt.Errorf("NETWORK: %w", err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// NewLogger builds the process logger from the configured level and format.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// parseTimeout accepts a Go duration ("15s") or a bare number of seconds.
func parseTimeout(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, errors.New("must be positive")
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}
