// Package http wires x402 payments into HTTP servers and clients.
//
// On the server side a Guard matches priced routes, answers unpaid requests
// with a 402 challenge, and verifies and settles X-PAYMENT proofs through a
// facilitator before the wrapped handler runs. Adapters for gin and echo live
// in the gin and echo subpackages.
//
// On the client side PaymentRoundTripper turns a 402 into a signed retry.
package http

import (
	"log/slog"
	"time"

	x402 "github.com/pinion-os/x402-go"
)

// DefaultMaxTimeoutSeconds is the validity window offered to payers when a
// route does not set one.
const DefaultMaxTimeoutSeconds = 60

// DefaultFacilitatorTimeout bounds a single verify-and-settle round trip.
const DefaultFacilitatorTimeout = 15 * time.Second

// DefaultMimeType is advertised for routes without an explicit mime type.
const DefaultMimeType = "application/json"

// RouteConfig prices a single route.
type RouteConfig struct {
	// Price is a USD amount such as "$0.01".
	Price string
	// Network overrides Config.Network.
	Network x402.Network
	// PayTo overrides Config.PayTo.
	PayTo             string
	Description       string
	MimeType          string
	MaxTimeoutSeconds int
	// Example is a concrete request path advertised in the catalog.
	Example      string
	OutputSchema any
}

// RoutesConfig maps route patterns to their pricing. Patterns take the form
// "METHOD /path/[param]", "/path" (any method) or "*".
type RoutesConfig map[string]RouteConfig

// Config is the static configuration of a Guard.
type Config struct {
	PayTo       string
	Network     x402.Network
	Routes      RoutesConfig
	Facilitator x402.Facilitator

	// ResourceRootURL prefixes request paths in requirement.resource. When
	// empty the URL is derived from the request.
	ResourceRootURL string
}

// Option configures optional Guard behaviour.
type Option func(*Guard)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithFacilitatorTimeout bounds facilitator calls. The effective bound is
// never longer than the route's maxTimeoutSeconds.
func WithFacilitatorTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.facilitatorTimeout = d
		}
	}
}

// WithPaywall serves an HTML paywall to browsers instead of the JSON challenge.
func WithPaywall(config PaywallConfig) Option {
	return func(g *Guard) {
		g.paywall = &config
	}
}
