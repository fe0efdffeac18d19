package http

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	x402 "github.com/pinion-os/x402-go"
)

// compiledRoute is a priced route with its matcher and its prebuilt
// requirements. Instances are immutable after NewGuard returns.
type compiledRoute struct {
	pattern      string
	verb         string
	path         string
	regex        *regexp.Regexp
	config       RouteConfig
	requirements x402.PaymentRequirements
}

func (r *compiledRoute) matches(method, path string) bool {
	if r.verb != "*" && !strings.EqualFold(r.verb, method) {
		return false
	}
	return r.regex.MatchString(path)
}

// parseRoutePattern splits "GET /balance/[address]" into its verb and a
// path matcher. Parameter segments may be written [name], :name or {name}
// and match exactly one path segment; a "*" segment matches the rest of the
// path.
func parseRoutePattern(pattern string) (string, *regexp.Regexp) {
	verb, path := splitRoutePattern(pattern)
	if path == "*" {
		return verb, regexp.MustCompile(`^.*$`)
	}

	var b strings.Builder
	b.WriteString("^")
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		b.WriteString("/")
		switch {
		case seg == "*":
			b.WriteString(".*")
		case isParamSegment(seg):
			b.WriteString("[^/]+")
		default:
			b.WriteString(regexp.QuoteMeta(seg))
		}
	}
	if b.Len() == 1 {
		b.WriteString("/")
	}
	b.WriteString("$")
	return verb, regexp.MustCompile(b.String())
}

func splitRoutePattern(pattern string) (verb, path string) {
	pattern = strings.TrimSpace(pattern)
	if i := strings.IndexByte(pattern, ' '); i > 0 {
		return strings.ToUpper(pattern[:i]), strings.TrimSpace(pattern[i+1:])
	}
	return "*", pattern
}

func isParamSegment(seg string) bool {
	switch {
	case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
		return len(seg) > 2
	case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
		return len(seg) > 2
	case strings.HasPrefix(seg, ":"):
		return len(seg) > 1
	}
	return false
}

// displayPath renders a route template in ":param" form for the catalog.
func displayPath(path string) string {
	if path == "*" {
		return path
	}
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if isParamSegment(seg) {
			segs[i] = ":" + strings.Trim(seg, "[]{}:")
		}
	}
	return strings.Join(segs, "/")
}

// normalizePath canonicalizes a request path before matching: the query and
// fragment are dropped, repeated slashes collapsed and any trailing slash
// removed. Escapes are left alone; the path is already decoded.
func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// escapedSegmentsPath splits an escaped path into segments, then decodes each
// segment on its own. A decoded slash stays inside its segment as %2F.
func escapedSegmentsPath(escaped string) string {
	segs := strings.Split(normalizePath(escaped), "/")
	for i, seg := range segs {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			continue
		}
		segs[i] = strings.ReplaceAll(decoded, "/", "%2F")
	}
	return strings.Join(segs, "/")
}

// compileRoutes builds matchers and requirements for every configured route.
// More specific patterns are tried first.
func compileRoutes(cfg Config) ([]*compiledRoute, error) {
	routes := make([]*compiledRoute, 0, len(cfg.Routes))
	for pattern, rc := range cfg.Routes {
		verb, regex := parseRoutePattern(pattern)
		_, path := splitRoutePattern(pattern)

		requirements, err := buildRequirements(cfg, rc)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", pattern, err)
		}
		routes = append(routes, &compiledRoute{
			pattern:      pattern,
			verb:         verb,
			path:         path,
			regex:        regex,
			config:       rc,
			requirements: requirements,
		})
	}

	sort.Slice(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if specificity(a) != specificity(b) {
			return specificity(a) > specificity(b)
		}
		return a.pattern < b.pattern
	})
	return routes, nil
}

func specificity(r *compiledRoute) int {
	score := 0
	if r.verb != "*" {
		score++
	}
	for _, seg := range strings.Split(r.path, "/") {
		switch {
		case seg == "" || seg == "*":
		case isParamSegment(seg):
			score += 2
		default:
			score += 4
		}
	}
	return score
}

func buildRequirements(cfg Config, rc RouteConfig) (x402.PaymentRequirements, error) {
	network := rc.Network
	if network == "" {
		network = cfg.Network
	}
	payTo := rc.PayTo
	if payTo == "" {
		payTo = cfg.PayTo
	}
	if payTo == "" {
		return x402.PaymentRequirements{}, x402.ErrMissingRecipient
	}

	amount, err := x402.ParsePrice(rc.Price, network)
	if err != nil {
		return x402.PaymentRequirements{}, err
	}

	timeout := rc.MaxTimeoutSeconds
	if timeout == 0 {
		timeout = DefaultMaxTimeoutSeconds
	}
	mimeType := rc.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	requirements := x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           network,
		MaxAmountRequired: amount.Amount,
		Description:       rc.Description,
		MimeType:          mimeType,
		PayTo:             payTo,
		MaxTimeoutSeconds: timeout,
		Asset:             amount.Asset,
		OutputSchema:      rc.OutputSchema,
		Extra:             amount.Extra,
	}
	// resource is filled per request; validate with a placeholder.
	probe := requirements
	probe.Resource = "/"
	if err := probe.Validate(); err != nil {
		return x402.PaymentRequirements{}, err
	}
	return requirements, nil
}
