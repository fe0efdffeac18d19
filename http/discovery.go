package http

import (
	"net/http"
	"strings"

	x402 "github.com/pinion-os/x402-go"
)

// Skill is one priced endpoint in the free catalog.
type Skill struct {
	Endpoint    string       `json:"endpoint"`
	Method      string       `json:"method"`
	Price       string       `json:"price"`
	Currency    string       `json:"currency"`
	Network     x402.Network `json:"network"`
	Description string       `json:"description"`
	Example     string       `json:"example,omitempty"`
}

// Catalog is the body of the free discovery endpoint.
type Catalog struct {
	Skills  []Skill      `json:"skills"`
	PayTo   string       `json:"payTo"`
	Network x402.Network `json:"network"`
}

// Catalog lists every priced route.
func (g *Guard) Catalog() Catalog {
	routes := g.Routes()
	skills := make([]Skill, 0, len(routes))
	for _, r := range routes {
		currency := "USDC"
		if asset, err := x402.GetAssetInfo(r.Requirements.Network, r.Requirements.Asset); err == nil && asset.Symbol != "" {
			currency = asset.Symbol
		}
		skills = append(skills, Skill{
			Endpoint:    r.Path,
			Method:      r.Method,
			Price:       r.Price,
			Currency:    currency,
			Network:     r.Requirements.Network,
			Description: r.Description,
			Example:     r.Example,
		})
	}
	return Catalog{Skills: skills, PayTo: g.payTo, Network: g.network}
}

// CatalogHandler serves Guard.Catalog as JSON. It is never payment gated.
func CatalogHandler(g *Guard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, g.Catalog())
	})
}

// WellKnownConfig configures the /.well-known/x402 document.
type WellKnownConfig struct {
	// BaseURL prefixes route examples to form absolute resource URLs.
	BaseURL         string
	OwnershipProofs []string
	Instructions    string
}

// WellKnown is the x402 discovery document.
type WellKnown struct {
	Version         int      `json:"version"`
	Resources       []string `json:"resources"`
	OwnershipProofs []string `json:"ownershipProofs"`
	Instructions    string   `json:"instructions,omitempty"`
}

// WellKnown builds the discovery document. Routes without an example and
// with parameters or wildcards are not listed as resources.
func (g *Guard) WellKnown(cfg WellKnownConfig) WellKnown {
	base := strings.TrimRight(cfg.BaseURL, "/")
	resources := make([]string, 0, len(g.routes))
	for _, r := range g.Routes() {
		path := r.Example
		if path == "" {
			if strings.ContainsAny(r.Path, ":*") {
				continue
			}
			path = r.Path
		}
		resources = append(resources, base+path)
	}

	proofs := cfg.OwnershipProofs
	if proofs == nil {
		proofs = []string{}
	}
	return WellKnown{
		Version:         x402.ProtocolVersion,
		Resources:       resources,
		OwnershipProofs: proofs,
		Instructions:    cfg.Instructions,
	}
}

// WellKnownHandler serves the discovery document as JSON.
func WellKnownHandler(g *Guard, cfg WellKnownConfig) http.Handler {
	doc := g.WellKnown(cfg)
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, doc)
	})
}
