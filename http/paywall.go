package http

import (
	"bytes"
	"encoding/json"
	"html/template"
	"strings"

	x402 "github.com/pinion-os/x402-go"
)

// PaywallConfig customizes the HTML page served to browsers on a 402.
type PaywallConfig struct {
	AppName string
	AppLogo string
	// CustomHTML replaces the built-in page verbatim.
	CustomHTML string
}

var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Payment Required{{if .AppName}} | {{.AppName}}{{end}}</title>
</head>
<body>
<main>
{{if .AppLogo}}<img src="{{.AppLogo}}" alt="{{.AppName}}" height="48">{{end}}
<h1>Payment Required</h1>
<p>{{.Description}}</p>
<p>Price: <strong>{{.Price}}</strong> on <strong>{{.Network}}</strong></p>
<p>Pay to <code>{{.PayTo}}</code> with an x402 client, then retry this request.</p>
</main>
<script>window.x402 = {{.Challenge}};</script>
</body>
</html>
`))

type paywallData struct {
	AppName     string
	AppLogo     string
	Description string
	Price       string
	Network     x402.Network
	PayTo       string
	Challenge   template.JS
}

// renderPaywall renders the browser page for a challenge. The challenge JSON
// is embedded so wallet scripts can build the payment without a second request.
func renderPaywall(challenge x402.PaymentRequired, config *PaywallConfig) (string, error) {
	if config.CustomHTML != "" {
		return config.CustomHTML, nil
	}

	raw, err := json.Marshal(challenge)
	if err != nil {
		return "", err
	}
	primary := challenge.Accepts[0]
	data := paywallData{
		AppName:     config.AppName,
		AppLogo:     config.AppLogo,
		Description: primary.Description,
		Price:       primary.MaxAmountRequired,
		Network:     primary.Network,
		PayTo:       primary.PayTo,
		Challenge:   template.JS(raw),
	}
	if asset, err := x402.GetAssetInfo(primary.Network, primary.Asset); err == nil {
		data.Price = x402.FormatUSD(primary.MaxAmountRequired, asset.Decimals)
	}

	var buf bytes.Buffer
	if err := paywallTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isWebBrowser(info RequestInfo) bool {
	return strings.Contains(info.Accept, "text/html") && strings.Contains(info.UserAgent, "Mozilla")
}
