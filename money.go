package x402

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AssetAmount is a price resolved to a concrete token and smallest-unit amount.
type AssetAmount struct {
	Asset  string        `json:"asset"`
	Amount string        `json:"amount"`
	Extra  *PaymentExtra `json:"extra,omitempty"`
}

// ParsePrice converts a human price ("$0.01", "0.01", "0.01 USDC") into the
// default asset of network, in the asset's smallest unit.
func ParsePrice(price string, network Network) (AssetAmount, error) {
	if strings.TrimSpace(price) == "" {
		return AssetAmount{}, ErrMissingPrice
	}
	cfg, err := GetNetworkConfig(network)
	if err != nil {
		return AssetAmount{}, err
	}
	asset := cfg.DefaultAsset

	amount, err := ParseAmount(price, asset.Decimals)
	if err != nil {
		return AssetAmount{}, err
	}
	return AssetAmount{
		Asset:  asset.Address,
		Amount: amount,
		Extra:  &PaymentExtra{Name: asset.Name, Version: asset.Version},
	}, nil
}

// ParseAmount converts a decimal currency string to smallest units.
func ParseAmount(price string, decimals int32) (string, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	for _, suffix := range []string{" USDC", " USD", "USDC", "USD"} {
		if strings.HasSuffix(strings.ToUpper(s), suffix) {
			s = strings.TrimSpace(s[:len(s)-len(suffix)])
			break
		}
	}
	s = strings.ReplaceAll(s, "_", "")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidPrice, price)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("%w: %q is negative", ErrInvalidPrice, price)
	}
	units := d.Shift(decimals)
	if !units.IsInteger() {
		return "", fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidPrice, price, decimals)
	}
	return units.BigInt().String(), nil
}

// FormatAmount renders a smallest-unit amount as a decimal string, e.g.
// FormatAmount("10000", 6) == "0.01".
func FormatAmount(amount string, decimals int32) (string, error) {
	v, err := ParseUint256(amount)
	if err != nil {
		return "", err
	}
	return decimal.NewFromBigInt(v, -decimals).String(), nil
}

// FormatUSD renders a smallest-unit amount of a USD stablecoin as "$0.01".
func FormatUSD(amount string, decimals int32) string {
	s, err := FormatAmount(amount, decimals)
	if err != nil {
		return amount
	}
	d, _ := decimal.NewFromString(s)
	if d.Exponent() > -2 {
		return "$" + d.StringFixed(2)
	}
	return "$" + s
}
