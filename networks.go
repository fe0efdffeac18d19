package x402

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// DefaultDecimals is the decimals of USDC on every supported network.
const DefaultDecimals = 6

// AssetInfo describes an EIP-3009 token.
type AssetInfo struct {
	Address  string
	Name     string
	Version  string
	Decimals int32
	Symbol   string
}

// NetworkConfig is the static description of a supported chain.
type NetworkConfig struct {
	Name         Network
	ChainID      *big.Int
	DefaultAsset AssetInfo
	Testnet      bool
}

// CAIP2 returns the network in eip155:<chainId> form.
func (c NetworkConfig) CAIP2() Network {
	return Network("eip155:" + c.ChainID.String())
}

// NetworkConfigs maps legacy network names to their configuration.
// Decimals and EIP-712 domains are static data; nothing is discovered at runtime.
var NetworkConfigs = map[Network]NetworkConfig{
	"base": {
		Name:    "base",
		ChainID: big.NewInt(8453),
		DefaultAsset: AssetInfo{
			Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: DefaultDecimals,
			Symbol:   "USDC",
		},
	},
	"base-sepolia": {
		Name:    "base-sepolia",
		ChainID: big.NewInt(84532),
		DefaultAsset: AssetInfo{
			Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:     "USDC",
			Version:  "2",
			Decimals: DefaultDecimals,
			Symbol:   "USDC",
		},
		Testnet: true,
	},
	"avalanche": {
		Name:    "avalanche",
		ChainID: big.NewInt(43114),
		DefaultAsset: AssetInfo{
			Address:  "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: DefaultDecimals,
			Symbol:   "USDC",
		},
	},
	"avalanche-fuji": {
		Name:    "avalanche-fuji",
		ChainID: big.NewInt(43113),
		DefaultAsset: AssetInfo{
			Address:  "0x5425890298aed601595a70AB815c96711a31Bc65",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: DefaultDecimals,
			Symbol:   "USDC",
		},
		Testnet: true,
	},
	"polygon": {
		Name:    "polygon",
		ChainID: big.NewInt(137),
		DefaultAsset: AssetInfo{
			Address:  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
			Name:     "USD Coin",
			Version:  "2",
			Decimals: DefaultDecimals,
			Symbol:   "USDC",
		},
	},
	"polygon-amoy": {
		Name:    "polygon-amoy",
		ChainID: big.NewInt(80002),
		DefaultAsset: AssetInfo{
			Address:  "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
			Name:     "USDC",
			Version:  "2",
			Decimals: DefaultDecimals,
			Symbol:   "USDC",
		},
		Testnet: true,
	},
}

// GetNetworkConfig resolves a legacy name or a CAIP-2 identifier.
func GetNetworkConfig(network Network) (NetworkConfig, error) {
	if cfg, ok := NetworkConfigs[network]; ok {
		return cfg, nil
	}
	namespace, reference, err := network.Parse()
	if err == nil && namespace == "eip155" {
		for _, cfg := range NetworkConfigs {
			if cfg.ChainID.String() == reference {
				return cfg, nil
			}
		}
	}
	return NetworkConfig{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
}

// GetAssetInfo returns the asset on network identified by address or symbol.
// An empty identifier selects the network's default asset.
func GetAssetInfo(network Network, asset string) (AssetInfo, error) {
	cfg, err := GetNetworkConfig(network)
	if err != nil {
		return AssetInfo{}, err
	}
	if asset == "" ||
		strings.EqualFold(asset, cfg.DefaultAsset.Address) ||
		strings.EqualFold(asset, cfg.DefaultAsset.Symbol) {
		return cfg.DefaultAsset, nil
	}
	return AssetInfo{}, fmt.Errorf("x402: asset %s is not configured on %s", asset, network)
}

// SameNetwork reports whether a and b name the same chain, accepting a mix of
// legacy and CAIP-2 identifiers.
func SameNetwork(a, b Network) bool {
	if a == b {
		return true
	}
	ca, errA := GetNetworkConfig(a)
	cb, errB := GetNetworkConfig(b)
	if errA != nil || errB != nil {
		return false
	}
	return ca.ChainID.Cmp(cb.ChainID) == 0
}

// SupportedNetworks lists the legacy names in the network table, sorted.
func SupportedNetworks() []Network {
	out := make([]Network, 0, len(NetworkConfigs))
	for name := range NetworkConfigs {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
