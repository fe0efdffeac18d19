// Package skills implements the paid endpoints served behind the x402 guard.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	x402 "github.com/pinion-os/x402-go"
	x402http "github.com/pinion-os/x402-go/http"
	"github.com/pinion-os/x402-go/internal/chain"
)

const ethDecimals = 18

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ChainReader is the read-only chain access the skills need.
type ChainReader interface {
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error)
	Transaction(ctx context.Context, hash common.Hash) (chain.TxInfo, error)
}

// Skills serves the paid endpoints for one network.
type Skills struct {
	reader  ChainReader
	network x402.NetworkConfig
	logger  *slog.Logger
	now     func() time.Time
}

// New creates Skills reading from reader. network selects the token whose
// balance is reported next to the native one.
func New(reader ChainReader, network x402.Network, logger *slog.Logger) (*Skills, error) {
	cfg, err := x402.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Skills{reader: reader, network: cfg, logger: logger, now: time.Now}, nil
}

// Register mounts the skills on r. Paths use gin's :param syntax; the matching
// guard patterns are listed by Routes.
func (s *Skills) Register(r gin.IRoutes) {
	r.GET("/balance/:address", s.Balance)
	r.GET("/tx/:hash", s.Tx)
	r.GET("/wallet/generate", s.GenerateWallet)
}

// Routes returns the priced route table for the skills.
func Routes(price string, network x402.Network) x402http.RoutesConfig {
	return x402http.RoutesConfig{
		"GET /balance/[address]": {
			Price:       price,
			Network:     network,
			Description: "Get ETH and USDC balances for any Base address",
			Example:     "/balance/0x101Cd32b9bEEE93845Ead7Bc604a5F1873330acf",
		},
		"GET /tx/[hash]": {
			Price:       price,
			Network:     network,
			Description: "Get decoded transaction details for any Base transaction",
			Example:     "/tx/0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
		},
		"GET /wallet/generate": {
			Price:       price,
			Network:     network,
			Description: "Generate a fresh Ethereum keypair for Base",
		},
	}
}

// BalanceResponse is the body of GET /balance/:address.
type BalanceResponse struct {
	Address   string            `json:"address"`
	Network   x402.Network      `json:"network"`
	Balances  map[string]string `json:"balances"`
	Timestamp time.Time         `json:"timestamp"`
}

// Balance reports the native and stablecoin balances of an address.
func (s *Skills) Balance(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) || len(address) != 42 {
		c.JSON(http.StatusBadRequest, x402http.ErrorResponse{Error: "invalid_address", Message: "Invalid Ethereum address"})
		return
	}
	account := common.HexToAddress(address)
	ctx := c.Request.Context()

	native, err := s.reader.NativeBalance(ctx, account)
	if err != nil {
		s.upstreamFailure(c, "balance lookup failed", err)
		return
	}
	asset := s.network.DefaultAsset
	token, err := s.reader.TokenBalance(ctx, common.HexToAddress(asset.Address), account)
	if err != nil {
		s.upstreamFailure(c, "token balance lookup failed", err)
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{
		Address: address,
		Network: s.network.Name,
		Balances: map[string]string{
			"ETH":        formatUnits(native, ethDecimals, 6),
			asset.Symbol: formatUnits(token, asset.Decimals, 2),
		},
		Timestamp: s.now().UTC(),
	})
}

// TxResponse is the body of GET /tx/:hash.
type TxResponse struct {
	Hash        string       `json:"hash"`
	Network     x402.Network `json:"network"`
	From        string       `json:"from"`
	To          *string      `json:"to"`
	Value       string       `json:"value"`
	GasUsed     string       `json:"gasUsed"`
	Status      string       `json:"status"`
	BlockNumber *uint64      `json:"blockNumber"`
	Timestamp   time.Time    `json:"timestamp"`
}

// Tx describes a transaction and, once mined, its receipt.
func (s *Skills) Tx(c *gin.Context) {
	hash := c.Param("hash")
	if !txHashPattern.MatchString(hash) {
		c.JSON(http.StatusBadRequest, x402http.ErrorResponse{Error: "invalid_hash", Message: "Invalid transaction hash"})
		return
	}

	tx, err := s.reader.Transaction(c.Request.Context(), common.HexToHash(hash))
	if errors.Is(err, chain.ErrNotFound) {
		c.JSON(http.StatusNotFound, x402http.ErrorResponse{Error: "not_found", Message: "Transaction not found"})
		return
	}
	if err != nil {
		s.upstreamFailure(c, "transaction lookup failed", err)
		return
	}

	resp := TxResponse{
		Hash:      tx.Hash.Hex(),
		Network:   s.network.Name,
		From:      tx.From.Hex(),
		Value:     formatUnits(tx.Value, ethDecimals, 6) + " ETH",
		GasUsed:   "pending",
		Status:    "pending",
		Timestamp: s.now().UTC(),
	}
	if tx.To != nil {
		to := tx.To.Hex()
		resp.To = &to
	}
	if !tx.Pending {
		resp.GasUsed = strconv.FormatUint(tx.GasUsed, 10)
		resp.Status = "reverted"
		if tx.Status == 1 {
			resp.Status = "success"
		}
		if tx.BlockNumber != nil {
			block := tx.BlockNumber.Uint64()
			resp.BlockNumber = &block
		}
	}
	c.JSON(http.StatusOK, resp)
}

// WalletResponse is the body of GET /wallet/generate.
type WalletResponse struct {
	Address    string       `json:"address"`
	PrivateKey string       `json:"privateKey"`
	Network    x402.Network `json:"network"`
	ChainID    int64        `json:"chainId"`
	Note       string       `json:"note"`
	Timestamp  time.Time    `json:"timestamp"`
}

// GenerateWallet returns a fresh secp256k1 keypair. The key is never stored.
func (s *Skills) GenerateWallet(c *gin.Context) {
	key, err := crypto.GenerateKey()
	if err != nil {
		s.logger.Error("wallet generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, x402http.ErrorResponse{Error: "wallet_generation_failed", Message: "Failed to generate wallet"})
		return
	}
	c.JSON(http.StatusOK, WalletResponse{
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
		Network:    s.network.Name,
		ChainID:    s.network.ChainID.Int64(),
		Note:       fmt.Sprintf("Fund this wallet with ETH for gas and %s for x402 payments. Keep the private key safe.", s.network.DefaultAsset.Symbol),
		Timestamp:  s.now().UTC(),
	})
}

// upstreamFailure answers 502 and records the cause on the gin context. The
// payment guard treats the 5xx as a post-settlement failure.
func (s *Skills) upstreamFailure(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
	_ = c.Error(err)
	c.JSON(http.StatusBadGateway, x402http.ErrorResponse{Error: "upstream_unavailable", Message: "RPC node did not answer, try again later"})
}

// formatUnits renders a smallest-unit amount with places fixed decimals.
func formatUnits(v *big.Int, decimals int32, places int32) string {
	if v == nil {
		v = new(big.Int)
	}
	return decimal.NewFromBigInt(v, -decimals).StringFixed(places)
}
