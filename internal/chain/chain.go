// Package chain reads balances and transactions from an EVM JSON-RPC node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrNotFound is returned when a transaction is unknown to the node.
var ErrNotFound = errors.New("chain: not found")

const erc20ABI = `[{
	"type": "function",
	"name": "balanceOf",
	"inputs": [{"name": "account", "type": "address"}],
	"outputs": [{"name": "", "type": "uint256"}],
	"stateMutability": "view"
}]`

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Reader answers balance and transaction queries.
type Reader struct {
	backend Backend
	erc20   abi.ABI
}

// Dial connects to the RPC endpoint at url.
func Dial(ctx context.Context, url string) (*Reader, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC client: %w", err)
	}
	return NewReader(client), nil
}

// NewReader wraps an existing backend.
func NewReader(backend Backend) *Reader {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid erc20 abi: %v", err))
	}
	return &Reader{backend: backend, erc20: parsed}
}

// NativeBalance returns the account's balance in wei at the latest block.
func (r *Reader) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	balance, err := r.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance failed: %w", err)
	}
	return balance, nil
}

// TokenBalance returns an ERC-20 balanceOf in the token's smallest unit.
func (r *Reader) TokenBalance(ctx context.Context, token, account common.Address) (*big.Int, error) {
	data, err := r.erc20.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf call data: %w", err)
	}

	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}

	values, err := r.erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf result: %w", err)
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", values[0])
	}
	return balance, nil
}

// TxInfo summarizes a transaction and, once mined, its receipt.
type TxInfo struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address
	Value       *big.Int
	Pending     bool
	GasUsed     uint64
	Status      uint64
	BlockNumber *big.Int
}

// Transaction looks up a transaction and its receipt.
func (r *Reader) Transaction(ctx context.Context, hash common.Hash) (TxInfo, error) {
	tx, pending, err := r.backend.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return TxInfo{}, ErrNotFound
	}
	if err != nil {
		return TxInfo{}, fmt.Errorf("eth_getTransactionByHash failed: %w", err)
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return TxInfo{}, fmt.Errorf("failed to derive sender: %w", err)
	}

	info := TxInfo{
		Hash:    tx.Hash(),
		From:    from,
		To:      tx.To(),
		Value:   tx.Value(),
		Pending: pending,
	}
	if pending {
		return info, nil
	}

	receipt, err := r.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		info.Pending = true
		return info, nil
	}
	if err != nil {
		return TxInfo{}, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}
	info.GasUsed = receipt.GasUsed
	info.Status = receipt.Status
	info.BlockNumber = receipt.BlockNumber
	return info, nil
}
