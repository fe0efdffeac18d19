// Command client fetches an x402 protected resource, paying the 402
// challenge with the key in PRIVATE_KEY.
//
//	client -max 0.05 http://localhost:4020/balance/0x101Cd32b9bEEE93845Ead7Bc604a5F1873330acf
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"time"

	x402 "github.com/pinion-os/x402-go"
	x402http "github.com/pinion-os/x402-go/http"
	"github.com/pinion-os/x402-go/internal/config"
	"github.com/pinion-os/x402-go/mechanisms/evm"
	evmsigners "github.com/pinion-os/x402-go/signers/evm"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	maxPrice := fs.String("max", "0.10", "Refuse to pay more than this many USDC per request")
	timeout := fs.Duration("timeout", 2*time.Minute, "Overall request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one URL is required")
	}
	url := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.PrivateKey == "" {
		return errors.New("PRIVATE_KEY environment variable is required")
	}
	logger := cfg.NewLogger(os.Stderr)

	signer, err := evmsigners.NewPrivateKeySigner(cfg.PrivateKey)
	if err != nil {
		return err
	}
	limit, err := maxValue(*maxPrice)
	if err != nil {
		return err
	}
	client := x402http.NewClient(evm.NewExactEvmScheme(signer),
		x402http.WithMaxValue(limit),
		x402http.WithClientLogger(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	logger.Info("requesting resource", "url", url, "payer", signer.Address(), "max", *maxPrice)
	resp, err := client.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	receipt, err := x402http.ReceiptFromResponse(resp)
	if err != nil {
		logger.Warn("undecodable payment receipt", "error", err)
	}
	if receipt != nil {
		logger.Info("payment settled",
			"transaction", receipt.Transaction,
			"network", receipt.Network,
			"payer", receipt.Payer,
		)
	}

	fmt.Fprintf(out, "%s\n%s\n", resp.Status, body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with %s", resp.Status)
	}
	return nil
}

// maxValue converts a USDC amount into smallest units.
func maxValue(price string) (*big.Int, error) {
	amount, err := x402.ParseAmount(price, x402.DefaultDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid -max: %w", err)
	}
	return x402.ParseUint256(amount)
}
