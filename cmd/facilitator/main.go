// Command facilitator serves the in-process development facilitator over the
// x402 facilitator HTTP API. Point FACILITATOR_URL of the skill server at it
// to run the full payment cycle without an external service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/pinion-os/x402-go"
	"github.com/pinion-os/x402-go/facilitator"
	"github.com/pinion-os/x402-go/internal/chain"
	"github.com/pinion-os/x402-go/internal/config"
)

const defaultPort = 4022

func main() {
	port := flag.Int("port", defaultPort, "Listen port")
	checkBalances := flag.Bool("check-balances", false, "Reject payers whose token balance on RPC_URL is below the amount")
	flag.Parse()

	if err := run(*port, *checkBalances); err != nil {
		fmt.Fprintf(os.Stderr, "facilitator: %v\n", err)
		os.Exit(1)
	}
}

func run(port int, checkBalances bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []facilitator.Option{
		facilitator.WithNetworks(cfg.Network),
		facilitator.WithLogger(logger),
	}
	if checkBalances {
		reader, err := chain.Dial(ctx, cfg.RPCURL)
		if err != nil {
			return err
		}
		opts = append(opts, facilitator.WithBalanceChecker(reader))
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           facilitator.NewRouter(facilitator.NewLocal(opts...), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("x402 development facilitator running",
			"addr", srv.Addr,
			"networks", []x402.Network{cfg.Network},
			"checkBalances", checkBalances,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
