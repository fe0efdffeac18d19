// Command server runs the pinion x402 skill server: blockchain lookup skills
// sold per call for USDC through the x402 payment protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	x402http "github.com/pinion-os/x402-go/http"
	ginx402 "github.com/pinion-os/x402-go/http/gin"
	"github.com/pinion-os/x402-go/internal/chain"
	"github.com/pinion-os/x402-go/internal/config"
	"github.com/pinion-os/x402-go/internal/skills"
)

const skillPrice = "$0.01"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	skillSet, err := skills.New(reader, cfg.Network, logger)
	if err != nil {
		return err
	}

	facilitatorConfig := &x402http.FacilitatorConfig{URL: cfg.FacilitatorURL}
	if cfg.FacilitatorAPIKey != "" {
		facilitatorConfig.AuthProvider = x402http.NewStaticAuthProvider(cfg.FacilitatorAPIKey)
	}
	guard, err := x402http.NewGuard(x402http.Config{
		PayTo:           cfg.PayTo,
		Network:         cfg.Network,
		Routes:          skills.Routes(skillPrice, cfg.Network),
		Facilitator:     x402http.NewHTTPFacilitatorClient(facilitatorConfig),
		ResourceRootURL: cfg.ResourceRootURL,
	},
		x402http.WithLogger(logger),
		x402http.WithFacilitatorTimeout(cfg.FacilitatorTimeout),
		x402http.WithPaywall(x402http.PaywallConfig{AppName: "pinion"}),
	)
	if err != nil {
		return fmt.Errorf("failed to build payment guard: %w", err)
	}

	router := newRouter(guard, skillSet, cfg)
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("pinion x402 skill server running",
			"addr", srv.Addr,
			"payTo", cfg.PayTo,
			"network", cfg.Network,
			"facilitator", cfg.FacilitatorURL,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(guard *x402http.Guard, skillSet *skills.Skills, cfg config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), ginx402.CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "network": cfg.Network})
	})
	router.GET("/catalog", gin.WrapH(x402http.CatalogHandler(guard)))
	router.GET("/.well-known/x402", gin.WrapH(x402http.WellKnownHandler(guard, x402http.WellKnownConfig{
		BaseURL:      cfg.ResourceRootURL,
		Instructions: "Request any resource, pay the 402 challenge with an X-PAYMENT header, then retry.",
	})))

	paid := router.Group("/", ginx402.PaymentMiddleware(guard))
	skillSet.Register(paid)
	return router
}
