// Command fluxgate runs the pay-per-call API marketplace gateway.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/gateway"
	"github.com/fluxapi/fluxgate/ipfs"
	"github.com/fluxapi/fluxgate/ledger"
	"github.com/fluxapi/fluxgate/payments"
	"github.com/fluxapi/fluxgate/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := fluxgate.LoadConfig()
	if err != nil {
		return err
	}

	signer, err := ledger.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	recipient, err := solana.PublicKeyFromBase58(cfg.PaymentWallet)
	if err != nil {
		return errors.New("SOLANA_PAYMENT_WALLET is not a valid address")
	}
	mint, err := solana.PublicKeyFromBase58(cfg.USDCMint)
	if err != nil {
		return errors.New("SOLANA_USDC_MINT is not a valid address")
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	chain := ledger.New(cfg.RPCURL, signer, mint)
	verifier, err := payments.NewVerifier(chain, recipient, mint)
	if err != nil {
		return err
	}
	payout := payments.NewPayout(chain, st, cfg.Cluster, logger)
	metadata := ipfs.NewClient(cfg.MetadataGateway)

	srv := gateway.NewServer(st, metadata, verifier, payout, chain, gateway.Options{
		Recipient:       cfg.PaymentWallet,
		Mint:            cfg.USDCMint,
		Cluster:         cfg.Cluster,
		KeySecret:       cfg.KeySecret,
		FreshnessWindow: cfg.FreshnessWindow,
	}, logger)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			"addr", cfg.ListenAddr,
			"cluster", cfg.Cluster,
			"wallet", cfg.PaymentWallet,
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

// openStore selects sqlite when a database path is configured and falls
// back to the in-memory store otherwise.
func openStore(cfg *fluxgate.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabasePath != "" {
		st, err := store.NewSQLite(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite store", "path", cfg.DatabasePath)
		return st, nil
	}
	logger.Warn("DATABASE_PATH not set, using in-memory store; data is lost on restart")
	return store.NewMemory(), nil
}
