package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClipFinance/rebalancer/config"
	"github.com/ClipFinance/rebalancer/feemodel"
	"github.com/ClipFinance/rebalancer/pricefeed"
	"github.com/ClipFinance/rebalancer/quote"
	"github.com/ClipFinance/rebalancer/quotestore"
	"github.com/ClipFinance/rebalancer/rpcpool"
	"github.com/ClipFinance/rebalancer/server"
	"github.com/ClipFinance/rebalancer/settle"
	"github.com/ClipFinance/rebalancer/signer"
	"github.com/ClipFinance/rebalancer/txbuilder"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var configPath string
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "rebalancerd",
		Short: "Quote and settlement service for cross-chain transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(logLevel); err == nil {
		logger.SetLevel(level)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	txSigner, err := signer.NewFromHex(cfg.PrivateKey)
	if err != nil {
		logger.WithError(err).Error("Failed to create signer")
		return err
	}

	pool, err := rpcpool.New(logger, cfg.RPCTimeout, cfg.RPCEndpoints())
	if err != nil {
		logger.WithError(err).Error("Failed to create rpc pool")
		return err
	}
	defer pool.Close()

	monitor := rpcpool.NewHealthMonitor(pool, logger)
	if err := monitor.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start endpoint health monitor")
		return err
	}
	defer monitor.Stop()

	oracle, err := pricefeed.New(pricefeed.Provider(cfg.PriceFeed.Provider), pricefeed.Config{
		BaseURL: cfg.PriceFeed.BaseURL,
		APIKey:  cfg.PriceFeed.APIKey,
		CoinIDs: cfg.PriceFeed.CoinIDs,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create price feed")
		return err
	}

	builder, err := txbuilder.New(cfg.TokenTable())
	if err != nil {
		logger.WithError(err).Error("Failed to create transaction builder")
		return err
	}

	store, err := quotestore.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to open quote store")
		return err
	}
	defer store.Close()

	engine := quote.NewEngine(logger, oracle, pool, builder, txSigner.Address(), quote.Config{
		Markup:           cfg.MarkupFraction(),
		NetFeeFromOutput: cfg.NetFeeFromOutput,
		BlockTimes:       cfg.BlockTimes(),
		CurrencyDecimals: cfg.CurrencyDecimals,
	})

	resolver := feemodel.New(cfg.FeeModels())
	submitter := settle.NewSubmitter(logger, pool, builder, resolver, txSigner)

	srv := server.New(logger, engine, submitter, store)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(cfg.ListenAddr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		if err != nil {
			logger.WithError(err).Error("HTTP server failed")
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server cleanly")
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
