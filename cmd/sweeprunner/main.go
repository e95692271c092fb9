// Command sweeprunner runs a single liquidation sweep against the configured
// database and exits. Intended for cron-style scheduling or manual operation
// when the main service is not running.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"sepdex/config"
	"sepdex/internal/adapters/binanceoracle"
	"sepdex/internal/adapters/logger"
	"sepdex/internal/adapters/sqlite"
	"sepdex/internal/adapters/stacksledger"
	"sepdex/internal/app"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall bound on the sweep run")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewLogrusLogger(logger.ParseLevel(cfg.LogLevel))

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer repo.Close()

	oracle, err := binanceoracle.New(binanceoracle.Config{
		APIKey:     cfg.OracleAPIKey,
		SecretKey:  cfg.OracleSecretKey,
		UseTestnet: cfg.OracleTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize price oracle: %v", err)
	}

	ledger, err := stacksledger.New(stacksledger.Config{
		BaseURL:  cfg.LedgerAPIURL,
		Contract: cfg.DexContract,
		Timeout:  cfg.SettlementTimeout,
		Logger:   appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger client: %v", err)
	}

	// Liquidation never pays out, so the sweep needs no admin credential.
	service, err := app.NewPositionService(cfg, appLogger, oracle, ledger, repo, nil)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position service: %v", err)
	}

	sweeper, err := app.NewSweeper(cfg.SweepInterval, service, oracle, repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize sweeper: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := sweeper.SweepOnce(ctx); err != nil {
		log.Fatalf("FATAL: Sweep failed: %v", err)
	}
	appLogger.Info(ctx, "Sweep completed")
}
