package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sepdex/config"
	"sepdex/internal/adapters/binanceoracle"
	"sepdex/internal/adapters/logger"
	"sepdex/internal/adapters/sqlite"
	"sepdex/internal/adapters/stacksledger"
	"sepdex/internal/api"
	"sepdex/internal/app"
	"sepdex/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewLogrusLogger(logger.ParseLevel(cfg.LogLevel))
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Price Oracle (Binance Adapter)
	oracle, err := binanceoracle.New(binanceoracle.Config{
		APIKey:     cfg.OracleAPIKey,
		SecretKey:  cfg.OracleSecretKey,
		UseTestnet: cfg.OracleTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize price oracle")
		log.Fatalf("FATAL: Failed to initialize price oracle: %v", err)
	}
	appLogger.Info(context.Background(), "Price oracle initialized")

	// 5. Initialize Ledger Client (Stacks Testnet Adapter)
	ledger, err := stacksledger.New(stacksledger.Config{
		BaseURL:  cfg.LedgerAPIURL,
		Contract: cfg.DexContract,
		Timeout:  cfg.SettlementTimeout,
		Logger:   appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize ledger client")
		log.Fatalf("FATAL: Failed to initialize ledger client: %v", err)
	}
	appLogger.Info(context.Background(), "Ledger client initialized")

	// 6. Initialize Admin Credential (optional; payouts are skipped without it)
	var adminCred ports.SigningCredential
	if cfg.AdminKey != "" {
		cred, err := stacksledger.NewKeyCredential(cfg.AdminKey)
		if err != nil {
			appLogger.Error(context.Background(), err, "FATAL: Failed to parse admin signing key")
			log.Fatalf("FATAL: Failed to parse admin signing key: %v", err)
		}
		adminCred = cred
	} else {
		appLogger.Warn(context.Background(), "No admin key configured, profit payouts are disabled")
	}

	// 7. Initialize Application Service
	positionService, err := app.NewPositionService(
		cfg,
		appLogger,
		oracle, // Pass the concrete implementation, service expects the interface
		ledger, // Pass the concrete implementation, service expects the interface
		repo,   // Pass the concrete implementation, service expects the interface
		adminCred,
	)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position service")
		log.Fatalf("FATAL: Failed to initialize position service: %v", err)
	}
	appLogger.Info(context.Background(), "Position service initialized")

	// 8. Initialize Liquidation Sweeper
	sweeper, err := app.NewSweeper(cfg.SweepInterval, positionService, oracle, repo, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize liquidation sweeper")
		log.Fatalf("FATAL: Failed to initialize liquidation sweeper: %v", err)
	}

	// 9. Initialize HTTP Handler
	handler, err := api.NewHandler(positionService, oracle, adminCred, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize HTTP handler")
		log.Fatalf("FATAL: Failed to initialize HTTP handler: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 10. Start the Sweeper
	sweepDone := make(chan error, 1)
	go func() {
		sweepDone <- sweeper.Start(ctx)
	}()
	appLogger.Info(ctx, "Liquidation sweeper started", map[string]interface{}{"interval": cfg.SweepInterval.String()})

	// 11. Start the HTTP Server
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler.Router(),
	}
	serverDone := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, "HTTP server listening", map[string]interface{}{"addr": cfg.ListenAddr})
		serverDone <- server.ListenAndServe()
	}()

	// 12. Wait for shutdown
	select {
	case <-ctx.Done():
		appLogger.Info(context.Background(), "Shutdown signal received")
	case err := <-serverDone:
		appLogger.Error(context.Background(), err, "HTTP server exited unexpectedly")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLogger.Error(context.Background(), err, "Error shutting down HTTP server")
	}
	if err := <-sweepDone; err != nil {
		appLogger.Error(context.Background(), err, "Liquidation sweeper exited with error")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
