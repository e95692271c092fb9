package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// HTTP API
	ListenAddr string

	// Trading Parameters
	MinCollateral float64 // Minimum margin per position, in settlement asset units
	MaxLeverage   float64 // Upper leverage bound exposed to users

	// Settlement
	LedgerAPIURL      string        // Base URL of the testnet node / custody API
	CollectionAddress string        // Address collateral is transferred to (and payouts are paid from)
	DexContract       string        // Contract identifier for the fallback deposit/payout path
	AdminKey          string        // Process-wide payout credential (optional; empty disables payouts)
	SettlementTimeout time.Duration // Bound on any single ledger call
	FallbackSTXRate   float64       // STX/USD rate used when the oracle is down during payout conversion

	// Price Oracle
	OracleAPIKey    string
	OracleSecretKey string
	OracleTestnet   bool

	// Liquidation Sweep
	SweepInterval time.Duration

	// Database
	DBPath string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// HTTP API
	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	// Trading Parameters
	cfg.MinCollateral, err = getEnvAsFloatRequired("MIN_COLLATERAL", 100.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_COLLATERAL: %v", err))
	} else if cfg.MinCollateral <= 0 {
		errs = append(errs, "MIN_COLLATERAL must be positive")
	}

	cfg.MaxLeverage, err = getEnvAsFloatRequired("MAX_LEVERAGE", 100.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_LEVERAGE: %v", err))
	} else if cfg.MaxLeverage < 1 || cfg.MaxLeverage > 100 {
		errs = append(errs, "MAX_LEVERAGE must be between 1 and 100")
	}

	// Settlement
	cfg.LedgerAPIURL = getEnv("LEDGER_API_URL", "https://api.testnet.hiro.so")
	if cfg.LedgerAPIURL == "" {
		errs = append(errs, "LEDGER_API_URL must be set")
	}
	cfg.CollectionAddress = getEnv("COLLECTION_ADDRESS", "")
	if cfg.CollectionAddress == "" {
		errs = append(errs, "COLLECTION_ADDRESS must be set")
	}
	cfg.DexContract = getEnv("DEX_CONTRACT", "")
	if cfg.DexContract == "" {
		errs = append(errs, "DEX_CONTRACT must be set")
	}
	cfg.AdminKey = getEnv("ADMIN_KEY", "") // Optional: payouts are skipped when absent

	settlementTimeoutSeconds := getEnvAsInt("SETTLEMENT_TIMEOUT_SECONDS", 10)
	if settlementTimeoutSeconds <= 0 {
		errs = append(errs, "SETTLEMENT_TIMEOUT_SECONDS must be positive")
	}
	cfg.SettlementTimeout = time.Duration(settlementTimeoutSeconds) * time.Second

	cfg.FallbackSTXRate, err = getEnvAsFloatRequired("FALLBACK_STX_RATE", 2.50)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FALLBACK_STX_RATE: %v", err))
	} else if cfg.FallbackSTXRate <= 0 {
		errs = append(errs, "FALLBACK_STX_RATE must be positive")
	}

	// Price Oracle
	cfg.OracleAPIKey = getEnv("ORACLE_API_KEY", "")
	cfg.OracleSecretKey = getEnv("ORACLE_API_SECRET", "")
	cfg.OracleTestnet = getEnvAsBool("ORACLE_TESTNET", true) // Default to testnet for safety

	// Liquidation Sweep
	sweepIntervalSeconds := getEnvAsInt("SWEEP_INTERVAL_SECONDS", 30)
	if sweepIntervalSeconds <= 0 {
		errs = append(errs, "SWEEP_INTERVAL_SECONDS must be positive")
	}
	cfg.SweepInterval = time.Duration(sweepIntervalSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/positions.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
