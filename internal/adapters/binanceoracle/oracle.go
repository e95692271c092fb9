package binanceoracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sepdex/internal/domain"
	"sepdex/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"
)

// pairs maps platform tickers to the Binance quote pairs used for pricing.
var pairs = map[string]string{
	"BTC": "BTCUSDT",
	"ETH": "ETHUSDT",
	"STX": "STXUSDT",
}

// Oracle implements the ports.PriceOracle interface using the go-binance library.
type Oracle struct {
	client *binance.Client
	logger ports.Logger
}

// Config holds configuration specific to the Binance oracle adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance oracle adapter.
// API keys are optional: all price endpoints are public.
func New(cfg Config) (*Oracle, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance oracle")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using the global binance.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance oracle configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance oracle configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Oracle{client: client, logger: cfg.Logger}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (o *Oracle) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1121: // Invalid symbol
			mappedErr = ports.ErrPriceUnknown
		default:
			mappedErr = ports.ErrOracleUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		o.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrOracleUnavailable, err)
	}

	o.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// pairFor resolves the Binance quote pair for a platform ticker.
func pairFor(symbol string) (string, error) {
	pair, ok := pairs[symbol]
	if !ok {
		return "", fmt.Errorf("no quote pair for symbol %s: %w", symbol, ports.ErrPriceUnknown)
	}
	return pair, nil
}

// CurrentPrice retrieves the latest price for a symbol in quote currency units.
func (o *Oracle) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	op := "CurrentPrice"

	pair, err := pairFor(symbol)
	if err != nil {
		return 0, err
	}

	prices, err := o.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil {
		return 0, o.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		err := fmt.Errorf("no price data returned for pair %s: %w", pair, ports.ErrPriceUnknown)
		return 0, o.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err)
		return 0, o.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// PriceHistory retrieves a daily close series covering the last windowDays days,
// oldest first.
func (o *Oracle) PriceHistory(ctx context.Context, symbol string, windowDays int) ([]domain.PricePoint, error) {
	op := "PriceHistory"

	pair, err := pairFor(symbol)
	if err != nil {
		return nil, err
	}
	if windowDays <= 0 {
		return nil, fmt.Errorf("windowDays must be positive, got %d", windowDays)
	}

	klines, err := o.client.NewKlinesService().Symbol(pair).Interval("1d").Limit(windowDays).Do(ctx)
	if err != nil {
		return nil, o.handleError(ctx, err, op)
	}

	series := make([]domain.PricePoint, 0, len(klines))
	for _, k := range klines {
		price, err := strconv.ParseFloat(k.Close, 64)
		if err != nil {
			parseErr := fmt.Errorf("could not parse close price '%s': %w", k.Close, err)
			return nil, o.handleError(ctx, parseErr, op)
		}
		series = append(series, domain.PricePoint{
			Timestamp: time.UnixMilli(k.CloseTime),
			Price:     price,
		})
	}
	return series, nil
}
