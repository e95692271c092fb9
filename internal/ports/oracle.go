package ports

import (
	"context"

	"sepdex/internal/domain"
)

// PriceOracle supplies current and historical market prices for supported assets.
// Implementations may return 0 on failure; callers must treat 0 as "unknown",
// never as a real price for liquidation math.
type PriceOracle interface {
	// CurrentPrice retrieves the latest price for a symbol in quote currency units.
	CurrentPrice(ctx context.Context, symbol string) (float64, error)

	// PriceHistory retrieves an ordered series of price samples covering the
	// last windowDays days, oldest first.
	PriceHistory(ctx context.Context, symbol string, windowDays int) ([]domain.PricePoint, error)
}
