package risk

import (
	"fmt"
	"math"

	"sepdex/internal/domain"
	"sepdex/internal/ports"
)

// Leverage bounds enforced platform-wide.
const (
	MinLeverage = 1.0
	MaxLeverage = 100.0
)

// TradeParameters is the input to a trade evaluation.
type TradeParameters struct {
	EntryPrice   float64     // Price at which the position was (or would be) opened
	CurrentPrice float64     // Latest market price
	Collateral   float64     // Margin posted, in settlement asset units
	Leverage     float64     // Multiplier in [MinLeverage, MaxLeverage]
	Side         domain.Side // Position direction
}

// TradeResult holds the derived figures for a trade configuration at a given price.
type TradeResult struct {
	PositionSize     float64 // Units of exposure
	PnL              float64 // Unrealized profit and loss in quote currency
	PnLPercent       float64 // PnL relative to collateral, leveraged, in percent
	LiquidationPrice float64 // Price at which collateral is fully eroded
	IsLiquidated     bool    // Whether CurrentPrice has crossed the liquidation threshold
	Payout           float64 // Collateral plus PnL, floored at zero
}

// Evaluate computes position size, PnL, liquidation threshold and payout for the
// given trade configuration. It is pure and deterministic: identical inputs
// always yield identical output.
func (p TradeParameters) Evaluate() (*TradeResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	size := PositionSize(p.Collateral, p.Leverage, p.EntryPrice)

	var priceDiff float64
	if p.Side == domain.Long {
		priceDiff = p.CurrentPrice - p.EntryPrice
	} else {
		priceDiff = p.EntryPrice - p.CurrentPrice
	}

	pnl := size * priceDiff
	pnlPercent := (priceDiff / p.EntryPrice) * p.Leverage * 100

	liqPrice := LiquidationPrice(p.EntryPrice, p.Leverage, p.Side)
	var liquidated bool
	if p.Side == domain.Long {
		liquidated = p.CurrentPrice <= liqPrice
	} else {
		liquidated = p.CurrentPrice >= liqPrice
	}

	return &TradeResult{
		PositionSize:     size,
		PnL:              pnl,
		PnLPercent:       pnlPercent,
		LiquidationPrice: liqPrice,
		IsLiquidated:     liquidated,
		Payout:           math.Max(0, p.Collateral+pnl),
	}, nil
}

// validate fails fast on the first out-of-range input, naming the offending field.
func (p TradeParameters) validate() error {
	if p.EntryPrice <= 0 {
		return &ports.ValidationError{Field: "entryPrice", Reason: "must be positive"}
	}
	if p.CurrentPrice <= 0 {
		return &ports.ValidationError{Field: "currentPrice", Reason: "must be positive"}
	}
	if p.Collateral <= 0 {
		return &ports.ValidationError{Field: "collateral", Reason: "must be positive"}
	}
	if p.Leverage < MinLeverage || p.Leverage > MaxLeverage {
		return &ports.ValidationError{
			Field:  "leverage",
			Reason: fmt.Sprintf("must be between %.0f and %.0f", MinLeverage, MaxLeverage),
		}
	}
	if !p.Side.IsValid() {
		return &ports.ValidationError{Field: "side", Reason: "must be long or short"}
	}
	return nil
}

// PositionSize returns the units of exposure for the given margin configuration.
func PositionSize(collateral, leverage, entryPrice float64) float64 {
	return (collateral * leverage) / entryPrice
}

// LiquidationPrice returns the price at which the position's collateral is fully
// eroded: a move of 1/leverage against the entry. It depends only on entry price
// and leverage, so it is computed once at creation and never recomputed.
func LiquidationPrice(entryPrice, leverage float64, side domain.Side) float64 {
	if side == domain.Long {
		return entryPrice * (1 - 1/leverage)
	}
	return entryPrice * (1 + 1/leverage)
}

// Level classifies how aggressive a leverage multiplier is.
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelExtreme  Level = "extreme"
)

// LevelFor maps a leverage multiplier to its risk level via fixed thresholds.
func LevelFor(leverage float64) Level {
	switch {
	case leverage < 10:
		return LevelLow
	case leverage < 25:
		return LevelModerate
	case leverage < 50:
		return LevelHigh
	default:
		return LevelExtreme
	}
}

// Warning returns a human-readable caution for the risk level, suitable for
// display next to the leverage selector.
func (l Level) Warning() string {
	switch l {
	case LevelLow:
		return "Low risk: price must move significantly against you before liquidation."
	case LevelModerate:
		return "Moderate risk: a sustained adverse move can liquidate this position."
	case LevelHigh:
		return "High risk: a small adverse move will liquidate this position."
	case LevelExtreme:
		return "Extreme risk: even minor price noise can liquidate this position."
	default:
		return "Unknown risk level."
	}
}
