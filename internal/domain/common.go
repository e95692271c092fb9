package domain

// Side represents the direction of a position (long or short).
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// IsValid reports whether the side is one of the two supported directions.
func (s Side) IsValid() bool {
	return s == Long || s == Short
}

// PositionStatus represents the lifecycle state of a position.
// Transitions are one-way: open -> closed or open -> liquidated.
type PositionStatus string

const (
	StatusOpen       PositionStatus = "open"
	StatusClosed     PositionStatus = "closed"
	StatusLiquidated PositionStatus = "liquidated"
)

// SettlementAsset is the native token used to post collateral and receive payouts.
const SettlementAsset = "STX"

// MicroUnitsPerToken is the sub-unit scale of the settlement asset (1 STX = 1,000,000 uSTX).
const MicroUnitsPerToken = 1_000_000

// SupportedSymbols is the fixed set of tradable asset tickers.
var SupportedSymbols = []string{"BTC", "ETH", "STX"}

// IsSupportedSymbol reports whether the ticker is tradable on the platform.
func IsSupportedSymbol(symbol string) bool {
	for _, s := range SupportedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}
