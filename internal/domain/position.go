package domain

import "time"

// Position represents an isolated-margin leveraged position held by a user.
type Position struct {
	ID               string         // Unique identifier, assigned at creation
	UserID           string         // Owner reference (opaque)
	Symbol           string         // Traded asset ticker (e.g., "BTC")
	Side             Side           // Direction (long or short)
	EntryPrice       float64        // Price at which the position was opened (quote currency)
	Size             float64        // Units of exposure: (collateral * leverage) / entryPrice
	Leverage         float64        // Multiplier in [1, 100]
	Collateral       float64        // Margin posted, in the settlement asset's native unit
	LiquidationPrice float64        // Derived once at creation, never recomputed
	Status           PositionStatus // open, closed or liquidated
	RealizedPnl      float64        // Zero while open; set exactly once on the transition out of open
	OpenedAt         time.Time      // Timestamp when the position was opened
	ClosedAt         time.Time      // Set only on transition out of open (zero value while open)
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// IsTerminal reports whether the position has left the open state.
// closed and liquidated are terminal: a position is never reopened.
func (p *Position) IsTerminal() bool {
	return p.Status == StatusClosed || p.Status == StatusLiquidated
}
