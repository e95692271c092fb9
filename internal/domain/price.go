package domain

import "time"

// PricePoint is a single sample in a historical price series.
type PricePoint struct {
	Timestamp time.Time // Sample time
	Price     float64   // Price in quote currency units
}
