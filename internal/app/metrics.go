package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine counters, exported via the HTTP /metrics endpoint.

var positionsOpened = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sepdex",
	Subsystem: "engine",
	Name:      "positions_opened_total",
	Help:      "Positions successfully opened",
})

var positionsClosed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sepdex",
	Subsystem: "engine",
	Name:      "positions_closed_total",
	Help:      "Positions closed by user request",
})

var positionsLiquidated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sepdex",
	Subsystem: "engine",
	Name:      "positions_liquidated_total",
	Help:      "Positions force-closed after crossing their liquidation threshold",
})

var payoutFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sepdex",
	Subsystem: "engine",
	Name:      "payout_failures_total",
	Help:      "Profit payouts that failed on every settlement path",
})

var settlementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sepdex",
	Subsystem: "engine",
	Name:      "settlement_attempts_total",
	Help:      "Ledger settlement attempts by path and outcome",
}, []string{"path", "outcome"})

var sweepSkippedNoPrice = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sepdex",
	Subsystem: "sweep",
	Name:      "skipped_no_price_total",
	Help:      "Open positions skipped in a sweep cycle because the oracle had no price",
})

var sweepCycles = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "sepdex",
	Subsystem: "sweep",
	Name:      "cycles_total",
	Help:      "Completed liquidation sweep cycles",
})

var sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "sepdex",
	Subsystem: "sweep",
	Name:      "cycle_duration_seconds",
	Help:      "Wall time of a liquidation sweep cycle",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})
