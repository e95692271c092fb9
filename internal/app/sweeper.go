package app

import (
	"context"
	"fmt"
	"time"

	"sepdex/internal/domain"
	"sepdex/internal/ports"
)

// Sweeper periodically evaluates every open position against fresh oracle
// prices and force-closes the ones that crossed their liquidation threshold.
// Polling, not push-based: each cycle works from a fresh read of the open set,
// so re-running over an already-closed position is a no-op.
type Sweeper struct {
	interval time.Duration
	service  *PositionService
	oracle   ports.PriceOracle
	repo     ports.PositionRepository
	logger   ports.Logger
}

// NewSweeper creates a liquidation sweeper.
func NewSweeper(interval time.Duration, service *PositionService, oracle ports.PriceOracle, repo ports.PositionRepository, logger ports.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	if service == nil || oracle == nil || repo == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Sweeper")
	}
	return &Sweeper{
		interval: interval,
		service:  service,
		oracle:   oracle,
		repo:     repo,
		logger:   logger,
	}, nil
}

// Start runs the sweep loop until the context is canceled. Cancellation stops
// the ticker and returns nil; no background work leaks past it.
func (w *Sweeper) Start(ctx context.Context) error {
	w.logger.Info(ctx, "Liquidation sweeper started", map[string]interface{}{"interval": w.interval.String()})

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "Liquidation sweeper stopped")
			return nil
		case <-ticker.C:
			if err := w.SweepOnce(ctx); err != nil {
				w.logger.Error(ctx, err, "Liquidation sweep cycle failed")
			}
		}
	}
}

// SweepOnce performs a single sweep cycle: snapshot prices for every symbol
// with an open position, then run the liquidation check per user. Symbols the
// oracle cannot price this cycle are omitted from the snapshot; their
// positions are skipped, never liquidated on unknown data.
func (w *Sweeper) SweepOnce(ctx context.Context) error {
	started := time.Now()

	open, err := w.repo.FindAllOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open positions: %w", err)
	}
	if len(open) == 0 {
		sweepCycles.Inc()
		return nil
	}

	snapshot := w.priceSnapshot(ctx, open)

	byUser := make(map[string][]*domain.Position)
	for _, pos := range open {
		byUser[pos.UserID] = append(byUser[pos.UserID], pos)
	}

	totalClosed := 0
	for userID := range byUser {
		closed, err := w.service.CheckLiquidations(ctx, userID, snapshot, nil)
		if err != nil {
			w.logger.Error(ctx, err, "Liquidation check failed for user", map[string]interface{}{"userID": userID})
			continue
		}
		totalClosed += len(closed)
	}

	sweepCycles.Inc()
	sweepDuration.Observe(time.Since(started).Seconds())

	if totalClosed > 0 {
		w.logger.Info(ctx, "Sweep cycle liquidated positions", map[string]interface{}{
			"open":       len(open),
			"liquidated": totalClosed,
		})
	}
	return nil
}

// priceSnapshot fetches the current price for every distinct symbol in the
// open set. A zero price or oracle error drops the symbol from the snapshot.
func (w *Sweeper) priceSnapshot(ctx context.Context, open []*domain.Position) map[string]float64 {
	symbols := make(map[string]struct{})
	for _, pos := range open {
		symbols[pos.Symbol] = struct{}{}
	}

	snapshot := make(map[string]float64, len(symbols))
	for symbol := range symbols {
		price, err := w.oracle.CurrentPrice(ctx, symbol)
		if err != nil {
			w.logger.Warn(ctx, "Oracle price unavailable for symbol this cycle", map[string]interface{}{
				"symbol": symbol,
				"error":  err.Error(),
			})
			continue
		}
		if price <= 0 {
			// 0 means "unknown", never a real price for liquidation math.
			continue
		}
		snapshot[symbol] = price
	}
	return snapshot
}
