package app

import (
	"context"

	"sepdex/internal/ports"
)

// settlementStrategy is one way of moving funds through the ledger.
// Strategies are tried in order until one succeeds or all fail.
type settlementStrategy struct {
	name string
	send func(ctx context.Context) (txID string, err error)
}

// settle runs the ordered strategies, bounding each attempt by the configured
// settlement timeout. When every path fails the aggregate SettlementError
// carries both underlying errors so an operator can see which path failed.
func (s *PositionService) settle(ctx context.Context, op string, strategies []settlementStrategy) (txID, path string, err error) {
	attemptErrs := make([]error, 0, len(strategies))

	for _, strat := range strategies {
		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.SettlementTimeout)
		txID, err := strat.send(attemptCtx)
		cancel()

		if err == nil {
			settlementAttempts.WithLabelValues(strat.name, "ok").Inc()
			return txID, strat.name, nil
		}

		settlementAttempts.WithLabelValues(strat.name, "error").Inc()
		attemptErrs = append(attemptErrs, err)
		s.logger.Warn(ctx, op+": settlement path failed, trying next", map[string]interface{}{
			"path":  strat.name,
			"error": err.Error(),
		})
	}

	aggErr := &ports.SettlementError{Primary: attemptErrs[0]}
	if len(attemptErrs) > 1 {
		aggErr.Fallback = attemptErrs[1]
	}
	return "", "", aggErr
}
