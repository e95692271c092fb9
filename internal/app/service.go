package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sepdex/config"
	"sepdex/internal/domain"
	"sepdex/internal/ports"
	"sepdex/internal/risk"
)

// PositionService orchestrates the position lifecycle: creation with collateral
// settlement, closing with optional profit payout, and the forced-close path
// used by the liquidation sweep.
type PositionService struct {
	cfg    *config.Config
	logger ports.Logger
	oracle ports.PriceOracle
	ledger ports.Ledger
	repo   ports.PositionRepository
	admin  ports.SigningCredential // Process-wide payout credential; nil disables payouts

	// Per-position mutual exclusion around the open -> closed/liquidated
	// transition. The repository read-then-write is not atomic, so concurrent
	// ClosePosition and sweep calls on the same position would otherwise race.
	locks keyedMutex
}

// NewPositionService creates a new lifecycle manager instance.
// The admin credential may be nil, in which case payouts are skipped unless a
// caller supplies its own credential on close.
func NewPositionService(
	cfg *config.Config,
	logger ports.Logger,
	oracle ports.PriceOracle,
	ledger ports.Ledger,
	repo ports.PositionRepository,
	admin ports.SigningCredential,
) (*PositionService, error) {

	// Validate dependencies
	if cfg == nil || logger == nil || oracle == nil || ledger == nil || repo == nil {
		return nil, fmt.Errorf("missing required dependencies for PositionService")
	}
	if cfg.MinCollateral <= 0 {
		return nil, fmt.Errorf("configuration MinCollateral must be positive")
	}
	if cfg.MaxLeverage < risk.MinLeverage || cfg.MaxLeverage > risk.MaxLeverage {
		return nil, fmt.Errorf("configuration MaxLeverage must be between %.0f and %.0f", risk.MinLeverage, risk.MaxLeverage)
	}
	if cfg.FallbackSTXRate <= 0 {
		return nil, fmt.Errorf("configuration FallbackSTXRate must be positive")
	}

	return &PositionService{
		cfg:    cfg,
		logger: logger,
		oracle: oracle,
		ledger: ledger,
		repo:   repo,
		admin:  admin,
	}, nil
}

// CreateParams carries the inputs for opening a new position.
type CreateParams struct {
	UserID      string
	UserAddress string // Settlement address the collateral is drawn from
	Symbol      string
	Side        domain.Side
	EntryPrice  float64
	Collateral  float64 // Settlement asset units
	Leverage    float64
	Credential  ports.SigningCredential // Signs the collateral movement
}

// CreatePosition validates the trade, moves collateral through the ledger and
// persists the new position. Creation is all-or-nothing from the caller's
// perspective: on a validation failure nothing happens, and when both
// settlement paths fail no position is persisted.
func (s *PositionService) CreatePosition(ctx context.Context, p CreateParams) (*domain.Position, error) {
	op := "CreatePosition"

	if err := s.validateCreate(p); err != nil {
		return nil, err
	}

	// The collateral must not exceed the user's spendable balance. A balance
	// lookup failure is not fatal here; the transfer itself is the authority.
	if balance, err := s.ledger.BalanceOf(ctx, p.UserAddress); err != nil {
		s.logger.Warn(ctx, op+": balance precheck unavailable, deferring to settlement", map[string]interface{}{
			"userAddress": p.UserAddress,
		})
	} else if balance < p.Collateral {
		return nil, fmt.Errorf("collateral %.6f %s exceeds available balance %.6f: %w",
			p.Collateral, domain.SettlementAsset, balance, ports.ErrInsufficientFunds)
	}

	size := risk.PositionSize(p.Collateral, p.Leverage, p.EntryPrice)
	liqPrice := risk.LiquidationPrice(p.EntryPrice, p.Leverage, p.Side)

	pos := &domain.Position{
		ID:               uuid.NewString(),
		UserID:           p.UserID,
		Symbol:           p.Symbol,
		Side:             p.Side,
		EntryPrice:       p.EntryPrice,
		Size:             size,
		Leverage:         p.Leverage,
		Collateral:       p.Collateral,
		LiquidationPrice: liqPrice,
		Status:           domain.StatusOpen,
		RealizedPnl:      0,
		OpenedAt:         time.Now().UTC(),
	}

	s.logger.Info(ctx, op+": attempting collateral movement", map[string]interface{}{
		"positionID": pos.ID,
		"userID":     p.UserID,
		"symbol":     p.Symbol,
		"side":       p.Side,
		"collateral": p.Collateral,
		"leverage":   p.Leverage,
		"riskLevel":  risk.LevelFor(p.Leverage),
	})

	txID, path, err := s.settle(ctx, op, []settlementStrategy{
		{
			name: "direct-transfer",
			send: func(ctx context.Context) (string, error) {
				return s.ledger.Transfer(ctx, p.Collateral, p.UserAddress, s.cfg.CollectionAddress, p.Credential)
			},
		},
		{
			name: "contract-deposit",
			send: func(ctx context.Context) (string, error) {
				return s.ledger.ContractDeposit(ctx, p.Collateral, p.UserAddress, p.Credential)
			},
		},
	})
	if err != nil {
		// No position is persisted when the collateral never moved.
		return nil, err
	}
	s.logger.Info(ctx, op+": collateral movement settled", map[string]interface{}{
		"positionID": pos.ID,
		"txID":       txID,
		"path":       path,
	})

	if err := s.repo.Create(ctx, pos); err != nil {
		// Collateral has moved but the record failed to persist. Surface the
		// error loudly: an operator must reconcile the transfer by hand.
		s.logger.Error(ctx, err, op+": collateral moved but position could not be persisted", map[string]interface{}{
			"positionID": pos.ID,
			"txID":       txID,
		})
		return nil, fmt.Errorf("failed to persist position after collateral transfer %s: %w", txID, err)
	}

	positionsOpened.Inc()
	s.logger.Info(ctx, op+": position opened", map[string]interface{}{
		"positionID":       pos.ID,
		"entryPrice":       pos.EntryPrice,
		"size":             pos.Size,
		"liquidationPrice": pos.LiquidationPrice,
	})
	return pos, nil
}

func (s *PositionService) validateCreate(p CreateParams) error {
	if p.UserID == "" {
		return &ports.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if p.UserAddress == "" {
		return &ports.ValidationError{Field: "userAddress", Reason: "must not be empty"}
	}
	if !domain.IsSupportedSymbol(p.Symbol) {
		return &ports.ValidationError{Field: "symbol", Reason: fmt.Sprintf("%q is not a supported asset", p.Symbol)}
	}
	if !p.Side.IsValid() {
		return &ports.ValidationError{Field: "side", Reason: "must be long or short"}
	}
	if p.EntryPrice <= 0 {
		return &ports.ValidationError{Field: "entryPrice", Reason: "must be positive"}
	}
	if p.Collateral < s.cfg.MinCollateral {
		return &ports.ValidationError{
			Field:  "collateral",
			Reason: fmt.Sprintf("must be at least %.0f %s", s.cfg.MinCollateral, domain.SettlementAsset),
		}
	}
	if p.Leverage < risk.MinLeverage || p.Leverage > s.cfg.MaxLeverage {
		return &ports.ValidationError{
			Field:  "leverage",
			Reason: fmt.Sprintf("must be between %.0f and %.0f", risk.MinLeverage, s.cfg.MaxLeverage),
		}
	}
	if p.Credential == nil {
		return &ports.ValidationError{Field: "credential", Reason: "signing credential is required"}
	}
	return nil
}

// ClosePosition recomputes the final PnL at the given exit price and moves the
// position to its terminal state. When the realized PnL is positive and a
// payout credential is available (caller-supplied or process-wide), the profit
// is paid out to userAddress; payout failure never fails the close itself.
//
// Forced liquidations call this with an empty userAddress and a nil credential,
// so the payout path is never exercised for them.
func (s *PositionService) ClosePosition(ctx context.Context, positionID string, exitPrice float64, userAddress string, admin ports.SigningCredential) (*domain.Position, error) {
	op := "ClosePosition"

	unlock := s.locks.lock(positionID)
	defer unlock()

	pos, err := s.repo.FindByID(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load position %s: %w", positionID, err)
	}
	if pos == nil {
		s.locks.forget(positionID)
		return nil, &ports.NotFoundError{Resource: "position", ID: positionID}
	}
	if pos.IsTerminal() {
		s.locks.forget(positionID)
		return nil, &ports.ValidationError{
			Field:  "positionId",
			Reason: fmt.Sprintf("position is already %s", pos.Status),
		}
	}

	result, err := risk.TradeParameters{
		EntryPrice:   pos.EntryPrice,
		CurrentPrice: exitPrice,
		Collateral:   pos.Collateral,
		Leverage:     pos.Leverage,
		Side:         pos.Side,
	}.Evaluate()
	if err != nil {
		return nil, err
	}

	pos.Status = domain.StatusClosed
	if result.IsLiquidated {
		pos.Status = domain.StatusLiquidated
	}
	pos.RealizedPnl = result.PnL
	pos.ClosedAt = time.Now().UTC()

	s.logger.Info(ctx, op+": closing position", map[string]interface{}{
		"positionID":  pos.ID,
		"exitPrice":   exitPrice,
		"status":      pos.Status,
		"realizedPnl": pos.RealizedPnl,
	})

	// Persist the terminal state before any payout. If the payout ran first
	// and the update then failed, the position would stay open and a retried
	// close would pay the same profit twice.
	if err := s.repo.Update(ctx, pos); err != nil {
		s.logger.Error(ctx, err, op+": failed to persist closed position", map[string]interface{}{"positionID": pos.ID})
		return nil, fmt.Errorf("failed to persist closed position %s: %w", pos.ID, err)
	}
	s.locks.forget(positionID)

	// Payout is best-effort: a user's position must always be closeable even
	// if payout plumbing is degraded.
	if result.PnL > 0 {
		s.payoutProfit(ctx, pos, result.PnL, userAddress, admin)
	}

	if pos.Status == domain.StatusLiquidated {
		positionsLiquidated.Inc()
	} else {
		positionsClosed.Inc()
	}
	return pos, nil
}

// payoutProfit converts the USD-denominated profit into the settlement asset
// and attempts to move it to the user. Every failure here is logged and
// swallowed; the close itself proceeds regardless.
func (s *PositionService) payoutProfit(ctx context.Context, pos *domain.Position, profitUSD float64, userAddress string, admin ports.SigningCredential) {
	op := "payoutProfit"

	if userAddress == "" {
		s.logger.Debug(ctx, op+": no payout address supplied, skipping", map[string]interface{}{"positionID": pos.ID})
		return
	}
	cred := admin
	if cred == nil {
		cred = s.admin
	}
	if cred == nil {
		s.logger.Info(ctx, op+": no payout credential configured, skipping", map[string]interface{}{"positionID": pos.ID})
		return
	}

	// Convert USD profit to STX. The oracle rate is only used for this
	// conversion, never for liquidation determination.
	rate, err := s.oracle.CurrentPrice(ctx, domain.SettlementAsset)
	if err != nil || rate <= 0 {
		s.logger.Warn(ctx, op+": oracle rate unavailable, using fallback", map[string]interface{}{
			"positionID":   pos.ID,
			"fallbackRate": s.cfg.FallbackSTXRate,
		})
		rate = s.cfg.FallbackSTXRate
	}
	amount := profitUSD / rate

	txID, path, err := s.settle(ctx, op, []settlementStrategy{
		{
			name: "direct-transfer",
			send: func(ctx context.Context) (string, error) {
				return s.ledger.Transfer(ctx, amount, s.cfg.CollectionAddress, userAddress, cred)
			},
		},
		{
			name: "contract-payout",
			send: func(ctx context.Context) (string, error) {
				return s.ledger.ContractPayout(ctx, amount, userAddress, cred)
			},
		},
	})
	if err != nil {
		payoutFailures.Inc()
		s.logger.Error(ctx, err, op+": payout failed, position will still close", map[string]interface{}{
			"positionID": pos.ID,
			"profitUSD":  profitUSD,
			"amountSTX":  amount,
		})
		return
	}
	s.logger.Info(ctx, op+": profit paid out", map[string]interface{}{
		"positionID": pos.ID,
		"amountSTX":  amount,
		"txID":       txID,
		"path":       path,
	})
}

// CheckLiquidations evaluates every open position of the user against the
// supplied price snapshot and force-closes any that crossed their liquidation
// threshold. Positions whose symbol is missing (or zero) in the snapshot are
// skipped and retried next cycle; a missing price is never treated as
// liquidated. Re-invocation is idempotent because only open positions are
// iterated. Returns the IDs of the positions closed this cycle.
func (s *PositionService) CheckLiquidations(ctx context.Context, userID string, prices map[string]float64, admin ports.SigningCredential) ([]string, error) {
	op := "CheckLiquidations"

	open, err := s.repo.FindOpenByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open positions for user %s: %w", userID, err)
	}

	closed := make([]string, 0)
	for _, pos := range open {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			sweepSkippedNoPrice.Inc()
			s.logger.Debug(ctx, op+": no price for symbol, skipping position this cycle", map[string]interface{}{
				"positionID": pos.ID,
				"symbol":     pos.Symbol,
			})
			continue
		}

		result, err := risk.TradeParameters{
			EntryPrice:   pos.EntryPrice,
			CurrentPrice: price,
			Collateral:   pos.Collateral,
			Leverage:     pos.Leverage,
			Side:         pos.Side,
		}.Evaluate()
		if err != nil {
			s.logger.Error(ctx, err, op+": stored position failed evaluation", map[string]interface{}{"positionID": pos.ID})
			continue
		}
		if !result.IsLiquidated {
			continue
		}

		s.logger.Warn(ctx, op+": position crossed liquidation threshold", map[string]interface{}{
			"positionID":       pos.ID,
			"symbol":           pos.Symbol,
			"price":            price,
			"liquidationPrice": pos.LiquidationPrice,
		})

		// Forced close: empty payout address and no credential, so the payout
		// path is never exercised for liquidations.
		if _, err := s.ClosePosition(ctx, pos.ID, price, "", nil); err != nil {
			s.logger.Error(ctx, err, op+": failed to force-close liquidated position", map[string]interface{}{"positionID": pos.ID})
			continue
		}
		closed = append(closed, pos.ID)
	}
	return closed, nil
}

// UserPositions lists a user's positions, optionally filtered by status.
func (s *PositionService) UserPositions(ctx context.Context, userID string, status domain.PositionStatus) ([]*domain.Position, error) {
	if status == domain.StatusOpen {
		return s.repo.FindOpenByUser(ctx, userID)
	}
	all, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status == "" {
		return all, nil
	}
	filtered := make([]*domain.Position, 0, len(all))
	for _, pos := range all {
		if pos.Status == status {
			filtered = append(filtered, pos)
		}
	}
	return filtered, nil
}

// keyedMutex hands out one mutex per key, creating them on demand.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for the key and returns its release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// forget drops the mutex for a key whose position no longer needs guarding
// (terminal or absent). That state is durable before forget is called, so a
// goroutine that acquires a fresh mutex for the same key re-reads it and
// backs off. Without eviction the map grows by one entry per closed position
// for the life of the process.
func (k *keyedMutex) forget(key string) {
	k.mu.Lock()
	delete(k.locks, key)
	k.mu.Unlock()
}
