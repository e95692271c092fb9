package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sepdex/config"
	"sepdex/internal/domain"
	"sepdex/internal/ports"
)

// Mock implementations

type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockOracle struct {
	prices  map[string]float64
	err     error
	history []domain.PricePoint
}

func (m *mockOracle) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.prices[symbol], nil
}

func (m *mockOracle) PriceHistory(ctx context.Context, symbol string, windowDays int) ([]domain.PricePoint, error) {
	return m.history, m.err
}

type ledgerCall struct {
	method string
	amount float64
	from   string
	to     string
}

type mockLedger struct {
	mu          sync.Mutex
	calls       []ledgerCall
	balance     float64
	balanceErr  error
	transferErr error
	depositErr  error
	payoutErr   error
}

func (m *mockLedger) record(method string, amount float64, from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ledgerCall{method: method, amount: amount, from: from, to: to})
}

func (m *mockLedger) callsTo(method string) []ledgerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledgerCall, 0)
	for _, c := range m.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockLedger) Transfer(ctx context.Context, amount float64, from, to string, cred ports.SigningCredential) (string, error) {
	m.record("Transfer", amount, from, to)
	if m.transferErr != nil {
		return "", m.transferErr
	}
	return "tx-transfer", nil
}

func (m *mockLedger) ContractDeposit(ctx context.Context, amount float64, sender string, cred ports.SigningCredential) (string, error) {
	m.record("ContractDeposit", amount, sender, "")
	if m.depositErr != nil {
		return "", m.depositErr
	}
	return "tx-deposit", nil
}

func (m *mockLedger) ContractPayout(ctx context.Context, amount float64, recipient string, cred ports.SigningCredential) (string, error) {
	m.record("ContractPayout", amount, "", recipient)
	if m.payoutErr != nil {
		return "", m.payoutErr
	}
	return "tx-payout", nil
}

func (m *mockLedger) BalanceOf(ctx context.Context, address string) (float64, error) {
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.balance, nil
}

type mockPositionRepo struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	createErr error
	updateErr error
	findErr   error
}

func newMockPositionRepo() *mockPositionRepo {
	return &mockPositionRepo{positions: make(map[string]*domain.Position)}
}

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pos
	m.positions[pos.ID] = &cp
	return nil
}

func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[pos.ID]; !ok {
		return ports.ErrNotFound
	}
	cp := *pos
	m.positions[pos.ID] = &cp
	return nil
}

func (m *mockPositionRepo) FindByID(ctx context.Context, id string) (*domain.Position, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *pos
	return &cp, nil
}

func (m *mockPositionRepo) FindByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0)
	for _, pos := range m.positions {
		if pos.UserID == userID {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPositionRepo) FindOpenByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	all, err := m.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	open := make([]*domain.Position, 0)
	for _, pos := range all {
		if pos.IsOpen() {
			open = append(open, pos)
		}
	}
	return open, nil
}

func (m *mockPositionRepo) FindAllOpen(ctx context.Context) ([]*domain.Position, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0)
	for _, pos := range m.positions {
		if pos.IsOpen() {
			cp := *pos
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockCredential struct{}

func (mockCredential) Sign(payload []byte) ([]byte, error) { return []byte("signed"), nil }

func testConfig() *config.Config {
	return &config.Config{
		MinCollateral:     100,
		MaxLeverage:       100,
		CollectionAddress: "SP_COLLECTION",
		DexContract:       "SP_COLLECTION.sep-dex",
		SettlementTimeout: time.Second,
		FallbackSTXRate:   2.50,
		SweepInterval:     30 * time.Second,
	}
}

func newTestService(t *testing.T) (*PositionService, *mockLedger, *mockPositionRepo, *mockOracle, *mockLogger) {
	t.Helper()
	logger := &mockLogger{}
	oracle := &mockOracle{prices: map[string]float64{"BTC": 50000, "ETH": 2000, "STX": 2.5}}
	ledger := &mockLedger{balance: 1_000_000}
	repo := newMockPositionRepo()

	svc, err := NewPositionService(testConfig(), logger, oracle, ledger, repo, nil)
	require.NoError(t, err)
	return svc, ledger, repo, oracle, logger
}

func validCreateParams() CreateParams {
	return CreateParams{
		UserID:      "user-1",
		UserAddress: "SP_USER",
		Symbol:      "BTC",
		Side:        domain.Long,
		EntryPrice:  50000,
		Collateral:  100,
		Leverage:    10,
		Credential:  mockCredential{},
	}
}

func TestNewPositionService(t *testing.T) {
	logger := &mockLogger{}
	oracle := &mockOracle{}
	ledger := &mockLedger{}
	repo := newMockPositionRepo()

	t.Run("valid dependencies", func(t *testing.T) {
		svc, err := NewPositionService(testConfig(), logger, oracle, ledger, repo, nil)
		assert.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("nil config", func(t *testing.T) {
		svc, err := NewPositionService(nil, logger, oracle, ledger, repo, nil)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("missing ledger", func(t *testing.T) {
		svc, err := NewPositionService(testConfig(), logger, oracle, nil, repo, nil)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})

	t.Run("invalid min collateral", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinCollateral = 0
		svc, err := NewPositionService(cfg, logger, oracle, ledger, repo, nil)
		assert.Error(t, err)
		assert.Nil(t, svc)
	})
}

func TestCreatePosition_Success(t *testing.T) {
	svc, ledger, repo, _, _ := newTestService(t)

	pos, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.StatusOpen, pos.Status)
	assert.Equal(t, 0.02, pos.Size)               // (100 * 10) / 50000
	assert.Equal(t, 45000.0, pos.LiquidationPrice) // 50000 * (1 - 1/10)
	assert.Equal(t, 0.0, pos.RealizedPnl)
	assert.False(t, pos.OpenedAt.IsZero())
	assert.True(t, pos.ClosedAt.IsZero())

	// Exactly one collateral movement, via the primary path.
	transfers := ledger.callsTo("Transfer")
	require.Len(t, transfers, 1)
	assert.Equal(t, 100.0, transfers[0].amount)
	assert.Equal(t, "SP_USER", transfers[0].from)
	assert.Equal(t, "SP_COLLECTION", transfers[0].to)
	assert.Empty(t, ledger.callsTo("ContractDeposit"))

	stored, err := repo.FindByID(context.Background(), pos.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.StatusOpen, stored.Status)
}

func TestCreatePosition_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*CreateParams)
		wantField string
	}{
		{
			name:      "collateral below minimum",
			mutate:    func(p *CreateParams) { p.Collateral = 50 },
			wantField: "collateral",
		},
		{
			name:      "unsupported symbol",
			mutate:    func(p *CreateParams) { p.Symbol = "DOGE" },
			wantField: "symbol",
		},
		{
			name:      "zero entry price",
			mutate:    func(p *CreateParams) { p.EntryPrice = 0 },
			wantField: "entryPrice",
		},
		{
			name:      "leverage above maximum",
			mutate:    func(p *CreateParams) { p.Leverage = 150 },
			wantField: "leverage",
		},
		{
			name:      "invalid side",
			mutate:    func(p *CreateParams) { p.Side = "up" },
			wantField: "side",
		},
		{
			name:      "missing credential",
			mutate:    func(p *CreateParams) { p.Credential = nil },
			wantField: "credential",
		},
		{
			name:      "missing user address",
			mutate:    func(p *CreateParams) { p.UserAddress = "" },
			wantField: "userAddress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ledger, repo, _, _ := newTestService(t)

			params := validCreateParams()
			tt.mutate(&params)

			pos, err := svc.CreatePosition(context.Background(), params)
			assert.Nil(t, pos)

			var vErr *ports.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)

			// Validation failures must have no side effects.
			assert.Empty(t, ledger.calls)
			assert.Empty(t, repo.positions)
		})
	}
}

func TestCreatePosition_InsufficientBalance(t *testing.T) {
	svc, ledger, repo, _, _ := newTestService(t)
	ledger.balance = 50 // Below the requested collateral

	pos, err := svc.CreatePosition(context.Background(), validCreateParams())
	assert.Nil(t, pos)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInsufficientFunds)

	assert.Empty(t, ledger.callsTo("Transfer"))
	assert.Empty(t, repo.positions)
}

func TestCreatePosition_FallbackPath(t *testing.T) {
	svc, ledger, repo, _, _ := newTestService(t)
	ledger.transferErr = errors.New("node rejected transfer")

	pos, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	require.NotNil(t, pos)

	// Both attempts are observable: failed primary, successful fallback.
	assert.Len(t, ledger.callsTo("Transfer"), 1)
	assert.Len(t, ledger.callsTo("ContractDeposit"), 1)

	stored, err := repo.FindByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestCreatePosition_BothPathsFail(t *testing.T) {
	svc, ledger, repo, _, _ := newTestService(t)
	ledger.transferErr = errors.New("transfer timed out")
	ledger.depositErr = errors.New("contract call rejected")

	pos, err := svc.CreatePosition(context.Background(), validCreateParams())
	assert.Nil(t, pos)

	var sErr *ports.SettlementError
	require.ErrorAs(t, err, &sErr)
	assert.Contains(t, sErr.Error(), "transfer timed out")
	assert.Contains(t, sErr.Error(), "contract call rejected")

	// All-or-nothing: nothing persisted when the collateral never moved.
	assert.Empty(t, repo.positions)
}

func TestClosePosition_NotFound(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	pos, err := svc.ClosePosition(context.Background(), "missing-id", 50000, "SP_USER", nil)
	assert.Nil(t, pos)

	var nfErr *ports.NotFoundError
	require.ErrorAs(t, err, &nfErr)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestClosePosition_ProfitWithPayout(t *testing.T) {
	svc, ledger, repo, _, _ := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	ledger.calls = nil // Only observe closing-side calls

	closed, err := svc.ClosePosition(context.Background(), created.ID, 55000, "SP_USER", mockCredential{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, 100.0, closed.RealizedPnl) // 0.02 * 5000
	assert.False(t, closed.ClosedAt.IsZero())

	// $100 profit at the oracle STX rate of 2.50 is 40 STX, collection -> user.
	transfers := ledger.callsTo("Transfer")
	require.Len(t, transfers, 1)
	assert.InDelta(t, 40.0, transfers[0].amount, 1e-9)
	assert.Equal(t, "SP_COLLECTION", transfers[0].from)
	assert.Equal(t, "SP_USER", transfers[0].to)

	stored, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, stored.Status)
}

func TestClosePosition_OracleDownUsesFallbackRate(t *testing.T) {
	svc, ledger, _, oracle, logger := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	ledger.calls = nil
	oracle.err = errors.New("oracle down")

	_, err = svc.ClosePosition(context.Background(), created.ID, 55000, "SP_USER", mockCredential{})
	require.NoError(t, err)

	// $100 profit at the fixed fallback rate of 2.50 is still 40 STX.
	transfers := ledger.callsTo("Transfer")
	require.Len(t, transfers, 1)
	assert.InDelta(t, 40.0, transfers[0].amount, 1e-9)
	assert.Contains(t, logger.warnMsgs, "payoutProfit: oracle rate unavailable, using fallback")
}

func TestClosePosition_LossSkipsPayout(t *testing.T) {
	svc, ledger, _, _, _ := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	ledger.calls = nil

	closed, err := svc.ClosePosition(context.Background(), created.ID, 48000, "SP_USER", mockCredential{})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Less(t, closed.RealizedPnl, 0.0)
	assert.Empty(t, ledger.calls, "no payout side effect on a losing close")
}

func TestClosePosition_PayoutFailureIsNonFatal(t *testing.T) {
	svc, ledger, repo, _, logger := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	ledger.transferErr = errors.New("treasury unreachable")
	ledger.payoutErr = errors.New("contract payout rejected")

	closed, err := svc.ClosePosition(context.Background(), created.ID, 55000, "SP_USER", mockCredential{})
	require.NoError(t, err, "close must succeed even when payout plumbing is degraded")

	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.False(t, closed.ClosedAt.IsZero())
	assert.Contains(t, logger.errorMsgs, "payoutProfit: payout failed, position will still close")

	stored, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, stored.Status)
}

func TestClosePosition_NoCredentialSkipsPayout(t *testing.T) {
	svc, ledger, _, _, _ := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	ledger.calls = nil

	// Profitable close, but neither a caller credential nor a process-wide one.
	closed, err := svc.ClosePosition(context.Background(), created.ID, 55000, "SP_USER", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusClosed, closed.Status)
	assert.Equal(t, 100.0, closed.RealizedPnl)
	assert.Empty(t, ledger.calls, "payout must be skipped without a credential")
}

func TestClosePosition_PersistFailureBlocksPayout(t *testing.T) {
	svc, ledger, repo, _, _ := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	ledger.calls = nil
	repo.updateErr = errors.New("disk full")

	_, err = svc.ClosePosition(context.Background(), created.ID, 55000, "SP_USER", mockCredential{})
	require.Error(t, err)

	// The position is still open, so a retried close will settle the profit.
	// Paying out before the terminal state is durable would pay twice.
	assert.Empty(t, ledger.calls, "no payout may happen when the close did not persist")

	repo.updateErr = nil
	closed, err := svc.ClosePosition(context.Background(), created.ID, 55000, "SP_USER", mockCredential{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)
	require.Len(t, ledger.callsTo("Transfer"), 1, "the retried close pays out exactly once")
}

func TestClosePosition_ReleasesPositionLock(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)

	_, err = svc.ClosePosition(context.Background(), created.ID, 51000, "SP_USER", nil)
	require.NoError(t, err)

	svc.locks.mu.Lock()
	_, held := svc.locks.locks[created.ID]
	svc.locks.mu.Unlock()
	assert.False(t, held, "terminal positions must not keep a lock entry alive")

	// A close attempt on a terminal position cleans up after itself too.
	_, err = svc.ClosePosition(context.Background(), created.ID, 51000, "SP_USER", nil)
	require.Error(t, err)
	_, err = svc.ClosePosition(context.Background(), "no-such-position", 51000, "SP_USER", nil)
	require.Error(t, err)

	svc.locks.mu.Lock()
	remaining := len(svc.locks.locks)
	svc.locks.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestClosePosition_LiquidatedStatus(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)

	// Exit at the liquidation threshold: recomputed isLiquidated is true.
	closed, err := svc.ClosePosition(context.Background(), created.ID, 45000, "SP_USER", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusLiquidated, closed.Status)
	assert.Equal(t, -100.0, closed.RealizedPnl) // 0.02 * -5000: full collateral loss
	assert.False(t, closed.ClosedAt.IsZero())
}

func TestClosePosition_TerminalIsFinal(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)

	_, err = svc.ClosePosition(context.Background(), created.ID, 51000, "SP_USER", nil)
	require.NoError(t, err)

	again, err := svc.ClosePosition(context.Background(), created.ID, 60000, "SP_USER", nil)
	assert.Nil(t, again)

	var vErr *ports.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "positionId", vErr.Field)
}

func TestClosePosition_ConcurrentClosesRaceSafely(t *testing.T) {
	svc, _, repo, _, _ := newTestService(t)

	created, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ClosePosition(context.Background(), created.ID, 51000, "SP_USER", nil)
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	succeeded := 0
	for err := range errCh {
		if err == nil {
			succeeded++
		} else {
			var vErr *ports.ValidationError
			assert.ErrorAs(t, err, &vErr)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one close must win the race")

	stored, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, stored.Status)
}

func TestCheckLiquidations(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, svc *PositionService, symbol string, side domain.Side, entry, leverage float64) *domain.Position {
		t.Helper()
		params := validCreateParams()
		params.Symbol = symbol
		params.Side = side
		params.EntryPrice = entry
		params.Leverage = leverage
		pos, err := svc.CreatePosition(ctx, params)
		require.NoError(t, err)
		return pos
	}

	t.Run("force-closes crossed positions only", func(t *testing.T) {
		svc, ledger, repo, _, _ := newTestService(t)
		crossed := seed(t, svc, "BTC", domain.Long, 50000, 10) // liq at 45000
		healthy := seed(t, svc, "ETH", domain.Long, 2000, 5)   // liq at 1600
		ledger.calls = nil

		closed, err := svc.CheckLiquidations(ctx, "user-1", map[string]float64{
			"BTC": 44000, // below threshold
			"ETH": 1900,  // above threshold
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{crossed.ID}, closed)

		stored, _ := repo.FindByID(ctx, crossed.ID)
		assert.Equal(t, domain.StatusLiquidated, stored.Status)
		stillOpen, _ := repo.FindByID(ctx, healthy.ID)
		assert.Equal(t, domain.StatusOpen, stillOpen.Status)

		// Liquidation never triggers a payout.
		assert.Empty(t, ledger.calls)
	})

	t.Run("missing price skips the position", func(t *testing.T) {
		svc, _, repo, _, _ := newTestService(t)
		pos := seed(t, svc, "BTC", domain.Long, 50000, 10)

		closed, err := svc.CheckLiquidations(ctx, "user-1", map[string]float64{"ETH": 1500}, nil)
		require.NoError(t, err)
		assert.Empty(t, closed)

		stored, _ := repo.FindByID(ctx, pos.ID)
		assert.Equal(t, domain.StatusOpen, stored.Status)
	})

	t.Run("zero price is unknown, never a liquidation", func(t *testing.T) {
		svc, _, repo, _, _ := newTestService(t)
		pos := seed(t, svc, "BTC", domain.Long, 50000, 10)

		closed, err := svc.CheckLiquidations(ctx, "user-1", map[string]float64{"BTC": 0}, nil)
		require.NoError(t, err)
		assert.Empty(t, closed)

		stored, _ := repo.FindByID(ctx, pos.ID)
		assert.Equal(t, domain.StatusOpen, stored.Status)
	})

	t.Run("short position liquidates on price rise", func(t *testing.T) {
		svc, _, repo, _, _ := newTestService(t)
		pos := seed(t, svc, "STX", domain.Short, 2.5, 100) // liq at 2.525

		closed, err := svc.CheckLiquidations(ctx, "user-1", map[string]float64{"STX": 2.6}, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{pos.ID}, closed)

		stored, _ := repo.FindByID(ctx, pos.ID)
		assert.Equal(t, domain.StatusLiquidated, stored.Status)
	})

	t.Run("idempotent across cycles", func(t *testing.T) {
		svc, _, _, _, _ := newTestService(t)
		pos := seed(t, svc, "BTC", domain.Long, 50000, 10)
		snapshot := map[string]float64{"BTC": 40000}

		first, err := svc.CheckLiquidations(ctx, "user-1", snapshot, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{pos.ID}, first)

		second, err := svc.CheckLiquidations(ctx, "user-1", snapshot, nil)
		require.NoError(t, err)
		assert.Empty(t, second, "already-terminal positions are not revisited")
	})
}

func TestUserPositions(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreatePosition(ctx, validCreateParams())
	require.NoError(t, err)

	params := validCreateParams()
	params.Symbol = "ETH"
	params.EntryPrice = 2000
	second, err := svc.CreatePosition(ctx, params)
	require.NoError(t, err)

	_, err = svc.ClosePosition(ctx, first.ID, 51000, "SP_USER", nil)
	require.NoError(t, err)

	all, err := svc.UserPositions(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := svc.UserPositions(ctx, "user-1", domain.StatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)

	closed, err := svc.UserPositions(ctx, "user-1", domain.StatusClosed)
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, first.ID, closed[0].ID)
}

func TestUserPositions_OtherUsersInvisible(t *testing.T) {
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePosition(ctx, validCreateParams())
	require.NoError(t, err)

	other, err := svc.UserPositions(ctx, "user-2", "")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSettle_AggregateErrorShape(t *testing.T) {
	svc, ledger, _, _, _ := newTestService(t)
	ledger.transferErr = fmt.Errorf("primary boom")
	ledger.depositErr = fmt.Errorf("fallback boom")

	_, _, err := svc.settle(context.Background(), "test", []settlementStrategy{
		{name: "direct-transfer", send: func(ctx context.Context) (string, error) {
			return ledger.Transfer(ctx, 1, "a", "b", nil)
		}},
		{name: "contract-deposit", send: func(ctx context.Context) (string, error) {
			return ledger.ContractDeposit(ctx, 1, "a", nil)
		}},
	})

	var sErr *ports.SettlementError
	require.ErrorAs(t, err, &sErr)
	assert.EqualError(t, sErr.Primary, "primary boom")
	assert.EqualError(t, sErr.Fallback, "fallback boom")
}
