package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sepdex/internal/domain"
)

func newTestSweeper(t *testing.T) (*Sweeper, *PositionService, *mockPositionRepo, *mockOracle) {
	t.Helper()
	svc, _, repo, oracle, logger := newTestService(t)
	sweeper, err := NewSweeper(10*time.Millisecond, svc, oracle, repo, logger)
	require.NoError(t, err)
	return sweeper, svc, repo, oracle
}

func TestNewSweeper_Validation(t *testing.T) {
	svc, _, repo, oracle, logger := newTestService(t)

	_, err := NewSweeper(0, svc, oracle, repo, logger)
	assert.Error(t, err)

	_, err = NewSweeper(time.Second, nil, oracle, repo, logger)
	assert.Error(t, err)
}

func TestSweepOnce_LiquidatesCrossedPositions(t *testing.T) {
	sweeper, svc, repo, oracle := newTestSweeper(t)
	ctx := context.Background()

	params := validCreateParams() // BTC long at 50000, 10x: liq at 45000
	crossed, err := svc.CreatePosition(ctx, params)
	require.NoError(t, err)

	params = validCreateParams()
	params.Symbol = "ETH"
	params.EntryPrice = 2000
	params.Leverage = 5 // liq at 1600
	healthy, err := svc.CreatePosition(ctx, params)
	require.NoError(t, err)

	oracle.prices = map[string]float64{"BTC": 44000, "ETH": 1900}

	require.NoError(t, sweeper.SweepOnce(ctx))

	stored, _ := repo.FindByID(ctx, crossed.ID)
	assert.Equal(t, domain.StatusLiquidated, stored.Status)
	stored, _ = repo.FindByID(ctx, healthy.ID)
	assert.Equal(t, domain.StatusOpen, stored.Status)
}

func TestSweepOnce_SpansUsers(t *testing.T) {
	sweeper, svc, repo, oracle := newTestSweeper(t)
	ctx := context.Background()

	first, err := svc.CreatePosition(ctx, validCreateParams())
	require.NoError(t, err)

	params := validCreateParams()
	params.UserID = "user-2"
	second, err := svc.CreatePosition(ctx, params)
	require.NoError(t, err)

	oracle.prices = map[string]float64{"BTC": 40000}

	require.NoError(t, sweeper.SweepOnce(ctx))

	for _, id := range []string{first.ID, second.ID} {
		stored, _ := repo.FindByID(ctx, id)
		assert.Equal(t, domain.StatusLiquidated, stored.Status, "position %s", id)
	}
}

func TestSweepOnce_OracleFailureSkipsSymbol(t *testing.T) {
	sweeper, svc, repo, oracle := newTestSweeper(t)
	ctx := context.Background()

	pos, err := svc.CreatePosition(ctx, validCreateParams())
	require.NoError(t, err)

	oracle.err = errors.New("oracle down")

	// Never treat "missing price" as "liquidated".
	require.NoError(t, sweeper.SweepOnce(ctx))

	stored, _ := repo.FindByID(ctx, pos.ID)
	assert.Equal(t, domain.StatusOpen, stored.Status)
}

func TestSweepOnce_EmptyOpenSet(t *testing.T) {
	sweeper, _, _, _ := newTestSweeper(t)
	assert.NoError(t, sweeper.SweepOnce(context.Background()))
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	sweeper, svc, repo, oracle := newTestSweeper(t)

	pos, err := svc.CreatePosition(context.Background(), validCreateParams())
	require.NoError(t, err)
	oracle.prices = map[string]float64{"BTC": 40000}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sweeper.Start(ctx)
	}()

	// Give the ticker a few cycles to fire.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}

	stored, _ := repo.FindByID(context.Background(), pos.ID)
	assert.Equal(t, domain.StatusLiquidated, stored.Status)
}
