package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvote/uvote-backend/internal/engine"
)

func TestPlaceBet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.fund(m, "bob", "500")

	bet, err := f.engine.PlaceBet(ctx, m.ID, "bob", 1, decimal.RequireFromString("100"))
	require.NoError(t, err)
	assert.Equal(t, 1, bet.OptionIdx)
	assert.Equal(t, "100", bet.Amount.String())
	assert.False(t, bet.Claimed)

	got, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", got.TotalPool.String())
	assert.Equal(t, "100", got.Options[1].TotalAmount.String())
	assert.Equal(t, 1, got.Options[1].TotalBettors)

	// Stake moved into escrow, allowance consumed.
	assert.Equal(t, "400", f.balance(t, "bob").String())
	assert.Equal(t, "100", f.balance(t, m.EscrowAccount()).String())

	require.NoError(t, f.engine.CheckPool(ctx, m.ID))
}

func TestPlaceBetMergesSameOption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.fund(m, "bob", "500")

	_, err := f.engine.PlaceBet(ctx, m.ID, "bob", 0, decimal.RequireFromString("100"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	bet, err := f.engine.PlaceBet(ctx, m.ID, "bob", 0, decimal.RequireFromString("50"))
	require.NoError(t, err)

	assert.Equal(t, "150", bet.Amount.String())
	assert.True(t, bet.UpdatedAt.After(bet.PlacedAt))

	got, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Options[0].TotalBettors, "repeat stake is not a new bettor")
	assert.Equal(t, "150", got.TotalPool.String())

	// A stake on another option is a separate row.
	_, err = f.engine.PlaceBet(ctx, m.ID, "bob", 2, decimal.RequireFromString("25"))
	require.NoError(t, err)
	bets, err := f.engine.UserBets(ctx, m.ID, "bob")
	require.NoError(t, err)
	require.Len(t, bets, 2)

	require.NoError(t, f.engine.CheckPool(ctx, m.ID))
}

func TestPlaceBetValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.fund(m, "bob", "500")

	_, err := f.engine.PlaceBet(ctx, m.ID, "bob", 0, decimal.Zero)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	_, err = f.engine.PlaceBet(ctx, m.ID, "bob", 0, decimal.RequireFromString("-5"))
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	// Sub-unit dust below the asset's 9 decimals.
	_, err = f.engine.PlaceBet(ctx, m.ID, "bob", 0, decimal.RequireFromString("0.0000000001"))
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	_, err = f.engine.PlaceBet(ctx, m.ID, "bob", 3, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, engine.ErrOptionOutOfRange)

	_, err = f.engine.PlaceBet(ctx, m.ID, "", 0, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, engine.ErrValidation)

	_, err = f.engine.PlaceBet(ctx, 404, "bob", 0, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, engine.ErrMarketNotFound)
}

func TestPlaceBetFunding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)

	// No allowance granted at all.
	f.ledger.Mint(asset, "carol", decimal.RequireFromString("100"))
	_, err := f.engine.PlaceBet(ctx, m.ID, "carol", 0, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, engine.ErrInsufficientAllowance)

	// Allowance without balance.
	f.ledger.Approve(asset, "dave", m.EscrowAccount(), decimal.RequireFromString("100"))
	_, err = f.engine.PlaceBet(ctx, m.ID, "dave", 0, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, engine.ErrInsufficientBalance)

	// Neither failure leaves a trace on the market.
	got, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalPool.IsZero())
	require.NoError(t, f.engine.CheckPool(ctx, m.ID))
}

func TestPlaceBetAfterDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deadline := t0.Add(time.Hour)
	m := f.createMarket(t, func(p *engine.CreateMarketParams) {
		p.ClosesAt = &deadline
	})
	f.fund(m, "bob", "100")
	f.clock.Advance(2 * time.Hour)

	_, err := f.engine.PlaceBet(ctx, m.ID, "bob", 0, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, engine.ErrMarketClosed)

	// The failed bet still committed the lazy close.
	stored, err := f.store.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusClosed, stored.Status)
	assert.Equal(t, "0", f.balance(t, m.EscrowAccount()).String())
}

func TestPlaceBetOnInactiveMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.fund(m, "bob", "100")

	_, err := f.engine.CancelMarket(ctx, m.ID, admin)
	require.NoError(t, err)

	_, err = f.engine.PlaceBet(ctx, m.ID, "bob", 0, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, engine.ErrMarketInactive)

	m2 := f.createMarket(t)
	f.fund(m2, "bob", "100")
	_, err = f.engine.CloseMarket(ctx, m2.ID, creator)
	require.NoError(t, err)

	_, err = f.engine.PlaceBet(ctx, m2.ID, "bob", 0, decimal.RequireFromString("10"))
	assert.ErrorIs(t, err, engine.ErrMarketClosed)
}

func TestConcurrentBetsKeepPoolConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)

	const bettors = 16
	stake := decimal.RequireFromString("10")
	for i := 0; i < bettors; i++ {
		f.fund(m, fmt.Sprintf("bettor-%d", i), "10")
	}

	var wg sync.WaitGroup
	errs := make([]error, bettors)
	for i := 0; i < bettors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.PlaceBet(ctx, m.ID, fmt.Sprintf("bettor-%d", i), i%3, stake)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "bettor %d", i)
	}

	got, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "160", got.TotalPool.String())
	assert.Equal(t, "160", f.balance(t, m.EscrowAccount()).String())
	require.NoError(t, f.engine.CheckPool(ctx, m.ID))
}
