package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uvote/uvote-backend/internal/engine"
)

// Two winners split a 600 losing pool in proportion to their 100/200 stakes.
func TestClaimWinningsProportional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)

	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u2", 0, "200")
	f.bet(t, m, "u3", 1, "300")
	f.bet(t, m, "u4", 2, "300")
	f.toConfirmed(t, m, 0)

	claimable, err := f.engine.Claimable(ctx, m.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "300", claimable.String())

	got, err := f.engine.ClaimWinnings(ctx, m.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "300", got.String())
	assert.Equal(t, "300", f.balance(t, "u1").String())

	got, err = f.engine.ClaimWinnings(ctx, m.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, "600", got.String())

	// Losers have nothing to claim; their stake is gone.
	_, err = f.engine.ClaimWinnings(ctx, m.ID, "u3")
	assert.ErrorIs(t, err, engine.ErrNothingToClaim)
	assert.Equal(t, "0", f.balance(t, "u3").String())

	// Escrow fully drained: payouts exactly exhaust the pool.
	assert.Equal(t, "0", f.balance(t, m.EscrowAccount()).String())
}

// An awkward three-way split floors each share; the sub-unit remainder stays
// in escrow rather than overpaying anyone.
func TestClaimWinningsFloorsShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)

	for _, u := range []string{"w1", "w2", "w3"} {
		f.bet(t, m, u, 0, "1")
	}
	f.bet(t, m, "loser", 1, "100.000000001")
	f.toConfirmed(t, m, 0)

	for _, u := range []string{"w1", "w2", "w3"} {
		got, err := f.engine.ClaimWinnings(ctx, m.ID, u)
		require.NoError(t, err)
		assert.Equal(t, "34.333333333", got.String())
	}

	assert.Equal(t, "0.000000002", f.balance(t, m.EscrowAccount()).String())
}

func TestClaimWinningsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u2", 1, "50")
	f.toConfirmed(t, m, 0)

	_, err := f.engine.ClaimWinnings(ctx, m.ID, "u1")
	require.NoError(t, err)

	_, err = f.engine.ClaimWinnings(ctx, m.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrAlreadyClaimed)
	assert.Equal(t, "150", f.balance(t, "u1").String(), "paid exactly once")
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u2", 1, "100")
	f.toConfirmed(t, m, 0)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.engine.ClaimWinnings(ctx, m.ID, "u1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, engine.ErrAlreadyClaimed)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, "200", f.balance(t, "u1").String())
}

func TestClaimBeforeConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u2", 1, "50")
	f.toCooldown(t, m, 0)

	_, err := f.engine.ClaimWinnings(ctx, m.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition, "cooldown is not confirmed")
	_, err = f.engine.Claimable(ctx, m.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition)
}

// A claim arriving after the window elapsed commits the auto-confirmation and
// pays in the same call; nobody has to settle first.
func TestClaimCommitsDueConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u2", 1, "50")
	f.toCooldown(t, m, 0)
	f.clock.Advance(24*time.Hour + time.Second)

	got, err := f.engine.ClaimWinnings(ctx, m.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "150", got.String())

	stored, err := f.store.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusConfirmed, stored.Status)
}

// Claimable is a pure read: it reports the post-window amount without
// committing the confirmation.
func TestClaimableIsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u2", 1, "50")
	f.toCooldown(t, m, 0)
	f.clock.Advance(24*time.Hour + time.Second)

	claimable, err := f.engine.Claimable(ctx, m.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "150", claimable.String())

	stored, err := f.store.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCooldown, stored.Status)
}

func TestClaimRefundOnCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u1", 2, "40")
	f.bet(t, m, "u2", 1, "50")

	_, err := f.engine.CancelMarket(ctx, m.ID, admin)
	require.NoError(t, err)

	// Refund covers the bettor's stake across every option.
	got, err := f.engine.ClaimRefund(ctx, m.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "140", got.String())
	assert.Equal(t, "140", f.balance(t, "u1").String())

	_, err = f.engine.ClaimRefund(ctx, m.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrAlreadyClaimed)

	_, err = f.engine.ClaimRefund(ctx, m.ID, "stranger")
	assert.ErrorIs(t, err, engine.ErrNothingToClaim)

	_, err = f.engine.ClaimRefund(ctx, m.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, "0", f.balance(t, m.EscrowAccount()).String())
}

func TestClaimRefundOnDisputed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u2", 1, "50")
	f.toCooldown(t, m, 0)
	for _, w := range []string{"w1", "w2", "w3"} {
		_, err := f.engine.ReportFraud(ctx, m.ID, w)
		require.NoError(t, err)
	}
	_, err := f.engine.ResolveReview(ctx, m.ID, admin, engine.StatusDisputed)
	require.NoError(t, err)

	// Every stake refunds, winners and losers alike.
	got, err := f.engine.ClaimRefund(ctx, m.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "100", got.String())
	got, err = f.engine.ClaimRefund(ctx, m.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, "50", got.String())

	// Winnings are never payable from a disputed market.
	_, err = f.engine.ClaimWinnings(ctx, m.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrMarketInactive)
}

func TestClaimRefundOnConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "100")
	f.bet(t, m, "u2", 1, "50")
	f.toConfirmed(t, m, 0)

	_, err := f.engine.ClaimRefund(ctx, m.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrInvalidTransition, "confirmed markets pay winnings, not refunds")
}

// Winner takes the whole pool when nobody staked against them.
func TestSoleWinnerTakesPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "40")
	f.bet(t, m, "u2", 1, "260")
	f.toConfirmed(t, m, 0)

	got, err := f.engine.ClaimWinnings(ctx, m.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "300", got.String())
	assert.Equal(t, "0", f.balance(t, m.EscrowAccount()).String())
}

// A market that confirms with zero stake on the winning option pays no one.
func TestNoWinningStake(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 1, "100")
	f.toConfirmed(t, m, 0)

	_, err := f.engine.ClaimWinnings(ctx, m.ID, "u1")
	assert.ErrorIs(t, err, engine.ErrNothingToClaim)

	claimable, err := f.engine.Claimable(ctx, m.ID, "u1")
	require.NoError(t, err)
	assert.True(t, claimable.IsZero())
}

func TestClaimValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ClaimWinnings(ctx, 404, "u1")
	assert.ErrorIs(t, err, engine.ErrMarketNotFound)

	m := f.createMarket(t)
	_, err = f.engine.ClaimWinnings(ctx, m.ID, "")
	assert.ErrorIs(t, err, engine.ErrValidation)
	_, err = f.engine.ClaimRefund(ctx, m.ID, "")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

// The pool invariant holds through the full lifecycle.
func TestPoolInvariantEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t)
	f.bet(t, m, "u1", 0, "10.5")
	f.bet(t, m, "u2", 1, "20.25")
	f.bet(t, m, "u1", 0, "5")
	require.NoError(t, f.engine.CheckPool(ctx, m.ID))

	f.toConfirmed(t, m, 0)
	require.NoError(t, f.engine.CheckPool(ctx, m.ID))

	total := decimal.Zero
	for _, u := range []string{"u1"} {
		got, err := f.engine.ClaimWinnings(ctx, m.ID, u)
		require.NoError(t, err)
		total = total.Add(got)
	}
	assert.Equal(t, "35.75", total.String())
	require.NoError(t, f.engine.CheckPool(ctx, m.ID))
}
