package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uvote/uvote-backend/internal/calc"
)

// Claimable computes what the bettor could claim from a confirmed market:
// their unclaimed winning stake plus a floor-rounded pro-rata share of the
// losing pool. Bettors with no stake on the winning option have zero
// claimable and have lost their stake. Read-only; a market whose cooldown
// just elapsed is evaluated at its effective (confirmed) status.
func (e *Engine) Claimable(ctx context.Context, marketID int64, bettor string) (decimal.Decimal, error) {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	m = e.effective(m)
	if m.Status != StatusConfirmed {
		return decimal.Zero, fmt.Errorf("%w: market %d is %s, payouts need confirmed", ErrInvalidTransition, m.ID, m.Status)
	}

	stake, _, err := e.winningStake(ctx, m, bettor)
	if err != nil {
		return decimal.Zero, err
	}
	w := m.Options[m.WinningOption].TotalAmount
	return calc.Payout(stake, w, m.LosingPool(), e.settings.AssetDecimals), nil
}

// ClaimWinnings pays the bettor's full claimable amount out of market
// escrow. The winning bets are latched claimed before the credit and the
// latch is released if the credit fails, so a claim either fully pays or
// leaves no trace. A second claim fails with AlreadyClaimed; concurrent
// claims by the same bettor resolve to exactly one payment.
func (e *Engine) ClaimWinnings(ctx context.Context, marketID int64, bettor string) (decimal.Decimal, error) {
	if bettor == "" {
		return decimal.Zero, fmt.Errorf("%w: bettor is required", ErrValidation)
	}

	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	now := e.clock()
	// A claim against a cooldown market whose window has elapsed first
	// commits the auto-confirmation, then proceeds in the same step.
	if err := e.advanceDue(ctx, m, now); err != nil {
		return decimal.Zero, err
	}
	switch m.Status {
	case StatusConfirmed:
	case StatusCancelled, StatusDisputed:
		return decimal.Zero, fmt.Errorf("%w: market %d is %s", ErrMarketInactive, m.ID, m.Status)
	default:
		return decimal.Zero, fmt.Errorf("%w: market %d is %s, payouts need confirmed", ErrInvalidTransition, m.ID, m.Status)
	}

	stake, claimedBefore, err := e.winningStake(ctx, m, bettor)
	if err != nil {
		return decimal.Zero, err
	}
	if stake.IsZero() {
		if claimedBefore {
			return decimal.Zero, fmt.Errorf("%w: market %d, bettor %s", ErrAlreadyClaimed, m.ID, bettor)
		}
		return decimal.Zero, fmt.Errorf("%w: no winning stake in market %d", ErrNothingToClaim, m.ID)
	}

	w := m.Options[m.WinningOption].TotalAmount
	amount := calc.Payout(stake, w, m.LosingPool(), e.settings.AssetDecimals)
	if amount.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: no winning stake in market %d", ErrNothingToClaim, m.ID)
	}

	if err := e.payOut(ctx, m, bettor, []int{m.WinningOption}, amount); err != nil {
		return decimal.Zero, err
	}

	e.logger.Infow("Winnings claimed",
		"market_id", m.ID,
		"bettor", bettor,
		"stake", stake,
		"amount", amount,
	)
	if e.recorder != nil {
		e.recorder.RecordClaimPaid(ctx, m.StakeAsset)
	}
	return amount, nil
}

// ClaimRefund returns the bettor's entire stake, across all options, from a
// cancelled or disputed market. Same claimed-latch discipline as
// ClaimWinnings, so refunds can never double-pay either.
func (e *Engine) ClaimRefund(ctx context.Context, marketID int64, bettor string) (decimal.Decimal, error) {
	if bettor == "" {
		return decimal.Zero, fmt.Errorf("%w: bettor is required", ErrValidation)
	}

	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if m.Status != StatusCancelled && m.Status != StatusDisputed {
		return decimal.Zero, fmt.Errorf("%w: market %d is %s, refunds need cancelled or disputed", ErrInvalidTransition, m.ID, m.Status)
	}

	bets, err := e.store.UserBets(ctx, marketID, bettor)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	var options []int
	anyClaimed := false
	for _, b := range bets {
		if b.Claimed {
			anyClaimed = true
			continue
		}
		total = total.Add(b.Amount)
		options = append(options, b.OptionIdx)
	}
	if total.IsZero() {
		if anyClaimed {
			return decimal.Zero, fmt.Errorf("%w: market %d, bettor %s", ErrAlreadyClaimed, m.ID, bettor)
		}
		return decimal.Zero, fmt.Errorf("%w: no stake in market %d", ErrNothingToClaim, m.ID)
	}

	if err := e.payOut(ctx, m, bettor, options, total); err != nil {
		return decimal.Zero, err
	}

	e.logger.Infow("Stake refunded", "market_id", m.ID, "bettor", bettor, "amount", total)
	return total, nil
}

// winningStake sums the bettor's unclaimed stake on the winning option and
// reports whether any winning stake was already claimed.
func (e *Engine) winningStake(ctx context.Context, m *Market, bettor string) (decimal.Decimal, bool, error) {
	if m.WinningOption < 0 || m.WinningOption >= len(m.Options) {
		return decimal.Zero, false, fmt.Errorf("market %d confirmed without a winner: %w", m.ID, ErrPoolMismatch)
	}
	bet, err := e.store.GetBet(ctx, m.ID, bettor, m.WinningOption)
	if err != nil {
		return decimal.Zero, false, err
	}
	if bet == nil {
		return decimal.Zero, false, nil
	}
	if bet.Claimed {
		return decimal.Zero, true, nil
	}
	return bet.Amount, false, nil
}

// payOut latches the bets claimed, credits the bettor from escrow and rolls
// the latch back if the credit fails.
func (e *Engine) payOut(ctx context.Context, m *Market, bettor string, options []int, amount decimal.Decimal) error {
	if err := e.store.SetClaimed(ctx, m.ID, bettor, options, true); err != nil {
		return fmt.Errorf("latch claim: %w", err)
	}
	if err := e.ledger.Transfer(ctx, m.StakeAsset, m.EscrowAccount(), bettor, amount); err != nil {
		if rb := e.store.SetClaimed(ctx, m.ID, bettor, options, false); rb != nil {
			e.logger.Errorw("Failed to release claim latch after failed payout",
				"market_id", m.ID,
				"bettor", bettor,
				"amount", amount,
				"payout_error", err,
				"rollback_error", rb,
			)
		}
		return fmt.Errorf("credit payout: %w", err)
	}
	return nil
}
