package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uvote/uvote-backend/internal/calc"
)

// PlaceBet escrows amount of the market's stake asset against one option.
// The bettor must hold the balance and have granted the market escrow a
// sufficient transfer allowance. Repeat stakes by the same bettor on the same
// option accumulate into one bet row; bets are never decreased or withdrawn.
//
// A bet against a market whose deadline has already passed first commits the
// lazy close and then fails with MarketClosed; it never silently succeeds.
func (e *Engine) PlaceBet(ctx context.Context, marketID int64, bettor string, optionIdx int, amount decimal.Decimal) (*Bet, error) {
	if bettor == "" {
		return nil, fmt.Errorf("%w: bettor is required", ErrValidation)
	}
	if !calc.ValidAmount(amount, e.settings.AssetDecimals) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	if err := e.advanceDue(ctx, m, now); err != nil {
		return nil, err
	}
	switch m.Status {
	case StatusActive:
	case StatusCancelled, StatusDisputed:
		return nil, fmt.Errorf("%w: market %d is %s", ErrMarketInactive, m.ID, m.Status)
	default:
		return nil, fmt.Errorf("%w: market %d is %s", ErrMarketClosed, m.ID, m.Status)
	}
	if optionIdx < 0 || optionIdx >= len(m.Options) {
		return nil, fmt.Errorf("%w: option %d of %d", ErrOptionOutOfRange, optionIdx, len(m.Options))
	}

	escrow := m.EscrowAccount()
	if err := e.checkFunds(ctx, m.StakeAsset, bettor, escrow, amount); err != nil {
		return nil, err
	}

	// Pull the stake into escrow first; the ledger is the system of record
	// for balances and a failed pull must leave no trace here.
	if err := e.ledger.TransferFrom(ctx, m.StakeAsset, escrow, bettor, escrow, amount); err != nil {
		return nil, fmt.Errorf("escrow stake: %w", err)
	}

	bet, err := e.store.GetBet(ctx, marketID, bettor, optionIdx)
	if err != nil {
		return nil, e.unwindStake(ctx, m, bettor, amount, err)
	}
	firstOnOption := bet == nil
	if firstOnOption {
		bet = &Bet{
			MarketID:  marketID,
			Bettor:    bettor,
			OptionIdx: optionIdx,
			Amount:    decimal.Zero,
			PlacedAt:  now,
		}
	}
	bet.Amount = bet.Amount.Add(amount)
	bet.UpdatedAt = now

	m.Options[optionIdx].TotalAmount = m.Options[optionIdx].TotalAmount.Add(amount)
	if firstOnOption {
		m.Options[optionIdx].TotalBettors++
	}
	m.TotalPool = m.TotalPool.Add(amount)

	if err := e.store.PlaceBet(ctx, m, bet); err != nil {
		return nil, e.unwindStake(ctx, m, bettor, amount, err)
	}

	e.logger.Infow("Bet placed",
		"market_id", m.ID,
		"bettor", bettor,
		"option", optionIdx,
		"amount", amount,
		"pool", m.TotalPool,
	)
	if e.recorder != nil {
		e.recorder.RecordBetPlaced(ctx, m.StakeAsset)
	}
	e.publish(Event{Type: "bet", MarketID: m.ID, Status: m.Status, OptionIdx: optionIdx, Amount: amount, At: now})
	return bet, nil
}

// checkFunds verifies balance and allowance up front so the common failure
// modes surface as their typed errors rather than a generic transfer failure.
func (e *Engine) checkFunds(ctx context.Context, asset, bettor, escrow string, amount decimal.Decimal) error {
	allowed, err := e.ledger.Allowance(ctx, asset, bettor, escrow)
	if err != nil {
		return fmt.Errorf("check allowance: %w", err)
	}
	if allowed.LessThan(amount) {
		return fmt.Errorf("%w: allowance %s, need %s", ErrInsufficientAllowance, allowed, amount)
	}
	balance, err := e.ledger.BalanceOf(ctx, asset, bettor)
	if err != nil {
		return fmt.Errorf("check balance: %w", err)
	}
	if balance.LessThan(amount) {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientBalance, balance, amount)
	}
	return nil
}

// unwindStake returns an escrowed stake after a failed record write so the
// operation leaves no partial state. A failing unwind is logged loudly; the
// escrow then holds funds the records know nothing about, which is an
// operator problem rather than a silent accounting hole.
func (e *Engine) unwindStake(ctx context.Context, m *Market, bettor string, amount decimal.Decimal, cause error) error {
	if err := e.ledger.Transfer(ctx, m.StakeAsset, m.EscrowAccount(), bettor, amount); err != nil {
		e.logger.Errorw("Failed to unwind escrowed stake",
			"market_id", m.ID,
			"bettor", bettor,
			"amount", amount,
			"cause", cause,
			"unwind_error", err,
		)
	}
	return fmt.Errorf("record bet: %w", cause)
}

// UserBets returns the bettor's bets in this market in option order.
func (e *Engine) UserBets(ctx context.Context, marketID int64, bettor string) ([]*Bet, error) {
	if _, err := e.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return e.store.UserBets(ctx, marketID, bettor)
}
