package engine

import (
	"context"
	"fmt"
	"time"
)

// dueTransition reports the status a market should lazily advance to at now.
// It is pure: callers apply the result themselves. A market past its betting
// deadline closes; a cooldown past its window with fewer reports than the
// threshold confirms. Threshold escalation is never lazy (reportFraud applies
// it immediately), so the threshold check here is only a guard against a
// report landing in the same instant the window expires.
func dueTransition(m *Market, now time.Time, reportThreshold int) (Status, bool) {
	switch m.Status {
	case StatusActive:
		if m.ClosesAt != nil && !now.Before(*m.ClosesAt) {
			return StatusClosed, true
		}
	case StatusCooldown:
		if m.CooldownEndsAt != nil && !now.Before(*m.CooldownEndsAt) && m.ReportCount < reportThreshold {
			return StatusConfirmed, true
		}
	}
	return "", false
}

// advanceDue applies any due transition to m and persists it. Must run under
// the market lock. The update is a version CAS, so if an external writer got
// there first the caller's copy is stale and the conflict surfaces as
// ErrVersionConflict. Idempotent: once the transition is committed, further
// calls see the new status and do nothing.
func (e *Engine) advanceDue(ctx context.Context, m *Market, now time.Time) error {
	next, ok := dueTransition(m, now, e.settings.ReportThreshold)
	if !ok {
		return nil
	}
	prev := m.Status
	m.Status = next
	if next == StatusConfirmed {
		t := now
		m.ResolvedAt = &t
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return fmt.Errorf("apply due transition: %w", err)
	}

	e.logger.Infow("Market advanced on deadline",
		"market_id", m.ID,
		"from", prev,
		"to", m.Status,
	)
	e.recordTransition(ctx, prev, m.Status)
	e.publish(Event{Type: "status", MarketID: m.ID, Status: m.Status, At: now})
	return nil
}

// CloseMarket ends the betting phase ahead of (or at) the deadline. Creator
// only. A market whose deadline already lapsed has been virtually closed, so
// a manual close after that reports InvalidTransition like any other
// non-Active market.
func (e *Engine) CloseMarket(ctx context.Context, marketID int64, caller string) (*Market, error) {
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
	if caller != m.Creator {
		return nil, fmt.Errorf("%w: only the creator may close market %d", ErrUnauthorized, m.ID)
	}
	if m.Status != StatusActive {
		return nil, fmt.Errorf("%w: cannot close market in status %q", ErrInvalidTransition, m.Status)
	}

	m.Status = StatusClosed
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("close market: %w", err)
	}

	e.logger.Infow("Market closed", "market_id", m.ID, "pool", m.TotalPool)
	e.recordTransition(ctx, StatusActive, StatusClosed)
	e.publish(Event{Type: "status", MarketID: m.ID, Status: m.Status, At: now})
	return m.Clone(), nil
}

// DeclareWinner resolves a closed market to an outcome and opens the
// challenge window. Creator only. The cooldown deadline is set exactly once,
// here, and never moves afterwards.
func (e *Engine) DeclareWinner(ctx context.Context, marketID int64, caller string, optionIdx int) (*Market, error) {
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
	if caller != m.Creator {
		return nil, fmt.Errorf("%w: only the creator may resolve market %d", ErrUnauthorized, m.ID)
	}
	if m.Status != StatusClosed {
		return nil, fmt.Errorf("%w: cannot declare winner in status %q", ErrInvalidTransition, m.Status)
	}
	if optionIdx < 0 || optionIdx >= len(m.Options) {
		return nil, fmt.Errorf("%w: option %d of %d", ErrOptionOutOfRange, optionIdx, len(m.Options))
	}

	ends := now.Add(e.settings.Cooldown)
	m.Status = StatusCooldown
	m.WinningOption = optionIdx
	m.CooldownEndsAt = &ends
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("declare winner: %w", err)
	}

	e.logger.Infow("Winner declared",
		"market_id", m.ID,
		"option", optionIdx,
		"cooldown_ends_at", ends,
	)
	e.recordTransition(ctx, StatusClosed, StatusCooldown)
	e.publish(Event{Type: "status", MarketID: m.ID, Status: m.Status, OptionIdx: optionIdx, At: now})
	return m.Clone(), nil
}

// SettleIfDue applies the lazy auto-confirmation if the market's cooldown has
// elapsed undisputed. Callable by anyone, any number of times; every call
// after the transition observes the already-updated market.
func (e *Engine) SettleIfDue(ctx context.Context, marketID int64) (*Market, error) {
	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := e.advanceDue(ctx, m, e.clock()); err != nil {
		return nil, err
	}
	return m.Clone(), nil
}

// CancelMarket is the administrative override terminating a market before an
// outcome confirms. Allowed from Active or Closed only. Stakes already
// escrowed become refundable via ClaimRefund.
func (e *Engine) CancelMarket(ctx context.Context, marketID int64, caller string) (*Market, error) {
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
	if !e.isAdmin(caller) {
		return nil, fmt.Errorf("%w: cancel is admin-only", ErrUnauthorized)
	}
	if m.Status != StatusActive && m.Status != StatusClosed {
		return nil, fmt.Errorf("%w: cannot cancel market in status %q", ErrInvalidTransition, m.Status)
	}

	prev := m.Status
	m.Status = StatusCancelled
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("cancel market: %w", err)
	}

	e.logger.Infow("Market cancelled", "market_id", m.ID, "from", prev, "pool", m.TotalPool)
	e.recordTransition(ctx, prev, StatusCancelled)
	e.publish(Event{Type: "status", MarketID: m.ID, Status: m.Status, At: now})
	return m.Clone(), nil
}
