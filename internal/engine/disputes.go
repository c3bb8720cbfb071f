package engine

import (
	"context"
	"fmt"
)

// ReportFraud registers a dispute against the declared outcome during the
// cooldown window. One report per account per market. Reaching the
// configured threshold escalates the market to under-review immediately and
// closes the window early; reports after the window has elapsed fail with
// WindowClosed even when the auto-confirm has not yet been committed by any
// other caller.
func (e *Engine) ReportFraud(ctx context.Context, marketID int64, reporter string) (*Market, error) {
	if reporter == "" {
		return nil, fmt.Errorf("%w: reporter is required", ErrValidation)
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
	case StatusCooldown:
	case StatusConfirmed, StatusUnderReview:
		// Window either elapsed (auto-confirmed just now or earlier) or was
		// closed early by the threshold being reached.
		return nil, fmt.Errorf("%w: market %d is %s", ErrWindowClosed, m.ID, m.Status)
	case StatusCancelled, StatusDisputed:
		return nil, fmt.Errorf("%w: market %d is %s", ErrMarketInactive, m.ID, m.Status)
	default:
		return nil, fmt.Errorf("%w: cannot report in status %q", ErrInvalidTransition, m.Status)
	}
	if m.Reporters[reporter] {
		return nil, fmt.Errorf("%w: %s already reported market %d", ErrAlreadyReported, reporter, m.ID)
	}

	if m.Reporters == nil {
		m.Reporters = make(map[string]bool)
	}
	m.Reporters[reporter] = true
	m.ReportCount++

	escalated := m.ReportCount >= e.settings.ReportThreshold
	if escalated {
		m.Status = StatusUnderReview
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("record fraud report: %w", err)
	}

	e.logger.Infow("Fraud reported",
		"market_id", m.ID,
		"reporter", reporter,
		"report_count", m.ReportCount,
		"escalated", escalated,
	)
	if e.recorder != nil {
		e.recorder.RecordFraudReport(ctx)
	}
	if escalated {
		e.recordTransition(ctx, StatusCooldown, StatusUnderReview)
		e.publish(Event{Type: "status", MarketID: m.ID, Status: m.Status, At: now})
	}
	return m.Clone(), nil
}

// ResolveReview is the arbitration verdict on an under-review market. Admin
// only. Confirmed upholds the declared outcome and opens payouts; Disputed
// overturns it and makes every stake refundable; Cancelled voids the market
// the same way an administrative cancel does.
func (e *Engine) ResolveReview(ctx context.Context, marketID int64, caller string, verdict Status) (*Market, error) {
	switch verdict {
	case StatusConfirmed, StatusDisputed, StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: verdict must be confirmed, disputed or cancelled, got %q", ErrValidation, verdict)
	}

	lock := e.marketLock(marketID)
	lock.Lock()
	defer lock.Unlock()

	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if !e.isAdmin(caller) {
		return nil, fmt.Errorf("%w: arbitration is admin-only", ErrUnauthorized)
	}
	if m.Status != StatusUnderReview {
		return nil, fmt.Errorf("%w: cannot arbitrate market in status %q", ErrInvalidTransition, m.Status)
	}

	now := e.clock()
	m.Status = verdict
	if verdict == StatusConfirmed {
		m.ResolvedAt = &now
	}
	if err := e.store.UpdateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("resolve review: %w", err)
	}

	e.logger.Infow("Review resolved", "market_id", m.ID, "verdict", verdict)
	e.recordTransition(ctx, StatusUnderReview, verdict)
	e.publish(Event{Type: "status", MarketID: m.ID, Status: m.Status, At: now})
	return m.Clone(), nil
}
