package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreateMarketParams carries everything fixed at market creation. Title,
// options and the stake asset are immutable afterwards.
type CreateMarketParams struct {
	Creator     string
	StakeAsset  string
	Title       string
	Description string
	Options     []string
	// ClosesAt is the betting deadline; nil means the market stays open for
	// betting until the creator closes it manually.
	ClosesAt *time.Time
	// Cooldown overrides the engine default challenge-window length when
	// positive.
	Cooldown time.Duration
}

func (p *CreateMarketParams) validate(now time.Time) error {
	if strings.TrimSpace(p.Creator) == "" {
		return fmt.Errorf("%w: creator is required", ErrValidation)
	}
	if strings.TrimSpace(p.StakeAsset) == "" {
		return fmt.Errorf("%w: stake asset is required", ErrValidation)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(p.Options) < MinOptions || len(p.Options) > MaxOptions {
		return fmt.Errorf("%w: need %d to %d options, got %d", ErrValidation, MinOptions, MaxOptions, len(p.Options))
	}
	for i, opt := range p.Options {
		if strings.TrimSpace(opt) == "" {
			return fmt.Errorf("%w: option %d is empty", ErrValidation, i)
		}
	}
	if p.ClosesAt != nil && !p.ClosesAt.After(now) {
		return fmt.Errorf("%w: close deadline must be in the future", ErrValidation)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrValidation)
	}
	return nil
}

// CreateMarket registers a new market in Active status. The store assigns a
// monotonic id.
func (e *Engine) CreateMarket(ctx context.Context, p CreateMarketParams) (*Market, error) {
	now := e.clock()
	if err := p.validate(now); err != nil {
		return nil, err
	}

	options := make([]Option, len(p.Options))
	for i, desc := range p.Options {
		options[i] = Option{Description: desc, TotalAmount: decimal.Zero}
	}

	m := &Market{
		Creator:       p.Creator,
		StakeAsset:    p.StakeAsset,
		Title:         p.Title,
		Description:   p.Description,
		Options:       options,
		Status:        StatusActive,
		WinningOption: NoWinner,
		CreatedAt:     now,
		ClosesAt:      p.ClosesAt,
		TotalPool:     decimal.Zero,
	}
	if err := e.store.CreateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}

	e.logger.Infow("Market created",
		"market_id", m.ID,
		"creator", m.Creator,
		"asset", m.StakeAsset,
		"options", len(m.Options),
		"closes_at", m.ClosesAt,
	)
	e.publish(Event{Type: "status", MarketID: m.ID, Status: m.Status, At: now})
	return m.Clone(), nil
}

// GetMarket returns a snapshot of the market with any due time-based
// transition applied to the snapshot only. Readers always see the effective
// status; the durable record is advanced by the next mutating call.
func (e *Engine) GetMarket(ctx context.Context, id int64) (*Market, error) {
	m, err := e.store.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.effective(m), nil
}

// ListMarkets returns snapshots matching the filter, effective statuses
// applied. The status filter matches the stored status; a market whose
// deadline has passed but not yet been committed still lists under its
// stored status until some mutating call advances it.
func (e *Engine) ListMarkets(ctx context.Context, f MarketFilter) ([]*Market, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	ms, err := e.store.ListMarkets(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*Market, len(ms))
	for i, m := range ms {
		out[i] = e.effective(m)
	}
	return out, nil
}

// effective clones m and applies any due virtual transition without touching
// durable state.
func (e *Engine) effective(m *Market) *Market {
	c := m.Clone()
	now := e.clock()
	if next, ok := dueTransition(c, now, e.settings.ReportThreshold); ok {
		c.Status = next
		if next == StatusConfirmed && c.ResolvedAt == nil {
			c.ResolvedAt = &now
		}
	}
	return c
}
