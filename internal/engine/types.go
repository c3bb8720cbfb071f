package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is a market's position in the settlement lifecycle.
//
//	Active --(close: manual or closesAt reached)--> Closed
//	Closed --(creator declares winner)------------> Cooldown
//	Cooldown --(window elapses, few reports)------> Confirmed
//	Cooldown --(reports reach threshold)----------> UnderReview
//	UnderReview --(arbitration)-------------------> Confirmed | Disputed | Cancelled
//	Active/Closed --(admin cancel)----------------> Cancelled
type Status string

const (
	StatusActive      Status = "active"
	StatusClosed      Status = "closed"
	StatusCooldown    Status = "cooldown"
	StatusUnderReview Status = "under_review"
	StatusConfirmed   Status = "confirmed"
	StatusDisputed    Status = "disputed"
	StatusCancelled   Status = "cancelled"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusCooldown, StatusUnderReview,
		StatusConfirmed, StatusDisputed, StatusCancelled:
		return true
	}
	return false
}

// Option is one outcome of a market. Options are fixed at creation; only
// their running totals mutate.
type Option struct {
	Description  string          `json:"description"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	TotalBettors int             `json:"totalBettors"`
}

// Market option count bounds.
const (
	MinOptions = 2
	MaxOptions = 10
)

// NoWinner is the WinningOption value before an outcome is declared.
const NoWinner = -1

// Market is the settlement engine's view of one prediction market. Markets
// are permanent ledger history; they are never deleted.
type Market struct {
	ID          int64    `json:"id"`
	Creator     string   `json:"creator"`
	StakeAsset  string   `json:"stakeAsset"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []Option `json:"options"`

	Status        Status `json:"status"`
	WinningOption int    `json:"winningOption"` // NoWinner until declared

	CreatedAt      time.Time  `json:"createdAt"`
	ClosesAt       *time.Time `json:"closesAt,omitempty"` // nil means no betting deadline
	CooldownEndsAt *time.Time `json:"cooldownEndsAt,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`

	ReportCount int             `json:"reportCount"`
	Reporters   map[string]bool `json:"reporters,omitempty"`

	TotalPool decimal.Decimal `json:"totalPool"`

	// Version guards optimistic writes in the store. Incremented on every
	// successful update.
	Version uint64 `json:"version"`
}

// EscrowAccount is the synthetic ledger account holding this market's pool.
func (m *Market) EscrowAccount() string {
	return fmt.Sprintf("escrow:market:%d", m.ID)
}

// OptionTotal is the sum of every option's recorded stake. The pool
// invariant requires it to equal TotalPool at all times.
func (m *Market) OptionTotal() decimal.Decimal {
	total := decimal.Zero
	for _, opt := range m.Options {
		total = total.Add(opt.TotalAmount)
	}
	return total
}

// LosingPool is the combined stake on all options other than the winner.
// Only meaningful once a winner has been declared.
func (m *Market) LosingPool() decimal.Decimal {
	if m.WinningOption < 0 || m.WinningOption >= len(m.Options) {
		return decimal.Zero
	}
	return m.TotalPool.Sub(m.Options[m.WinningOption].TotalAmount)
}

// Clone returns a deep copy safe to mutate independently.
func (m *Market) Clone() *Market {
	c := *m
	c.Options = make([]Option, len(m.Options))
	copy(c.Options, m.Options)
	if m.ClosesAt != nil {
		t := *m.ClosesAt
		c.ClosesAt = &t
	}
	if m.CooldownEndsAt != nil {
		t := *m.CooldownEndsAt
		c.CooldownEndsAt = &t
	}
	if m.ResolvedAt != nil {
		t := *m.ResolvedAt
		c.ResolvedAt = &t
	}
	if m.Reporters != nil {
		c.Reporters = make(map[string]bool, len(m.Reporters))
		for k, v := range m.Reporters {
			c.Reporters[k] = v
		}
	}
	return &c
}

// Bet is one bettor's accumulated stake on one option of one market.
// Repeated stakes on the same option merge into a single row; the amount is
// immutable after settlement begins and only the Claimed latch mutates.
type Bet struct {
	MarketID  int64           `json:"marketId"`
	Bettor    string          `json:"bettor"`
	OptionIdx int             `json:"optionIdx"`
	Amount    decimal.Decimal `json:"amount"`
	Claimed   bool            `json:"claimed"`
	PlacedAt  time.Time       `json:"placedAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}
