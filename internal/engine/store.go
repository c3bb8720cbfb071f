package engine

import "context"

// MarketFilter narrows ListMarkets results. Zero values mean "no filter".
type MarketFilter struct {
	Status  Status
	Creator string
	Limit   int
	Offset  int
}

// Store is the persistence boundary of the settlement engine. One record per
// market (options embedded), one record per (market, bettor, option) bet.
//
// UpdateMarket and PlaceBet are compare-and-swap writes keyed on
// Market.Version: they must fail with ErrVersionConflict if the stored
// version differs from the caller's copy, and increment the version on
// success (mirrored into the caller's copy). PlaceBet persists the market
// totals and the merged bet row in a single atomic step.
type Store interface {
	CreateMarket(ctx context.Context, m *Market) error
	GetMarket(ctx context.Context, id int64) (*Market, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]*Market, error)
	UpdateMarket(ctx context.Context, m *Market) error
	PlaceBet(ctx context.Context, m *Market, b *Bet) error

	// GetBet returns (nil, nil) when the bettor holds no bet on that option.
	GetBet(ctx context.Context, marketID int64, bettor string, optionIdx int) (*Bet, error)
	UserBets(ctx context.Context, marketID int64, bettor string) ([]*Bet, error)
	MarketBets(ctx context.Context, marketID int64) ([]*Bet, error)

	// SetClaimed latches (or, when compensating a failed payout, releases)
	// the claimed flag on the bettor's bets for the given options.
	SetClaimed(ctx context.Context, marketID int64, bettor string, optionIdxs []int, claimed bool) error
}
