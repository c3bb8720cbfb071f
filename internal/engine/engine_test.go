package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uvote/uvote-backend/internal/engine"
	ledgermem "github.com/uvote/uvote-backend/internal/ledger/memory"
	"github.com/uvote/uvote-backend/internal/repository"
)

const (
	asset   = "CRT"
	creator = "alice"
	admin   = "admin"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeClock lets tests move time explicitly instead of sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *engine.Engine
	ledger *ledgermem.Ledger
	store  *repository.Memory
	clock  *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock(t0)
	st := repository.NewMemory()
	lgr := ledgermem.NewLedger()
	eng := engine.New(st, lgr, engine.Settings{
		ReportThreshold: 3,
		Cooldown:        24 * time.Hour,
		AssetDecimals:   9,
		AdminAddress:    admin,
	}, zap.NewNop().Sugar(), engine.WithClock(clock.Now))
	return &fixture{engine: eng, ledger: lgr, store: st, clock: clock}
}

func (f *fixture) createMarket(t *testing.T, mutate ...func(*engine.CreateMarketParams)) *engine.Market {
	t.Helper()
	p := engine.CreateMarketParams{
		Creator:    creator,
		StakeAsset: asset,
		Title:      "World cup winner",
		Options:    []string{"Brazil", "France", "Japan"},
	}
	for _, fn := range mutate {
		fn(&p)
	}
	m, err := f.engine.CreateMarket(context.Background(), p)
	require.NoError(t, err)
	return m
}

// fund mints amount to account and approves the market escrow to pull it.
func (f *fixture) fund(m *engine.Market, account, amount string) {
	a := decimal.RequireFromString(amount)
	f.ledger.Mint(asset, account, a)
	f.ledger.Approve(asset, account, m.EscrowAccount(), a)
}

func (f *fixture) bet(t *testing.T, m *engine.Market, bettor string, optionIdx int, amount string) {
	t.Helper()
	f.fund(m, bettor, amount)
	_, err := f.engine.PlaceBet(context.Background(), m.ID, bettor, optionIdx, decimal.RequireFromString(amount))
	require.NoError(t, err)
}

// toCooldown walks the market to cooldown with winner declared at the
// fixture's current time.
func (f *fixture) toCooldown(t *testing.T, m *engine.Market, winner int) {
	t.Helper()
	ctx := context.Background()
	_, err := f.engine.CloseMarket(ctx, m.ID, creator)
	require.NoError(t, err)
	_, err = f.engine.DeclareWinner(ctx, m.ID, creator, winner)
	require.NoError(t, err)
}

// toConfirmed additionally elapses the challenge window and commits the
// auto-confirmation.
func (f *fixture) toConfirmed(t *testing.T, m *engine.Market, winner int) {
	t.Helper()
	f.toCooldown(t, m, winner)
	f.clock.Advance(24*time.Hour + time.Second)
	got, err := f.engine.SettleIfDue(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, engine.StatusConfirmed, got.Status)
}

func (f *fixture) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	bal, err := f.ledger.BalanceOf(context.Background(), asset, account)
	require.NoError(t, err)
	return bal
}
