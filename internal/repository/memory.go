package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/uvote/uvote-backend/internal/engine"
)

// Memory is an in-memory engine.Store used by unit tests and the dev-mode
// server. It enforces the same version-CAS discipline as the Postgres store
// so engine concurrency behavior is identical in both.
type Memory struct {
	mu      sync.Mutex
	nextID  int64
	markets map[int64]*engine.Market
	bets    map[betKey]*engine.Bet
}

type betKey struct {
	marketID  int64
	bettor    string
	optionIdx int
}

func NewMemory() *Memory {
	return &Memory{
		nextID:  1,
		markets: make(map[int64]*engine.Market),
		bets:    make(map[betKey]*engine.Bet),
	}
}

func (s *Memory) CreateMarket(_ context.Context, m *engine.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = s.nextID
	s.nextID++
	m.Version = 1
	s.markets[m.ID] = m.Clone()
	return nil
}

func (s *Memory) GetMarket(_ context.Context, id int64) (*engine.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", engine.ErrMarketNotFound, id)
	}
	return m.Clone(), nil
}

func (s *Memory) ListMarkets(_ context.Context, f engine.MarketFilter) ([]*engine.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] }) // newest first

	var out []*engine.Market
	skipped := 0
	for _, id := range ids {
		m := s.markets[id]
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Creator != "" && m.Creator != f.Creator {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, m.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) UpdateMarket(_ context.Context, m *engine.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(m)
}

func (s *Memory) PlaceBet(_ context.Context, m *engine.Market, b *engine.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.updateLocked(m); err != nil {
		return err
	}
	cp := *b
	s.bets[betKey{b.MarketID, b.Bettor, b.OptionIdx}] = &cp
	return nil
}

// updateLocked requires s.mu held.
func (s *Memory) updateLocked(m *engine.Market) error {
	cur, ok := s.markets[m.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", engine.ErrMarketNotFound, m.ID)
	}
	if cur.Version != m.Version {
		return fmt.Errorf("%w: market %d at version %d, caller at %d", engine.ErrVersionConflict, m.ID, cur.Version, m.Version)
	}
	m.Version++
	s.markets[m.ID] = m.Clone()
	return nil
}

func (s *Memory) GetBet(_ context.Context, marketID int64, bettor string, optionIdx int) (*engine.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[betKey{marketID, bettor, optionIdx}]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *Memory) UserBets(_ context.Context, marketID int64, bettor string) ([]*engine.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*engine.Bet
	for key, b := range s.bets {
		if key.marketID == marketID && key.bettor == bettor {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OptionIdx < out[j].OptionIdx })
	return out, nil
}

func (s *Memory) MarketBets(_ context.Context, marketID int64) ([]*engine.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*engine.Bet
	for key, b := range s.bets {
		if key.marketID == marketID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bettor != out[j].Bettor {
			return out[i].Bettor < out[j].Bettor
		}
		return out[i].OptionIdx < out[j].OptionIdx
	})
	return out, nil
}

func (s *Memory) SetClaimed(_ context.Context, marketID int64, bettor string, optionIdxs []int, claimed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, idx := range optionIdxs {
		b, ok := s.bets[betKey{marketID, bettor, idx}]
		if !ok {
			return fmt.Errorf("no bet for market %d bettor %s option %d", marketID, bettor, idx)
		}
		b.Claimed = claimed
	}
	return nil
}
