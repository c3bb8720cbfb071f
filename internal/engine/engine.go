package engine

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uvote/uvote-backend/internal/ledger"
)

// Settings are the operator-chosen knobs of the settlement engine.
type Settings struct {
	// ReportThreshold is the number of fraud reports during the cooldown
	// window that escalates a market to under-review.
	ReportThreshold int
	// Cooldown is the default challenge-window length applied when a winner
	// is declared.
	Cooldown time.Duration
	// AssetDecimals is the fixed-point precision of the stake asset. All
	// amounts must be representable at this precision.
	AssetDecimals int32
	// AdminAddress is the only account allowed to cancel markets and
	// arbitrate under-review outcomes.
	AdminAddress string
}

// Recorder receives engine-level counters. Implemented by internal/metrics;
// a nil recorder disables recording.
type Recorder interface {
	RecordBetPlaced(ctx context.Context, asset string)
	RecordTransition(ctx context.Context, from, to string)
	RecordClaimPaid(ctx context.Context, asset string)
	RecordFraudReport(ctx context.Context)
}

// Event describes a state change worth broadcasting to live subscribers.
// Delivery is best-effort and never part of settlement correctness.
type Event struct {
	Type      string          `json:"type"` // "status" or "bet"
	MarketID  int64           `json:"marketId"`
	Status    Status          `json:"status"`
	OptionIdx int             `json:"optionIdx,omitempty"`
	Amount    decimal.Decimal `json:"amount,omitempty"`
	At        time.Time       `json:"at"`
}

// EventSink consumes engine events. Implemented by the websocket hub.
type EventSink interface {
	Publish(ev Event)
}

// Engine drives markets through the settlement lifecycle. There is no
// background scheduler: every deadline is evaluated lazily at the top of each
// mutating entry point, so any caller may end up applying a due transition.
//
// Writes are serialized per market by an in-process lock; the store's
// version CAS guards against writers outside this process. Markets share no
// state, so operations on different markets run fully in parallel.
type Engine struct {
	store    Store
	ledger   ledger.Ledger
	settings Settings
	logger   *zap.SugaredLogger
	recorder Recorder
	events   EventSink
	clock    func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// EngineOption configures optional Engine collaborators.
type EngineOption func(*Engine)

// WithClock overrides the wall clock. Tests use this to simulate deadlines.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.clock = now }
}

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

func WithEvents(sink EventSink) EngineOption {
	return func(e *Engine) { e.events = sink }
}

func New(store Store, lgr ledger.Ledger, settings Settings, logger *zap.SugaredLogger, opts ...EngineOption) *Engine {
	if settings.ReportThreshold <= 0 {
		settings.ReportThreshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 24 * time.Hour
	}
	e := &Engine{
		store:    store,
		ledger:   lgr,
		settings: settings,
		logger:   logger,
		clock:    time.Now,
		locks:    make(map[int64]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Settings() Settings {
	return e.settings
}

// marketLock returns the mutex serializing writes to one market. Locks are
// never evicted; markets are permanent history and the table stays small
// relative to them.
func (e *Engine) marketLock(id int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

func (e *Engine) publish(ev Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}

func (e *Engine) recordTransition(ctx context.Context, from, to Status) {
	if e.recorder != nil {
		e.recorder.RecordTransition(ctx, string(from), string(to))
	}
}

func (e *Engine) isAdmin(caller string) bool {
	return e.settings.AdminAddress != "" && caller == e.settings.AdminAddress
}

// CheckPool verifies the market's accounting invariant: totalPool equals the
// sum of per-option totals and the sum of all recorded bet amounts. A
// violation is a programming defect, reported as ErrPoolMismatch.
func (e *Engine) CheckPool(ctx context.Context, marketID int64) error {
	m, err := e.store.GetMarket(ctx, marketID)
	if err != nil {
		return err
	}
	if !m.TotalPool.Equal(m.OptionTotal()) {
		return poolMismatch(m.ID, "option totals", m.TotalPool, m.OptionTotal())
	}
	bets, err := e.store.MarketBets(ctx, marketID)
	if err != nil {
		return err
	}
	betTotal := decimal.Zero
	for _, b := range bets {
		betTotal = betTotal.Add(b.Amount)
	}
	if !m.TotalPool.Equal(betTotal) {
		return poolMismatch(m.ID, "bet totals", m.TotalPool, betTotal)
	}
	return nil
}
