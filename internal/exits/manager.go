// Package exits tracks open long positions and sells on ATR-based stop-loss,
// take-profit and breakeven levels.
package exits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/execution"
	"cryptoSentinelBot/internal/metrics"
	"cryptoSentinelBot/internal/ports"
)

var hundred = decimal.NewFromInt(100)

// Config tunes the exit rules.
type Config struct {
	TickInterval time.Duration   // default 2s
	Timeframe    string          // bar interval for ATR, default "1m"
	Bars         int             // bars fetched per tick, default 100
	K1           decimal.Decimal // TP1 distance in ATRs, default 1.0
	K2           decimal.Decimal // TP2 distance in ATRs, default 2.0
	K3           decimal.Decimal // SL distance in ATRs, default 1.5
	TP1Pct       decimal.Decimal // percent of base sold at TP1, default 50
	Breakeven    bool            // arm a breakeven stop at entry after TP1
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval: 2 * time.Second,
		Timeframe:    "1m",
		Bars:         100,
		K1:           decimal.NewFromInt(1),
		K2:           decimal.NewFromInt(2),
		K3:           decimal.RequireFromString("1.5"),
		TP1Pct:       decimal.NewFromInt(50),
		Breakeven:    true,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.Timeframe == "" {
		c.Timeframe = def.Timeframe
	}
	if c.Bars <= 0 {
		c.Bars = def.Bars
	}
	if !c.K1.IsPositive() {
		c.K1 = def.K1
	}
	if !c.K2.IsPositive() {
		c.K2 = def.K2
	}
	if !c.K3.IsPositive() {
		c.K3 = def.K3
	}
	if !c.TP1Pct.IsPositive() || c.TP1Pct.GreaterThan(hundred) {
		c.TP1Pct = def.TP1Pct
	}
	return c
}

// PositionSource reads the current position of a symbol.
type PositionSource interface {
	Get(ctx context.Context, symbol string) (*domain.Position, error)
}

// Deps are the Manager collaborators. Metrics may be nil.
type Deps struct {
	Positions PositionSource
	Market    ports.MarketData
	ATR       ports.ATRProvider
	Placer    execution.OrderPlacer
	Logger    ports.Logger
	Metrics   *metrics.Metrics
}

// Action is what a tick did.
type Action string

const (
	ActionNone Action = "none"
	ActionSkip Action = "skip" // not enough history for ATR
	ActionFlat Action = "flat" // nothing to protect, tracking stopped
	ActionSell Action = "sell"
)

// Outcome describes one tick.
type Outcome struct {
	Action  Action
	Reason  string
	Amount  decimal.Decimal
	Price   decimal.Decimal
	Levels  Levels
	Stopped bool
}

type tracker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager runs one ticker goroutine per tracked symbol.
type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	trackers map[string]*tracker
	levels   map[string]*domain.ExitLevel

	tickMu   sync.Mutex
	draining bool
}

// NewManager creates a Manager.
func NewManager(cfg Config, deps Deps) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		trackers: make(map[string]*tracker),
		levels:   make(map[string]*domain.ExitLevel),
	}
}

// Start begins tracking symbol. Calling it for a tracked symbol does nothing.
// The tracker outlives ctx's cancellation; use Stop or StopAll to end it.
func (m *Manager) Start(ctx context.Context, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trackers[symbol]; ok {
		return
	}
	if _, ok := m.levels[symbol]; !ok {
		m.levels[symbol] = &domain.ExitLevel{Symbol: symbol}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &tracker{cancel: cancel, done: make(chan struct{})}
	m.trackers[symbol] = t
	go m.run(loopCtx, symbol, t)

	m.deps.Logger.Info(ctx, "ExitManager.Start: tracking position", map[string]interface{}{
		"symbol":   symbol,
		"interval": m.cfg.TickInterval.String(),
	})
}

// Stop ends tracking of symbol and forgets its exit state.
func (m *Manager) Stop(symbol string) {
	m.mu.Lock()
	t, ok := m.trackers[symbol]
	delete(m.trackers, symbol)
	delete(m.levels, symbol)
	m.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Drain stops trackers from starting new ticks and waits up to timeout for
// a tick in progress to finish, so an exit sell is not cut off mid-way.
// It reports whether no tick was running when it returned. StopAll reopens
// the manager.
func (m *Manager) Drain(timeout time.Duration) bool {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		m.tickMu.Lock()
		m.tickMu.Unlock()
		close(idle)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-idle:
		return true
	case <-timer.C:
		return false
	}
}

// StopAll ends every tracker and waits for their goroutines to return.
func (m *Manager) StopAll() {
	m.mu.Lock()
	trackers := m.trackers
	m.trackers = make(map[string]*tracker)
	m.levels = make(map[string]*domain.ExitLevel)
	m.mu.Unlock()

	for _, t := range trackers {
		t.cancel()
	}
	for _, t := range trackers {
		<-t.done
	}

	m.mu.Lock()
	m.draining = false
	m.mu.Unlock()
}

// Tracking reports whether symbol has a live tracker.
func (m *Manager) Tracking(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.trackers[symbol]
	return ok
}

// Levels returns a copy of the symbol's exit state.
func (m *Manager) Levels(symbol string) (domain.ExitLevel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lvl, ok := m.levels[symbol]
	if !ok {
		return domain.ExitLevel{}, false
	}
	return *lvl, true
}

// Ensure starts tracking when the symbol holds inventory and is not tracked yet.
func (m *Manager) Ensure(ctx context.Context, symbol string) (bool, error) {
	if m.Tracking(symbol) {
		return false, nil
	}
	pos, err := m.deps.Positions.Get(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("ExitManager.Ensure: read position: %w", err)
	}
	if !pos.IsOpen() {
		return false, nil
	}
	m.Start(ctx, symbol)
	return true, nil
}

func (m *Manager) run(ctx context.Context, symbol string, t *tracker) {
	defer close(t.done)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			out, ran, err := m.tickUnlessDraining(ctx, symbol)
			if !ran {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.deps.Logger.Error(ctx, err, "ExitManager.run: tick failed", map[string]interface{}{"symbol": symbol})
				continue
			}
			if out.Stopped {
				return
			}
		}
	}
}

// Tick evaluates the exit rules once for symbol.
func (m *Manager) Tick(ctx context.Context, symbol string) (Outcome, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	return m.tick(ctx, symbol)
}

// tickUnlessDraining is the tracker's tick. The draining check happens under
// tickMu so no tick can start after Drain has observed an idle manager.
func (m *Manager) tickUnlessDraining(ctx context.Context, symbol string) (Outcome, bool, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.mu.Lock()
	draining := m.draining
	m.mu.Unlock()
	if draining {
		return Outcome{}, false, nil
	}
	out, err := m.tick(ctx, symbol)
	return out, true, err
}

func (m *Manager) tick(ctx context.Context, symbol string) (Outcome, error) {
	op := "ExitManager.Tick"

	pos, err := m.deps.Positions.Get(ctx, symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: read position: %w", op, err)
	}
	if !pos.IsOpen() {
		m.Stop(symbol)
		return Outcome{Action: ActionFlat, Stopped: true}, nil
	}

	ticker, err := m.deps.Market.FetchTicker(ctx, symbol)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: fetch ticker: %w", op, err)
	}
	price := ticker.Last
	if !price.IsPositive() {
		return Outcome{}, fmt.Errorf("%s: no last price for %s: %w", op, symbol, ports.ErrInvalidRequest)
	}

	bars := m.cfg.Bars
	if need := m.deps.ATR.RequiredDataPoints(); bars < need {
		bars = need
	}
	klines, err := m.deps.Market.FetchOHLCV(ctx, symbol, m.cfg.Timeframe, bars)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: fetch klines: %w", op, err)
	}
	atr, err := m.deps.ATR.Calculate(ctx, klines)
	if errors.Is(err, ports.ErrInsufficientHistory) {
		m.deps.Logger.Debug(ctx, op+": not enough bars for ATR, skipping", map[string]interface{}{"symbol": symbol, "bars": len(klines)})
		return Outcome{Action: ActionSkip, Price: price}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("%s: ATR: %w", op, err)
	}

	levels := ComputeLevels(pos.AvgEntryPrice, atr, m.cfg)
	state := m.state(symbol)
	out := Outcome{Action: ActionNone, Price: price, Levels: levels}

	switch {
	case price.LessThanOrEqual(levels.SL):
		return m.sellAll(ctx, symbol, pos, string(domain.ExitStopLoss), out)

	case !state.TP1Done && price.GreaterThanOrEqual(levels.TP1):
		qty := pos.BaseQty.Mul(m.cfg.TP1Pct).Div(hundred)
		reason := tp1Reason(m.cfg)
		if err := m.sell(ctx, symbol, qty, reason); err != nil {
			return Outcome{}, err
		}
		m.mu.Lock()
		state.TP1Done = true
		if m.cfg.Breakeven {
			state.BreakevenArmed = true
			state.BreakevenPrice = pos.AvgEntryPrice
		}
		m.mu.Unlock()
		out.Action, out.Reason, out.Amount = ActionSell, reason, qty
		if qty.GreaterThanOrEqual(pos.BaseQty) {
			m.Stop(symbol)
			out.Stopped = true
		}
		return out, nil

	case state.TP1Done && state.BreakevenArmed && price.LessThanOrEqual(state.BreakevenPrice):
		return m.sellAll(ctx, symbol, pos, string(domain.ExitBreakeven), out)

	case price.GreaterThanOrEqual(levels.TP2):
		return m.sellAll(ctx, symbol, pos, string(domain.ExitTakeProfit), out)
	}
	return out, nil
}

// Liquidate sells the whole position of symbol for reason. It shares the
// tick lock, so a strategy sell and a protective exit never sell the same
// inventory twice: whichever runs second sees the rebuilt position.
// It reports false when there was nothing to sell.
func (m *Manager) Liquidate(ctx context.Context, symbol, reason string) (bool, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	pos, err := m.deps.Positions.Get(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("ExitManager.Liquidate: read position: %w", err)
	}
	if !pos.IsOpen() {
		return false, nil
	}
	if _, err := m.sellAll(ctx, symbol, pos, reason, Outcome{}); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) sellAll(ctx context.Context, symbol string, pos *domain.Position, reason string, out Outcome) (Outcome, error) {
	if err := m.sell(ctx, symbol, pos.BaseQty, reason); err != nil {
		return Outcome{}, err
	}
	m.Stop(symbol)
	out.Action, out.Reason, out.Amount, out.Stopped = ActionSell, reason, pos.BaseQty, true
	return out, nil
}

func (m *Manager) sell(ctx context.Context, symbol string, qty decimal.Decimal, reason string) error {
	op := "ExitManager.sell"
	res, err := m.deps.Placer.PlaceOrder(ctx, execution.OrderRequest{
		Symbol:     symbol,
		Side:       domain.Sell,
		BaseAmount: qty,
		Reason:     reason,
	})
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, reason, err)
	}
	if res.Status != execution.StatusExecuted {
		return fmt.Errorf("%s: %s not executed (%s %s): %w", op, reason, res.Status, res.Reason, ports.ErrBlocked)
	}
	m.deps.Metrics.Exit(reason)
	m.deps.Logger.Info(ctx, op+": protective exit executed", map[string]interface{}{
		"symbol": symbol,
		"reason": reason,
		"amount": qty.String(),
	})
	return nil
}

func (m *Manager) state(symbol string) *domain.ExitLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	lvl, ok := m.levels[symbol]
	if !ok {
		lvl = &domain.ExitLevel{Symbol: symbol}
		m.levels[symbol] = lvl
	}
	return lvl
}
