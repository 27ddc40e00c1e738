package app

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/execution"
	"cryptoSentinelBot/internal/risk"
)

type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) warns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warnMsgs...)
}

// recorder subscribes to every topic of a real bus.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(ctx context.Context, evt domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) byTopic(topic string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type mockDecider struct {
	mu       sync.Mutex
	decision *domain.Decision
	err      error
	block    bool
	calls    int
}

func (m *mockDecider) Decide(ctx context.Context, symbol string, pos *domain.Position) (*domain.Decision, error) {
	m.mu.Lock()
	m.calls++
	block := m.block
	decision, err := m.decision, m.err
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return decision, err
}

func (m *mockDecider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockGate struct {
	mu      sync.Mutex
	budget  risk.Result
	verdict risk.Result
	lastRC  risk.Context

	lastBudgetRC risk.Context
}

func newMockGate() *mockGate {
	one := decimal.NewFromInt(1)
	return &mockGate{
		budget:  risk.Result{OK: true, SizeFactor: one},
		verdict: risk.Result{OK: true, SizeFactor: one},
	}
}

func (m *mockGate) Evaluate(symbol string, rc risk.Context) risk.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRC = rc
	return m.verdict
}

func (m *mockGate) EvaluateBudgets(symbol string, rc risk.Context) risk.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastBudgetRC = rc
	return m.budget
}

func (m *mockGate) setBudget(r risk.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budget = r
}

type mockPlacer struct {
	mu   sync.Mutex
	reqs []execution.OrderRequest
	err  error
}

func (m *mockPlacer) PlaceOrder(ctx context.Context, req execution.OrderRequest) (*execution.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return &execution.Result{Status: execution.StatusFailed}, m.err
	}
	return &execution.Result{Status: execution.StatusExecuted, ClientOrderID: "c1"}, nil
}

func (m *mockPlacer) requests() []execution.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]execution.OrderRequest(nil), m.reqs...)
}

type mockExits struct {
	mu        sync.Mutex
	started   []string
	ensures   int
	stopAll   int
	drains    int
	sells     []string
	sellErr   error
	flat      bool
	ensureErr error
}

func (m *mockExits) Liquidate(ctx context.Context, symbol, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sellErr != nil {
		return false, m.sellErr
	}
	if m.flat {
		return false, nil
	}
	m.sells = append(m.sells, reason)
	return true, nil
}

func (m *mockExits) liquidations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sells...)
}

func (m *mockExits) Drain(timeout time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains++
	return true
}

func (m *mockExits) Start(ctx context.Context, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, symbol)
}

func (m *mockExits) Ensure(ctx context.Context, symbol string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensures++
	return false, m.ensureErr
}

func (m *mockExits) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAll++
}

func (m *mockExits) startedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

type mockReconciler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockReconciler) Run(ctx context.Context, symbol string) ([]*domain.ReconciliationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return nil, m.err
}

type mockSettler struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockSettler) Settle(ctx context.Context, symbol string) (execution.SettlementReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return execution.SettlementReport{}, m.err
}

type mockPruner struct {
	mu     sync.Mutex
	prunes int
}

func (m *mockPruner) CheckAndStore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (m *mockPruner) Prune(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prunes++
	return 0, nil
}

type mockMarket struct {
	ticker *domain.Ticker
	err    error
}

func (m *mockMarket) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return m.ticker, m.err
}

func (m *mockMarket) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error) {
	return nil, nil
}

type mockTrades struct {
	mu          sync.Mutex
	trades      []*domain.Trade
	counts      map[int]int // by window in minutes
	turnoverDay decimal.Decimal
	listCalls   int
	err         error
}

func (m *mockTrades) AddFromOrder(ctx context.Context, o *domain.Order) (bool, error) {
	return true, nil
}

func (m *mockTrades) ListBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return m.trades, m.err
}

func (m *mockTrades) ListSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Trade
	for _, t := range m.trades {
		if !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, m.err
}

func (m *mockTrades) CountOrdersLastMinutes(ctx context.Context, symbol string, minutes int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[minutes], m.err
}

func (m *mockTrades) DailyTurnoverQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.turnoverDay, m.err
}

func (m *mockTrades) historyLoads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

type mockPositions struct {
	pos *domain.Position
}

func (m *mockPositions) Get(ctx context.Context, symbol string) (*domain.Position, error) {
	if m.pos == nil {
		return domain.EmptyPosition(symbol), nil
	}
	return m.pos, nil
}

func (m *mockPositions) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	if m.pos.IsOpen() {
		return []*domain.Position{m.pos}, nil
	}
	return nil, nil
}

func (m *mockPositions) SaveIfVersion(ctx context.Context, p *domain.Position, v int64) (bool, error) {
	return true, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	o          *Orchestrator
	bus        *eventbus.Bus
	events     *recorder
	logger     *mockLogger
	decider    *mockDecider
	gate       *mockGate
	placer     *mockPlacer
	exits      *mockExits
	reconciler *mockReconciler
	settler    *mockSettler
	pruner     *mockPruner
	market     *mockMarket
	trades     *mockTrades
	positions  *mockPositions
	clock      *fakeClock
}

const testSymbol = "BTC/USDT"

func newFixture(cfg Config) *fixture {
	logger := &mockLogger{}
	bus := eventbus.New(eventbus.Config{MaxAttempts: 1}, logger, nil)
	f := &fixture{
		bus:        bus,
		events:     &recorder{},
		logger:     logger,
		decider:    &mockDecider{decision: &domain.Decision{Action: domain.ActionHold, Reason: "no_signal"}},
		gate:       newMockGate(),
		placer:     &mockPlacer{},
		exits:      &mockExits{},
		reconciler: &mockReconciler{},
		settler:    &mockSettler{},
		pruner:     &mockPruner{},
		market: &mockMarket{ticker: &domain.Ticker{
			Symbol: testSymbol,
			Last:   decimal.NewFromInt(100),
			Bid:    decimal.RequireFromString("99.9"),
			Ask:    decimal.RequireFromString("100.1"),
		}},
		trades:    &mockTrades{},
		positions: &mockPositions{},
		clock:     &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	bus.Subscribe("*", "recorder", f.events.handle)

	if cfg.Symbol == "" {
		cfg.Symbol = testSymbol
	}
	o, err := NewOrchestrator(cfg, f.deps())
	if err != nil {
		panic(err)
	}
	o.now = f.clock.now
	f.o = o
	return f
}

func (f *fixture) deps() Deps {
	return Deps{
		Events:      f.bus,
		Decider:     f.decider,
		Risk:        f.gate,
		Placer:      f.placer,
		Exits:       f.exits,
		Reconciler:  f.reconciler,
		Settler:     f.settler,
		Idempotency: f.pruner,
		Market:      f.market,
		Trades:      f.trades,
		Positions:   f.positions,
		Logger:      f.logger,
	}
}

// setState puts the orchestrator in a state without launching loops.
func (f *fixture) setState(s State) {
	f.o.mu.Lock()
	defer f.o.mu.Unlock()
	f.o.state = s
}
