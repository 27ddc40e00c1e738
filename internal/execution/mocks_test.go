package execution

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
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

type published struct {
	topic   string
	payload map[string]string
}

type mockEvents struct {
	mu     sync.Mutex
	events []published
}

func (m *mockEvents) Publish(ctx context.Context, topic string, payload map[string]string, key string) domain.PublishResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, published{topic: topic, payload: payload})
	return domain.PublishResult{Delivered: 1}
}

func (m *mockEvents) byTopic(topic string) []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []published
	for _, e := range m.events {
		if e.topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type mockBroker struct {
	mu         sync.Mutex
	ticker     *domain.Ticker
	tickerErr  error
	orderErr   error
	status     domain.OrderStatus
	noFill     bool
	buyCalls   int
	sellCalls  int
	clientIDs  []string
	fetched    map[string]*domain.Order
	fetchErr   error
	openOrders []*domain.Order
}

func (m *mockBroker) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return m.ticker, m.tickerErr
}

func (m *mockBroker) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error) {
	return nil, nil
}

func (m *mockBroker) FetchBalance(ctx context.Context) (map[string]domain.Balance, error) {
	return nil, nil
}

func (m *mockBroker) fill(symbol string, side domain.OrderSide, base, quote decimal.Decimal, clientID string) *domain.Order {
	price := decimal.NewFromInt(100)
	status := m.status
	if status == "" {
		status = domain.OrderClosed
	}
	if side == domain.Buy {
		base = quote.Div(price)
	} else {
		quote = base.Mul(price)
	}
	filled := base
	if m.noFill {
		filled, quote = decimal.Zero, decimal.Zero
	}
	return &domain.Order{
		BrokerOrderID: "42",
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          side,
		Status:        status,
		Amount:        base,
		Filled:        filled,
		Price:         price,
		Cost:          quote,
		Fee:           decimal.Zero,
		Timestamp:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *mockBroker) CreateMarketBuyQuote(ctx context.Context, symbol string, quote decimal.Decimal, clientID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buyCalls++
	m.clientIDs = append(m.clientIDs, clientID)
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	return m.fill(symbol, domain.Buy, decimal.Zero, quote, clientID), nil
}

func (m *mockBroker) CreateMarketSellBase(ctx context.Context, symbol string, base decimal.Decimal, clientID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellCalls++
	m.clientIDs = append(m.clientIDs, clientID)
	if m.orderErr != nil {
		return nil, m.orderErr
	}
	return m.fill(symbol, domain.Sell, base, decimal.Zero, clientID), nil
}

func (m *mockBroker) FetchOrder(ctx context.Context, symbol, brokerOrderID string) (*domain.Order, error) {
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	o, ok := m.fetched[brokerOrderID]
	if !ok {
		return nil, assertNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockBroker) FetchOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return m.openOrders, nil
}

func (m *mockBroker) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buyCalls + m.sellCalls
}

type mockTrades struct {
	mu     sync.Mutex
	byCID  map[string]*domain.Trade
	addErr error
}

func newMockTrades() *mockTrades { return &mockTrades{byCID: map[string]*domain.Trade{}} }

func (m *mockTrades) AddFromOrder(ctx context.Context, o *domain.Order) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return false, m.addErr
	}
	if _, ok := m.byCID[o.ClientOrderID]; ok {
		return false, nil
	}
	m.byCID[o.ClientOrderID] = domain.TradeFromOrder(o)
	return true, nil
}
func (m *mockTrades) ListBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	return nil, nil
}
func (m *mockTrades) ListSince(ctx context.Context, since time.Time) ([]*domain.Trade, error) {
	return nil, nil
}
func (m *mockTrades) CountOrdersLastMinutes(ctx context.Context, symbol string, minutes int) (int, error) {
	return 0, nil
}
func (m *mockTrades) DailyTurnoverQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type mockOrders struct {
	mu      sync.Mutex
	open    map[string]*domain.Order
	closed  map[string]domain.OrderStatus
	updates int
}

func newMockOrders() *mockOrders {
	return &mockOrders{open: map[string]*domain.Order{}, closed: map[string]domain.OrderStatus{}}
}

func (m *mockOrders) UpsertOpen(ctx context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.open[o.ClientOrderID] = &cp
	return nil
}
func (m *mockOrders) ListOpen(ctx context.Context, symbol string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.open {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}
func (m *mockOrders) UpdateProgress(ctx context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	return nil
}
func (m *mockOrders) MarkClosed(ctx context.Context, clientOrderID string, status domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.open, clientOrderID)
	m.closed[clientOrderID] = status
	return nil
}

type mockLedger struct {
	mu    sync.Mutex
	calls int
}

func (m *mockLedger) ApplyTrade(ctx context.Context, symbol string, mark decimal.Decimal) (*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return domain.EmptyPosition(symbol), nil
}

type mockAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
	err     error
}

func (m *mockAudit) Record(ctx context.Context, e *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAudit) kinds() []domain.AuditKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditKind
	for _, e := range m.entries {
		out = append(out, e.Kind)
	}
	return out
}

type failingStore struct{}

func (failingStore) CheckAndStore(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, assertStoreDown
}
func (failingStore) Prune(ctx context.Context) (int, error) { return 0, nil }
