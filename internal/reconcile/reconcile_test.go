package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/ports"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, msg)
}

type event struct {
	topic   string
	payload map[string]string
}

type mockEvents struct{ events []event }

func (m *mockEvents) Publish(ctx context.Context, topic string, payload map[string]string, key string) domain.PublishResult {
	m.events = append(m.events, event{topic, payload})
	return domain.PublishResult{Delivered: 1}
}

type mockBroker struct {
	open     []*domain.Order
	balances map[string]domain.Balance
	last     decimal.Decimal
	err      error
}

func (m *mockBroker) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return &domain.Ticker{Symbol: symbol, Last: m.last}, m.err
}
func (m *mockBroker) FetchOHLCV(ctx context.Context, symbol, tf string, limit int) ([]*domain.Kline, error) {
	return nil, nil
}
func (m *mockBroker) FetchBalance(ctx context.Context) (map[string]domain.Balance, error) {
	return m.balances, m.err
}
func (m *mockBroker) CreateMarketBuyQuote(ctx context.Context, symbol string, q decimal.Decimal, cid string) (*domain.Order, error) {
	return nil, nil
}
func (m *mockBroker) CreateMarketSellBase(ctx context.Context, symbol string, b decimal.Decimal, cid string) (*domain.Order, error) {
	return nil, nil
}
func (m *mockBroker) FetchOrder(ctx context.Context, symbol, id string) (*domain.Order, error) {
	return nil, nil
}
func (m *mockBroker) FetchOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return m.open, m.err
}

type mockOrders struct{ open []*domain.Order }

func (m *mockOrders) UpsertOpen(ctx context.Context, o *domain.Order) error { return nil }
func (m *mockOrders) ListOpen(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return m.open, nil
}
func (m *mockOrders) UpdateProgress(ctx context.Context, o *domain.Order) error { return nil }
func (m *mockOrders) MarkClosed(ctx context.Context, cid string, st domain.OrderStatus) error {
	return nil
}

type mockPositions struct{ pos *domain.Position }

func (m *mockPositions) Get(ctx context.Context, symbol string) (*domain.Position, error) {
	if m.pos == nil {
		return domain.EmptyPosition(symbol), nil
	}
	return m.pos, nil
}
func (m *mockPositions) ListOpen(ctx context.Context) ([]*domain.Position, error) { return nil, nil }
func (m *mockPositions) SaveIfVersion(ctx context.Context, p *domain.Position, v int64) (bool, error) {
	return true, nil
}

type mockToucher struct {
	calls int
	mark  decimal.Decimal
}

func (m *mockToucher) Touch(ctx context.Context, symbol string, mark decimal.Decimal) (*domain.Position, error) {
	m.calls++
	m.mark = mark
	return domain.EmptyPosition(symbol), nil
}

func order(cid, bid string, status domain.OrderStatus, amount, filled string) *domain.Order {
	return &domain.Order{
		ClientOrderID: cid,
		BrokerOrderID: bid,
		Status:        status,
		Amount:        d(amount),
		Filled:        d(filled),
		Timestamp:     time.Unix(1_700_000_000, 0),
	}
}

func kinds(rep *domain.ReconciliationReport) []string {
	var out []string
	for _, x := range rep.Discrepancies {
		out = append(out, x.Kind)
	}
	return out
}

func TestOrdersReconciler(t *testing.T) {
	tests := []struct {
		name  string
		local []*domain.Order
		venue []*domain.Order
		want  []string
	}{
		{
			name:  "in sync",
			local: []*domain.Order{order("a", "1", domain.OrderOpen, "1", "0.2")},
			venue: []*domain.Order{order("a", "1", domain.OrderOpen, "1", "0.2")},
		},
		{
			name:  "missing on venue",
			local: []*domain.Order{order("a", "1", domain.OrderOpen, "1", "0")},
			want:  []string{KindMissingOnVenue},
		},
		{
			name:  "missing locally",
			venue: []*domain.Order{order("x", "9", domain.OrderOpen, "1", "0")},
			want:  []string{KindMissingLocally},
		},
		{
			name:  "matched by broker id when client id differs",
			local: []*domain.Order{order("", "1", domain.OrderOpen, "1", "0")},
			venue: []*domain.Order{order("venue-cid", "1", domain.OrderOpen, "1", "0")},
		},
		{
			name:  "field mismatches",
			local: []*domain.Order{order("a", "1", domain.OrderOpen, "1", "0.2")},
			venue: []*domain.Order{order("a", "1", domain.OrderCanceled, "2", "0.5")},
			want:  []string{KindAmountMismatch, KindFilledMismatch, KindStatusMismatch},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			r := NewOrdersReconciler(&mockBroker{open: tt.venue}, &mockOrders{open: tt.local}, logger)
			rep, err := r.Reconcile(context.Background(), "BTC/USDT")
			require.NoError(t, err)
			assert.Equal(t, tt.want, kinds(rep))
			assert.Equal(t, len(tt.want) == 0, rep.OK())
			assert.Equal(t, len(tt.local), rep.Counts["local"])
			assert.Equal(t, len(tt.venue), rep.Counts["venue"])
			if len(tt.want) > 0 {
				assert.NotEmpty(t, logger.warns)
			}
		})
	}
}

func TestValidateBalance(t *testing.T) {
	tests := []struct {
		name    string
		bal     domain.Balance
		wantErr bool
	}{
		{"consistent", domain.Balance{Currency: "BTC", Free: d("1"), Used: d("0.5"), Total: d("1.5")}, false},
		{"within tolerance", domain.Balance{Currency: "BTC", Free: d("1"), Used: d("0"), Total: d("1.000000001")}, false},
		{"negative", domain.Balance{Currency: "BTC", Free: d("-1"), Used: d("0"), Total: d("-1")}, true},
		{"sum mismatch", domain.Balance{Currency: "USDT", Free: d("10"), Used: d("1"), Total: d("12")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBalance(tt.bal)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrInvalidBalance)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBalancesReconciler(t *testing.T) {
	events := &mockEvents{}
	logger := &mockLogger{}
	broker := &mockBroker{balances: map[string]domain.Balance{
		"BTC":  {Currency: "BTC", Free: d("0.5"), Used: d("0"), Total: d("0.5")},
		"USDT": {Currency: "USDT", Free: d("100"), Used: d("5"), Total: d("90")},
	}}

	rep, err := NewBalancesReconciler(broker, events, logger).Reconcile(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, []string{KindInvalidBalance}, kinds(rep))
	assert.Len(t, logger.warns, 1)

	require.Len(t, events.events, 1)
	ev := events.events[0]
	assert.Equal(t, eventbus.TopicBalancesUpdated, ev.topic)
	assert.Equal(t, "0.5", ev.payload["base_free"])
	assert.Equal(t, "100", ev.payload["quote_free"])
	assert.Equal(t, "90", ev.payload["quote_total"])
}

func TestBalancesReconciler_MissingCurrencyAndBadSymbol(t *testing.T) {
	events := &mockEvents{}
	r := NewBalancesReconciler(&mockBroker{balances: map[string]domain.Balance{}}, events, &mockLogger{})

	rep, err := r.Reconcile(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, []string{KindMissingCurrency, KindMissingCurrency}, kinds(rep))
	assert.Equal(t, "0", events.events[0].payload["base_total"])

	_, err = r.Reconcile(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestPositionsReconciler(t *testing.T) {
	toucher := &mockToucher{}
	broker := &mockBroker{last: d("123.4")}

	flat := NewPositionsReconciler(broker, &mockPositions{}, toucher)
	rep, err := flat.Reconcile(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 0, toucher.calls)
	assert.Equal(t, 0, rep.Counts["open"])

	open := NewPositionsReconciler(broker, &mockPositions{pos: &domain.Position{Symbol: "BTC/USDT", BaseQty: d("1")}}, toucher)
	rep, err = open.Reconcile(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 1, toucher.calls)
	assert.True(t, d("123.4").Equal(toucher.mark))
	assert.Equal(t, 1, rep.Counts["touched"])
}

type failingReconciler struct{}

func (failingReconciler) Reconcile(ctx context.Context, symbol string) (*domain.ReconciliationReport, error) {
	return nil, assert.AnError
}

func TestService_RunPublishesSummary(t *testing.T) {
	events := &mockEvents{}
	logger := &mockLogger{}
	orders := NewOrdersReconciler(
		&mockBroker{open: []*domain.Order{order("x", "9", domain.OrderOpen, "1", "0")}},
		&mockOrders{},
		logger,
	)
	svc := NewService(events, logger, nil, orders, failingReconciler{})

	reports, err := svc.Run(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, assert.AnError)
	require.Len(t, reports, 1)

	require.Len(t, events.events, 1)
	ev := events.events[0]
	assert.Equal(t, eventbus.TopicReconciliationCompleted, ev.topic)
	assert.Equal(t, "1", ev.payload["orders_discrepancies"])
	assert.Equal(t, "1", ev.payload["discrepancies"])
	assert.Equal(t, "1", ev.payload["errors"])
	assert.Len(t, logger.errs, 1)
}
