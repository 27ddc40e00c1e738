package paper

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockMarket struct {
	mu      sync.Mutex
	ticker  *domain.Ticker
	err     error
	tickers int
}

func (m *mockMarket) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers++
	if m.err != nil {
		return nil, m.err
	}
	t := *m.ticker
	return &t, nil
}

func (m *mockMarket) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error) {
	return []*domain.Kline{{Symbol: symbol, Interval: timeframe}}, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func setupBroker(t *testing.T) (*Broker, *mockMarket) {
	t.Helper()
	market := &mockMarket{ticker: &domain.Ticker{Symbol: "BTC/USDT", Last: d("100"), Bid: d("99"), Ask: d("101")}}
	b, err := New(Config{
		Market:       market,
		Logger:       mockLogger{},
		FeeRate:      d("0.001"),
		QuoteBalance: d("1000"),
	})
	require.NoError(t, err)
	return b, market
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Logger: mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)

	_, err = New(Config{Market: &mockMarket{}, Logger: mockLogger{}, FeeRate: d("1")})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestBroker_BuyThenSell(t *testing.T) {
	b, _ := setupBroker(t)
	ctx := context.Background()

	buy, err := b.CreateMarketBuyQuote(ctx, "BTC/USDT", d("101"), "cid-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderClosed, buy.Status)
	assert.Equal(t, "1", buy.Filled.String(), "buys fill at the ask")
	assert.Equal(t, "101", buy.Cost.String())
	assert.Equal(t, "0.101", buy.Fee.String())
	assert.Equal(t, "USDT", buy.FeeCurrency)
	assert.Equal(t, "paper-1", buy.BrokerOrderID)

	bal, err := b.FetchBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "898.899", bal["USDT"].Free.String())
	assert.Equal(t, "1", bal["BTC"].Total.String())

	sell, err := b.CreateMarketSellBase(ctx, "BTC/USDT", d("1"), "cid-2")
	require.NoError(t, err)
	assert.Equal(t, "99", sell.Price.String(), "sells fill at the bid")
	assert.Equal(t, "0.099", sell.Fee.String())

	bal, err = b.FetchBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "997.8", bal["USDT"].Total.String())
	assert.True(t, bal["BTC"].Total.IsZero())

	got, err := b.FetchOrder(ctx, "BTC/USDT", sell.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, "cid-2", got.ClientOrderID)

	open, err := b.FetchOpenOrders(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestBroker_DuplicateClientIDFillsOnce(t *testing.T) {
	b, market := setupBroker(t)
	ctx := context.Background()

	first, err := b.CreateMarketBuyQuote(ctx, "BTC/USDT", d("101"), "cid-dup")
	require.NoError(t, err)
	second, err := b.CreateMarketBuyQuote(ctx, "BTC/USDT", d("101"), "cid-dup")
	require.NoError(t, err)

	assert.Equal(t, first.BrokerOrderID, second.BrokerOrderID)
	assert.Equal(t, 1, market.tickers)
	bal, _ := b.FetchBalance(ctx)
	assert.Equal(t, "1", bal["BTC"].Total.String())
}

func TestBroker_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		run     func(b *Broker, m *mockMarket) error
		wantErr error
	}{
		{
			name: "buy beyond balance",
			run: func(b *Broker, m *mockMarket) error {
				_, err := b.CreateMarketBuyQuote(ctx, "BTC/USDT", d("1000"), "a")
				return err
			},
			wantErr: ports.ErrInsufficientFunds,
		},
		{
			name: "sell without base",
			run: func(b *Broker, m *mockMarket) error {
				_, err := b.CreateMarketSellBase(ctx, "BTC/USDT", d("0.1"), "b")
				return err
			},
			wantErr: ports.ErrInsufficientFunds,
		},
		{
			name: "zero amount",
			run: func(b *Broker, m *mockMarket) error {
				_, err := b.CreateMarketBuyQuote(ctx, "BTC/USDT", decimal.Zero, "c")
				return err
			},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name: "bad symbol",
			run: func(b *Broker, m *mockMarket) error {
				_, err := b.CreateMarketBuyQuote(ctx, "BTCUSDT", d("10"), "d")
				return err
			},
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name: "ticker unavailable",
			run: func(b *Broker, m *mockMarket) error {
				m.err = ports.ErrExchangeUnavailable
				_, err := b.CreateMarketBuyQuote(ctx, "BTC/USDT", d("10"), "e")
				return err
			},
			wantErr: ports.ErrOrderPlacementFailed,
		},
		{
			name: "unknown order",
			run: func(b *Broker, m *mockMarket) error {
				_, err := b.FetchOrder(ctx, "BTC/USDT", "paper-99")
				return err
			},
			wantErr: ports.ErrOrderNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, m := setupBroker(t)
			assert.ErrorIs(t, tt.run(b, m), tt.wantErr)
		})
	}
}

func TestBroker_FallsBackToLastPrice(t *testing.T) {
	b, market := setupBroker(t)
	market.ticker = &domain.Ticker{Symbol: "BTC/USDT", Last: d("50")}

	o, err := b.CreateMarketBuyQuote(context.Background(), "BTC/USDT", d("100"), "x")
	require.NoError(t, err)
	assert.Equal(t, "50", o.Price.String())
	assert.Equal(t, "2", o.Filled.String())
}
