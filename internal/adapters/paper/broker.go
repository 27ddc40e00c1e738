// Package paper implements a simulated broker that fills market orders
// against live public quotes and keeps balances in memory.
package paper

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

const qtyPlaces = 8

// Config holds the paper account settings.
type Config struct {
	Market       ports.MarketData
	Logger       ports.Logger
	FeeRate      decimal.Decimal            // fraction of the notional, charged in quote (e.g. 0.001)
	QuoteBalance decimal.Decimal            // starting balance of the quote currency
	QuoteAsset   string                     // currency credited with QuoteBalance (default USDT)
	Balances     map[string]decimal.Decimal // optional extra starting balances
}

// Broker fills every market order immediately: buys at the ask, sells at
// the bid, falling back to the last price when a side is missing.
type Broker struct {
	market  ports.MarketData
	logger  ports.Logger
	feeRate decimal.Decimal
	now     func() time.Time

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	orders   map[string]*domain.Order
	byClient map[string]string
	seq      int64
}

var _ ports.Broker = (*Broker)(nil)

// New creates a paper broker.
func New(cfg Config) (*Broker, error) {
	if cfg.Market == nil {
		return nil, fmt.Errorf("market data is required for paper broker: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for paper broker: %w", ports.ErrConfigurationError)
	}
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rate %s out of range [0,1): %w", cfg.FeeRate, ports.ErrConfigurationError)
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}

	balances := make(map[string]decimal.Decimal, len(cfg.Balances)+1)
	for k, v := range cfg.Balances {
		balances[k] = v
	}
	balances[cfg.QuoteAsset] = balances[cfg.QuoteAsset].Add(cfg.QuoteBalance)

	return &Broker{
		market:   cfg.Market,
		logger:   cfg.Logger,
		feeRate:  cfg.FeeRate,
		now:      func() time.Time { return time.Now().UTC() },
		balances: balances,
		orders:   make(map[string]*domain.Order),
		byClient: make(map[string]string),
	}, nil
}

func (b *Broker) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	return b.market.FetchTicker(ctx, symbol)
}

func (b *Broker) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error) {
	return b.market.FetchOHLCV(ctx, symbol, timeframe, limit)
}

// FetchBalance returns a snapshot of the simulated account. Nothing is
// ever locked, so Used stays zero.
func (b *Broker) FetchBalance(ctx context.Context) (map[string]domain.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]domain.Balance, len(b.balances))
	for cur, amt := range b.balances {
		out[cur] = domain.Balance{Currency: cur, Free: amt, Total: amt}
	}
	return out, nil
}

func (b *Broker) CreateMarketBuyQuote(ctx context.Context, symbol string, quoteAmount decimal.Decimal, clientOrderID string) (*domain.Order, error) {
	return b.placeOrder(ctx, "PaperBroker.CreateMarketBuyQuote", symbol, domain.Buy, quoteAmount, clientOrderID)
}

func (b *Broker) CreateMarketSellBase(ctx context.Context, symbol string, baseAmount decimal.Decimal, clientOrderID string) (*domain.Order, error) {
	return b.placeOrder(ctx, "PaperBroker.CreateMarketSellBase", symbol, domain.Sell, baseAmount, clientOrderID)
}

// placeOrder fills the order in full. amount is quote for buys and base
// for sells. A repeated client id returns the order filled the first time.
func (b *Broker) placeOrder(ctx context.Context, op, symbol string, side domain.OrderSide, amount decimal.Decimal, clientOrderID string) (*domain.Order, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: amount must be positive, got %s", op, ports.ErrInvalidRequest, amount)
	}
	base, quote, err := domain.SplitSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrInvalidRequest, err)
	}

	if existing := b.lookupClient(clientOrderID); existing != nil {
		b.logger.Warn(ctx, op+": client order id already used, returning existing order", map[string]interface{}{
			"clientOrderId": clientOrderID,
			"brokerOrderId": existing.BrokerOrderID,
		})
		return existing, nil
	}

	ticker, err := b.market.FetchTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrOrderPlacementFailed, err)
	}
	price := fillPrice(ticker, side)
	if !price.IsPositive() {
		return nil, fmt.Errorf("%s failed: %w: no usable price for %s", op, ports.ErrOrderPlacementFailed, symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.byClient[clientOrderID]; ok && clientOrderID != "" {
		cp := *b.orders[id]
		return &cp, nil
	}

	order := &domain.Order{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        domain.OrderClosed,
		Price:         price,
		FeeCurrency:   quote,
		Timestamp:     b.now(),
	}

	switch side {
	case domain.Buy:
		filled := amount.DivRound(price, qtyPlaces)
		cost := filled.Mul(price)
		fee := cost.Mul(b.feeRate)
		if b.balances[quote].LessThan(cost.Add(fee)) {
			return nil, fmt.Errorf("%s failed: %w: need %s %s, have %s", op, ports.ErrInsufficientFunds, cost.Add(fee), quote, b.balances[quote])
		}
		b.balances[quote] = b.balances[quote].Sub(cost).Sub(fee)
		b.balances[base] = b.balances[base].Add(filled)
		order.Filled, order.Cost, order.Fee = filled, cost, fee
	case domain.Sell:
		if b.balances[base].LessThan(amount) {
			return nil, fmt.Errorf("%s failed: %w: need %s %s, have %s", op, ports.ErrInsufficientFunds, amount, base, b.balances[base])
		}
		cost := amount.Mul(price)
		fee := cost.Mul(b.feeRate)
		b.balances[base] = b.balances[base].Sub(amount)
		b.balances[quote] = b.balances[quote].Add(cost).Sub(fee)
		order.Amount, order.Filled, order.Cost, order.Fee = amount, amount, cost, fee
	}

	b.seq++
	order.BrokerOrderID = "paper-" + strconv.FormatInt(b.seq, 10)
	b.orders[order.BrokerOrderID] = order
	if clientOrderID != "" {
		b.byClient[clientOrderID] = order.BrokerOrderID
	}

	b.logger.Info(ctx, op+": paper order filled", map[string]interface{}{
		"symbol":        symbol,
		"side":          string(side),
		"price":         price.String(),
		"filled":        order.Filled.String(),
		"cost":          order.Cost.String(),
		"fee":           order.Fee.String(),
		"brokerOrderId": order.BrokerOrderID,
		"clientOrderId": clientOrderID,
	})
	cp := *order
	return &cp, nil
}

func (b *Broker) lookupClient(clientOrderID string) *domain.Order {
	if clientOrderID == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byClient[clientOrderID]
	if !ok {
		return nil
	}
	cp := *b.orders[id]
	return &cp
}

func fillPrice(t *domain.Ticker, side domain.OrderSide) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	if side == domain.Buy && t.Ask.IsPositive() {
		return t.Ask
	}
	if side == domain.Sell && t.Bid.IsPositive() {
		return t.Bid
	}
	return t.Last
}

func (b *Broker) FetchOrder(ctx context.Context, symbol, brokerOrderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[brokerOrderID]
	if !ok || o.Symbol != symbol {
		return nil, fmt.Errorf("PaperBroker.FetchOrder failed: %w: %s", ports.ErrOrderNotFound, brokerOrderID)
	}
	cp := *o
	return &cp, nil
}

// FetchOpenOrders is always empty: paper orders fill on placement.
func (b *Broker) FetchOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	return []*domain.Order{}, nil
}
