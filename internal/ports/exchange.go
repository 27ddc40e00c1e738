package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

// MarketData is the read-only half of the venue: quotes and bars.
type MarketData interface {
	// FetchTicker returns the last trade price and top of book.
	FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error)
	// FetchOHLCV returns up to limit most recent bars, oldest first.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error)
}

// Broker is the execution venue capability consumed by the control plane.
// Transport retries and error categorization live inside implementations.
type Broker interface {
	MarketData

	// FetchBalance returns balances keyed by currency code.
	FetchBalance(ctx context.Context) (map[string]domain.Balance, error)

	// CreateMarketBuyQuote buys base currency spending quoteAmount of quote currency.
	CreateMarketBuyQuote(ctx context.Context, symbol string, quoteAmount decimal.Decimal, clientOrderID string) (*domain.Order, error)

	// CreateMarketSellBase sells baseAmount of base currency.
	CreateMarketSellBase(ctx context.Context, symbol string, baseAmount decimal.Decimal, clientOrderID string) (*domain.Order, error)

	// FetchOrder retrieves an order by venue id.
	FetchOrder(ctx context.Context, symbol, brokerOrderID string) (*domain.Order, error)

	// FetchOpenOrders lists the venue's open orders for a symbol.
	FetchOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error)
}
