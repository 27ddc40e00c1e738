// Package binanceclient implements ports.Broker on the Binance spot REST API.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/ports"
)

const (
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	maxKlinesLimit = 1000
)

// Client implements ports.Broker using the go-binance library.
type Client struct {
	spot        *binance.Client
	logger      ports.Logger
	retryMin    time.Duration
	retryMax    time.Duration
	maxAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	Logger      ports.Logger
	RetryMin    time.Duration // first retry delay for read calls (default 500ms)
	RetryMax    time.Duration // retry delay cap (default 5s)
	MaxAttempts int           // total attempts for read calls (default 3)
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client: %w", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance spot client configured", map[string]interface{}{
		"baseURL": client.BaseURL,
		"testnet": cfg.UseTestnet,
	})

	if cfg.RetryMin <= 0 {
		cfg.RetryMin = 500 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	return &Client{
		spot:        client,
		logger:      cfg.Logger,
		retryMin:    cfg.RetryMin,
		retryMax:    cfg.RetryMax,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// handleError translates Binance API and transport errors into ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mapAPIError(apiErr), err)
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "no such host"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

// mapAPIError maps a Binance error code onto a ports error.
func mapAPIError(apiErr *common.APIError) error {
	switch apiErr.Code {
	case -1003, -1015: // Too many requests / too many orders
		return ports.ErrRateLimited
	case -1001, -1016: // Disconnected / service shutting down
		return ports.ErrExchangeUnavailable
	case -1007, -1021: // Backend timeout / timestamp outside recvWindow
		return ports.ErrTimeout
	case -1022: // Signature invalid
		return ports.ErrAuthenticationFailed
	case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
		return ports.ErrInvalidAPIKeys
	case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1112, -1114, -1115, -1116, -1117, -1121, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2019, -3005: // Margin / balance insufficient
		return ports.ErrInsufficientFunds
	case -2010: // New order rejected
		if strings.Contains(strings.ToLower(apiErr.Message), "insufficient balance") {
			return fmt.Errorf("%w: %w", ports.ErrOrderPlacementFailed, ports.ErrInsufficientFunds)
		}
		return ports.ErrOrderPlacementFailed
	default:
		return ports.ErrUnknown
	}
}

// retryable reports whether a read call may be repeated after err.
func retryable(err error) bool {
	return errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, ports.ErrExchangeUnavailable) ||
		errors.Is(err, ports.ErrConnectionFailed) ||
		(errors.Is(err, ports.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded))
}

// withRetry runs a read-only call with jittered exponential backoff on
// transient errors. Order placement never goes through here.
func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	b := &backoff.Backoff{Min: c.retryMin, Max: c.retryMax, Factor: 2, Jitter: true}
	for attempt := 1; ; attempt++ {
		err := c.handleError(ctx, call(), op)
		if err == nil || attempt >= c.maxAttempts || !retryable(err) {
			return err
		}
		delay := b.Duration()
		c.logger.Warn(ctx, op+": transient error, retrying", map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		})
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s operation canceled: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		case <-timer.C:
		}
	}
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spot.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// FetchTicker returns the last price and the top of book.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (*domain.Ticker, error) {
	op := "FetchTicker"
	venue := VenueSymbol(symbol)

	var (
		books  []*binance.BookTicker
		prices []*binance.SymbolPrice
	)
	err := c.withRetry(ctx, op, func() error {
		var err error
		books, err = c.spot.NewListBookTickersService().Symbol(venue).Do(ctx)
		if err != nil {
			return err
		}
		prices, err = c.spot.NewListPricesService().Symbol(venue).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(books) == 0 || len(prices) == 0 {
		return nil, c.handleError(ctx, fmt.Errorf("no ticker data returned for symbol %s: %w", symbol, ports.ErrNotFound), op)
	}

	t, err := translateTicker(symbol, books[0], prices[0])
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return t, nil
}

// FetchOHLCV returns the most recent bars, oldest first.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]*domain.Kline, error) {
	op := "FetchOHLCV"
	if limit <= 0 || limit > maxKlinesLimit {
		limit = maxKlinesLimit
	}

	var raw []*binance.Kline
	err := c.withRetry(ctx, op, func() error {
		var err error
		raw, err = c.spot.NewKlinesService().Symbol(VenueSymbol(symbol)).Interval(timeframe).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.translateKlines(ctx, op, raw, symbol, timeframe)
}

// FetchKlinesRange pages through every bar between start and end.
func (c *Client) FetchKlinesRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]*domain.Kline, error) {
	op := "FetchKlinesRange"
	var all []*domain.Kline
	from := start

	for {
		var raw []*binance.Kline
		err := c.withRetry(ctx, op, func() error {
			var err error
			raw, err = c.spot.NewKlinesService().
				Symbol(VenueSymbol(symbol)).
				Interval(timeframe).
				StartTime(from.UnixMilli()).
				EndTime(end.UnixMilli()).
				Limit(maxKlinesLimit).
				Do(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			break
		}
		klines, err := c.translateKlines(ctx, op, raw, symbol, timeframe)
		if err != nil {
			return nil, err
		}
		all = append(all, klines...)

		from = time.UnixMilli(raw[len(raw)-1].CloseTime + 1)
		if from.After(end) || len(raw) < maxKlinesLimit {
			break
		}
	}
	return all, nil
}

// FetchBalance returns every non-empty balance keyed by asset.
func (c *Client) FetchBalance(ctx context.Context) (map[string]domain.Balance, error) {
	op := "FetchBalance"

	var account *binance.Account
	err := c.withRetry(ctx, op, func() error {
		var err error
		account, err = c.spot.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	balances := make(map[string]domain.Balance, len(account.Balances))
	for _, b := range account.Balances {
		bal, err := translateBalance(b.Asset, b.Free, b.Locked)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if bal.Total.IsZero() {
			continue
		}
		balances[bal.Currency] = bal
	}
	return balances, nil
}

// CreateMarketBuyQuote spends quoteAmount of the quote currency at market.
func (c *Client) CreateMarketBuyQuote(ctx context.Context, symbol string, quoteAmount decimal.Decimal, clientOrderID string) (*domain.Order, error) {
	op := "CreateMarketBuyQuote"
	svc := c.spot.NewCreateOrderService().
		Symbol(VenueSymbol(symbol)).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		QuoteOrderQty(quoteAmount.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}
	return c.placeOrder(ctx, op, symbol, domain.Buy, svc)
}

// CreateMarketSellBase sells baseAmount of the base currency at market.
func (c *Client) CreateMarketSellBase(ctx context.Context, symbol string, baseAmount decimal.Decimal, clientOrderID string) (*domain.Order, error) {
	op := "CreateMarketSellBase"
	svc := c.spot.NewCreateOrderService().
		Symbol(VenueSymbol(symbol)).
		Side(binance.SideTypeSell).
		Type(binance.OrderTypeMarket).
		Quantity(baseAmount.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}
	return c.placeOrder(ctx, op, symbol, domain.Sell, svc)
}

func (c *Client) placeOrder(ctx context.Context, op, symbol string, side domain.OrderSide, svc *binance.CreateOrderService) (*domain.Order, error) {
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	order, err := translateCreateOrder(symbol, side, resp)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":        symbol,
		"side":          string(side),
		"orderID":       order.BrokerOrderID,
		"clientOrderID": order.ClientOrderID,
		"filled":        order.Filled.String(),
		"avgPrice":      order.Price.String(),
		"status":        string(order.Status),
	})
	return order, nil
}

// FetchOrder retrieves an order by venue id.
func (c *Client) FetchOrder(ctx context.Context, symbol, brokerOrderID string) (*domain.Order, error) {
	op := "FetchOrder"
	id, err := strconv.ParseInt(brokerOrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: order id %q: %w", op, ports.ErrInvalidRequest, brokerOrderID, err)
	}

	var raw *binance.Order
	err = c.withRetry(ctx, op, func() error {
		var err error
		raw, err = c.spot.NewGetOrderService().Symbol(VenueSymbol(symbol)).OrderID(id).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	order, err := translateOrder(symbol, raw)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return order, nil
}

// FetchOpenOrders lists the venue's open orders for symbol.
func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	op := "FetchOpenOrders"

	var raw []*binance.Order
	err := c.withRetry(ctx, op, func() error {
		var err error
		raw, err = c.spot.NewListOpenOrdersService().Symbol(VenueSymbol(symbol)).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, 0, len(raw))
	for _, r := range raw {
		o, err := translateOrder(symbol, r)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (c *Client) translateKlines(ctx context.Context, op string, raw []*binance.Kline, symbol, timeframe string) ([]*domain.Kline, error) {
	klines := make([]*domain.Kline, 0, len(raw))
	for _, bk := range raw {
		k, err := translateKline(bk, symbol, timeframe)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

var _ ports.Broker = (*Client)(nil)
