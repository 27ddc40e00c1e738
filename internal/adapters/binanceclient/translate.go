package binanceclient

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

// VenueSymbol converts "BTC/USDT" to Binance's "BTCUSDT".
func VenueSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	if v == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s '%s': %w", field, v, err)
	}
	return d, nil
}

// translateStatus maps Binance order statuses onto the domain lifecycle.
func translateStatus(s string) domain.OrderStatus {
	switch strings.ToUpper(s) {
	case "FILLED":
		return domain.OrderClosed
	case "CANCELED", "PENDING_CANCEL":
		return domain.OrderCanceled
	case "REJECTED":
		return domain.OrderRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderExpired
	default:
		return domain.OrderOpen
	}
}

func translateTicker(symbol string, book *binance.BookTicker, price *binance.SymbolPrice) (*domain.Ticker, error) {
	bid, err := parseDecimal("bid", book.BidPrice)
	if err != nil {
		return nil, err
	}
	ask, err := parseDecimal("ask", book.AskPrice)
	if err != nil {
		return nil, err
	}
	last, err := parseDecimal("last", price.Price)
	if err != nil {
		return nil, err
	}
	return &domain.Ticker{
		Symbol:    symbol,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now().UTC(),
	}, nil
}

func translateBalance(asset, free, locked string) (domain.Balance, error) {
	f, err := parseDecimal("free", free)
	if err != nil {
		return domain.Balance{}, err
	}
	l, err := parseDecimal("locked", locked)
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{Currency: asset, Free: f, Used: l, Total: f.Add(l)}, nil
}

// translateCreateOrder builds the order from a FULL create response. Fees
// paid in the base or quote currency are converted to quote.
func translateCreateOrder(symbol string, side domain.OrderSide, resp *binance.CreateOrderResponse) (*domain.Order, error) {
	if resp == nil {
		return nil, errors.New("received nil order response")
	}
	amount, err := parseDecimal("origQty", resp.OrigQuantity)
	if err != nil {
		return nil, err
	}
	filled, err := parseDecimal("executedQty", resp.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	cost, err := parseDecimal("cummulativeQuoteQty", resp.CummulativeQuoteQuantity)
	if err != nil {
		return nil, err
	}

	base, quote, _ := domain.SplitSymbol(symbol)
	order := &domain.Order{
		BrokerOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        translateStatus(string(resp.Status)),
		Amount:        amount,
		Filled:        filled,
		Cost:          cost,
		Timestamp:     time.UnixMilli(resp.TransactTime).UTC(),
	}
	if filled.IsPositive() {
		order.Price = cost.Div(filled)
	}

	fee := decimal.Zero
	for _, f := range resp.Fills {
		commission, err := parseDecimal("commission", f.Commission)
		if err != nil {
			return nil, err
		}
		if order.FeeCurrency == "" {
			order.FeeCurrency = f.CommissionAsset
		}
		switch f.CommissionAsset {
		case quote:
			fee = fee.Add(commission)
		case base:
			px, err := parseDecimal("fill price", f.Price)
			if err != nil {
				return nil, err
			}
			fee = fee.Add(commission.Mul(px))
		}
	}
	if len(resp.Fills) > 0 && (order.FeeCurrency == base || order.FeeCurrency == quote) {
		order.FeeCurrency = quote
	}
	order.Fee = fee
	return order, nil
}

func translateOrder(symbol string, o *binance.Order) (*domain.Order, error) {
	if o == nil {
		return nil, errors.New("received nil order")
	}
	amount, err := parseDecimal("origQty", o.OrigQuantity)
	if err != nil {
		return nil, err
	}
	filled, err := parseDecimal("executedQty", o.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	cost, err := parseDecimal("cummulativeQuoteQty", o.CummulativeQuoteQuantity)
	if err != nil {
		return nil, err
	}
	side, err := domain.ParseSide(string(o.Side))
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		BrokerOrderID: strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        translateStatus(string(o.Status)),
		Amount:        amount,
		Filled:        filled,
		Cost:          cost,
		Timestamp:     time.UnixMilli(o.Time).UTC(),
	}
	if filled.IsPositive() {
		order.Price = cost.Div(filled)
	}
	return order, nil
}

func translateKline(bk *binance.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, errors.New("received nil kline")
	}
	k := &domain.Kline{
		OpenTime:  time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: time.UnixMilli(bk.CloseTime).UTC(),
		Symbol:    symbol,
		Interval:  interval,
		IsFinal:   true,
	}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"open", bk.Open, &k.Open},
		{"high", bk.High, &k.High},
		{"low", bk.Low, &k.Low},
		{"close", bk.Close, &k.Close},
		{"volume", bk.Volume, &k.Volume},
	}
	for _, f := range fields {
		v, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return k, nil
}
