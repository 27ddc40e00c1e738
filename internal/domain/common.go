package domain

import (
	"fmt"
	"strings"
)

// OrderSide represents the side of an order (buy or sell).
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// ParseSide normalizes a side string. Unknown values return an error.
func ParseSide(s string) (OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", s)
	}
}

// OrderStatus represents the lifecycle state of a venue order.
type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderClosed   OrderStatus = "closed"
	OrderCanceled OrderStatus = "canceled"
	OrderRejected OrderStatus = "rejected"
	OrderExpired  OrderStatus = "expired"
)

// IsTerminal reports whether no further fills can arrive for the order.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderClosed, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// TradeStatus is the settlement status of a persisted trade.
type TradeStatus string

const (
	TradeSettling TradeStatus = "settling"
	TradeSettled  TradeStatus = "settled"
)

// ExitReason indicates why a protective exit sold inventory.
type ExitReason string

const (
	ExitStopLoss   ExitReason = "SL_ATR"
	ExitBreakeven  ExitReason = "BREAKEVEN"
	ExitTakeProfit ExitReason = "TP2_ATR"
)

// SplitSymbol splits a "BASE/QUOTE" symbol into its two currencies.
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(strings.ToUpper(strings.TrimSpace(symbol)), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("symbol %q is not in BASE/QUOTE form", symbol)
	}
	return parts[0], parts[1], nil
}
