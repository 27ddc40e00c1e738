package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the venue-reported state of a market order.
type Order struct {
	BrokerOrderID string
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Status        OrderStatus
	Amount        decimal.Decimal // Requested base quantity (0 when sized by quote)
	Filled        decimal.Decimal // Executed base quantity
	Price         decimal.Decimal // Average fill price
	Cost          decimal.Decimal // Executed quote amount
	Fee           decimal.Decimal // Fee converted to quote where possible
	FeeCurrency   string
	Timestamp     time.Time
}

// FillRatio returns Filled/Amount, or 1 for a closed order with no requested base amount.
func (o *Order) FillRatio() decimal.Decimal {
	if o.Amount.IsPositive() {
		return o.Filled.Div(o.Amount)
	}
	if o.Status == OrderClosed {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

// Remaining returns the unfilled base quantity.
func (o *Order) Remaining() decimal.Decimal {
	rem := o.Amount.Sub(o.Filled)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}
