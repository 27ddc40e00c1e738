package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Ticker is a top-of-book snapshot.
type Ticker struct {
	Symbol    string
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Timestamp time.Time
}

// SpreadPct returns (ask-bid)/mid*100. ok is false when either side is missing.
func (t *Ticker) SpreadPct() (spread decimal.Decimal, ok bool) {
	if t == nil || !t.Bid.IsPositive() || !t.Ask.IsPositive() {
		return decimal.Zero, false
	}
	mid := t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
	return t.Ask.Sub(t.Bid).Div(mid).Mul(hundred), true
}

// Balance is the venue balance of one currency.
type Balance struct {
	Currency string
	Free     decimal.Decimal
	Used     decimal.Decimal
	Total    decimal.Decimal
}
