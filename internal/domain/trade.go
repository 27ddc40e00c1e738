package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents a fill recorded in the local ledger.
// Trades are append-only; only Status changes while an order settles.
type Trade struct {
	ID            int64           // Unique identifier (usually from DB)
	Symbol        string          // Trading symbol (e.g., "BTC/USDT")
	Side          OrderSide       // buy or sell
	Amount        decimal.Decimal // Filled base quantity
	Price         decimal.Decimal // Average fill price
	Cost          decimal.Decimal // Quote spent or received
	Fee           decimal.Decimal // Fee in quote currency
	BrokerOrderID string          // Venue order id
	ClientOrderID string          // Client-assigned id, unique per trade
	Status        TradeStatus     // settling or settled
	Timestamp     time.Time       // Fill time
}

// TradeFromOrder builds a trade row from an executed venue order.
func TradeFromOrder(o *Order) *Trade {
	status := TradeSettled
	if !o.Status.IsTerminal() {
		status = TradeSettling
	}
	ts := o.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &Trade{
		Symbol:        o.Symbol,
		Side:          o.Side,
		Amount:        o.Filled,
		Price:         o.Price,
		Cost:          o.Cost,
		Fee:           o.Fee,
		BrokerOrderID: o.BrokerOrderID,
		ClientOrderID: o.ClientOrderID,
		Status:        status,
		Timestamp:     ts,
	}
}
