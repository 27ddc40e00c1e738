package domain

import "github.com/shopspring/decimal"

// DecisionAction is what the strategy wants to do this cycle.
type DecisionAction string

const (
	ActionBuy  DecisionAction = "buy"
	ActionSell DecisionAction = "sell"
	ActionHold DecisionAction = "hold"
)

// Decision is a candidate trade produced by the evaluate loop.
type Decision struct {
	Action      DecisionAction
	QuoteAmount decimal.Decimal // buy size in quote currency
	BaseAmount  decimal.Decimal // sell size in base currency
	Score       float64
	Reason      string
}
