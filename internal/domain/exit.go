package domain

import "github.com/shopspring/decimal"

// ExitLevel is the in-memory protective-exit state for one tracked symbol.
type ExitLevel struct {
	Symbol         string
	TP1Done        bool
	BreakevenArmed bool
	BreakevenPrice decimal.Decimal
}
