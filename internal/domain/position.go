package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the single per-symbol inventory row. It is long-only:
// BaseQty never goes below zero. Version increments on every write.
type Position struct {
	Symbol        string
	BaseQty       decimal.Decimal
	AvgEntryPrice decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	UpdatedAt     time.Time
	Version       int64
}

// EmptyPosition returns the zero-value position for a symbol that has never traded.
func EmptyPosition(symbol string) *Position {
	return &Position{Symbol: symbol}
}

// IsOpen reports whether the position holds inventory.
func (p *Position) IsOpen() bool {
	return p != nil && p.BaseQty.IsPositive()
}

// MarkToMarket returns the unrealized PnL at the given mark price.
func (p *Position) MarkToMarket(mark decimal.Decimal) decimal.Decimal {
	if !p.IsOpen() || !p.AvgEntryPrice.IsPositive() || !mark.IsPositive() {
		return decimal.Zero
	}
	return mark.Sub(p.AvgEntryPrice).Mul(p.BaseQty)
}
