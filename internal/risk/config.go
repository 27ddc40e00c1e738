package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the thresholds of every rule. A zero threshold disables its rule.
type Config struct {
	// Budgets over the trailing 24h.
	MaxOrdersPerDay   int
	MaxTurnoverPerDay decimal.Decimal

	Cooldown      time.Duration
	MaxOrders5m   int
	MaxTurnover5m decimal.Decimal
	MaxSpreadPct  decimal.Decimal

	// DailyLossLimit is a positive quote amount; today's realized PnL at or
	// below its negation blocks.
	DailyLossLimit decimal.Decimal

	LossStreakLimit int

	MaxDrawdownPct decimal.Decimal
	// EquityBase is the starting equity the drawdown curve is built on.
	EquityBase decimal.Decimal

	Groups []Group
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxOrdersPerDay:   100,
		MaxTurnoverPerDay: decimal.NewFromInt(10000),
		Cooldown:          60 * time.Second,
		MaxOrders5m:       5,
		MaxTurnover5m:     decimal.NewFromInt(1000),
		MaxSpreadPct:      decimal.RequireFromString("0.5"),
		DailyLossLimit:    decimal.NewFromInt(100),
		LossStreakLimit:   3,
		MaxDrawdownPct:    decimal.NewFromInt(10),
		EquityBase:        decimal.NewFromInt(1000),
	}
}
