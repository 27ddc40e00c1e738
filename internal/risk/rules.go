package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/accounting"
	"cryptoSentinelBot/internal/domain"
)

const (
	day          = 24 * time.Hour
	shortWindow  = 5 * time.Minute
	pctPrecision = 4
)

var hundred = decimal.NewFromInt(100)

func (rs *RuleSet) checkOrdersPerDay(rc Context) verdict {
	n := ordersIn(rc, day)
	if n >= rs.cfg.MaxOrdersPerDay {
		return block(fmt.Sprintf("orders_24h=%d limit=%d", n, rs.cfg.MaxOrdersPerDay))
	}
	return pass()
}

func (rs *RuleSet) checkTurnoverPerDay(rc Context) verdict {
	return checkTurnover(rc, turnoverIn(rc, day), rs.cfg.MaxTurnoverPerDay, "turnover_24h")
}

func (rs *RuleSet) checkCooldown(rc Context) verdict {
	last, ok := lastTradeTime(rc)
	if !ok {
		return pass()
	}
	age := rc.Now.Sub(last)
	if age < rs.cfg.Cooldown {
		return block(fmt.Sprintf("last_trade_age=%s cooldown=%s", age.Truncate(time.Second), rs.cfg.Cooldown))
	}
	return pass()
}

func (rs *RuleSet) checkOrders5m(rc Context) verdict {
	n := ordersIn(rc, shortWindow)
	if n >= rs.cfg.MaxOrders5m {
		return block(fmt.Sprintf("orders_5m=%d limit=%d", n, rs.cfg.MaxOrders5m))
	}
	return pass()
}

func (rs *RuleSet) checkTurnover5m(rc Context) verdict {
	return checkTurnover(rc, turnoverIn(rc, shortWindow), rs.cfg.MaxTurnover5m, "turnover_5m")
}

func (rs *RuleSet) checkSpread(rc Context) verdict {
	if !rc.HasSpread {
		return pass()
	}
	if rc.SpreadPct.GreaterThan(rs.cfg.MaxSpreadPct) {
		return block(fmt.Sprintf("spread_pct=%s limit=%s",
			rc.SpreadPct.StringFixed(pctPrecision), rs.cfg.MaxSpreadPct.String()))
	}
	return pass()
}

func (rs *RuleSet) checkDailyLoss(rc Context) verdict {
	y, m, d := rc.Now.UTC().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	pnl := decimal.Zero
	for _, s := range accounting.RealizedBySell(symbolTrades(rc)) {
		if !s.Timestamp.Before(start) {
			pnl = pnl.Add(s.PnL)
		}
	}
	if pnl.LessThanOrEqual(rs.cfg.DailyLossLimit.Neg()) {
		return block(fmt.Sprintf("daily_pnl=%s limit=-%s", pnl.StringFixed(2), rs.cfg.DailyLossLimit.String()))
	}
	return pass()
}

func (rs *RuleSet) checkLossStreak(rc Context) verdict {
	streak := LossStreak(symbolTrades(rc))
	if streak >= rs.cfg.LossStreakLimit {
		return block(fmt.Sprintf("loss_streak=%d limit=%d", streak, rs.cfg.LossStreakLimit))
	}
	return pass()
}

func (rs *RuleSet) checkDrawdown(rc Context) verdict {
	dd, ok := DrawdownPct(rs.cfg.EquityBase, symbolTrades(rc))
	if !ok {
		return pass()
	}
	if dd.GreaterThanOrEqual(rs.cfg.MaxDrawdownPct) {
		return block(fmt.Sprintf("drawdown_pct=%s limit=%s", dd.StringFixed(2), rs.cfg.MaxDrawdownPct.String()))
	}
	return pass()
}

// LossStreak counts the trailing sells with negative realized PnL.
func LossStreak(trades []*domain.Trade) int {
	sells := accounting.RealizedBySell(trades)
	streak := 0
	for i := len(sells) - 1; i >= 0; i-- {
		if !sells[i].PnL.IsNegative() {
			break
		}
		streak++
	}
	return streak
}

// DrawdownPct returns the current drawdown of the realized equity curve
// starting at base. ok is false when the curve never had a positive peak.
func DrawdownPct(base decimal.Decimal, trades []*domain.Trade) (decimal.Decimal, bool) {
	equity := base
	peak := base
	for _, s := range accounting.RealizedBySell(trades) {
		equity = equity.Add(s.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
	}
	if !peak.IsPositive() {
		return decimal.Zero, false
	}
	return peak.Sub(equity).Div(peak).Mul(hundred), true
}

func checkTurnover(rc Context, turnover, limit decimal.Decimal, label string) verdict {
	projected := turnover.Add(rc.QuoteAmount)
	if turnover.GreaterThanOrEqual(limit) || projected.GreaterThan(limit) {
		return block(fmt.Sprintf("%s=%s projected=%s limit=%s",
			label, turnover.StringFixed(2), projected.StringFixed(2), limit.String()))
	}
	return pass()
}

// ordersIn and turnoverIn prefer the store's aggregates over a scan of
// rc.Trades. window is day or shortWindow.
func ordersIn(rc Context, window time.Duration) int {
	if w := rc.Windows; w != nil {
		if window == day {
			return w.OrdersDay
		}
		return w.Orders5m
	}
	return countSince(rc, rc.Now.Add(-window))
}

func turnoverIn(rc Context, window time.Duration) decimal.Decimal {
	if w := rc.Windows; w != nil {
		if window == day {
			return w.TurnoverDay
		}
		return w.Turnover5m
	}
	since := rc.Now.Add(-window)
	turnover := decimal.Zero
	for _, t := range symbolTrades(rc) {
		if !t.Timestamp.Before(since) {
			turnover = turnover.Add(t.Cost)
		}
	}
	return turnover
}

func countSince(rc Context, since time.Time) int {
	n := 0
	for _, t := range symbolTrades(rc) {
		if !t.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

func lastTradeTime(rc Context) (time.Time, bool) {
	var last time.Time
	for _, t := range symbolTrades(rc) {
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
	}
	return last, !last.IsZero()
}

func symbolTrades(rc Context) []*domain.Trade {
	out := make([]*domain.Trade, 0, len(rc.Trades))
	for _, t := range rc.Trades {
		if t != nil && t.Symbol == rc.Symbol {
			out = append(out, t)
		}
	}
	return out
}
