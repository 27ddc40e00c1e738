package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
)

// Rule names, reported as Result.Rule when a rule blocks.
const (
	RuleBudgetOrdersPerDay   = "budget:max_orders_per_day"
	RuleBudgetTurnoverPerDay = "budget:max_turnover_per_day"
	RuleCooldown             = "cooldown"
	RuleMaxOrders5m          = "max_orders_5m"
	RuleMaxTurnover5m        = "max_turnover_5m"
	RuleAntiCorrelation      = "anti_correlation"
	RuleMaxSpread            = "max_spread"
	RuleDailyLossLimit       = "daily_loss_limit"
	RuleLossStreak           = "loss_streak"
	RuleMaxDrawdown          = "max_drawdown"
)

// Windows are the symbol's trade aggregates over the budget (24h) and short
// (5m) windows, as counted by the trade store.
type Windows struct {
	OrdersDay   int
	TurnoverDay decimal.Decimal
	Orders5m    int
	Turnover5m  decimal.Decimal
}

// Context is the read-only view the rules evaluate against.
//
// When Windows is set the budget and short-window rules read it; otherwise
// they count Trades. Cooldown and the PnL rules always need Trades.
type Context struct {
	Symbol      string
	Now         time.Time
	QuoteAmount decimal.Decimal // candidate order size in quote
	Trades      []*domain.Trade // trade history of the symbol
	Windows     *Windows
	Positions   []*domain.Position // currently open positions, all symbols
	SpreadPct   decimal.Decimal
	HasSpread   bool
}

// Result is the verdict of an evaluation.
type Result struct {
	OK         bool
	Rule       string
	Detail     string
	SizeFactor decimal.Decimal // multiplier for the candidate size; 1 when unchanged
}

func allowed(factor decimal.Decimal) Result {
	return Result{OK: true, SizeFactor: factor}
}

type verdict struct {
	ok     bool
	detail string
	factor decimal.Decimal // zero means no adjustment
}

func pass() verdict { return verdict{ok: true} }

func block(detail string) verdict { return verdict{detail: detail} }

type rule struct {
	name  string
	check func(rc Context) verdict
}

// RuleSet evaluates a fixed, ordered list of enabled rules.
type RuleSet struct {
	cfg     Config
	budgets []rule
	rules   []rule
}

// NewRuleSet builds the enabled rules in priority order.
func NewRuleSet(cfg Config) *RuleSet {
	rs := &RuleSet{cfg: cfg}

	if cfg.MaxOrdersPerDay > 0 {
		rs.budgets = append(rs.budgets, rule{RuleBudgetOrdersPerDay, rs.checkOrdersPerDay})
	}
	if cfg.MaxTurnoverPerDay.IsPositive() {
		rs.budgets = append(rs.budgets, rule{RuleBudgetTurnoverPerDay, rs.checkTurnoverPerDay})
	}

	rs.rules = append(rs.rules, rs.budgets...)
	if cfg.Cooldown > 0 {
		rs.rules = append(rs.rules, rule{RuleCooldown, rs.checkCooldown})
	}
	if cfg.MaxOrders5m > 0 {
		rs.rules = append(rs.rules, rule{RuleMaxOrders5m, rs.checkOrders5m})
	}
	if cfg.MaxTurnover5m.IsPositive() {
		rs.rules = append(rs.rules, rule{RuleMaxTurnover5m, rs.checkTurnover5m})
	}
	if len(cfg.Groups) > 0 {
		rs.rules = append(rs.rules, rule{RuleAntiCorrelation, rs.checkCorrelation})
	}
	if cfg.MaxSpreadPct.IsPositive() {
		rs.rules = append(rs.rules, rule{RuleMaxSpread, rs.checkSpread})
	}
	if cfg.DailyLossLimit.IsPositive() {
		rs.rules = append(rs.rules, rule{RuleDailyLossLimit, rs.checkDailyLoss})
	}
	if cfg.LossStreakLimit > 0 {
		rs.rules = append(rs.rules, rule{RuleLossStreak, rs.checkLossStreak})
	}
	if cfg.MaxDrawdownPct.IsPositive() {
		rs.rules = append(rs.rules, rule{RuleMaxDrawdown, rs.checkDrawdown})
	}
	return rs
}

// Rules lists the enabled rule names in evaluation order.
func (rs *RuleSet) Rules() []string {
	names := make([]string, 0, len(rs.rules))
	for _, r := range rs.rules {
		names = append(names, r.name)
	}
	return names
}

// Evaluate runs every enabled rule and stops at the first block.
func (rs *RuleSet) Evaluate(symbol string, rc Context) Result {
	return run(rs.rules, symbol, rc)
}

// EvaluateBudgets runs only the daily budget rules.
func (rs *RuleSet) EvaluateBudgets(symbol string, rc Context) Result {
	return run(rs.budgets, symbol, rc)
}

func run(rules []rule, symbol string, rc Context) Result {
	rc.Symbol = symbol
	if rc.Now.IsZero() {
		rc.Now = time.Now().UTC()
	}
	factor := decimal.NewFromInt(1)
	for _, r := range rules {
		v := r.check(rc)
		if !v.ok {
			return Result{OK: false, Rule: r.name, Detail: v.detail, SizeFactor: decimal.Zero}
		}
		if v.factor.IsPositive() && v.factor.LessThan(factor) {
			factor = v.factor
		}
	}
	return allowed(factor)
}
