package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/execution"
	"cryptoSentinelBot/internal/ports"
	"cryptoSentinelBot/internal/risk"
)

const (
	day         = 24 * time.Hour
	shortWindow = 5 * time.Minute
)

type loop struct {
	name    string
	unit    func(ctx context.Context) error
	running atomic.Bool

	mu         sync.Mutex
	lastRun    time.Time
	iterations int64
	errors     int64
	lastError  string
}

func (l *loop) record(at time.Time, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRun = at
	l.iterations++
	if err != nil {
		l.errors++
		l.lastError = err.Error()
	}
}

func (l *loop) status() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LoopStatus{
		Running:    l.running.Load(),
		LastRun:    l.lastRun,
		Iterations: l.iterations,
		Errors:     l.errors,
		LastError:  l.lastError,
	}
}

// runLoop runs the unit immediately and then once per interval until ctx ends.
func (o *Orchestrator) runLoop(ctx context.Context, l *loop, interval time.Duration) {
	defer l.running.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		_ = o.iterate(ctx, l)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// iterate runs one unit inside the flight scope. Errors and panics are
// logged and counted, never propagated to the loop.
func (o *Orchestrator) iterate(ctx context.Context, l *loop) (err error) {
	if ctx.Err() != nil || !o.flight.acquire() {
		return nil
	}
	defer o.flight.release()

	started := o.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s loop panicked: %v", l.name, r)
		}
		elapsed := o.now().Sub(started)
		l.record(started, err)
		if l.name != LoopWatchdog {
			o.samples.add(sample{at: started, latency: elapsed, failed: err != nil})
		}
		o.deps.Metrics.LoopIteration(l.name, err)
		if err != nil {
			o.deps.Logger.Error(ctx, err, "Orchestrator.iterate: loop unit failed", map[string]interface{}{
				"symbol": o.cfg.Symbol,
				"loop":   l.name,
			})
		}
	}()
	return l.unit(ctx)
}

// evaluate runs one decision cycle: budgets, decision, risk, execution.
func (o *Orchestrator) evaluate(ctx context.Context) error {
	op := "Orchestrator.evaluate"
	symbol := o.cfg.Symbol
	o.dms.beat(o.now())
	if o.paused() {
		return nil
	}

	windows, err := o.tradeWindows(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rc := risk.Context{Symbol: symbol, Now: o.now(), Windows: windows}

	if budget := o.deps.Risk.EvaluateBudgets(symbol, rc); !budget.OK {
		o.deps.Events.Publish(ctx, eventbus.TopicBudgetExceeded, map[string]string{
			"symbol": symbol,
			"rule":   budget.Rule,
			"detail": budget.Detail,
		}, "")
		o.deps.Metrics.RiskBlock(budget.Rule)
		o.AutoPause(ctx, ReasonBudgetExceeded, map[string]string{"rule": budget.Rule, "detail": budget.Detail})
		return nil
	}

	pos, err := o.deps.Positions.Get(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: read position: %w", op, err)
	}
	decision, err := o.deps.Decider.Decide(ctx, symbol, pos)
	if err != nil {
		return fmt.Errorf("%s: decide: %w", op, err)
	}
	if decision == nil {
		return nil
	}

	switch decision.Action {
	case domain.ActionBuy:
		return o.buy(ctx, rc, decision)
	case domain.ActionSell:
		if !pos.IsOpen() {
			return nil
		}
		_, err := o.deps.Exits.Liquidate(ctx, symbol, decision.Reason)
		if errors.Is(err, ports.ErrBlocked) {
			o.deps.Logger.Info(ctx, op+": strategy sell not executed", map[string]interface{}{"symbol": symbol, "detail": err.Error()})
			return nil
		}
		return err
	default:
		o.deps.Logger.Debug(ctx, op+": holding", map[string]interface{}{"symbol": symbol, "reason": decision.Reason})
		return nil
	}
}

func (o *Orchestrator) buy(ctx context.Context, rc risk.Context, decision *domain.Decision) error {
	op := "Orchestrator.buy"
	symbol := o.cfg.Symbol

	trades, err := o.deps.Trades.ListBySymbol(ctx, symbol)
	if err != nil {
		return fmt.Errorf("%s: list trades: %w", op, err)
	}
	rc.Trades = trades

	open, err := o.deps.Positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("%s: list open positions: %w", op, err)
	}
	rc.Positions = open
	rc.QuoteAmount = decision.QuoteAmount

	ticker, err := o.deps.Market.FetchTicker(ctx, symbol)
	if err != nil {
		o.deps.Logger.Warn(ctx, op+": ticker unavailable, spread rule skipped", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
	} else {
		rc.SpreadPct, rc.HasSpread = ticker.SpreadPct()
	}

	verdict := o.deps.Risk.Evaluate(symbol, rc)
	if !verdict.OK {
		o.deps.Metrics.RiskBlock(verdict.Rule)
		o.deps.Events.Publish(ctx, eventbus.TopicTradeBlocked, map[string]string{
			"symbol": symbol,
			"side":   string(domain.Buy),
			"amount": decision.QuoteAmount.String(),
			"reason": verdict.Rule,
			"detail": verdict.Detail,
		}, "")
		o.deps.Logger.Info(ctx, op+": candidate blocked by risk rule", map[string]interface{}{
			"symbol": symbol,
			"rule":   verdict.Rule,
			"detail": verdict.Detail,
		})
		return nil
	}

	quote := decision.QuoteAmount
	if verdict.SizeFactor.IsPositive() && verdict.SizeFactor.LessThan(decimal.NewFromInt(1)) {
		quote = quote.Mul(verdict.SizeFactor)
	}
	_, err = o.deps.Placer.PlaceOrder(ctx, execution.OrderRequest{
		Symbol:      symbol,
		Side:        domain.Buy,
		QuoteAmount: quote,
		Reason:      decision.Reason,
	})
	return err
}

func (o *Orchestrator) ensureExits(ctx context.Context) error {
	_, err := o.deps.Exits.Ensure(ctx, o.cfg.Symbol)
	return err
}

// watchdog refreshes the instance lease, publishes a heartbeat, checks the
// dead man's switch and applies the SLA pause and resume thresholds.
func (o *Orchestrator) watchdog(ctx context.Context) error {
	wd := o.cfg.Watchdog
	st := o.samples.stats(o.now())

	held, err := o.holdLease(ctx)
	if err != nil {
		return fmt.Errorf("Orchestrator.watchdog: %w", err)
	}

	o.deps.Events.Publish(ctx, eventbus.TopicWatchdogHeartbeat, map[string]string{
		"symbol":          o.cfg.Symbol,
		"state":           string(o.State()),
		"samples":         strconv.Itoa(st.Samples),
		"error_rate":      strconv.FormatFloat(st.ErrorRate, 'f', 4, 64),
		"mean_latency_ms": strconv.FormatInt(st.MeanLatency.Milliseconds(), 10),
		"ts":              o.now().Format(time.RFC3339),
	}, "")

	if !held {
		o.AutoPause(ctx, ReasonLeaseLost, map[string]string{"lease": o.cfg.Lease.Name})
		return nil
	}
	if err := o.checkDeadMan(ctx); err != nil {
		return err
	}

	switch o.State() {
	case StateRunning:
		if wd.breached(st) {
			o.AutoPause(ctx, ReasonSLAExceeded, map[string]string{
				"error_rate":      strconv.FormatFloat(st.ErrorRate, 'f', 4, 64),
				"mean_latency_ms": strconv.FormatInt(st.MeanLatency.Milliseconds(), 10),
			})
		}
	case StatePausedAuto:
		if !wd.healthy(st) || o.dms.isTripped() {
			return nil
		}
		ok, err := o.budgetsOK(ctx)
		if err != nil {
			return err
		}
		if ok {
			o.AutoResume(ctx, "sla_recovered")
		}
	}
	return nil
}

func (o *Orchestrator) budgetsOK(ctx context.Context) (bool, error) {
	windows, err := o.tradeWindows(ctx)
	if err != nil {
		return false, fmt.Errorf("Orchestrator.budgetsOK: %w", err)
	}
	res := o.deps.Risk.EvaluateBudgets(o.cfg.Symbol, risk.Context{Symbol: o.cfg.Symbol, Now: o.now(), Windows: windows})
	return res.OK, nil
}

// tradeWindows asks the trade store for the 24h and 5m aggregates, so the
// budget checks never load the whole history.
func (o *Orchestrator) tradeWindows(ctx context.Context) (*risk.Windows, error) {
	symbol := o.cfg.Symbol
	w := &risk.Windows{}
	var err error

	if w.OrdersDay, err = o.deps.Trades.CountOrdersLastMinutes(ctx, symbol, int(day/time.Minute)); err != nil {
		return nil, fmt.Errorf("count orders 24h: %w", err)
	}
	if w.TurnoverDay, err = o.deps.Trades.DailyTurnoverQuote(ctx, symbol); err != nil {
		return nil, fmt.Errorf("turnover 24h: %w", err)
	}
	if w.Orders5m, err = o.deps.Trades.CountOrdersLastMinutes(ctx, symbol, int(shortWindow/time.Minute)); err != nil {
		return nil, fmt.Errorf("count orders 5m: %w", err)
	}
	recent, err := o.deps.Trades.ListSince(ctx, o.now().Add(-shortWindow))
	if err != nil {
		return nil, fmt.Errorf("list recent trades: %w", err)
	}
	w.Turnover5m = decimal.Zero
	for _, t := range recent {
		if t.Symbol == symbol {
			w.Turnover5m = w.Turnover5m.Add(t.Cost)
		}
	}
	return w, nil
}

// reconcile runs the reconcilers, then settlement, then prunes expired
// idempotency keys. Each step runs even when an earlier one fails.
func (o *Orchestrator) reconcile(ctx context.Context) error {
	op := "Orchestrator.reconcile"
	var errs []error

	if _, err := o.deps.Reconciler.Run(ctx, o.cfg.Symbol); err != nil {
		errs = append(errs, err)
	}
	if o.deps.Settler != nil {
		rep, err := o.deps.Settler.Settle(ctx, o.cfg.Symbol)
		if err != nil {
			errs = append(errs, err)
		} else if rep.Checked > 0 {
			o.deps.Logger.Info(ctx, op+": settlement pass", map[string]interface{}{
				"symbol":    o.cfg.Symbol,
				"checked":   rep.Checked,
				"settled":   rep.Settled,
				"pending":   rep.Pending,
				"timed_out": rep.TimedOut,
				"followups": rep.FollowUps,
			})
		}
	}
	if o.deps.Idempotency != nil {
		if n, err := o.deps.Idempotency.Prune(ctx); err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			o.deps.Logger.Debug(ctx, op+": pruned idempotency keys", map[string]interface{}{"removed": n})
		}
	}
	return errors.Join(errs...)
}
