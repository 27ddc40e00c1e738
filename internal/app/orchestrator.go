// Package app holds the per-symbol orchestrator: the lifecycle state machine
// and the evaluate, exits, watchdog and reconcile loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/execution"
	"cryptoSentinelBot/internal/metrics"
	"cryptoSentinelBot/internal/ports"
	"cryptoSentinelBot/internal/risk"
)

// State is the lifecycle state of an Orchestrator.
type State string

const (
	StateStopped      State = "stopped"
	StateStarting     State = "starting"
	StateRunning      State = "running"
	StatePausedManual State = "paused-manual"
	StatePausedAuto   State = "paused-auto"
	StateStopping     State = "stopping"
)

var allStates = []string{
	string(StateStopped), string(StateStarting), string(StateRunning),
	string(StatePausedManual), string(StatePausedAuto), string(StateStopping),
}

// Auto-pause reasons.
const (
	ReasonBudgetExceeded = "budget_exceeded"
	ReasonSLAExceeded    = "sla_threshold_exceeded"
	ReasonDeadMansSwitch = "dead_mans_switch"
	ReasonLeaseLost      = "instance_lease_lost"
)

// Loop names.
const (
	LoopEvaluate  = "evaluate"
	LoopExits     = "exits"
	LoopWatchdog  = "watchdog"
	LoopReconcile = "reconcile"
)

// ErrNotRunning is returned by Pause and Resume outside the running states.
var ErrNotRunning = errors.New("orchestrator is not running")

// Config holds the per-symbol orchestrator settings.
type Config struct {
	Symbol            string
	EvalInterval      time.Duration // default 60s
	ExitsInterval     time.Duration // default 5s
	WatchdogInterval  time.Duration // default 15s
	ReconcileInterval time.Duration // default 60s
	DrainTimeout      time.Duration // default 5s
	DeadMansTimeout   time.Duration // evaluate silence that closes the position; 0 disables
	Watchdog          WatchdogConfig
	Lease             LeaseConfig
}

func (c Config) withDefaults() Config {
	if c.EvalInterval <= 0 {
		c.EvalInterval = 60 * time.Second
	}
	if c.ExitsInterval <= 0 {
		c.ExitsInterval = 5 * time.Second
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = 15 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 60 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 5 * time.Second
	}
	c.Watchdog = c.Watchdog.withDefaults()
	if c.Lease.Name == "" {
		c.Lease.Name = "sentinel:" + c.Symbol
	}
	if c.Lease.TTL <= 0 {
		c.Lease.TTL = 60 * time.Second
	}
	return c
}

// EventBus is the bus surface the orchestrator needs.
type EventBus interface {
	ports.EventPublisher
	Subscribe(pattern, name string, h eventbus.Handler)
}

// RiskGate is the pre-trade rule set.
type RiskGate interface {
	Evaluate(symbol string, rc risk.Context) risk.Result
	EvaluateBudgets(symbol string, rc risk.Context) risk.Result
}

// ExitTracker manages protective exits. Liquidate sells the whole position
// serialized with the exit ticks. Drain must let a running exit sell finish
// before StopAll cancels the trackers.
type ExitTracker interface {
	Start(ctx context.Context, symbol string)
	Ensure(ctx context.Context, symbol string) (bool, error)
	Liquidate(ctx context.Context, symbol, reason string) (bool, error)
	Drain(timeout time.Duration) bool
	StopAll()
}

// ReconcileRunner runs one reconciliation pass.
type ReconcileRunner interface {
	Run(ctx context.Context, symbol string) ([]*domain.ReconciliationReport, error)
}

// OrderSettler follows open orders until they settle.
type OrderSettler interface {
	Settle(ctx context.Context, symbol string) (execution.SettlementReport, error)
}

// Deps are the orchestrator collaborators. Settler, Idempotency, Locks and
// Metrics may be nil.
type Deps struct {
	Events      EventBus
	Decider     ports.DecisionProvider
	Risk        RiskGate
	Placer      execution.OrderPlacer
	Exits       ExitTracker
	Reconciler  ReconcileRunner
	Settler     OrderSettler
	Idempotency ports.IdempotencyStore
	Market      ports.MarketData
	Trades      ports.TradeRepository
	Positions   ports.PositionRepository
	Locks       InstanceLocker
	Logger      ports.Logger
	Metrics     *metrics.Metrics
}

// LoopStatus is the observable state of one loop.
type LoopStatus struct {
	Running    bool
	LastRun    time.Time
	Iterations int64
	Errors     int64
	LastError  string
}

// Status is a snapshot of the orchestrator.
type Status struct {
	Symbol      string
	State       State
	PauseReason string
	InFlight    int
	Loops       map[string]LoopStatus
}

// Orchestrator drives one symbol.
type Orchestrator struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu          sync.Mutex
	state       State
	pauseReason string
	cancel      context.CancelFunc
	wg          *conc.WaitGroup
	subscribed  bool

	loops   map[string]*loop
	flight  *flightScope
	samples *sampleWindow
	dms     *deadMansSwitch
}

// NewOrchestrator validates the dependencies and creates a stopped orchestrator.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("orchestrator: symbol is required: %w", ports.ErrConfigurationError)
	}
	if _, _, err := domain.SplitSymbol(cfg.Symbol); err != nil {
		return nil, fmt.Errorf("orchestrator: %w: %w", ports.ErrConfigurationError, err)
	}
	if deps.Events == nil || deps.Decider == nil || deps.Risk == nil || deps.Placer == nil ||
		deps.Exits == nil || deps.Reconciler == nil || deps.Market == nil ||
		deps.Trades == nil || deps.Positions == nil || deps.Logger == nil {
		return nil, fmt.Errorf("orchestrator: missing required dependencies: %w", ports.ErrConfigurationError)
	}
	if deps.Locks != nil && cfg.Lease.Owner == "" {
		return nil, fmt.Errorf("orchestrator: lease owner is required with an instance locker: %w", ports.ErrConfigurationError)
	}
	cfg = cfg.withDefaults()

	o := &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		now:     func() time.Time { return time.Now().UTC() },
		state:   StateStopped,
		flight:  newFlightScope(),
		samples: &sampleWindow{window: cfg.Watchdog.Window},
		dms:     &deadMansSwitch{timeout: cfg.DeadMansTimeout},
	}
	o.loops = map[string]*loop{
		LoopEvaluate:  {name: LoopEvaluate, unit: o.evaluate},
		LoopExits:     {name: LoopExits, unit: o.ensureExits},
		LoopWatchdog:  {name: LoopWatchdog, unit: o.watchdog},
		LoopReconcile: {name: LoopReconcile, unit: o.reconcile},
	}
	deps.Metrics.OrchestratorState(cfg.Symbol, string(StateStopped), allStates)
	return o, nil
}

// Start takes the instance lease and launches the loops. Calling it on a
// started orchestrator does nothing. The loops are bound to Stop, not to ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	op := "Orchestrator.Start"

	if o.State() != StateStopped {
		return nil
	}
	if err := o.acquireLease(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	if o.state != StateStopped {
		o.mu.Unlock()
		return nil
	}
	o.setStateLocked(StateStarting, "")
	o.dms.beat(o.now())

	if !o.subscribed {
		o.deps.Events.Subscribe(eventbus.TopicTradeCompleted, "orchestrator.exits:"+o.cfg.Symbol, o.onTradeCompleted)
		o.subscribed = true
	}

	intervals := map[string]time.Duration{
		LoopEvaluate:  o.cfg.EvalInterval,
		LoopExits:     o.cfg.ExitsInterval,
		LoopWatchdog:  o.cfg.WatchdogInterval,
		LoopReconcile: o.cfg.ReconcileInterval,
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.wg = &conc.WaitGroup{}
	o.flight.reopen()

	for name, l := range o.loops {
		l := l
		interval := intervals[name]
		l.running.Store(true)
		o.wg.Go(func() { o.runLoop(loopCtx, l, interval) })
	}
	o.setStateLocked(StateRunning, "")
	o.mu.Unlock()

	o.deps.Logger.Info(ctx, op+": orchestrator started", map[string]interface{}{
		"symbol":    o.cfg.Symbol,
		"evaluate":  intervals[LoopEvaluate].String(),
		"exits":     intervals[LoopExits].String(),
		"watchdog":  intervals[LoopWatchdog].String(),
		"reconcile": intervals[LoopReconcile].String(),
	})
	return nil
}

// Stop drains in-flight work and exit sells, cancels the loops and waits for
// them, each bounded by the drain timeout. Afterwards no loop reports
// running, exit tracking is stopped and the instance lease is released.
func (o *Orchestrator) Stop(ctx context.Context) error {
	op := "Orchestrator.Stop"

	o.mu.Lock()
	if o.state == StateStopped || o.state == StateStopping {
		o.mu.Unlock()
		return nil
	}
	o.setStateLocked(StateStopping, "")
	cancel, wg := o.cancel, o.wg
	o.mu.Unlock()

	deadline := time.Now().Add(o.cfg.DrainTimeout)
	if !o.flight.drain(o.cfg.DrainTimeout) {
		o.deps.Logger.Warn(ctx, op+": drain timed out, cancelling in-flight work", map[string]interface{}{
			"symbol":    o.cfg.Symbol,
			"in_flight": o.flight.active(),
		})
	}
	if !o.deps.Exits.Drain(time.Until(deadline)) {
		o.deps.Logger.Warn(ctx, op+": exit sell still running, cancelling it", map[string]interface{}{"symbol": o.cfg.Symbol})
	}
	if cancel != nil {
		cancel()
	}

	if wg != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if r := wg.WaitAndRecover(); r != nil {
				o.deps.Logger.Error(ctx, r.AsError(), op+": loop panicked", map[string]interface{}{"symbol": o.cfg.Symbol})
			}
		}()
		timer := time.NewTimer(o.cfg.DrainTimeout)
		select {
		case <-done:
		case <-timer.C:
			o.deps.Logger.Warn(ctx, op+": loops did not exit in time", map[string]interface{}{"symbol": o.cfg.Symbol})
		case <-ctx.Done():
		}
		timer.Stop()
	}

	for _, l := range o.loops {
		l.running.Store(false)
	}
	o.deps.Exits.StopAll()
	o.releaseLease(context.WithoutCancel(ctx))

	o.mu.Lock()
	o.cancel, o.wg = nil, nil
	o.flight.reopen()
	o.setStateLocked(StateStopped, "")
	o.mu.Unlock()

	o.deps.Logger.Info(ctx, op+": orchestrator stopped", map[string]interface{}{"symbol": o.cfg.Symbol})
	return nil
}

// Pause suspends new entries until Resume. It overrides an automatic pause.
func (o *Orchestrator) Pause(ctx context.Context, reason string) error {
	o.mu.Lock()
	switch o.state {
	case StateRunning, StatePausedAuto:
	case StatePausedManual:
		o.mu.Unlock()
		return nil
	default:
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.setStateLocked(StatePausedManual, reason)
	o.mu.Unlock()

	o.publishTransition(ctx, eventbus.TopicOrchestratorPaused, reason, nil)
	return nil
}

// Resume leaves either pause state.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	switch o.state {
	case StatePausedManual, StatePausedAuto:
	case StateRunning:
		o.mu.Unlock()
		return nil
	default:
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.setStateLocked(StateRunning, "")
	o.mu.Unlock()

	o.publishTransition(ctx, eventbus.TopicOrchestratorResumed, "manual", nil)
	return nil
}

// AutoPause pauses a running orchestrator. It never overrides a manual pause
// and reports whether the state changed.
func (o *Orchestrator) AutoPause(ctx context.Context, reason string, details map[string]string) bool {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return false
	}
	o.setStateLocked(StatePausedAuto, reason)
	o.mu.Unlock()

	o.deps.Logger.Warn(ctx, "Orchestrator.AutoPause: trading paused", map[string]interface{}{
		"symbol": o.cfg.Symbol,
		"reason": reason,
	})
	o.publishTransition(ctx, eventbus.TopicOrchestratorAutoPaused, reason, details)
	return true
}

// AutoResume only leaves paused-auto and reports whether the state changed.
func (o *Orchestrator) AutoResume(ctx context.Context, reason string) bool {
	o.mu.Lock()
	if o.state != StatePausedAuto {
		o.mu.Unlock()
		return false
	}
	o.setStateLocked(StateRunning, "")
	o.mu.Unlock()

	o.deps.Logger.Info(ctx, "Orchestrator.AutoResume: trading resumed", map[string]interface{}{
		"symbol": o.cfg.Symbol,
		"reason": reason,
	})
	o.publishTransition(ctx, eventbus.TopicOrchestratorAutoResumed, reason, nil)
	return true
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the lifecycle state, the in-flight unit count and a
// snapshot of every loop.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		Symbol:      o.cfg.Symbol,
		State:       o.state,
		PauseReason: o.pauseReason,
	}
	o.mu.Unlock()

	st.InFlight = o.flight.active()
	st.Loops = make(map[string]LoopStatus, len(o.loops))
	for name, l := range o.loops {
		st.Loops[name] = l.status()
	}
	return st
}

// RunOnce runs the evaluate, exits and reconcile units once, synchronously,
// holding the instance lease for the duration.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	if err := o.acquireLease(ctx); err != nil {
		return err
	}
	defer o.releaseLease(context.WithoutCancel(ctx))

	var errs []error
	for _, name := range []string{LoopEvaluate, LoopExits, LoopReconcile} {
		if err := o.iterate(ctx, o.loops[name]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StatePausedManual || o.state == StatePausedAuto
}

func (o *Orchestrator) setStateLocked(s State, reason string) {
	o.state = s
	o.pauseReason = reason
	o.deps.Metrics.OrchestratorState(o.cfg.Symbol, string(s), allStates)
}

func (o *Orchestrator) publishTransition(ctx context.Context, topic, reason string, details map[string]string) {
	payload := make(map[string]string, len(details)+3)
	for k, v := range details {
		payload[k] = v
	}
	payload["symbol"] = o.cfg.Symbol
	payload["reason"] = reason
	payload["ts"] = o.now().Format(time.RFC3339)
	o.deps.Events.Publish(ctx, topic, payload, "")
}

// onTradeCompleted starts exit tracking when a buy of this symbol fills.
func (o *Orchestrator) onTradeCompleted(ctx context.Context, evt domain.Event) error {
	if evt.Payload["symbol"] != o.cfg.Symbol || evt.Payload["side"] != string(domain.Buy) {
		return nil
	}
	if s := o.State(); s == StateStopped || s == StateStopping {
		return nil
	}
	o.deps.Exits.Start(ctx, o.cfg.Symbol)
	return nil
}
