package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/ports"
)

// InstanceLocker grants named leases with an expiry. Acquire by the current
// owner extends the lease.
type InstanceLocker interface {
	Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// LeaseConfig names the lease that makes this process the only one trading
// the symbol. Owner is required when Deps.Locks is set.
type LeaseConfig struct {
	Name  string // default "sentinel:<symbol>"
	Owner string
	TTL   time.Duration // default 60s, refreshed by the watchdog loop
}

// deadMansSwitch trips when the evaluate loop has not beaten for longer than
// timeout. It trips once per silence; the next beat re-arms it.
type deadMansSwitch struct {
	mu       sync.Mutex
	timeout  time.Duration
	lastBeat time.Time
	tripped  bool
}

func (d *deadMansSwitch) beat(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastBeat = now
	d.tripped = false
}

func (d *deadMansSwitch) trip(now time.Time) (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timeout <= 0 || d.tripped || d.lastBeat.IsZero() {
		return 0, false
	}
	elapsed := now.Sub(d.lastBeat)
	if elapsed <= d.timeout {
		return elapsed, false
	}
	d.tripped = true
	return elapsed, true
}

func (d *deadMansSwitch) isTripped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tripped
}

// checkDeadMan sells the whole position and pauses when the evaluate loop
// went silent. The sell goes through the exit tracker like any protective exit.
func (o *Orchestrator) checkDeadMan(ctx context.Context) error {
	op := "Orchestrator.checkDeadMan"
	elapsed, tripped := o.dms.trip(o.now())
	if !tripped {
		return nil
	}
	symbol := o.cfg.Symbol
	payload := map[string]string{
		"symbol":     symbol,
		"elapsed_ms": strconv.FormatInt(elapsed.Milliseconds(), 10),
		"timeout_ms": strconv.FormatInt(o.cfg.DeadMansTimeout.Milliseconds(), 10),
	}
	o.deps.Logger.Error(ctx, fmt.Errorf("evaluate loop silent for %s", elapsed.Truncate(time.Second)),
		op+": dead man's switch tripped, closing position", map[string]interface{}{"symbol": symbol})
	o.deps.Events.Publish(ctx, eventbus.TopicDMSTriggered, payload, "")

	sold, err := o.deps.Exits.Liquidate(ctx, symbol, ReasonDeadMansSwitch)
	switch {
	case err != nil:
		o.publishDMSSkipped(ctx, payload, err.Error())
	case !sold:
		o.publishDMSSkipped(ctx, payload, "no_position")
	}
	o.AutoPause(ctx, ReasonDeadMansSwitch, map[string]string{"elapsed_ms": payload["elapsed_ms"]})

	if err != nil && !errors.Is(err, ports.ErrBlocked) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (o *Orchestrator) publishDMSSkipped(ctx context.Context, base map[string]string, reason string) {
	payload := make(map[string]string, len(base)+1)
	for k, v := range base {
		payload[k] = v
	}
	payload["reason"] = reason
	o.deps.Events.Publish(ctx, eventbus.TopicDMSSkipped, payload, "")
}

// holdLease acquires or extends the instance lease. Without a locker it
// always reports true.
func (o *Orchestrator) holdLease(ctx context.Context) (bool, error) {
	if o.deps.Locks == nil {
		return true, nil
	}
	lease := o.cfg.Lease
	held, err := o.deps.Locks.Acquire(ctx, lease.Name, lease.Owner, lease.TTL)
	if err != nil {
		return false, fmt.Errorf("instance lease %s: %w", lease.Name, err)
	}
	return held, nil
}

func (o *Orchestrator) acquireLease(ctx context.Context) error {
	if o.deps.Locks == nil {
		return nil
	}
	lease := o.cfg.Lease
	payload := map[string]string{"symbol": o.cfg.Symbol, "name": lease.Name, "owner": lease.Owner}

	held, err := o.holdLease(ctx)
	if err != nil {
		return fmt.Errorf("Orchestrator.Start: %w", err)
	}
	if !held {
		o.deps.Events.Publish(ctx, eventbus.TopicInstanceLockFailed, payload, "")
		return fmt.Errorf("Orchestrator.Start: lease %s: %w", lease.Name, ports.ErrLockHeld)
	}
	o.deps.Events.Publish(ctx, eventbus.TopicInstanceLockAcquired, payload, "")
	return nil
}

func (o *Orchestrator) releaseLease(ctx context.Context) {
	if o.deps.Locks == nil {
		return
	}
	lease := o.cfg.Lease
	if err := o.deps.Locks.Release(ctx, lease.Name, lease.Owner); err != nil {
		o.deps.Logger.Error(ctx, err, "Orchestrator.releaseLease: failed to release instance lease", map[string]interface{}{
			"symbol": o.cfg.Symbol,
			"name":   lease.Name,
		})
	}
}
