package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSentinelBot/internal/eventbus"
	"cryptoSentinelBot/internal/ports"
)

type mockLocker struct {
	mu       sync.Mutex
	owners   map[string]string
	err      error
	released []string
}

func newMockLocker() *mockLocker { return &mockLocker{owners: map[string]string{}} }

func (m *mockLocker) Acquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if cur, ok := m.owners[name]; ok && cur != owner {
		return false, nil
	}
	m.owners[name] = owner
	return true, nil
}

func (m *mockLocker) Release(ctx context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[name] == owner {
		delete(m.owners, name)
	}
	m.released = append(m.released, name)
	return nil
}

func (m *mockLocker) setOwner(name, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[name] = owner
}

func TestDeadMansSwitch_TripsOncePerSilence(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := &deadMansSwitch{timeout: time.Minute}

	_, tripped := d.trip(t0.Add(time.Hour))
	assert.False(t, tripped, "never beaten, nothing to watch")

	d.beat(t0)
	_, tripped = d.trip(t0.Add(time.Minute))
	assert.False(t, tripped, "exactly at the timeout")

	elapsed, tripped := d.trip(t0.Add(61 * time.Second))
	assert.True(t, tripped)
	assert.Equal(t, 61*time.Second, elapsed)
	assert.True(t, d.isTripped())

	_, tripped = d.trip(t0.Add(2 * time.Minute))
	assert.False(t, tripped, "already tripped")

	d.beat(t0.Add(3 * time.Minute))
	assert.False(t, d.isTripped(), "a beat re-arms the switch")

	off := &deadMansSwitch{}
	off.beat(t0)
	_, tripped = off.trip(t0.Add(24 * time.Hour))
	assert.False(t, tripped, "zero timeout disables")
}

func TestWatchdog_DeadMansSwitch(t *testing.T) {
	ctx := context.Background()

	t.Run("silent evaluate loop closes the position and pauses", func(t *testing.T) {
		f := newFixture(Config{DeadMansTimeout: 2 * time.Minute})
		f.setState(StateRunning)
		f.o.dms.beat(f.clock.now())

		f.clock.advance(time.Minute)
		require.NoError(t, f.o.watchdog(ctx))
		assert.Empty(t, f.exits.liquidations())

		f.clock.advance(2 * time.Minute)
		require.NoError(t, f.o.watchdog(ctx))
		assert.Equal(t, []string{ReasonDeadMansSwitch}, f.exits.liquidations())
		assert.Equal(t, StatePausedAuto, f.o.State())
		assert.Equal(t, ReasonDeadMansSwitch, f.o.Status().PauseReason)

		triggered := f.events.byTopic(eventbus.TopicDMSTriggered)
		require.Len(t, triggered, 1)
		assert.Equal(t, testSymbol, triggered[0].Payload["symbol"])
		assert.Equal(t, "180000", triggered[0].Payload["elapsed_ms"])
		assert.Equal(t, "120000", triggered[0].Payload["timeout_ms"])

		require.NoError(t, f.o.watchdog(ctx))
		assert.Len(t, f.exits.liquidations(), 1, "trips once per silence")
		assert.Equal(t, StatePausedAuto, f.o.State(), "no resume while evaluate is silent")

		require.NoError(t, f.o.evaluate(ctx))
		require.NoError(t, f.o.watchdog(ctx))
		assert.Equal(t, StateRunning, f.o.State(), "evaluate beating again allows resume")
	})

	t.Run("flat position is reported as skipped", func(t *testing.T) {
		f := newFixture(Config{DeadMansTimeout: time.Minute})
		f.setState(StateRunning)
		f.exits.flat = true
		f.o.dms.beat(f.clock.now())
		f.clock.advance(2 * time.Minute)

		require.NoError(t, f.o.watchdog(ctx))
		skipped := f.events.byTopic(eventbus.TopicDMSSkipped)
		require.Len(t, skipped, 1)
		assert.Equal(t, "no_position", skipped[0].Payload["reason"])
		assert.Equal(t, StatePausedAuto, f.o.State())
	})

	t.Run("paused evaluate loop still beats", func(t *testing.T) {
		f := newFixture(Config{DeadMansTimeout: time.Minute})
		f.setState(StatePausedManual)
		for i := 0; i < 3; i++ {
			f.clock.advance(50 * time.Second)
			require.NoError(t, f.o.evaluate(ctx))
			require.NoError(t, f.o.watchdog(ctx))
		}
		assert.Empty(t, f.events.byTopic(eventbus.TopicDMSTriggered))
		assert.Empty(t, f.exits.liquidations())
	})
}

func TestInstanceLease(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.EvalInterval = time.Hour
	cfg.ExitsInterval = time.Hour
	cfg.WatchdogInterval = time.Hour
	cfg.ReconcileInterval = time.Hour
	cfg.Lease = LeaseConfig{Owner: "host-a"}

	newWithLocker := func(t *testing.T, locker *mockLocker) (*fixture, *Orchestrator) {
		t.Helper()
		f := newFixture(Config{})
		deps := f.deps()
		deps.Locks = locker
		c := cfg
		c.Symbol = testSymbol
		o, err := NewOrchestrator(c, deps)
		require.NoError(t, err)
		o.now = f.clock.now
		return f, o
	}

	t.Run("owner is required", func(t *testing.T) {
		f := newFixture(Config{})
		deps := f.deps()
		deps.Locks = newMockLocker()
		_, err := NewOrchestrator(Config{Symbol: testSymbol}, deps)
		assert.ErrorIs(t, err, ports.ErrConfigurationError)
	})

	t.Run("start refuses while another owner holds the lease", func(t *testing.T) {
		locker := newMockLocker()
		locker.setOwner("sentinel:"+testSymbol, "host-b")
		f, o := newWithLocker(t, locker)

		err := o.Start(ctx)
		assert.ErrorIs(t, err, ports.ErrLockHeld)
		assert.Equal(t, StateStopped, o.State())
		assert.Len(t, f.events.byTopic(eventbus.TopicInstanceLockFailed), 1)

		assert.ErrorIs(t, o.RunOnce(ctx), ports.ErrLockHeld)
		assert.Zero(t, f.decider.callCount())
	})

	t.Run("start takes the lease and stop releases it", func(t *testing.T) {
		locker := newMockLocker()
		f, o := newWithLocker(t, locker)

		require.NoError(t, o.Start(ctx))
		assert.Len(t, f.events.byTopic(eventbus.TopicInstanceLockAcquired), 1)
		require.NoError(t, o.Stop(ctx))
		assert.Equal(t, []string{"sentinel:" + testSymbol}, locker.released)
		locker.mu.Lock()
		assert.Empty(t, locker.owners)
		locker.mu.Unlock()
	})

	t.Run("lost lease pauses until it is held again", func(t *testing.T) {
		locker := newMockLocker()
		_, o := newWithLocker(t, locker)
		o.mu.Lock()
		o.state = StateRunning
		o.mu.Unlock()

		require.NoError(t, o.watchdog(ctx))
		assert.Equal(t, StateRunning, o.State())

		locker.setOwner("sentinel:"+testSymbol, "host-b")
		require.NoError(t, o.watchdog(ctx))
		assert.Equal(t, StatePausedAuto, o.State())
		assert.Equal(t, ReasonLeaseLost, o.Status().PauseReason)

		require.NoError(t, o.watchdog(ctx))
		assert.Equal(t, StatePausedAuto, o.State())

		require.NoError(t, locker.Release(ctx, "sentinel:"+testSymbol, "host-b"))
		require.NoError(t, o.watchdog(ctx))
		assert.Equal(t, StateRunning, o.State())
	})

	t.Run("store failure is a watchdog error", func(t *testing.T) {
		locker := newMockLocker()
		locker.err = assert.AnError
		_, o := newWithLocker(t, locker)
		assert.ErrorIs(t, o.watchdog(ctx), assert.AnError)
	})
}
