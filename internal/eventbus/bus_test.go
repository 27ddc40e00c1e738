package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSentinelBot/internal/domain"
)

type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

func testConfig() Config {
	return Config{MaxAttempts: 3, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond}
}

func TestPublish_ExactAndWildcard(t *testing.T) {
	bus := New(testConfig(), &mockLogger{}, nil)
	var exact, prefix, all, other int32

	bus.Subscribe(TopicTradeCompleted, "exact", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&exact, 1)
		return nil
	})
	bus.Subscribe("trade.*", "prefix", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&prefix, 1)
		return nil
	})
	bus.Subscribe("*", "all", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&all, 1)
		return nil
	})
	bus.Subscribe("orchestrator.*", "other", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&other, 1)
		return nil
	})

	res := bus.Publish(context.Background(), TopicTradeCompleted, map[string]string{"symbol": "BTC/USDT"}, "")

	assert.Equal(t, 3, res.Delivered)
	assert.Equal(t, int32(1), exact)
	assert.Equal(t, int32(1), prefix)
	assert.Equal(t, int32(1), all)
	assert.Equal(t, int32(0), other)
}

func TestPublish_NoSubscribers(t *testing.T) {
	bus := New(testConfig(), &mockLogger{}, nil)
	res := bus.Publish(context.Background(), "nobody.listens", nil, "")
	assert.Equal(t, 0, res.Delivered)
	assert.False(t, res.Deduplicated)
}

func TestPublish_RetryThenSuccess(t *testing.T) {
	bus := New(testConfig(), &mockLogger{}, nil)
	var calls int32
	bus.Subscribe("x", "flaky", func(ctx context.Context, evt domain.Event) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return assert.AnError
		}
		return nil
	})

	var dead int32
	bus.SubscribeDLQ("dlq", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&dead, 1)
		return nil
	})

	res := bus.Publish(context.Background(), "x", nil, "")
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, int32(0), dead)
}

func TestPublish_ExhaustedGoesToEveryDLQ(t *testing.T) {
	logger := &mockLogger{}
	bus := New(testConfig(), logger, nil)

	var calls int32
	bus.Subscribe("trade.failed", "broken", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("always")
	})
	var okCalls int32
	bus.Subscribe("trade.failed", "healthy", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&okCalls, 1)
		return nil
	})

	var mu sync.Mutex
	var got []domain.Event
	for _, name := range []string{"dlq-a", "dlq-b"} {
		bus.SubscribeDLQ(name, func(ctx context.Context, evt domain.Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, evt)
			return nil
		})
	}
	bus.SubscribeDLQ("dlq-failing", func(ctx context.Context, evt domain.Event) error {
		return errors.New("dlq down")
	})

	res := bus.Publish(context.Background(), "trade.failed", map[string]string{"symbol": "ETH/USDT"}, "")

	assert.Equal(t, 1, res.Delivered, "healthy handler is unaffected")
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, int32(1), okCalls)
	require.Len(t, got, 2)
	for _, evt := range got {
		assert.Equal(t, TopicDLQ, evt.Topic)
		assert.Equal(t, "trade.failed", evt.Payload["original_topic"])
		assert.Equal(t, "broken", evt.Payload["failed_handler"])
		assert.Equal(t, "ETH/USDT", evt.Payload["symbol"])
		assert.Equal(t, "always", evt.Payload["error"])
	}
	assert.Contains(t, logger.errors(), "DLQ handler failed")
}

func TestPublish_PanicIsAFailure(t *testing.T) {
	bus := New(Config{MaxAttempts: 1}, &mockLogger{}, nil)
	bus.Subscribe("x", "panics", func(ctx context.Context, evt domain.Event) error {
		panic("kaboom")
	})
	var payload map[string]string
	bus.SubscribeDLQ("dlq", func(ctx context.Context, evt domain.Event) error {
		payload = evt.Payload
		return nil
	})

	res := bus.Publish(context.Background(), "x", nil, "")
	assert.Equal(t, 0, res.Delivered)
	assert.Contains(t, payload["error"], "kaboom")
}

func TestPublish_Dedup(t *testing.T) {
	cfg := testConfig()
	cfg.DedupWindow = 2
	bus := New(cfg, &mockLogger{}, nil)
	var calls int32
	bus.Subscribe("x", "h", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	ctx := context.Background()

	assert.Equal(t, 1, bus.Publish(ctx, "x", nil, "k1").Delivered)
	second := bus.Publish(ctx, "x", nil, "k1")
	assert.True(t, second.Deduplicated)
	assert.Equal(t, 0, second.Delivered)

	// Empty keys are never deduplicated.
	bus.Publish(ctx, "x", nil, "")
	bus.Publish(ctx, "x", nil, "")

	// k1 falls out of a window of two.
	bus.Publish(ctx, "x", nil, "k2")
	bus.Publish(ctx, "x", nil, "k3")
	assert.False(t, bus.Publish(ctx, "x", nil, "k1").Deduplicated)

	assert.Equal(t, int32(6), atomic.LoadInt32(&calls))
}

func TestPublish_ConcurrencyBounded(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 2
	bus := New(cfg, &mockLogger{}, nil)

	var active, peak int32
	for i := 0; i < 6; i++ {
		bus.Subscribe("x", "h", func(ctx context.Context, evt domain.Event) error {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return nil
		})
	}

	res := bus.Publish(context.Background(), "x", nil, "")
	assert.Equal(t, 6, res.Delivered)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestPublish_CanceledContextStopsRetries(t *testing.T) {
	cfg := Config{MaxAttempts: 5, BackoffMin: time.Second, BackoffMax: time.Second}
	bus := New(cfg, &mockLogger{}, nil)
	var calls int32
	bus.Subscribe("x", "h", func(ctx context.Context, evt domain.Event) error {
		atomic.AddInt32(&calls, 1)
		return assert.AnError
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	res := bus.Publish(ctx, "x", nil, "")

	assert.Equal(t, 0, res.Delivered)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestDedupWindow(t *testing.T) {
	d := newDedupWindow(3)
	assert.False(t, d.observe("a"))
	assert.True(t, d.observe("a"))
	assert.False(t, d.observe("b"))
	assert.False(t, d.observe("c"))
	assert.False(t, d.observe("d")) // evicts a
	assert.False(t, d.observe("a"))
	assert.True(t, d.observe("d"))
}
