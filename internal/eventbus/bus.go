// Package eventbus is the in-process publish/subscribe bus.
//
// Subscriptions are exact topics or prefix wildcards ("trade.*", "*").
// Every matched handler gets at most one delivery per publish; a failing
// handler is retried with exponential backoff and jitter, then the event is
// handed to the dead-letter subscribers.
package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sourcegraph/conc"

	"cryptoSentinelBot/internal/domain"
	"cryptoSentinelBot/internal/metrics"
	"cryptoSentinelBot/internal/ports"
)

// Handler processes one event. A returned error (or panic) triggers a retry.
type Handler func(ctx context.Context, evt domain.Event) error

// Config tunes retries, concurrency and dedup.
type Config struct {
	MaxAttempts   int           // total calls per handler per publish (default 3)
	BackoffMin    time.Duration // first retry delay (default 250ms)
	BackoffMax    time.Duration // cap (default 5s)
	BackoffFactor float64       // multiplier (default 2)
	Concurrency   int           // bus-wide concurrent deliveries (default 32)
	DedupWindow   int           // 0 disables publish-time dedup
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 32
	}
	return c
}

type subscription struct {
	name    string
	handler Handler
}

// Bus implements ports.EventPublisher.
type Bus struct {
	cfg     Config
	logger  ports.Logger
	metrics *metrics.Metrics
	sem     chan struct{}

	mu       sync.RWMutex
	exact    map[string][]subscription
	prefixes map[string][]subscription
	dlq      []subscription
	dedup    *dedupWindow
}

// New creates a bus. m may be nil.
func New(cfg Config, logger ports.Logger, m *metrics.Metrics) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		sem:      make(chan struct{}, cfg.Concurrency),
		exact:    make(map[string][]subscription),
		prefixes: make(map[string][]subscription),
	}
	if cfg.DedupWindow > 0 {
		b.dedup = newDedupWindow(cfg.DedupWindow)
	}
	return b
}

// Subscribe registers h under name. A pattern ending in "*" matches by prefix.
func (b *Bus) Subscribe(pattern, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := subscription{name: name, handler: h}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		b.prefixes[prefix] = append(b.prefixes[prefix], sub)
		return
	}
	b.exact[pattern] = append(b.exact[pattern], sub)
}

// SubscribeDLQ registers a dead-letter subscriber. Its failures are only logged.
func (b *Bus) SubscribeDLQ(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dlq = append(b.dlq, subscription{name: name, handler: h})
}

// AttachLoggerDLQ registers a dead-letter subscriber that logs every dead letter.
func (b *Bus) AttachLoggerDLQ() {
	b.SubscribeDLQ("logger", func(ctx context.Context, evt domain.Event) error {
		fields := make(map[string]interface{}, len(evt.Payload))
		for k, v := range evt.Payload {
			fields[k] = v
		}
		b.logger.Error(ctx, fmt.Errorf("%s", evt.Payload["error"]), "Event dead-lettered", fields)
		return nil
	})
}

// Publish delivers an event to every matching handler and waits for them.
// A non-empty key is checked against the dedup window when it is enabled.
func (b *Bus) Publish(ctx context.Context, topic string, payload map[string]string, key string) domain.PublishResult {
	evt := domain.Event{
		Topic:     topic,
		Payload:   payload,
		Key:       key,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	if b.dedup != nil && key != "" && b.dedup.observe(key) {
		b.mu.Unlock()
		b.metrics.BusDeduplicated(topic)
		b.logger.Debug(ctx, "Publish suppressed by dedup window", map[string]interface{}{"topic": topic, "key": key})
		return domain.PublishResult{Deduplicated: true}
	}
	subs := b.matchLocked(topic)
	b.mu.Unlock()

	b.metrics.BusPublished(topic)
	if len(subs) == 0 {
		return domain.PublishResult{}
	}

	var (
		wg        conc.WaitGroup
		deliverMu sync.Mutex
		delivered int
	)
	for _, sub := range subs {
		sub := sub
		wg.Go(func() {
			if err := b.acquire(ctx); err != nil {
				b.deadLetter(ctx, evt, sub.name, err)
				return
			}
			defer b.release()

			if err := b.deliver(ctx, evt, sub); err != nil {
				b.deadLetter(ctx, evt, sub.name, err)
				return
			}
			deliverMu.Lock()
			delivered++
			deliverMu.Unlock()
		})
	}
	wg.Wait()

	return domain.PublishResult{Delivered: delivered}
}

func (b *Bus) matchLocked(topic string) []subscription {
	var subs []subscription
	subs = append(subs, b.exact[topic]...)
	for prefix, ps := range b.prefixes {
		if strings.HasPrefix(topic, prefix) {
			subs = append(subs, ps...)
		}
	}
	return subs
}

func (b *Bus) acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) release() { <-b.sem }

// deliver calls the handler up to MaxAttempts times with jittered backoff between calls.
func (b *Bus) deliver(ctx context.Context, evt domain.Event, sub subscription) error {
	bo := &backoff.Backoff{
		Min:    b.cfg.BackoffMin,
		Max:    b.cfg.BackoffMax,
		Factor: b.cfg.BackoffFactor,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		lastErr = safeCall(ctx, sub.handler, evt)
		if lastErr == nil {
			return nil
		}
		b.metrics.BusFailure(evt.Topic)
		b.logger.Warn(ctx, "Event handler failed", map[string]interface{}{
			"topic":   evt.Topic,
			"handler": sub.name,
			"attempt": attempt,
			"error":   lastErr.Error(),
		})
		if attempt == b.cfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(bo.Duration()):
		case <-ctx.Done():
			return fmt.Errorf("%w (last handler error: %v)", ctx.Err(), lastErr)
		}
	}
	return lastErr
}

func (b *Bus) deadLetter(ctx context.Context, evt domain.Event, handlerName string, cause error) {
	b.metrics.BusDeadLetter(evt.Topic)

	b.mu.RLock()
	dlq := append([]subscription(nil), b.dlq...)
	b.mu.RUnlock()

	if len(dlq) == 0 {
		b.logger.Error(ctx, cause, "Event dropped after retries (no DLQ subscribers)", map[string]interface{}{
			"topic":   evt.Topic,
			"handler": handlerName,
		})
		return
	}

	payload := make(map[string]string, len(evt.Payload)+3)
	for k, v := range evt.Payload {
		payload[k] = v
	}
	payload["original_topic"] = evt.Topic
	payload["failed_handler"] = handlerName
	payload["error"] = cause.Error()
	dead := domain.Event{Topic: TopicDLQ, Payload: payload, Key: evt.Key, Timestamp: time.Now().UTC()}

	for _, sub := range dlq {
		if err := safeCall(ctx, sub.handler, dead); err != nil {
			b.logger.Error(ctx, err, "DLQ handler failed", map[string]interface{}{
				"dlqHandler":    sub.name,
				"originalTopic": evt.Topic,
			})
		}
	}
}

// safeCall turns a handler panic into an error.
func safeCall(ctx context.Context, h Handler, evt domain.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, evt)
}
