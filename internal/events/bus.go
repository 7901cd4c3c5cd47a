package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/storeledger/storeledger/internal/observability"
	"github.com/storeledger/storeledger/internal/shared"
)

// Handler consumes a single event. Returning an error schedules a retry.
type Handler func(ctx context.Context, evt Event) error

// Config tunes delivery.
type Config struct {
	MaxAttempts     int
	DeliveryTimeout time.Duration
	Backoff         time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 50 * time.Millisecond
	}
	return c
}

type subscription struct {
	name    string
	handler Handler
	inline  bool
}

// SubscribeOption customises a subscription.
type SubscribeOption func(*subscription)

// Inline delivers on the publisher goroutine before Publish returns.
func Inline() SubscribeOption {
	return func(s *subscription) {
		s.inline = true
	}
}

// Bus is an in-process fan-out with per-subscriber isolation.
type Bus struct {
	logger     *slog.Logger
	cfg        Config
	deliveries *prometheus.CounterVec

	mu     sync.RWMutex
	subs   map[Type][]subscription
	closed bool
	wg     sync.WaitGroup

	// halt is cancelled when Close gives up draining; pending async retries stop.
	halt     context.Context
	haltFunc context.CancelFunc
}

// NewBus constructs a bus. A nil registerer disables metrics.
func NewBus(logger *slog.Logger, cfg Config, registerer prometheus.Registerer) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	halt, haltFunc := context.WithCancel(context.Background())
	bus := &Bus{
		logger:   logger.With(slog.String("component", "events")),
		cfg:      cfg.withDefaults(),
		subs:     make(map[Type][]subscription),
		halt:     halt,
		haltFunc: haltFunc,
	}
	if registerer != nil {
		vec, err := observability.RegisterCounterVec(registerer, prometheus.CounterOpts{
			Name: "storeledger_event_deliveries_total",
			Help: "Event deliveries by type, subscriber and outcome.",
		}, []string{"type", "subscriber", "outcome"})
		if err != nil {
			bus.logger.Warn("event metrics disabled", slog.Any("error", err))
		}
		bus.deliveries = vec
	}
	return bus
}

// Subscribe registers handler for an event type under a stable name.
func (b *Bus) Subscribe(t Type, name string, handler Handler, opts ...SubscribeOption) {
	if handler == nil {
		return
	}
	sub := subscription{name: name, handler: handler}
	for _, opt := range opts {
		opt(&sub)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], sub)
}

// Publish fans events out to every subscriber of their type. Subscriber
// failures are logged and never returned. Handlers run detached from ctx, but
// inline retries stop backing off once ctx is done.
func (b *Bus) Publish(ctx context.Context, evts ...Event) {
	if b == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	for _, evt := range evts {
		b.mu.RLock()
		if b.closed {
			b.mu.RUnlock()
			b.logger.Warn("event dropped after close", slog.String("type", string(evt.Type)), slog.String("event_id", evt.ID.String()))
			continue
		}
		subs := append([]subscription(nil), b.subs[evt.Type]...)
		var inline []subscription
		for _, sub := range subs {
			if sub.inline {
				inline = append(inline, sub)
				continue
			}
			b.wg.Add(1)
			go func(sub subscription, evt Event) {
				defer b.wg.Done()
				b.deliver(base, b.halt, sub, evt)
			}(sub, evt)
		}
		b.mu.RUnlock()

		for _, sub := range inline {
			b.deliver(base, ctx, sub, evt)
		}
	}
}

// Wait blocks until in-flight asynchronous deliveries finish.
func (b *Bus) Wait() {
	b.wg.Wait()
}

// Close stops accepting events and drains in-flight deliveries.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.haltFunc()
		return nil
	case <-ctx.Done():
		b.haltFunc()
		return fmt.Errorf("events: drain: %w", ctx.Err())
	}
}

// deliver calls sub with ctx and waits out retry backoff unless wait is done.
func (b *Bus) deliver(ctx, wait context.Context, sub subscription, evt Event) {
	var err error
	attempts := 0
	for attempts < b.cfg.MaxAttempts {
		attempts++
		err = b.call(ctx, sub, evt)
		if err == nil {
			b.observe(evt.Type, sub.name, "success")
			return
		}
		if attempts == b.cfg.MaxAttempts {
			break
		}
		b.observe(evt.Type, sub.name, "retry")
		if werr := backoff(wait, b.cfg.Backoff*time.Duration(1<<(attempts-1))); werr != nil {
			err = errors.Join(err, werr)
			break
		}
	}
	b.observe(evt.Type, sub.name, "failure")
	subErr := &shared.SubscriberError{
		Subscriber: sub.name,
		EventType:  string(evt.Type),
		EventID:    evt.ID.String(),
		Attempts:   attempts,
		Err:        err,
	}
	b.logger.Error("event delivery failed",
		slog.String("subscriber", sub.name),
		slog.String("type", string(evt.Type)),
		slog.Int64("tenant_id", evt.TenantID),
		slog.Any("error", subErr))
}

func backoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Bus) call(ctx context.Context, sub subscription, evt Event) (err error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.DeliveryTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return sub.handler(ctx, evt)
}

func (b *Bus) observe(t Type, subscriber, outcome string) {
	if b.deliveries == nil {
		return
	}
	b.deliveries.WithLabelValues(string(t), subscriber, outcome).Inc()
}
