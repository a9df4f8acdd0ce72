// Package hooks implements component K: the process-wide, synchronous
// hook registry every recordOutcome/startTask call dispatches events
// through post-commit.
//
// Adapted from the teacher's runtime/agent/hooks.Bus, with one semantic
// change the spec requires: that bus stops at the first subscriber error
// and propagates it to the publisher; this one never does. §4.K requires
// dispatch to continue through every subscriber even when one fails, and
// §7 requires hook-dispatch errors to be logged and suppressed, never
// thrown back to the caller — a hook must never be able to unwind
// already-committed Truth.
package hooks

import (
	"context"
	"sync"

	"github.com/flowspec/engine/telemetry"
)

type (
	// Bus publishes events to registered subscribers in a fan-out pattern.
	// The bus is thread-safe and supports concurrent Publish, Register,
	// and Close operations.
	Bus interface {
		// Publish delivers event to every currently registered subscriber,
		// in registration order. A subscriber error is logged and
		// swallowed; Publish has no return value.
		Publish(ctx context.Context, event Event)

		// Register adds a subscriber and returns a Subscription that can
		// be closed to unregister it.
		Register(sub Subscriber) Subscription
	}

	// Subscriber reacts to published events.
	Subscriber interface {
		HandleEvent(ctx context.Context, event Event) error
	}

	// SubscriberFunc adapts a plain function to the Subscriber interface.
	SubscriberFunc func(ctx context.Context, event Event) error

	// Subscription represents an active registration. Close is idempotent
	// and safe to call multiple times.
	Subscription interface {
		Close()
	}

	bus struct {
		mu          sync.RWMutex
		subscribers map[*subscription]Subscriber
		order       []*subscription
		logger      telemetry.Logger
	}

	subscription struct {
		bus  *bus
		once sync.Once
	}
)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error { return f(ctx, event) }

// NewBus constructs an in-memory event bus. logger receives one Error
// call per subscriber failure or panic; pass telemetry.NewNoopLogger()
// if dispatch failures need not be observed.
func NewBus(logger telemetry.Logger) Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &bus{subscribers: make(map[*subscription]Subscriber), logger: logger}
}

// Publish delivers event to every subscriber registered at the time of
// the call, in registration order (§4.K "dispatch order follows write
// order" — callers are responsible for calling Publish once per event in
// the order §4.F step 12 specifies). A subscriber's error or panic is
// logged and does not stop delivery to the remaining subscribers, and
// never propagates to the caller.
func (b *bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.order))
	for _, s := range b.order {
		if sub, ok := b.subscribers[s]; ok {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		b.dispatchOne(ctx, sub, event)
	}
}

func (b *bus) dispatchOne(ctx context.Context, sub Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "hook subscriber panicked", "event", event.Type(), "recover", r)
		}
	}()
	if err := sub.HandleEvent(ctx, event); err != nil {
		b.logger.Error(ctx, "hook subscriber failed", "event", event.Type(), "error", err)
	}
}

// Register adds sub to the bus.
func (b *bus) Register(sub Subscriber) Subscription {
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.order = append(b.order, s)
	b.mu.Unlock()
	return s
}

// Close unregisters the subscription. Idempotent.
func (s *subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
}
