// Package bus implements the in-process publish/subscribe broker that is the
// sole integration point between pipeline components.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pricegov/internal/events"
	"pricegov/internal/obs"
	"pricegov/internal/telemetry"
)

// Handler receives every accepted event on a subscribed topic. Handlers run
// synchronously on the publisher's goroutine; anything that does slow I/O
// must hand the work off (see internal/worker) and return quickly, or it
// stalls the publisher.
type Handler func(ctx context.Context, env events.Envelope)

// Appender mirrors accepted events to the audit journal.
type Appender interface {
	Append(env events.Envelope) error
}

// Bus dispatches events to subscribers.
//
// Delivery contract: handlers for a topic are invoked in registration order.
// Events published by a single caller to a single topic reach each subscriber
// in the order issued. There is no ordering guarantee across topics or across
// concurrent publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[events.Topic][]Handler
	journal Appender
}

// New creates a bus. journal may be nil (no audit mirror), which only makes
// sense in tests.
func New(journal Appender) *Bus {
	return &Bus{
		subs:    make(map[events.Topic][]Handler),
		journal: journal,
	}
}

// Subscribe registers a handler for a topic. Multiple handlers per topic are
// permitted.
func (b *Bus) Subscribe(topic events.Topic, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], h)
	b.mu.Unlock()
}

// Publish validates the payload, mirrors the envelope to the journal, and
// invokes every subscriber for the payload's topic. Validation failures are
// returned to the caller; a journal failure is logged and counted but never
// fails the publish; a subscriber panic is caught and never reaches the
// publisher or later subscribers.
func (b *Bus) Publish(ctx context.Context, payload events.Payload) error {
	if payload == nil {
		return fmt.Errorf("publish: nil payload")
	}
	if err := payload.Validate(); err != nil {
		telemetry.EventsRejected.Inc()
		return err
	}

	env := events.Envelope{
		Topic:         payload.Topic(),
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: payload.CorrelationID(),
	}

	if b.journal != nil {
		if err := b.journal.Append(env); err != nil {
			telemetry.JournalFailures.Inc()
			obs.Logger.Warn("journal append failed", "topic", string(env.Topic), "error", err)
		}
	}

	telemetry.EventsPublished.WithLabelValues(string(env.Topic)).Inc()

	b.mu.RLock()
	handlers := b.subs[env.Topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, env)
	}
	return nil
}

func (b *Bus) dispatch(ctx context.Context, h Handler, env events.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.HandlerFailures.WithLabelValues(string(env.Topic)).Inc()
			obs.Logger.Error("subscriber panicked",
				"topic", string(env.Topic),
				"correlation_id", env.CorrelationID,
				"panic", fmt.Sprint(r))
		}
	}()
	h(ctx, env)
}
