package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one dispatched event. A handler's wall time is bounded
// by the bus's HandlerTimeout; exceeding it does not block the entity's
// queue — the bus logs and publishes EventBusHandlerTimeout, stops waiting
// for the handler (its goroutine runs on until the handler returns) and
// moves on.
type Handler func(ctx context.Context, evt SystemEvent)

// Bus is an asynchronous in-process publish/subscribe dispatcher: Publish
// queues the event and returns, and each entity's own worker goroutine
// delivers it to the handlers. Delivery never happens inside the Publish
// call. Handlers for the same EntityID are invoked in publish order
// (per-entity FIFO, spec.md §4.7); handlers for different entities may run
// concurrently.
type Bus struct {
	handlerTimeout time.Duration

	mu          sync.Mutex
	subscribers map[EventType][]subscriber
	queues      map[string]*entityQueue
}

type subscriber struct {
	name    string
	handler Handler
}

// entityQueue serializes dispatch for a single entity_id so handlers never
// race on that entity's state.
type entityQueue struct {
	mu      sync.Mutex
	pending chan SystemEvent
	started bool
}

// NewBus constructs an event bus with the given per-handler timeout.
func NewBus(handlerTimeout time.Duration) *Bus {
	return &Bus{
		handlerTimeout: handlerTimeout,
		subscribers:    make(map[EventType][]subscriber),
		queues:         make(map[string]*entityQueue),
	}
}

// Subscribe registers a named handler for an event type. name is used only
// for EventBusHandlerTimeout diagnostics.
func (b *Bus) Subscribe(eventType EventType, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{name: name, handler: h})
}

// Publish enqueues evt for dispatch to every subscriber of evt.Type, FIFO
// per evt.EntityID. Publish does not wait for handlers to run; it blocks
// only while that entity's 256-event buffer is full.
func (b *Bus) Publish(evt SystemEvent) {
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now()
	}

	q := b.queueFor(evt.EntityID)
	select {
	case q.pending <- evt:
	default:
		// Queue is saturated; drop to a blocking send rather than lose the
		// event — the per-entity queue is the ordering guarantee, not a
		// best-effort buffer.
		q.pending <- evt
	}
}

func (b *Bus) queueFor(entityID string) *entityQueue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[entityID]
	if !ok {
		q = &entityQueue{pending: make(chan SystemEvent, 256)}
		b.queues[entityID] = q
	}
	if !q.started {
		q.started = true
		go b.drain(entityID, q)
	}
	return q
}

func (b *Bus) drain(entityID string, q *entityQueue) {
	for evt := range q.pending {
		b.dispatch(evt)
	}
}

func (b *Bus) dispatch(evt SystemEvent) {
	b.mu.Lock()
	subs := append([]subscriber(nil), b.subscribers[evt.Type]...)
	b.mu.Unlock()

	for _, sub := range subs {
		b.invoke(sub, evt)
	}
}

func (b *Bus) invoke(sub subscriber, evt SystemEvent) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if b.handlerTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, b.handlerTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.handler(ctx, evt)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("event handler exceeded deadline",
			"subscriber", sub.name, "event_type", evt.Type, "entity_id", evt.EntityID)
		b.dispatch(SystemEvent{
			Type:     EventBusHandlerTimeout,
			EntityID: evt.EntityID,
			Payload: HandlerTimeoutPayload{
				SubscriberName: sub.name,
				OriginalType:   string(evt.Type),
			},
		})
	}
}
