package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishDispatchesToSubscriber(t *testing.T) {
	bus := NewBus(time.Second)

	received := make(chan SystemEvent, 1)
	bus.Subscribe(EventTaskCreated, "test", func(ctx context.Context, evt SystemEvent) {
		received <- evt
	})

	bus.Publish(SystemEvent{Type: EventTaskCreated, EntityID: "task-1", Payload: "hello"})

	select {
	case evt := <-received:
		require.Equal(t, "task-1", evt.EntityID)
		require.Equal(t, "hello", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestBus_PerEntityFIFOOrdering(t *testing.T) {
	bus := NewBus(time.Second)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 10)

	bus.Subscribe(EventTaskStatusChanged, "recorder", func(ctx context.Context, evt SystemEvent) {
		mu.Lock()
		order = append(order, evt.Payload.(int))
		mu.Unlock()
		done <- struct{}{}
	})

	for i := 0; i < 10; i++ {
		bus.Publish(SystemEvent{Type: EventTaskStatusChanged, EntityID: "task-1", Payload: i})
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		require.Equal(t, i, v, "events for a single entity must dispatch in publish order")
	}
}

func TestBus_HandlerTimeoutEmitsDiagnosticEvent(t *testing.T) {
	bus := NewBus(10 * time.Millisecond)

	timeoutSeen := make(chan struct{}, 1)
	bus.Subscribe(EventBusHandlerTimeout, "watchdog", func(ctx context.Context, evt SystemEvent) {
		timeoutSeen <- struct{}{}
	})
	bus.Subscribe(EventTaskCreated, "slow", func(ctx context.Context, evt SystemEvent) {
		<-ctx.Done()
	})

	bus.Publish(SystemEvent{Type: EventTaskCreated, EntityID: "task-1"})

	select {
	case <-timeoutSeen:
	case <-time.After(time.Second):
		t.Fatal("expected handler timeout event")
	}
}
