package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainEvent(t *testing.T, q *eventQueue) Event {
	t.Helper()
	e, ok := q.TryDequeue()
	require.True(t, ok, "expected an event")
	return e
}

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(Event{Type: EventMatchCreated})
	q.Enqueue(Event{Type: EventActionDeadLettered})
	q.Enqueue(Event{Type: EventDrainComplete})

	assert.Equal(t, EventMatchCreated, drainEvent(t, q).Type)
	assert.Equal(t, EventActionDeadLettered, drainEvent(t, q).Type)
	assert.Equal(t, EventDrainComplete, drainEvent(t, q).Type)

	_, ok := q.TryDequeue()
	assert.False(t, ok, "queue should be empty")
}

func TestEventQueue_SignalCoalesces(t *testing.T) {
	q := newEventQueue()

	q.Enqueue(Event{Type: EventDrainComplete})
	q.Enqueue(Event{Type: EventDrainComplete})

	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a pending signal")
	}
	select {
	case <-q.Wait():
		t.Fatal("signals should coalesce into one")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestEventQueue_Enqueue_AfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(Event{Type: EventDrainComplete}))
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ThreadSafe(t *testing.T) {
	q := newEventQueue()
	const goroutines = 50

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(Event{Type: EventDrainComplete})
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines, q.Len())
}
