package engine

import (
	"context"
	"sync"
)

// Notifier fans outbound events out to subscribers.
//
// Each subscriber owns an unbounded mailbox and a pump goroutine, so a slow
// subscriber delays only itself. Events are delivered to a subscriber in
// publish order.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*eventQueue
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]*eventQueue)}
}

// Publish delivers e to every current subscriber. It never blocks.
func (n *Notifier) Publish(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, q := range n.subs {
		q.Enqueue(e)
	}
}

// Subscribe returns a channel receiving every event published after the
// call. The channel is closed when ctx ends.
func (n *Notifier) Subscribe(ctx context.Context) <-chan Event {
	q := newEventQueue()

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = q
	n.mu.Unlock()

	out := make(chan Event)
	go func() {
		defer close(out)
		defer func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			q.Close()
		}()

		for {
			if e, ok := q.TryDequeue(); ok {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-q.Wait():
			}
		}
	}()
	return out
}

// Subscribers returns the number of live subscriptions.
func (n *Notifier) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
