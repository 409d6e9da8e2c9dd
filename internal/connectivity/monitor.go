// Package connectivity tracks whether the remote store is reachable and
// signals offline to online edges.
package connectivity

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPingInterval is how often Run pings the remote store.
const DefaultPingInterval = 10 * time.Second

// subscriberBuffer bounds undelivered transitions per subscriber.
const subscriberBuffer = 8

// Transition is one connectivity edge.
type Transition struct {
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Pinger checks reachability. remote.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor holds the current connectivity state.
//
// Thread-safety: all methods are safe for concurrent use.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	subs        map[int]chan Transition
	nextSub     int
	onReconnect func()
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Monitor)

// WithOnReconnect registers fn to run once per offline to online edge.
func WithOnReconnect(fn func()) Option {
	return func(m *Monitor) { m.onReconnect = fn }
}

func WithNow(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor starting in the given state.
func NewMonitor(online bool, opts ...Option) *Monitor {
	m := &Monitor{
		online: online,
		subs:   make(map[int]chan Transition),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the observed state and reports whether it was an edge.
// Repeated observations of the same state are ignored.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	tr := Transition{Online: online, At: m.now().UTC()}
	for id, ch := range m.subs {
		select {
		case ch <- tr:
		default:
			m.logger.Warn("connectivity subscriber is full; transition dropped", zap.Int("subscriber", id))
		}
	}
	reconnect := m.onReconnect
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.Bool("online", online))
	if online && reconnect != nil {
		reconnect()
	}
	return true
}

// Subscribe returns a channel of future transitions. It is closed when ctx
// ends.
func (m *Monitor) Subscribe(ctx context.Context) <-chan Transition {
	ch := make(chan Transition, subscriberBuffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch
}

// Run pings p every interval until ctx ends, feeding the result to Set.
// The first ping runs immediately.
func (m *Monitor) Run(ctx context.Context, p Pinger, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := p.Ping(pctx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.logger.Debug("ping failed", zap.Error(err))
		}
		m.Set(err == nil)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
