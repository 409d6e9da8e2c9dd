package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AakashB275/BrandModel/internal/model"
)

// MemoryStorage is a non-durable Storage for tests and the scenario harness.
// It can be shared across Queue instances to simulate a process restart.
type MemoryStorage struct {
	mu      sync.Mutex
	actions map[string]model.PendingAction
	dead    map[string]model.DeadLetter
	lastSeq int64
	closed  bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		actions: make(map[string]model.PendingAction),
		dead:    make(map[string]model.DeadLetter),
	}
}

func (m *MemoryStorage) WriteAction(_ context.Context, a model.PendingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[a.ID]; ok {
		return nil
	}
	m.actions[a.ID] = a
	if a.Seq > m.lastSeq {
		m.lastSeq = a.Seq
	}
	return nil
}

func (m *MemoryStorage) ReadActions(context.Context) ([]model.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.PendingAction, 0, len(m.actions))
	for _, a := range m.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStorage) DeleteAction(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actions, id)
	return nil
}

func (m *MemoryStorage) UpdateRetry(_ context.Context, id string, attempts int, next time.Time, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return fmt.Errorf("update retry %s: %w", id, ErrNotFound)
	}
	a.Attempts = attempts
	a.NextAttemptAt = next
	a.LastError = lastError
	m.actions[id] = a
	return nil
}

func (m *MemoryStorage) MoveToDeadLetter(_ context.Context, id, code, lastError string, at time.Time) (model.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dl, ok := m.dead[id]; ok {
		return dl, nil
	}
	a, ok := m.actions[id]
	if !ok {
		return model.DeadLetter{}, fmt.Errorf("dead-letter %s: %w", id, ErrNotFound)
	}
	a.LastError = lastError
	dl := model.DeadLetter{Action: a, ErrorCode: code, LastError: lastError, DeadLetteredAt: at}
	m.dead[id] = dl
	delete(m.actions, id)
	return dl, nil
}

func (m *MemoryStorage) ReadDeadLetters(context.Context) ([]model.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.DeadLetter, 0, len(m.dead))
	for _, dl := range m.dead {
		out = append(out, dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action.Seq < out[j].Action.Seq })
	return out, nil
}

func (m *MemoryStorage) RequeueDeadLetter(_ context.Context, id string, seq int64) (model.PendingAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.dead[id]
	if !ok {
		return model.PendingAction{}, fmt.Errorf("requeue %s: %w", id, ErrNotFound)
	}
	a := dl.Action
	a.Seq = seq
	a.Attempts = 0
	a.NextAttemptAt = time.Time{}
	a.LastError = ""
	m.actions[id] = a
	delete(m.dead, id)
	if seq > m.lastSeq {
		m.lastSeq = seq
	}
	return a, nil
}

func (m *MemoryStorage) LastSeq(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeq, nil
}

// Close marks the storage closed. Data is retained so a new Queue over the
// same MemoryStorage sees it, as a reopened file would.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
