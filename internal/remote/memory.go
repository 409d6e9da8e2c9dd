package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type versioned struct {
	doc     Doc
	version int64
}

// MemoryStore is an in-process Store. Transactions are optimistic: every
// document read is recorded with its version and the commit fails with a
// conflict if any of them moved.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[Ref]versioned
	version int64
	now     func() time.Time

	offline  atomic.Bool
	failures []error

	// beforeCommit runs after a transaction's fn returns and before its
	// read set is validated. Tests use it to interleave writers.
	beforeCommit func()
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the source of server timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates an empty, online store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		docs: make(map[Ref]versioned),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOnline toggles reachability. While offline every call fails with a
// transient ErrUnavailable.
func (m *MemoryStore) SetOnline(online bool) { m.offline.Store(!online) }

// Online reports the current reachability.
func (m *MemoryStore) Online() bool { return !m.offline.Load() }

// FailNext makes the next len(errs) mutating calls fail with the given errors
// in order.
func (m *MemoryStore) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// BeforeCommit installs a hook run inside every transaction commit.
func (m *MemoryStore) BeforeCommit(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeCommit = fn
}

func (m *MemoryStore) takeFailure() error {
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}

func (m *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.offline.Load() {
		return Unavailable(op)
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, ref Ref) (Doc, error) {
	if err := m.check(ctx, "get "+ref.String()); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.docs[ref]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref, ErrNotFound)
	}
	return Normalize(v.doc)
}

func (m *MemoryStore) Set(ctx context.Context, ref Ref, data Doc) error {
	return m.Commit(ctx, []Write{SetWrite(ref, data)})
}

func (m *MemoryStore) Update(ctx context.Context, ref Ref, fields Doc) error {
	return m.Commit(ctx, []Write{UpdateWrite(ref, fields)})
}

func (m *MemoryStore) Commit(ctx context.Context, writes []Write) error {
	if err := m.check(ctx, "commit"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	return m.applyLocked(writes)
}

// applyLocked computes every write against a staged view and installs the
// result only if all succeed.
func (m *MemoryStore) applyLocked(writes []Write) error {
	now := m.now()
	staged := make(map[Ref]Doc, len(writes))
	for _, w := range writes {
		current, exists := staged[w.Ref]
		if !exists {
			if v, ok := m.docs[w.Ref]; ok {
				current, exists = v.doc, true
			}
		}
		next, err := Apply(current, exists, w, now)
		if err != nil {
			return err
		}
		staged[w.Ref] = next
	}
	for ref, d := range staged {
		m.version++
		m.docs[ref] = versioned{doc: d, version: m.version}
	}
	return nil
}

type memoryTx struct {
	writeBuffer
	store *MemoryStore
	reads map[Ref]int64
}

func (t *memoryTx) Get(ctx context.Context, ref Ref) (Doc, error) {
	if err := t.store.check(ctx, "get "+ref.String()); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	v, ok := t.store.docs[ref]
	if _, seen := t.reads[ref]; !seen {
		t.reads[ref] = v.version
	}
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref, ErrNotFound)
	}
	return Normalize(v.doc)
}

func (m *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := m.check(ctx, "begin transaction"); err != nil {
		return err
	}
	tx := &memoryTx{store: m, reads: make(map[Ref]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := m.check(ctx, "commit transaction"); err != nil {
		return err
	}

	m.mu.Lock()
	hook := m.beforeCommit
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	for ref, version := range tx.reads {
		if m.docs[ref].version != version {
			return Conflict("commit transaction: " + ref.String() + " changed")
		}
	}
	return m.applyLocked(tx.writes)
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.check(ctx, "ping")
}

// Collection returns a copy of every document in collection keyed by id.
func (m *MemoryStore) Collection(name string) map[string]Doc {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Doc)
	for ref, v := range m.docs {
		if ref.Collection != name {
			continue
		}
		if d, err := Normalize(v.doc); err == nil {
			out[ref.ID] = d
		}
	}
	return out
}

// IDs returns the sorted document ids of collection.
func (m *MemoryStore) IDs(name string) []string {
	docs := m.Collection(name)
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
