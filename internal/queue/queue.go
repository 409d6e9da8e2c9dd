package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/store"
)

// ErrNotFound is returned for operations on an unknown action id. Every
// Storage implementation wraps it.
var ErrNotFound = store.ErrNotFound

// Storage persists queue state. Implementations must make every call durable
// before returning and must return actions ordered by seq.
type Storage interface {
	WriteAction(ctx context.Context, a model.PendingAction) error
	ReadActions(ctx context.Context) ([]model.PendingAction, error)
	DeleteAction(ctx context.Context, id string) error
	UpdateRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error
	MoveToDeadLetter(ctx context.Context, id, code, lastError string, at time.Time) (model.DeadLetter, error)
	ReadDeadLetters(ctx context.Context) ([]model.DeadLetter, error)
	RequeueDeadLetter(ctx context.Context, id string, seq int64) (model.PendingAction, error)
	LastSeq(ctx context.Context) (int64, error)
	Close() error
}

// Queue is the durable, ordered action queue.
//
// Thread-safety: all methods are safe for concurrent use. Enqueue is
// serialized so seq order equals persistence order.
type Queue struct {
	storage Storage
	clock   *engine.Clock
	ids     engine.IDGenerator
	now     func() time.Time
	logger  *zap.Logger

	enqueueMu sync.Mutex
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator overrides the UUIDv7 action id generator.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(q *Queue) { q.ids = g }
}

// WithNow overrides the wall clock used for enqueuedAt and dead-letter times.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// New creates a Queue over storage, resuming the logical clock after the
// highest persisted seq.
func New(ctx context.Context, storage Storage, opts ...Option) (*Queue, error) {
	q := &Queue{
		storage: storage,
		ids:     engine.UUIDv7Generator{},
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}

	last, err := storage.LastSeq(ctx)
	if err != nil {
		return nil, engine.NewLocalPersistenceError("read last seq", err)
	}
	q.clock = engine.NewClockAt(last)
	return q, nil
}

// Enqueue validates payload, assigns id, seq and enqueuedAt, and persists the
// action. It returns only after the action is durable.
//
// Errors are validation failures (wrapping model.ErrInvalidPayload) or local
// persistence failures.
func (q *Queue) Enqueue(ctx context.Context, kind model.ActionKind, payload any) (model.PendingAction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("%w: marshal %s: %v", model.ErrInvalidPayload, kind, err)
	}

	q.enqueueMu.Lock()
	defer q.enqueueMu.Unlock()

	a := model.PendingAction{
		ID:         q.ids.Generate(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: q.now().UTC(),
	}
	if _, err := model.DecodePayload(a); err != nil {
		return model.PendingAction{}, err
	}
	a.Seq = q.clock.Next()

	if err := q.storage.WriteAction(ctx, a); err != nil {
		return model.PendingAction{}, engine.NewLocalPersistenceError("persist action", err)
	}

	q.logger.Debug("action enqueued",
		zap.String("action_id", a.ID),
		zap.String("kind", string(kind)),
		zap.Int64("seq", a.Seq))
	return a, nil
}

// Drainable returns every non-dead-lettered action in enqueue order,
// including those still waiting on backoff.
func (q *Queue) Drainable(ctx context.Context) ([]model.PendingAction, error) {
	actions, err := q.storage.ReadActions(ctx)
	if err != nil {
		return nil, engine.NewLocalPersistenceError("read queue", err)
	}
	return actions, nil
}

// Remove deletes a confirmed action.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if err := q.storage.DeleteAction(ctx, id); err != nil {
		return engine.NewLocalPersistenceError("remove action "+id, err)
	}
	return nil
}

// MarkFailed persists retry bookkeeping for a failed action.
func (q *Queue) MarkFailed(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error {
	if err := q.storage.UpdateRetry(ctx, id, attempts, nextAttemptAt.UTC(), lastError); err != nil {
		return engine.NewLocalPersistenceError("mark failed "+id, err)
	}
	return nil
}

// MoveToDeadLetter removes an action from the retry path and records it for
// diagnostics, atomically.
func (q *Queue) MoveToDeadLetter(ctx context.Context, id, code, lastError string) (model.DeadLetter, error) {
	dl, err := q.storage.MoveToDeadLetter(ctx, id, code, lastError, q.now().UTC())
	if err != nil {
		return model.DeadLetter{}, engine.NewLocalPersistenceError("dead-letter "+id, err)
	}
	return dl, nil
}

// DeadLetters returns the dead-letter set in original enqueue order.
func (q *Queue) DeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	dls, err := q.storage.ReadDeadLetters(ctx)
	if err != nil {
		return nil, engine.NewLocalPersistenceError("read dead letters", err)
	}
	return dls, nil
}

// RequeueDeadLetter is the explicit operator action that returns a dead
// letter to the tail of the queue with zero attempts.
func (q *Queue) RequeueDeadLetter(ctx context.Context, id string) (model.PendingAction, error) {
	q.enqueueMu.Lock()
	defer q.enqueueMu.Unlock()

	a, err := q.storage.RequeueDeadLetter(ctx, id, q.clock.Next())
	if err != nil {
		return model.PendingAction{}, fmt.Errorf("requeue %s: %w", id, err)
	}
	q.logger.Info("dead letter requeued", zap.String("action_id", id), zap.Int64("seq", a.Seq))
	return a, nil
}

// Len returns the number of pending actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	actions, err := q.Drainable(ctx)
	if err != nil {
		return 0, err
	}
	return len(actions), nil
}

// Close closes the storage backend.
func (q *Queue) Close() error {
	return q.storage.Close()
}
