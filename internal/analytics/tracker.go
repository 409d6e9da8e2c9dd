// Package analytics buffers telemetry events locally and flushes them to
// the remote store in batches. Delivery is best-effort: ordering is relaxed,
// the buffer drops its oldest events when full, and a failed flush is simply
// retried on the next one.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/remote"
)

// Defaults.
const (
	DefaultMaxEvents     = 1000
	DefaultBatchSize     = 100
	DefaultFlushInterval = 30 * time.Second
)

// Buffer is the local event store. *store.Store implements it.
type Buffer interface {
	AppendAnalytics(ctx context.Context, ev model.AnalyticsEvent, seq int64, maxEvents int) (int64, error)
	ReadAnalytics(ctx context.Context, limit int) ([]model.AnalyticsEvent, error)
	DeleteAnalytics(ctx context.Context, ids []string) error
	LastAnalyticsSeq(ctx context.Context) (int64, error)
}

type Tracker struct {
	buffer    Buffer
	remote    remote.Store
	clock     *engine.Clock
	ids       engine.IDGenerator
	now       func() time.Time
	maxEvents int
	batchSize int
	logger    *zap.Logger
}

type Option func(*Tracker)

func WithMaxEvents(n int) Option {
	return func(t *Tracker) { t.maxEvents = n }
}

func WithBatchSize(n int) Option {
	return func(t *Tracker) { t.batchSize = n }
}

func WithIDGenerator(g engine.IDGenerator) Option {
	return func(t *Tracker) { t.ids = g }
}

func WithNow(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// New creates a Tracker, resuming its sequence after the buffered events.
func New(ctx context.Context, buffer Buffer, rs remote.Store, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		buffer:    buffer,
		remote:    rs,
		ids:       engine.UUIDv7Generator{},
		now:       time.Now,
		maxEvents: DefaultMaxEvents,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	last, err := buffer.LastAnalyticsSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume analytics buffer: %w", err)
	}
	t.clock = engine.NewClockAt(last)
	return t, nil
}

// Track buffers one event.
func (t *Tracker) Track(ctx context.Context, name string, props map[string]any) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("analytics event name is required")
	}
	ev := model.AnalyticsEvent{
		ID:         t.ids.Generate(),
		Name:       name,
		Properties: props,
		RecordedAt: t.now().UTC(),
	}
	dropped, err := t.buffer.AppendAnalytics(ctx, ev, t.clock.Next(), t.maxEvents)
	if err != nil {
		return fmt.Errorf("track %s: %w", name, err)
	}
	if dropped > 0 {
		t.logger.Warn("analytics buffer full; oldest events dropped", zap.Int64("dropped", dropped))
	}
	return nil
}

// Flush sends buffered events in batches until the buffer is empty or a
// commit fails. It returns the number of events delivered.
func (t *Tracker) Flush(ctx context.Context) (int, error) {
	sent := 0
	for {
		events, err := t.buffer.ReadAnalytics(ctx, t.batchSize)
		if err != nil {
			return sent, fmt.Errorf("read analytics buffer: %w", err)
		}
		if len(events) == 0 {
			return sent, nil
		}

		writes := make([]remote.Write, 0, len(events))
		ids := make([]string, 0, len(events))
		for _, ev := range events {
			doc := remote.Doc{
				"event":      ev.Name,
				"properties": ev.Properties,
				"clientTime": ev.RecordedAt,
				"timestamp":  remote.ServerTimestamp(),
			}
			writes = append(writes, remote.SetWrite(remote.NewRef(remote.Analytics, model.AnalyticsID(ev.ID)), doc))
			ids = append(ids, ev.ID)
		}

		if err := t.remote.Commit(ctx, writes); err != nil {
			t.logger.Warn("analytics flush failed; will retry", zap.Int("events", len(events)), zap.Error(err))
			return sent, err
		}
		if err := t.buffer.DeleteAnalytics(ctx, ids); err != nil {
			// Delivered; the next flush rewrites the same documents.
			return sent, fmt.Errorf("clear flushed analytics: %w", err)
		}
		sent += len(events)
		if len(events) < t.batchSize {
			return sent, nil
		}
	}
}

// Run flushes every interval while online reports true.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, online func() bool) error {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if online != nil && !online() {
			continue
		}
		if n, err := t.Flush(ctx); err == nil && n > 0 {
			t.logger.Debug("analytics flushed", zap.Int("events", n))
		}
	}
}
