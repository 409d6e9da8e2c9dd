package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AakashB275/BrandModel/internal/model"
)

// ErrDrainInProgress is returned by Drain when another drain is running.
var ErrDrainInProgress = errors.New("drain already in progress")

// Queue is the slice of the durable queue the executor needs.
type Queue interface {
	Drainable(ctx context.Context) ([]model.PendingAction, error)
	Remove(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) error
	MoveToDeadLetter(ctx context.Context, id string, code string, lastError string) (model.DeadLetter, error)
}

// Applier executes an action's remote effect. Implementations must be
// idempotent.
type Applier interface {
	Apply(ctx context.Context, action model.PendingAction) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, action model.PendingAction) error

func (f ApplierFunc) Apply(ctx context.Context, action model.PendingAction) error {
	return f(ctx, action)
}

// Recorder observes executor outcomes. Implemented by the metrics package.
type Recorder interface {
	ActionApplied(kind model.ActionKind, elapsed time.Duration)
	ActionFailed(kind model.ActionKind, code ErrorCode)
	ActionDeadLettered(kind model.ActionKind, code ErrorCode)
	DrainCompleted(report DrainReport, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ActionApplied(model.ActionKind, time.Duration) {}
func (nopRecorder) ActionFailed(model.ActionKind, ErrorCode) {}
func (nopRecorder) ActionDeadLettered(model.ActionKind, ErrorCode) {}
func (nopRecorder) DrainCompleted(DrainReport, time.Duration) {}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// Executor defaults.
const (
	DefaultBaseDelay     = time.Second
	DefaultMaxDelay      = 5 * time.Minute
	DefaultMaxAttempts   = 5
	DefaultActionTimeout = 15 * time.Second
	DefaultConcurrency   = 4
	DefaultRateLimit     = 20
	DefaultRateBurst     = 20
	DefaultConflictRetry = 3
)

// Config tunes the executor. Zero fields take the defaults above.
type Config struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	ActionTimeout time.Duration
	Concurrency   int
	// RateLimit applies per second across all entities. Negative disables it.
	RateLimit float64
	RateBurst int
	// ConflictRetries is how many times a conflicting apply is retried at
	// once before it counts as a failed attempt. Negative disables it.
	ConflictRetries int
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.RateBurst <= 0 {
		c.RateBurst = DefaultRateBurst
	}
	if c.ConflictRetries == 0 {
		c.ConflictRetries = DefaultConflictRetry
	}
	return c
}

// Executor drains the durable queue against the remote store.
//
// Thread-safety model:
//   - Drain(): safe from any goroutine; concurrent calls get ErrDrainInProgress
//     and schedule one more drain in Run once the running one finishes
//   - Run(): must be called from exactly one goroutine
type Executor struct {
	queue     Queue
	applier   Applier
	cfg       Config
	backoff   Backoff
	quota     AttemptQuota
	limiter   *rate.Limiter
	publisher Publisher
	recorder  Recorder
	logger    *zap.Logger
	now       func() time.Time

	draining atomic.Bool
	rerun    atomic.Bool
	wake     chan struct{}
}

// ExecutorOption configures optional collaborators.
type ExecutorOption func(*Executor)

// WithPublisher routes outbound events.
func WithPublisher(p Publisher) ExecutorOption {
	return func(e *Executor) { e.publisher = p }
}

// WithRecorder attaches an outcome recorder.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithNow overrides the wall clock used for backoff scheduling.
func WithNow(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor over q and applier.
func NewExecutor(q Queue, applier Applier, cfg Config, opts ...ExecutorOption) *Executor {
	cfg = cfg.withDefaults()

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit < 0 {
		limit = rate.Inf
	}

	e := &Executor{
		queue:     q,
		applier:   applier,
		cfg:       cfg,
		backoff:   Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		quota:     NewAttemptQuota(cfg.MaxAttempts),
		limiter:   rate.NewLimiter(limit, cfg.RateBurst),
		publisher: nopPublisher{},
		recorder:  nopRecorder{},
		logger:    zap.NewNop(),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config { return e.cfg }

// Draining reports whether a drain is currently running.
func (e *Executor) Draining() bool { return e.draining.Load() }

// outcome of one action within a chain.
type outcome int

const (
	outcomeApplied outcome = iota
	outcomeRetry
	outcomeDeadLettered
	outcomeAborted
)

type drainTally struct {
	mu     sync.Mutex
	report DrainReport
}

func (t *drainTally) add(fn func(r *DrainReport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.report)
}

func (t *drainTally) deferUntil(at time.Time) {
	t.add(func(r *DrainReport) {
		if r.NextAttemptAt.IsZero() || at.Before(r.NextAttemptAt) {
			r.NextAttemptAt = at
		}
	})
}

// Drain applies every due action once, in enqueue order per entity.
//
// It returns ErrDrainInProgress if another drain is running, and a local
// persistence error if the queue cannot be read. Apply failures never
// surface here; they are rescheduled or dead-lettered and reported through
// the publisher.
func (e *Executor) Drain(ctx context.Context) (DrainReport, error) {
	if !e.draining.CompareAndSwap(false, true) {
		e.requestRerun()
		return DrainReport{}, ErrDrainInProgress
	}
	defer func() {
		e.draining.Store(false)
		if e.rerun.Swap(false) {
			e.signalWake()
		}
	}()

	start := e.now()
	actions, err := e.queue.Drainable(ctx)
	if err != nil {
		return DrainReport{}, fmt.Errorf("read drainable actions: %w", err)
	}

	chains := groupByEntity(actions)
	tally := &drainTally{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, chain := range chains {
		g.Go(func() error {
			e.drainChain(gctx, chain, tally)
			return nil
		})
	}
	_ = g.Wait()

	report := tally.report
	elapsed := e.now().Sub(start)
	e.recorder.DrainCompleted(report, elapsed)
	e.logger.Info("drain complete",
		zap.Int("applied", report.Applied),
		zap.Int("failed", report.Failed),
		zap.Int("dead_lettered", report.DeadLettered),
		zap.Int("deferred", report.Deferred),
		zap.Duration("elapsed", elapsed))
	e.publisher.Publish(Event{Type: EventDrainComplete, At: e.now(), Drain: &report})
	return report, nil
}

// requestRerun records a drain request that arrived while another drain was
// running. Either the running drain's exit or this call observes the flag.
func (e *Executor) requestRerun() {
	e.rerun.Store(true)
	if !e.draining.Load() && e.rerun.Swap(false) {
		e.signalWake()
	}
}

func (e *Executor) signalWake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// chain is the ordered actions of one entity.
type chain struct {
	key     string
	actions []model.PendingAction
}

// groupByEntity splits actions into per-entity chains. Chains are returned in
// order of their first action; each chain keeps enqueue order.
func groupByEntity(actions []model.PendingAction) []chain {
	index := make(map[string]int)
	var chains []chain
	for _, a := range actions {
		key := model.EntityKey(a)
		i, ok := index[key]
		if !ok {
			i = len(chains)
			index[key] = i
			chains = append(chains, chain{key: key})
		}
		chains[i].actions = append(chains[i].actions, a)
	}
	return chains
}

func (e *Executor) drainChain(ctx context.Context, c chain, tally *drainTally) {
	for i, a := range c.actions {
		rest := len(c.actions) - i

		if ctx.Err() != nil {
			tally.add(func(r *DrainReport) { r.Deferred += rest })
			return
		}
		if !a.Ready(e.now()) {
			tally.add(func(r *DrainReport) { r.Deferred += rest })
			tally.deferUntil(a.NextAttemptAt)
			return
		}
		if err := e.limiter.Wait(ctx); err != nil {
			tally.add(func(r *DrainReport) { r.Deferred += rest })
			return
		}

		switch e.process(ctx, a, tally) {
		case outcomeApplied, outcomeDeadLettered:
			continue
		default:
			// Later actions of the same entity wait behind the failed one.
			if rest > 1 {
				tally.add(func(r *DrainReport) { r.Deferred += rest - 1 })
			}
			return
		}
	}
}

func (e *Executor) process(ctx context.Context, a model.PendingAction, tally *drainTally) outcome {
	log := e.logger.With(
		zap.String("action_id", a.ID),
		zap.String("kind", string(a.Kind)),
		zap.Int64("seq", a.Seq))

	start := e.now()
	err := e.apply(ctx, a)

	if err == nil {
		if rerr := e.queue.Remove(ctx, a.ID); rerr != nil {
			// The effect is applied; the next drain replays it idempotently.
			log.Error("remove applied action", zap.Error(rerr))
		}
		e.recorder.ActionApplied(a.Kind, e.now().Sub(start))
		tally.add(func(r *DrainReport) { r.Applied++ })
		log.Debug("action applied")
		return outcomeApplied
	}

	if ctx.Err() != nil {
		// The drain itself was cancelled; the attempt does not count.
		log.Debug("drain cancelled during apply", zap.Error(err))
		tally.add(func(r *DrainReport) { r.Deferred++ })
		return outcomeAborted
	}

	code := Classify(err)
	attempts := a.Attempts + 1
	e.recorder.ActionFailed(a.Kind, code)
	tally.add(func(r *DrainReport) { r.Failed++ })

	var cause error
	if code == CodePermanent {
		cause = err
	} else if qerr := e.quota.Check(a.ID, attempts); qerr != nil {
		var exceeded *AttemptsExceededError
		errors.As(qerr, &exceeded)
		exceeded.Last = err
		cause = exceeded
		code = CodeAttemptsExhausted
	}

	if cause != nil {
		dl, derr := e.queue.MoveToDeadLetter(ctx, a.ID, string(code), cause.Error())
		if derr != nil {
			log.Error("move action to dead-letter", zap.Error(derr))
			return outcomeAborted
		}
		e.recorder.ActionDeadLettered(a.Kind, code)
		tally.add(func(r *DrainReport) { r.DeadLettered++ })
		log.Warn("action dead-lettered", zap.String("code", string(code)), zap.Error(cause))
		e.publisher.Publish(Event{Type: EventActionDeadLettered, At: e.now(), DeadLetter: &dl})
		return outcomeDeadLettered
	}

	next := e.now().Add(e.backoff.Delay(attempts))
	if merr := e.queue.MarkFailed(ctx, a.ID, attempts, next, err.Error()); merr != nil {
		log.Error("persist retry state", zap.Error(merr))
		return outcomeAborted
	}
	tally.deferUntil(next)
	log.Info("action rescheduled",
		zap.String("code", string(code)),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(err))
	return outcomeRetry
}

// apply runs one attempt, retrying it at once while the remote store reports
// a conflict, up to ConflictRetries times.
func (e *Executor) apply(ctx context.Context, a model.PendingAction) error {
	for try := 0; ; try++ {
		actx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
		err := e.applier.Apply(actx, a)
		cancel()
		if err == nil || ctx.Err() != nil || try >= e.cfg.ConflictRetries || Classify(err) != CodeConflict {
			return err
		}
		e.logger.Debug("apply conflicted; retrying",
			zap.String("action_id", a.ID),
			zap.Int("try", try+1),
			zap.Error(err))
	}
}

// Run drains whenever trigger fires, whenever a backed-off action comes due,
// and after a drain that overlapped a rejected drain request. It returns when
// ctx ends.
func (e *Executor) Run(ctx context.Context, trigger <-chan struct{}) error {
	e.logger.Info("executor starting")

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("executor stopping")
			return nil
		case <-trigger:
		case <-e.wake:
		case <-timer.C:
		}

		report, err := e.Drain(ctx)
		switch {
		case errors.Is(err, ErrDrainInProgress):
			// The running drain wakes this loop again when it finishes.
			continue
		case err != nil:
			e.logger.Error("drain failed", zap.Error(err))
			continue
		}

		if !report.NextAttemptAt.IsZero() {
			wait := report.NextAttemptAt.Sub(e.now())
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}
	}
}
