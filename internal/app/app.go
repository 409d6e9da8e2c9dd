// Package app is the entry point the UI layer talks to. Every user intent is
// persisted to the durable queue and applied to the remote store by the
// executor, so intents survive restarts and offline periods.
package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AakashB275/BrandModel/internal/actions"
	"github.com/AakashB275/BrandModel/internal/analytics"
	"github.com/AakashB275/BrandModel/internal/connectivity"
	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/lifecycle"
	"github.com/AakashB275/BrandModel/internal/matching"
	"github.com/AakashB275/BrandModel/internal/metrics"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/offlinecache"
	"github.com/AakashB275/BrandModel/internal/queue"
	"github.com/AakashB275/BrandModel/internal/remote"
	"github.com/AakashB275/BrandModel/internal/store"
)

// Local checks run before a message is enqueued.
var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrMatchExpired   = errors.New("match has expired")
	ErrMatchInactive  = errors.New("match is no longer active")
	ErrNotParticipant = errors.New("user is not part of this match")
	ErrUserNotFound   = errors.New("user not found")
)

// Core wires the queue, executor, and remote-facing components together.
//
// Thread-safety: all methods are safe for concurrent use. Start must be
// called at most once.
type Core struct {
	queue     *queue.Queue
	remote    remote.Store
	notifier  *engine.Notifier
	monitor   *connectivity.Monitor
	executor  *engine.Executor
	lifecycle *lifecycle.Manager
	tracker   *analytics.Tracker
	cache     *offlinecache.Cache
	metrics   *metrics.Collector
	sanitizer *bluemonday.Policy
	trigger   chan struct{}
	opts      options
}

type options struct {
	local         *store.Store
	executorCfg   engine.Config
	standardTTL   time.Duration
	premiumTTL    time.Duration
	pingInterval time.Duration
	flushInterval time.Duration
	maxEvents     int
	batchSize     int
	cacheMaxAge   time.Duration
	metrics       *metrics.Collector
	observers     []engine.Publisher
	online        bool
	now           func() time.Time
	logger        *zap.Logger
}

type Option func(*options)

// WithLocalStore enables the analytics buffer and the offline cache on s.
func WithLocalStore(s *store.Store) Option {
	return func(o *options) { o.local = s }
}

func WithExecutorConfig(cfg engine.Config) Option {
	return func(o *options) { o.executorCfg = cfg }
}

func WithMatchTTL(standard, premium time.Duration) Option {
	return func(o *options) { o.standardTTL, o.premiumTTL = standard, premium }
}

func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

func WithAnalytics(maxEvents, batchSize int, flushInterval time.Duration) Option {
	return func(o *options) {
		o.maxEvents, o.batchSize, o.flushInterval = maxEvents, batchSize, flushInterval
	}
}

func WithCacheMaxAge(d time.Duration) Option {
	return func(o *options) { o.cacheMaxAge = d }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithObserver receives every outbound event synchronously, in publish
// order, before subscribers see it.
func WithObserver(p engine.Publisher) Option {
	return func(o *options) { o.observers = append(o.observers, p) }
}

// WithInitialOnline sets the connectivity state assumed before the first
// ping. Defaults to true.
func WithInitialOnline(online bool) Option {
	return func(o *options) { o.online = online }
}

func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New assembles a Core over q and rs.
func New(ctx context.Context, q *queue.Queue, rs remote.Store, opts ...Option) (*Core, error) {
	o := options{
		pingInterval: connectivity.DefaultPingInterval,
		flushInterval: analytics.DefaultFlushInterval,
		maxEvents:     analytics.DefaultMaxEvents,
		batchSize:     analytics.DefaultBatchSize,
		cacheMaxAge:   offlinecache.DefaultMaxAge,
		online:        true,
		now:           time.Now,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Core{
		queue:     q,
		remote:    rs,
		notifier:  engine.NewNotifier(),
		metrics:   o.metrics,
		sanitizer: bluemonday.StrictPolicy(),
		trigger:   make(chan struct{}, 1),
		opts:      o,
	}

	var publisher engine.Publisher = c.notifier
	if len(o.observers) > 0 {
		publisher = fanout(append(o.observers, c.notifier))
	}

	c.monitor = connectivity.NewMonitor(o.online,
		connectivity.WithOnReconnect(c.RequestDrain),
		connectivity.WithNow(o.now),
		connectivity.WithLogger(o.logger.Named("connectivity")))

	matcher := matching.New(rs,
		matching.WithTTL(o.standardTTL, o.premiumTTL),
		matching.WithNow(o.now),
		matching.WithLogger(o.logger.Named("matching")))
	c.lifecycle = lifecycle.NewManager(rs,
		lifecycle.WithNow(o.now),
		lifecycle.WithLogger(o.logger.Named("lifecycle")))
	applier := actions.New(rs, matcher, c.lifecycle,
		actions.WithPublisher(publisher),
		actions.WithNow(o.now),
		actions.WithLogger(o.logger.Named("actions")))

	execOpts := []engine.ExecutorOption{
		engine.WithPublisher(publisher),
		engine.WithNow(o.now),
		engine.WithLogger(o.logger.Named("executor")),
	}
	if o.metrics != nil {
		execOpts = append(execOpts, engine.WithRecorder(o.metrics))
	}
	c.executor = engine.NewExecutor(q, applier, o.executorCfg, execOpts...)

	if o.local != nil {
		tracker, err := analytics.New(ctx, o.local, rs,
			analytics.WithMaxEvents(o.maxEvents),
			analytics.WithBatchSize(o.batchSize),
			analytics.WithNow(o.now),
			analytics.WithLogger(o.logger.Named("analytics")))
		if err != nil {
			return nil, err
		}
		c.tracker = tracker
		c.cache = offlinecache.New(o.local, rs, c.monitor.IsOnline,
			offlinecache.WithNow(o.now),
			offlinecache.WithLogger(o.logger.Named("cache")))
	}
	return c, nil
}

type fanout []engine.Publisher

func (f fanout) Publish(ev engine.Event) {
	for _, p := range f {
		p.Publish(ev)
	}
}

// Start runs the connectivity monitor, the executor loop and the analytics
// flusher until ctx ends. Pending actions from a previous run are drained as
// soon as the remote store is reachable.
func (c *Core) Start(ctx context.Context) error {
	log := c.opts.logger
	log.Info("core starting", zap.Bool("online", c.monitor.IsOnline()))

	if c.cache != nil {
		if _, err := c.cache.Cleanup(ctx, c.opts.cacheMaxAge); err != nil {
			log.Warn("offline cache cleanup failed", zap.Error(err))
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	transitions := c.monitor.Subscribe(ctx)
	events := c.notifier.Subscribe(ctx)
	g.Go(func() error {
		c.observe(ctx, transitions, events)
		return nil
	})
	g.Go(func() error {
		return c.monitor.Run(ctx, c.remote, c.opts.pingInterval)
	})
	g.Go(func() error {
		return c.executor.Run(ctx, c.trigger)
	})
	if c.tracker != nil {
		g.Go(func() error {
			return c.tracker.Run(ctx, c.opts.flushInterval, c.monitor.IsOnline)
		})
	}

	c.RequestDrain()
	return g.Wait()
}

// observe keeps gauges current.
func (c *Core) observe(ctx context.Context, transitions <-chan connectivity.Transition, events <-chan engine.Event) {
	if c.metrics != nil {
		c.metrics.SetOnline(c.monitor.IsOnline())
	}
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			if c.metrics != nil {
				c.metrics.SetOnline(tr.Online)
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == engine.EventDrainComplete {
				c.updateDepth(ctx)
			}
		}
	}
}

func (c *Core) updateDepth(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	n, err := c.queue.Len(ctx)
	if err != nil {
		c.opts.logger.Warn("queue depth unavailable", zap.Error(err))
		return
	}
	c.metrics.SetQueueDepth(n)
}

// RequestDrain schedules a drain when online. Requests coalesce.
func (c *Core) RequestDrain() {
	if !c.monitor.IsOnline() {
		return
	}
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Drain runs one drain synchronously.
func (c *Core) Drain(ctx context.Context) (engine.DrainReport, error) {
	return c.executor.Drain(ctx)
}

// Subscribe streams MatchCreated, ActionDeadLettered and DrainComplete
// events published after the call.
func (c *Core) Subscribe(ctx context.Context) <-chan engine.Event {
	return c.notifier.Subscribe(ctx)
}

func (c *Core) Online() bool { return c.monitor.IsOnline() }

// SetOnline records an externally observed connectivity state.
func (c *Core) SetOnline(online bool) { c.monitor.Set(online) }

func (c *Core) Pending(ctx context.Context) ([]model.PendingAction, error) {
	return c.queue.Drainable(ctx)
}

func (c *Core) DeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	return c.queue.DeadLetters(ctx)
}

// Requeue returns a dead letter to the queue and requests a drain.
func (c *Core) Requeue(ctx context.Context, id string) (model.PendingAction, error) {
	a, err := c.queue.RequeueDeadLetter(ctx, id)
	if err != nil {
		return model.PendingAction{}, err
	}
	c.RequestDrain()
	return a, nil
}

// Track buffers an analytics event. Without a local store it does nothing.
func (c *Core) Track(ctx context.Context, name string, props map[string]any) {
	if c.tracker == nil {
		return
	}
	if err := c.tracker.Track(ctx, name, props); err != nil {
		c.opts.logger.Warn("analytics event dropped", zap.String("event", name), zap.Error(err))
	}
}

func (c *Core) enqueue(ctx context.Context, p model.Payload) (model.PendingAction, error) {
	a, err := c.queue.Enqueue(ctx, p.Kind(), p)
	if err != nil {
		return model.PendingAction{}, err
	}
	c.updateDepth(ctx)
	c.RequestDrain()
	return a, nil
}

func (c *Core) EnqueueSwipe(ctx context.Context, actorID, targetID string, dir model.SwipeDirection) (model.PendingAction, error) {
	a, err := c.enqueue(ctx, model.SwipePayload{ActorID: actorID, TargetID: targetID, Direction: dir})
	if err != nil {
		return a, err
	}
	c.Track(ctx, "swipe", map[string]any{"direction": string(dir)})
	return a, nil
}

func (c *Core) EnqueueProfileUpdate(ctx context.Context, userID string, fields map[string]any) (model.PendingAction, error) {
	return c.enqueue(ctx, model.ProfileUpdatePayload{UserID: userID, Fields: fields})
}

// EnqueueMessage sanitizes text and checks the match before enqueuing. The
// match is read from the remote store when online and from the offline
// cache otherwise; with neither available the message is enqueued and the
// applier has the final say.
func (c *Core) EnqueueMessage(ctx context.Context, matchID, senderID, text string) (model.PendingAction, error) {
	p := model.MessagePayload{
		MatchID:  matchID,
		SenderID: senderID,
		Text:     c.plainText(text),
	}
	if err := p.Validate(); err != nil {
		return model.PendingAction{}, err
	}
	if err := c.checkMatch(ctx, matchID, senderID); err != nil {
		return model.PendingAction{}, err
	}
	a, err := c.enqueue(ctx, p)
	if err != nil {
		return a, err
	}
	c.Track(ctx, "message_sent", nil)
	return a, nil
}

// plainText strips markup from user text and returns the remaining
// characters unescaped. Ampersands are escaped first so entity-like text the
// user typed is kept literally.
func (c *Core) plainText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	return model.NormalizeText(html.UnescapeString(c.sanitizer.Sanitize(s)))
}

func (c *Core) checkMatch(ctx context.Context, matchID, senderID string) error {
	m, ok, err := c.lookupMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if !m.Includes(senderID) {
		return ErrNotParticipant
	}
	now := c.opts.now()
	switch {
	case lifecycle.CanSendMessage(m, now):
		return nil
	case lifecycle.State(m, now) == model.StateExpired:
		return ErrMatchExpired
	default:
		return ErrMatchInactive
	}
}

// lookup reads ref from the remote store, or from the offline cache under
// key when one is configured. ok=false means the document could not be read
// locally; a missing document is reported as a remote not-found error.
func (c *Core) lookup(ctx context.Context, ref remote.Ref, key string) (remote.Doc, bool, error) {
	var (
		doc remote.Doc
		err error
	)
	switch {
	case c.cache != nil:
		doc, err = c.cache.FetchWithFallback(ctx, ref, key)
	case c.monitor.IsOnline():
		doc, err = c.remote.Get(ctx, ref)
	default:
		return nil, false, nil
	}

	switch {
	case remote.IsNotFound(err):
		return nil, false, err
	case err != nil:
		c.opts.logger.Debug("document not readable locally", zap.String("ref", ref.String()), zap.Error(err))
		return nil, false, nil
	}
	return doc, true, nil
}

// lookupMatch reports ok=false when the match could not be read locally.
func (c *Core) lookupMatch(ctx context.Context, matchID string) (model.Match, bool, error) {
	doc, ok, err := c.lookup(ctx, remote.NewRef(remote.Matches, matchID), "match:"+matchID)
	if remote.IsNotFound(err) {
		return model.Match{}, false, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	if !ok {
		return model.Match{}, false, nil
	}

	var m model.Match
	if err := remote.Decode(doc, &m); err != nil {
		return model.Match{}, false, nil
	}
	return m, true, nil
}

func (c *Core) EnqueueReport(ctx context.Context, reporterID, reportedID, reason, details string) (model.PendingAction, error) {
	return c.enqueue(ctx, model.ReportPayload{
		ReporterID:   reporterID,
		TargetID:     reportedID,
		Reason:       reason,
		CustomReason: model.NormalizeText(details),
	})
}

func (c *Core) RequestUnmatch(ctx context.Context, matchID, byUserID string) (model.PendingAction, error) {
	return c.enqueue(ctx, model.UnmatchPayload{MatchID: matchID, ByUserID: byUserID})
}

func (c *Core) RequestBlock(ctx context.Context, byUserID, targetID string) (model.PendingAction, error) {
	return c.enqueue(ctx, model.BlockPayload{ByUserID: byUserID, TargetID: targetID})
}

// Match returns a match read through the offline cache when one is
// configured.
func (c *Core) Match(ctx context.Context, id string) (model.Match, error) {
	m, ok, err := c.lookupMatch(ctx, id)
	if err != nil {
		return model.Match{}, err
	}
	if !ok {
		return model.Match{}, fmt.Errorf("%w: %s not available offline", ErrMatchNotFound, id)
	}
	return m, nil
}

// MatchView returns one match as userID's match list shows it.
func (c *Core) MatchView(ctx context.Context, matchID, userID string) (lifecycle.View, error) {
	m, err := c.Match(ctx, matchID)
	if err != nil {
		return lifecycle.View{}, err
	}
	if !m.Includes(userID) {
		return lifecycle.View{}, ErrNotParticipant
	}
	return lifecycle.Describe(m, c.opts.now()), nil
}

// Matches lists userID's matches, newest first, with their countdowns.
// Online, elapsed matches are persisted as expired before the list is read.
func (c *Core) Matches(ctx context.Context, userID string) ([]lifecycle.View, error) {
	if c.monitor.IsOnline() {
		if _, err := c.ExpireMatches(ctx, userID); err != nil && !remote.IsNotFound(err) {
			c.opts.logger.Warn("match expiry sweep failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	doc, ok, err := c.lookup(ctx, remote.NewRef(remote.Users, userID), "user:"+userID)
	if remote.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s not available offline", ErrUserNotFound, userID)
	}
	var u model.User
	if err := remote.Decode(doc, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", userID, err)
	}

	now := c.opts.now()
	views := make([]lifecycle.View, 0, len(u.Matches))
	for _, id := range u.Matches {
		m, ok, err := c.lookupMatch(ctx, id)
		if errors.Is(err, ErrMatchNotFound) || (err == nil && !ok) {
			continue
		}
		if err != nil {
			return nil, err
		}
		views = append(views, lifecycle.Describe(m, now))
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views, nil
}

// ExpireMatches persists endReason=expired on userID's elapsed matches and
// returns their ids.
func (c *Core) ExpireMatches(ctx context.Context, userID string) ([]string, error) {
	return c.lifecycle.ExpireDue(ctx, userID, c.opts.now())
}

// Close releases the queue.
func (c *Core) Close() error {
	return c.queue.Close()
}
