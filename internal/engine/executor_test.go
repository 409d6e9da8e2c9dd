package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AakashB275/BrandModel/internal/model"
)

// fakeQueue is an in-memory Queue recording every mutation.
type fakeQueue struct {
	mu      sync.Mutex
	actions []model.PendingAction
	dead    []model.DeadLetter
	now     func() time.Time
}

func (q *fakeQueue) Drainable(context.Context) ([]model.PendingAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]model.PendingAction(nil), q.actions...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (q *fakeQueue) Remove(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, a := range q.actions {
		if a.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions[i].Attempts = attempts
			q.actions[i].NextAttemptAt = next
			q.actions[i].LastError = lastErr
		}
	}
	return nil
}

func (q *fakeQueue) MoveToDeadLetter(_ context.Context, id, code, lastErr string) (model.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, a := range q.actions {
		if a.ID == id {
			q.actions = append(q.actions[:i], q.actions[i+1:]...)
			dl := model.DeadLetter{Action: a, ErrorCode: code, LastError: lastErr, DeadLetteredAt: q.now()}
			q.dead = append(q.dead, dl)
			return dl, nil
		}
	}
	return model.DeadLetter{}, errors.New("not found")
}

func (q *fakeQueue) add(t *testing.T, id string, seq int64, kind model.ActionKind, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	q.actions = append(q.actions, model.PendingAction{ID: id, Kind: kind, Payload: raw, Seq: seq})
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingPublisher collects published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) ofType(typ EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type executorFixture struct {
	queue *fakeQueue
	clock *manualClock
	pub   *recordingPublisher
}

func newFixture() *executorFixture {
	clock := &manualClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	return &executorFixture{
		queue: &fakeQueue{now: clock.Now},
		clock: clock,
		pub:   &recordingPublisher{},
	}
}

func (f *executorFixture) executor(t *testing.T, applier Applier) *Executor {
	return NewExecutor(f.queue, applier, Config{RateLimit: -1},
		WithPublisher(f.pub),
		WithNow(f.clock.Now),
		WithLogger(zaptest.NewLogger(t)))
}

func msg(matchID, text string) model.MessagePayload {
	return model.MessagePayload{MatchID: matchID, SenderID: "u1", Text: text}
}

func TestExecutor_AppliesInEnqueueOrderPerEntity(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindSendMessage, msg("m1", "one"))
	f.queue.add(t, "a-2", 2, model.KindSendMessage, msg("m2", "other"))
	f.queue.add(t, "a-3", 3, model.KindSendMessage, msg("m1", "two"))
	f.queue.add(t, "a-4", 4, model.KindSendMessage, msg("m1", "three"))

	var mu sync.Mutex
	perMatch := map[string][]string{}
	ex := f.executor(t, ApplierFunc(func(_ context.Context, a model.PendingAction) error {
		p, err := model.DecodePayload(a)
		require.NoError(t, err)
		m := p.(model.MessagePayload)
		mu.Lock()
		perMatch[m.MatchID] = append(perMatch[m.MatchID], m.Text)
		mu.Unlock()
		return nil
	}))

	report, err := ex.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Applied)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, []string{"one", "two", "three"}, perMatch["m1"])
	assert.Equal(t, []string{"other"}, perMatch["m2"])
	assert.Zero(t, f.queue.len(), "queue should end empty")

	complete := f.pub.ofType(EventDrainComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, 4, complete[0].Drain.Applied)
}

func TestExecutor_TransientFailureBacksOffAndBlocksEntity(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindSendMessage, msg("m1", "first"))
	f.queue.add(t, "a-2", 2, model.KindSendMessage, msg("m1", "second"))
	f.queue.add(t, "a-3", 3, model.KindSendMessage, msg("m2", "independent"))

	failing := map[string]bool{"a-1": true}
	var applied []string
	var mu sync.Mutex
	ex := f.executor(t, ApplierFunc(func(_ context.Context, a model.PendingAction) error {
		mu.Lock()
		defer mu.Unlock()
		if failing[a.ID] {
			return NewTransientError("remote unreachable", nil)
		}
		applied = append(applied, a.ID)
		return nil
	}))

	report, err := ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Deferred, "a-2 waits behind a-1")
	assert.Equal(t, []string{"a-3"}, applied)

	pending, _ := f.queue.Drainable(context.Background())
	require.Len(t, pending, 2)
	assert.Equal(t, "a-1", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, f.clock.Now().Add(2*time.Second), pending[0].NextAttemptAt)
	assert.Equal(t, pending[0].NextAttemptAt, report.NextAttemptAt)

	// Not yet due: nothing happens.
	report, err = ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)
	assert.Equal(t, 2, report.Deferred)

	f.clock.Advance(2 * time.Second)
	mu.Lock()
	failing["a-1"] = false
	mu.Unlock()

	report, err = ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, []string{"a-3", "a-1", "a-2"}, applied)
	assert.Zero(t, f.queue.len())
}

func TestExecutor_DeadLettersAfterMaxAttemptsOnce(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindUpdateProfile, model.ProfileUpdatePayload{UserID: "u1", Fields: map[string]any{"bio": "x"}})

	calls := 0
	ex := f.executor(t, ApplierFunc(func(context.Context, model.PendingAction) error {
		calls++
		return errors.New("connection reset by peer")
	}))

	for i := 0; i < 5; i++ {
		_, err := ex.Drain(context.Background())
		require.NoError(t, err)
		f.clock.Advance(10 * time.Minute)
	}

	assert.Equal(t, 5, calls)
	assert.Zero(t, f.queue.len(), "dead-lettered action leaves the retry path")
	require.Len(t, f.queue.dead, 1)
	assert.Equal(t, string(CodeAttemptsExhausted), f.queue.dead[0].ErrorCode)
	assert.Contains(t, f.queue.dead[0].LastError, "connection reset by peer")

	// Further drains never retry it and never notify again.
	_, err := ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, calls)

	dead := f.pub.ofType(EventActionDeadLettered)
	require.Len(t, dead, 1)
	assert.Equal(t, "a-1", dead[0].DeadLetter.Action.ID)
}

func TestExecutor_PermanentErrorDeadLettersImmediately(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindSendMessage, msg("m1", "late"))
	f.queue.add(t, "a-2", 2, model.KindSendMessage, msg("m1", "next"))

	var applied []string
	ex := f.executor(t, ApplierFunc(func(_ context.Context, a model.PendingAction) error {
		if a.ID == "a-1" {
			return NewPermanentError("match expired", nil)
		}
		applied = append(applied, a.ID)
		return nil
	}))

	report, err := ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, []string{"a-2"}, applied, "a dead letter does not block its entity")
	require.Len(t, f.queue.dead, 1)
	assert.Equal(t, string(CodePermanent), f.queue.dead[0].ErrorCode)
}

func TestExecutor_MalformedPayloadIsPermanent(t *testing.T) {
	f := newFixture()
	f.queue.actions = append(f.queue.actions, model.PendingAction{
		ID: "a-1", Kind: model.KindSendMessage, Payload: json.RawMessage(`{}`), Seq: 1,
	})

	ex := f.executor(t, ApplierFunc(func(_ context.Context, a model.PendingAction) error {
		_, err := model.DecodePayload(a)
		return err
	}))

	_, err := ex.Drain(context.Background())
	require.NoError(t, err)
	require.Len(t, f.queue.dead, 1)
	assert.Equal(t, string(CodePermanent), f.queue.dead[0].ErrorCode)
}

func TestExecutor_TimeoutCountsAsTransient(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindSendMessage, msg("m1", "slow"))

	ex := NewExecutor(f.queue, ApplierFunc(func(ctx context.Context, _ model.PendingAction) error {
		<-ctx.Done()
		return ctx.Err()
	}), Config{RateLimit: -1, ActionTimeout: 10 * time.Millisecond}, WithNow(f.clock.Now))

	report, err := ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.DeadLettered)

	pending, _ := f.queue.Drainable(context.Background())
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "deadline exceeded")
}

func TestExecutor_RejectsReentrantDrain(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindSendMessage, msg("m1", "hold"))

	started := make(chan struct{})
	release := make(chan struct{})
	ex := f.executor(t, ApplierFunc(func(context.Context, model.PendingAction) error {
		close(started)
		<-release
		return nil
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := ex.Drain(context.Background())
		assert.NoError(t, err)
	}()

	<-started
	assert.True(t, ex.Draining())
	_, err := ex.Drain(context.Background())
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(release)
	<-done
	assert.False(t, ex.Draining())
}

func TestExecutor_RunDrainsOnTrigger(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindSendMessage, msg("m1", "hello"))

	applied := make(chan string, 1)
	ex := f.executor(t, ApplierFunc(func(_ context.Context, a model.PendingAction) error {
		applied <- a.ID
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	trigger := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() { done <- ex.Run(ctx, trigger) }()

	trigger <- struct{}{}
	select {
	case id := <-applied:
		assert.Equal(t, "a-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not drain")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestExecutor_ConflictRetriedInPlace(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindRecordLike, model.LikePayload{ActorID: "u1", TargetID: "u2"})

	var calls int
	ex := f.executor(t, ApplierFunc(func(context.Context, model.PendingAction) error {
		calls++
		if calls <= DefaultConflictRetry {
			return NewConflictError("read set changed", nil)
		}
		return nil
	}))

	report, err := ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultConflictRetry+1, calls)
	assert.Equal(t, 1, report.Applied)
	assert.Zero(t, report.Failed)
	assert.Zero(t, f.queue.len())
}

func TestExecutor_PersistentConflictCountsOneAttempt(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindRecordLike, model.LikePayload{ActorID: "u1", TargetID: "u2"})

	var calls int
	ex := f.executor(t, ApplierFunc(func(context.Context, model.PendingAction) error {
		calls++
		return NewConflictError("read set changed", nil)
	}))

	report, err := ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultConflictRetry+1, calls)
	assert.Equal(t, 1, report.Failed)

	pending, _ := f.queue.Drainable(context.Background())
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestExecutor_SameActorSwipesShareOneChain(t *testing.T) {
	f := newFixture()
	for i := 0; i < 40; i++ {
		f.queue.add(t, fmt.Sprintf("a-%02d", i), int64(i+1), model.KindRecordLike,
			model.LikePayload{ActorID: "u1", TargetID: fmt.Sprintf("t%02d", i)})
	}

	var (
		mu       sync.Mutex
		inFlight int
		overlap  bool
		order    []string
	)
	ex := f.executor(t, ApplierFunc(func(_ context.Context, a model.PendingAction) error {
		mu.Lock()
		inFlight++
		if inFlight > 1 {
			overlap = true
		}
		order = append(order, a.ID)
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}))

	report, err := ex.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, report.Applied)
	assert.False(t, overlap, "one user's swipes must not apply concurrently")
	assert.True(t, sort.StringsAreSorted(order), "swipes apply in enqueue order")
}

func TestExecutor_RunDrainsAfterOverlappingDrain(t *testing.T) {
	f := newFixture()
	f.queue.add(t, "a-1", 1, model.KindSendMessage, msg("m1", "hold"))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ex := f.executor(t, ApplierFunc(func(_ context.Context, a model.PendingAction) error {
		if a.ID == "a-1" {
			once.Do(func() { close(started) })
			<-release
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trigger := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- ex.Run(ctx, trigger) }()

	external := make(chan struct{})
	go func() {
		defer close(external)
		_, err := ex.Drain(context.Background())
		assert.NoError(t, err)
	}()
	<-started

	// Enqueued after the running drain read the queue.
	f.queue.mu.Lock()
	raw, err := json.Marshal(msg("m2", "late"))
	require.NoError(t, err)
	f.queue.actions = append(f.queue.actions, model.PendingAction{ID: "a-2", Kind: model.KindSendMessage, Payload: raw, Seq: 2})
	f.queue.mu.Unlock()

	trigger <- struct{}{}
	require.Eventually(t, ex.rerun.Load, time.Second, time.Millisecond, "rejected drain is remembered")

	close(release)
	<-external
	require.Eventually(t, func() bool { return f.queue.len() == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestGroupByEntity(t *testing.T) {
	q := &fakeQueue{}
	q.add(t, "a-1", 1, model.KindRecordSwipe, model.SwipePayload{ActorID: "u1", TargetID: "u2", Direction: model.DirectionLike})
	q.add(t, "a-2", 2, model.KindUpdateProfile, model.ProfileUpdatePayload{UserID: "u1", Fields: map[string]any{"bio": "b"}})
	q.add(t, "a-3", 3, model.KindRecordSwipe, model.SwipePayload{ActorID: "u2", TargetID: "u1", Direction: model.DirectionLike})
	q.add(t, "a-4", 4, model.KindBlock, model.BlockPayload{ByUserID: "u2", TargetID: "u1"})

	chains := groupByEntity(q.actions)
	require.Len(t, chains, 3)
	assert.Equal(t, "user:u1", chains[0].key)
	require.Len(t, chains[0].actions, 2, "a user's swipes and profile edits share one chain")
	assert.Equal(t, "a-1", chains[0].actions[0].ID)
	assert.Equal(t, "a-2", chains[0].actions[1].ID)
	assert.Equal(t, "user:u2", chains[1].key)
	assert.Equal(t, "pair:u1|u2", chains[2].key)
}
