package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/lifecycle"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/queue"
	"github.com/AakashB275/BrandModel/internal/remote"
	"github.com/AakashB275/BrandModel/internal/store"
)

var t0 = time.Date(2026, 9, 3, 20, 0, 0, 0, time.UTC)

type fixture struct {
	core   *Core
	remote *remote.MemoryStore
	local  *store.Store
	now    time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{now: t0}
	clock := func() time.Time { return f.now }

	f.remote = remote.NewMemoryStore(remote.WithClock(clock))
	for _, id := range []string{"a", "b", "c"} {
		doc, err := remote.Encode(model.User{ID: id, Name: id})
		require.NoError(t, err)
		require.NoError(t, f.remote.Set(ctx, remote.NewRef(remote.Users, id), doc))
	}

	local, err := store.Open(filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	f.local = local

	q, err := queue.New(ctx, queue.NewMemoryStorage(), queue.WithNow(clock))
	require.NoError(t, err)

	base := []Option{
		WithLocalStore(local),
		WithExecutorConfig(engine.Config{RateLimit: -1}),
		WithNow(clock),
		WithLogger(zaptest.NewLogger(t)),
	}
	f.core, err = New(ctx, q, f.remote, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) putMatch(t *testing.T, m model.Match) {
	t.Helper()
	doc, err := remote.Encode(m)
	require.NoError(t, err)
	require.NoError(t, f.remote.Set(context.Background(), remote.NewRef(remote.Matches, m.ID), doc))
}

func TestCore_ReciprocalLikeCreatesMatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.core.Subscribe(ctx)

	_, err := f.core.EnqueueSwipe(ctx, "a", "b", model.DirectionLike)
	require.NoError(t, err)
	_, err = f.core.EnqueueSwipe(ctx, "b", "a", model.DirectionLike)
	require.NoError(t, err)

	report, err := f.core.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)

	var matched []engine.Event
	timeout := time.After(2 * time.Second)
	for len(matched) == 0 {
		select {
		case ev := <-events:
			if ev.Type == engine.EventMatchCreated {
				matched = append(matched, ev)
			}
		case <-timeout:
			t.Fatal("no match_created event")
		}
	}
	require.NotNil(t, matched[0].Match)
	assert.Equal(t, []string{"a", "b"}, matched[0].Match.Users)

	pending, err := f.core.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCore_EnqueueMessage_RejectsClosedMatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ended := t0.Add(-time.Hour)

	f.putMatch(t, model.Match{ID: "expired", Users: []string{"a", "b"}, CreatedAt: t0.Add(-25 * time.Hour), ExpiresAt: t0.Add(-time.Hour), IsActive: true})
	f.putMatch(t, model.Match{ID: "unmatched", Users: []string{"a", "b"}, CreatedAt: t0.Add(-2 * time.Hour), ExpiresAt: t0.Add(22 * time.Hour), EndReason: model.EndUnmatched, EndedAt: &ended})
	f.putMatch(t, model.Match{ID: "live", Users: []string{"a", "b"}, CreatedAt: t0, ExpiresAt: t0.Add(24 * time.Hour), IsActive: true})

	_, err := f.core.EnqueueMessage(ctx, "expired", "a", "hello")
	assert.ErrorIs(t, err, ErrMatchExpired)

	_, err = f.core.EnqueueMessage(ctx, "unmatched", "a", "hello")
	assert.ErrorIs(t, err, ErrMatchInactive)

	_, err = f.core.EnqueueMessage(ctx, "live", "c", "hello")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.core.EnqueueMessage(ctx, "missing", "a", "hello")
	assert.ErrorIs(t, err, ErrMatchNotFound)

	pending, err := f.core.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected messages are never enqueued")

	_, err = f.core.EnqueueMessage(ctx, "live", "a", "hello")
	require.NoError(t, err)
}

func TestCore_EnqueueMessage_OfflineUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putMatch(t, model.Match{ID: "m1", Users: []string{"a", "b"}, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour), IsActive: true})

	_, err := f.core.EnqueueMessage(ctx, "m1", "a", "first")
	require.NoError(t, err, "online read caches the match")

	f.remote.SetOnline(false)
	f.core.SetOnline(false)
	f.now = t0.Add(2 * time.Hour)

	_, err = f.core.EnqueueMessage(ctx, "m1", "a", "too late")
	assert.ErrorIs(t, err, ErrMatchExpired, "cached copy is enough to see the expiry")

	_, err = f.core.EnqueueMessage(ctx, "uncached", "a", "queued anyway")
	require.NoError(t, err, "an unknown match is left to the applier")

	pending, err := f.core.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestCore_EnqueueMessage_SanitizesText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putMatch(t, model.Match{ID: "m1", Users: []string{"a", "b"}, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour), IsActive: true})

	a, err := f.core.EnqueueMessage(ctx, "m1", "a", "  <b>café</b> & <script>x()</script>tea ")
	require.NoError(t, err)

	p, err := model.DecodePayload(a)
	require.NoError(t, err)
	assert.Equal(t, "café & tea", p.(model.MessagePayload).Text)

	_, err = f.core.EnqueueMessage(ctx, "m1", "a", "<i></i>")
	assert.ErrorIs(t, err, model.ErrInvalidPayload)

	for _, literal := range []string{"&lt;b&gt;hi&lt;/b&gt;", "x < y", "fish &amp; chips"} {
		a, err := f.core.EnqueueMessage(ctx, "m1", "a", literal)
		require.NoError(t, err)
		p, err := model.DecodePayload(a)
		require.NoError(t, err)
		assert.Equal(t, literal, p.(model.MessagePayload).Text, "typed text is kept literally")
	}
}

func TestCore_OfflineEnqueueDoesNotDrain(t *testing.T) {
	f := newFixture(t, WithInitialOnline(false))
	ctx := context.Background()

	_, err := f.core.RequestBlock(ctx, "a", "c")
	require.NoError(t, err)
	_, err = f.core.EnqueueReport(ctx, "a", "c", model.ReasonSpam, "")
	require.NoError(t, err)

	assert.Len(t, f.core.trigger, 0)

	f.core.SetOnline(true)
	assert.Len(t, f.core.trigger, 1, "reconnect requests a drain")
}

func TestCore_StartDrainsOnTrigger(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	events := f.core.Subscribe(ctx)

	done := make(chan error, 1)
	go func() { done <- f.core.Start(ctx) }()

	_, err := f.core.EnqueueProfileUpdate(ctx, "a", map[string]any{"bio": "hi"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case ev := <-events:
			return ev.Type == engine.EventDrainComplete && ev.Drain.Applied > 0
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	doc, err := f.remote.Get(ctx, remote.NewRef(remote.Users, "a"))
	require.NoError(t, err)
	assert.Equal(t, "hi", doc["bio"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestCore_TrackBuffersLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.core.EnqueueSwipe(ctx, "a", "b", model.DirectionPass)
	require.NoError(t, err)

	n, err := f.local.CountAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCore_RequeueDeadLetter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.core.RequestUnmatch(ctx, "ghost-match", "a")
	require.NoError(t, err)

	report, err := f.core.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)

	dls, err := f.core.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, a.ID, dls[0].Action.ID)

	_, err = f.core.Requeue(ctx, a.ID)
	require.NoError(t, err)
	pending, err := f.core.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestCore_ManyLikesBySameUserAreAllApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.BeforeCommit(func() { time.Sleep(2 * time.Millisecond) })

	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("t%02d", i)
		doc, err := remote.Encode(model.User{ID: id})
		require.NoError(t, err)
		require.NoError(t, f.remote.Set(ctx, remote.NewRef(remote.Users, id), doc))
	}
	for i := 0; i < 40; i++ {
		target := fmt.Sprintf("t%02d", i)
		_, err := f.core.EnqueueSwipe(ctx, "a", target, model.DirectionLike)
		require.NoError(t, err)
		_, err = f.core.EnqueueSwipe(ctx, target, "c", model.DirectionLike)
		require.NoError(t, err)
	}

	report, err := f.core.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, report.Applied)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.DeadLettered)

	a, err := remote.GetAs[model.User](ctx, f.remote, remote.NewRef(remote.Users, "a"))
	require.NoError(t, err)
	assert.Len(t, a.SwipedProfiles, 40)
	assert.Len(t, a.LikedProfiles, 40)

	dls, err := f.core.DeadLetters(ctx)
	require.NoError(t, err)
	assert.Empty(t, dls)
}

func TestCore_MatchesExpiresAndDescribes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putMatch(t, model.Match{ID: "old", Users: []string{"a", "b"}, PairKey: "a|b", CreatedAt: t0.Add(-30 * time.Hour), ExpiresAt: t0.Add(-6 * time.Hour), IsActive: true})
	f.putMatch(t, model.Match{ID: "new", Users: []string{"a", "c"}, PairKey: "a|c", CreatedAt: t0.Add(-time.Hour), ExpiresAt: t0.Add(3*time.Hour + 12*time.Minute), IsActive: true})
	require.NoError(t, f.remote.Update(ctx, remote.NewRef(remote.Users, "a"), remote.Doc{
		"matches": remote.ArrayUnion("old", "new", "gone"),
	}))

	views, err := f.core.Matches(ctx, "a")
	require.NoError(t, err)
	require.Len(t, views, 2, "missing matches are skipped")
	assert.Equal(t, "new", views[0].ID)
	assert.Equal(t, "3h 12m left", views[0].TimeRemaining)
	assert.True(t, views[0].CanMessage)
	assert.Equal(t, "old", views[1].ID)
	assert.Equal(t, model.StateExpired, views[1].State)
	assert.Equal(t, "Expired", views[1].TimeRemaining)

	stored, err := remote.GetAs[model.Match](ctx, f.remote, remote.NewRef(remote.Matches, "old"))
	require.NoError(t, err)
	assert.False(t, stored.IsActive, "listing persists the expiry")
	assert.Equal(t, model.EndExpired, stored.EndReason)

	expired, err := f.core.ExpireMatches(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, expired)

	v, err := f.core.MatchView(ctx, "new", "c")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Describe(v.Match, f.now), v)

	_, err = f.core.MatchView(ctx, "new", "b")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = f.core.Matches(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCore_ProfileUpdateCannotGrantPrivileges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, field := range []string{"isPremium", "premiumExpiresAt", "isVerified", "userType"} {
		_, err := f.core.EnqueueProfileUpdate(ctx, "a", map[string]any{"bio": "hi", field: true})
		assert.ErrorIs(t, err, model.ErrInvalidPayload, field)
	}
	pending, err := f.core.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
