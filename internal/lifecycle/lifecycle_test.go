package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/remote"
)

var created = time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

func activeMatch() model.Match {
	return model.Match{
		ID:        "m1",
		Users:     []string{"a", "b"},
		PairKey:   "a|b",
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
		IsActive:  true,
	}
}

func TestTimeRemainingAndIsExpired(t *testing.T) {
	m := activeMatch()

	assert.Equal(t, 24*time.Hour, TimeRemaining(m, created))
	assert.False(t, IsExpired(m, m.ExpiresAt.Add(-time.Nanosecond)))
	assert.True(t, IsExpired(m, m.ExpiresAt), "remaining == 0 is expired")
	assert.Equal(t, time.Duration(0), TimeRemaining(m, m.ExpiresAt.Add(time.Hour)))
}

func TestExpiryIsMonotonic(t *testing.T) {
	m := activeMatch()
	expiredSeen := false
	for at := created; at.Before(created.Add(72 * time.Hour)); at = at.Add(7 * time.Minute) {
		if expiredSeen {
			require.True(t, IsExpired(m, at), "expired match became live again at %s", at)
			require.Equal(t, model.StateExpired, State(m, at))
		}
		if IsExpired(m, at) {
			expiredSeen = true
		}
	}
	assert.True(t, expiredSeen)
}

func TestState(t *testing.T) {
	now := created.Add(time.Hour)
	ended := activeMatch()
	ended.IsActive = false

	tests := []struct {
		name   string
		reason model.EndReason
		want   model.MatchState
	}{
		{"unmatched", model.EndUnmatched, model.StateUnmatched},
		{"blocked", model.EndBlocked, model.StateBlocked},
		{"expired", model.EndExpired, model.StateExpired},
		{"no reason", "", model.StateExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := ended
			m.EndReason = tt.reason
			assert.Equal(t, tt.want, State(m, now))
			assert.False(t, CanSendMessage(m, now))
		})
	}

	assert.Equal(t, model.StateActive, State(activeMatch(), now))
	assert.True(t, CanSendMessage(activeMatch(), now))
}

func TestFormatRemaining(t *testing.T) {
	m := activeMatch()
	assert.Equal(t, "24h 0m left", FormatRemaining(m, created))
	assert.Equal(t, "3h 12m left", FormatRemaining(m, m.ExpiresAt.Add(-(3*time.Hour + 12*time.Minute + 30*time.Second))))
	assert.Equal(t, "12m left", FormatRemaining(m, m.ExpiresAt.Add(-12*time.Minute)))
	assert.Equal(t, "0m left", FormatRemaining(m, m.ExpiresAt.Add(-30*time.Second)))
	assert.Equal(t, "Expired", FormatRemaining(m, m.ExpiresAt))
}

func TestDescribe(t *testing.T) {
	m := activeMatch()
	now := m.ExpiresAt.Add(-(2*time.Hour + 5*time.Minute))

	v := Describe(m, now)
	assert.Equal(t, m, v.Match)
	assert.Equal(t, model.StateActive, v.State)
	assert.Equal(t, int64((2*time.Hour+5*time.Minute)/time.Second), v.RemainingSeconds)
	assert.Equal(t, "2h 5m left", v.TimeRemaining)
	assert.True(t, v.CanMessage)

	v = Describe(m, m.ExpiresAt.Add(time.Minute))
	assert.Equal(t, model.StateExpired, v.State)
	assert.Zero(t, v.RemainingSeconds)
	assert.Equal(t, "Expired", v.TimeRemaining)
	assert.False(t, v.CanMessage)
}

type fixture struct {
	store *remote.MemoryStore
	mgr   *Manager
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: created.Add(time.Hour)}
	f.store = remote.NewMemoryStore(remote.WithClock(func() time.Time { return f.now }))
	f.mgr = NewManager(f.store, WithNow(func() time.Time { return f.now }))

	ctx := context.Background()
	m := activeMatch()
	put := func(ref remote.Ref, v any) {
		doc, err := remote.Encode(v)
		require.NoError(t, err)
		require.NoError(t, f.store.Set(ctx, ref, doc))
	}
	put(remote.NewRef(remote.Users, "a"), model.User{ID: "a", Matches: []string{"m1"}})
	put(remote.NewRef(remote.Users, "b"), model.User{ID: "b", Matches: []string{"m1"}, LikedProfiles: []string{"a"}})
	put(remote.NewRef(remote.Matches, "m1"), m)
	put(remote.NewRef(remote.Pairs, "a|b"), model.Pair{Key: "a|b", Users: m.Users, ActiveMatchID: "m1", History: []string{"m1"}})
	return f
}

func (f *fixture) user(t *testing.T, id string) model.User {
	u, err := remote.GetAs[model.User](context.Background(), f.store, remote.NewRef(remote.Users, id))
	require.NoError(t, err)
	return u
}

func (f *fixture) pair(t *testing.T) model.Pair {
	p, err := remote.GetAs[model.Pair](context.Background(), f.store, remote.NewRef(remote.Pairs, "a|b"))
	require.NoError(t, err)
	return p
}

func TestUnmatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.mgr.Unmatch(ctx, "m1", "a")
	require.NoError(t, err)
	assert.Equal(t, model.StateUnmatched, State(m, f.now))
	assert.Equal(t, "a", m.EndedBy)

	stored, err := f.mgr.Match(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Equal(t, model.EndUnmatched, stored.EndReason)
	require.NotNil(t, stored.EndedAt)
	assert.True(t, stored.EndedAt.Equal(f.now))
	assert.Empty(t, f.pair(t).ActiveMatchID)
	assert.NotContains(t, f.user(t, "a").Matches, "m1")
	assert.NotContains(t, f.user(t, "b").Matches, "m1")

	again, err := f.mgr.Unmatch(ctx, "m1", "b")
	require.NoError(t, err)
	assert.Equal(t, "a", again.EndedBy, "terminal matches are not rewritten")
}

func TestUnmatch_TerminalMatchIsDetached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Update(ctx, remote.NewRef(remote.Matches, "m1"), remote.Doc{
		"isActive":  false,
		"endReason": string(model.EndExpired),
	}))

	m, err := f.mgr.Unmatch(ctx, "m1", "b")
	require.NoError(t, err)
	assert.Equal(t, model.EndExpired, m.EndReason)
	assert.Empty(t, f.user(t, "a").Matches)
	assert.Empty(t, f.user(t, "b").Matches)
}

func TestUnmatch_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.Unmatch(ctx, "missing", "a")
	assert.True(t, engine.IsPermanent(err))

	_, err = f.mgr.Unmatch(ctx, "m1", "stranger")
	assert.True(t, engine.IsPermanent(err))
}

func TestUnmatch_AfterExpiryRecordsExpired(t *testing.T) {
	f := newFixture(t)
	f.now = created.Add(25 * time.Hour)

	m, err := f.mgr.Unmatch(context.Background(), "m1", "a")
	require.NoError(t, err)
	assert.Equal(t, model.EndExpired, m.EndReason)
	require.NotNil(t, m.EndedAt)
	assert.True(t, m.EndedAt.Equal(activeMatch().ExpiresAt))
}

func TestBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ended, err := f.mgr.Block(ctx, "a", "b")
	require.NoError(t, err)
	require.NotNil(t, ended)
	assert.Equal(t, model.EndBlocked, ended.EndReason)

	a, err := remote.GetAs[model.User](ctx, f.store, remote.NewRef(remote.Users, "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, a.BlockedUsers)

	b, err := remote.GetAs[model.User](ctx, f.store, remote.NewRef(remote.Users, "b"))
	require.NoError(t, err)
	assert.Empty(t, b.LikedProfiles, "pending likes across a block are dropped")
	assert.NotContains(t, a.Matches, "m1")
	assert.NotContains(t, b.Matches, "m1")

	assert.Empty(t, f.pair(t).ActiveMatchID)

	again, err := f.mgr.Block(ctx, "a", "b")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestBlock_WithoutMatchOrTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ended, err := f.mgr.Block(ctx, "a", "ghost")
	require.NoError(t, err)
	assert.Nil(t, ended)

	_, err = f.mgr.Block(ctx, "ghost", "a")
	assert.True(t, engine.IsPermanent(err))

	_, err = f.mgr.Block(ctx, "a", "a")
	assert.True(t, engine.IsPermanent(err))
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids, err := f.mgr.ExpireDue(ctx, "a", created.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, ids)

	after := created.Add(30 * time.Hour)
	ids, err = f.mgr.ExpireDue(ctx, "a", after)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)

	m, err := f.mgr.Match(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, State(m, after))
	assert.Equal(t, model.EndExpired, m.EndReason)

	ids, err = f.mgr.ExpireDue(ctx, "b", after)
	require.NoError(t, err)
	assert.Empty(t, ids, "sweep is idempotent")
}
