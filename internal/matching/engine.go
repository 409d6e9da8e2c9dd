package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/remote"
)

// Outcome reports what a swipe or match request did.
type Outcome struct {
	// Match is set when the pair has a live match after the call.
	Match *model.Match

	// Created is true only for the call that created Match.
	Created bool

	// Liked is true when the like was recorded as pending.
	Liked bool
}

// Matched reports whether the pair has a live match.
func (o Outcome) Matched() bool { return o.Match != nil }

type Engine struct {
	store       remote.Store
	standardTTL time.Duration
	premiumTTL  time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Engine)

func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTTL overrides the match windows. Non-positive values keep the defaults.
func WithTTL(standard, premium time.Duration) Option {
	return func(e *Engine) {
		if standard > 0 {
			e.standardTTL = standard
		}
		if premium > 0 {
			e.premiumTTL = premium
		}
	}
}

func New(store remote.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		standardTTL: model.StandardMatchTTL,
		premiumTTL:  model.PremiumMatchTTL,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// pairState is the pair anchor plus its active match as read in a transaction.
type pairState struct {
	key    string
	pair   model.Pair
	exists bool
	active *model.Match
}

// live reports whether the pair's active match is still open at now.
func (p pairState) live(now time.Time) bool {
	return p.active != nil && p.active.IsActive && now.Before(p.active.ExpiresAt)
}

func loadPair(ctx context.Context, tx remote.Tx, a, b string) (pairState, error) {
	st := pairState{key: model.PairKey(a, b)}
	d, err := tx.Get(ctx, remote.NewRef(remote.Pairs, st.key))
	switch {
	case remote.IsNotFound(err):
		return st, nil
	case err != nil:
		return st, err
	}
	if err := remote.Decode(d, &st.pair); err != nil {
		return st, engine.NewPermanentError("decode pair "+st.key, err)
	}
	st.exists = true

	if st.pair.ActiveMatchID == "" {
		return st, nil
	}
	m, err := remote.GetAs[model.Match](ctx, tx, remote.NewRef(remote.Matches, st.pair.ActiveMatchID))
	if remote.IsNotFound(err) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.active = &m
	return st, nil
}

// loadUsers reads both users in id order so row-locking stores acquire
// locks in a consistent order. A missing user yields a nil entry.
func loadUsers(ctx context.Context, tx remote.Tx, ids ...string) (map[string]*model.User, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	users := make(map[string]*model.User, len(ids))
	for _, id := range sorted {
		u, err := remote.GetAs[model.User](ctx, tx, remote.NewRef(remote.Users, id))
		if remote.IsNotFound(err) {
			users[id] = nil
			continue
		}
		if err != nil {
			return nil, err
		}
		if u.ID == "" {
			u.ID = id
		}
		users[id] = &u
	}
	return users, nil
}

func validatePair(a, b string) error {
	if a == "" || b == "" {
		return engine.NewPermanentError("user ids are required", model.ErrInvalidPayload)
	}
	if a == b {
		return engine.NewPermanentError("cannot pair a user with themselves", model.ErrInvalidPayload)
	}
	return nil
}

func blocked(a, b *model.User) bool {
	return a.HasBlocked(b.ID) || b.HasBlocked(a.ID)
}

// RecordSwipe applies one swipe. A like whose target already liked the actor
// creates the match; any other like is recorded as pending. Likes on missing
// or blocked targets degrade to a pass.
func (e *Engine) RecordSwipe(ctx context.Context, actorID, targetID string, dir model.SwipeDirection) (Outcome, error) {
	if err := validatePair(actorID, targetID); err != nil {
		return Outcome{}, err
	}
	if dir != model.DirectionLike && dir != model.DirectionPass {
		return Outcome{}, engine.NewPermanentError(fmt.Sprintf("unknown direction %q", dir), model.ErrInvalidPayload)
	}

	var out Outcome
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx remote.Tx) error {
		out = Outcome{}
		now := e.now().UTC()

		var st pairState
		if dir == model.DirectionLike {
			var err error
			if st, err = loadPair(ctx, tx, actorID, targetID); err != nil {
				return err
			}
		}
		users, err := loadUsers(ctx, tx, actorID, targetID)
		if err != nil {
			return err
		}
		actor, target := users[actorID], users[targetID]
		if actor == nil {
			return engine.NewPermanentError("actor "+actorID+" not found", remote.ErrNotFound)
		}

		actorRef := remote.NewRef(remote.Users, actorID)
		tx.Update(actorRef, remote.Doc{"swipedProfiles": remote.ArrayUnion(targetID)})

		if dir == model.DirectionPass {
			return nil
		}
		if st.live(now) {
			out.Match = st.active
			return nil
		}
		if target == nil {
			e.logger.Info("like on missing target treated as pass",
				zap.String("actor_id", actorID), zap.String("target_id", targetID))
			return nil
		}
		if blocked(actor, target) {
			e.logger.Info("like across a block treated as pass",
				zap.String("actor_id", actorID), zap.String("target_id", targetID))
			return nil
		}

		if !target.HasLiked(actorID) {
			tx.Update(actorRef, remote.Doc{"likedProfiles": remote.ArrayUnion(targetID)})
			out.Liked = true
			return nil
		}

		m, err := e.createMatch(tx, st, *actor, *target, now)
		if err != nil {
			return err
		}
		tx.Update(remote.NewRef(remote.Users, targetID), remote.Doc{"likedProfiles": remote.ArrayRemove(actorID)})
		tx.Update(actorRef, remote.Doc{"likedProfiles": remote.ArrayRemove(targetID)})
		out.Match, out.Created = &m, true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	if out.Created {
		e.logger.Info("match created",
			zap.String("match_id", out.Match.ID),
			zap.String("pair_key", out.Match.PairKey),
			zap.Time("expires_at", out.Match.ExpiresAt))
	}
	return out, nil
}

// CreateMatch opens a match between a and b unless the pair already has a
// live one, which is returned instead.
func (e *Engine) CreateMatch(ctx context.Context, a, b string) (Outcome, error) {
	if err := validatePair(a, b); err != nil {
		return Outcome{}, err
	}

	var out Outcome
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx remote.Tx) error {
		out = Outcome{}
		now := e.now().UTC()

		st, err := loadPair(ctx, tx, a, b)
		if err != nil {
			return err
		}
		users, err := loadUsers(ctx, tx, a, b)
		if err != nil {
			return err
		}
		ua, ub := users[a], users[b]
		if ua == nil || ub == nil {
			return engine.NewPermanentError("match participant not found", remote.ErrNotFound)
		}
		if st.live(now) {
			out.Match = st.active
			return nil
		}
		if blocked(ua, ub) {
			return engine.NewPermanentError("cannot match blocked users", nil)
		}

		m, err := e.createMatch(tx, st, *ua, *ub, now)
		if err != nil {
			return err
		}
		out.Match, out.Created = &m, true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// createMatch buffers every write of a new match generation. A previous
// match left active past its expiry is closed in the same commit.
func (e *Engine) createMatch(tx remote.Tx, st pairState, a, b model.User, now time.Time) (model.Match, error) {
	users := []string{a.ID, b.ID}
	sort.Strings(users)

	m := model.Match{
		ID:        model.MatchID(st.key, len(st.pair.History)),
		Users:     users,
		PairKey:   st.key,
		CreatedAt: now,
		ExpiresAt: now.Add(e.ttl(a, b, now)),
		IsActive:  true,
	}
	doc, err := remote.Encode(m)
	if err != nil {
		return model.Match{}, engine.NewPermanentError("encode match", err)
	}

	if prev := st.active; prev != nil && prev.IsActive {
		ended := prev.ExpiresAt
		tx.Update(remote.NewRef(remote.Matches, prev.ID), remote.Doc{
			"isActive":  false,
			"endReason": string(model.EndExpired),
			"endedAt":   ended,
		})
	}

	pair := model.Pair{
		Key:           st.key,
		Users:         users,
		ActiveMatchID: m.ID,
		History:       append(append([]string(nil), st.pair.History...), m.ID),
	}
	pairDoc, err := remote.Encode(pair)
	if err != nil {
		return model.Match{}, engine.NewPermanentError("encode pair", err)
	}

	tx.Set(remote.NewRef(remote.Matches, m.ID), doc)
	tx.Set(remote.NewRef(remote.Pairs, st.key), pairDoc)
	for _, id := range users {
		tx.Update(remote.NewRef(remote.Users, id), remote.Doc{"matches": remote.ArrayUnion(m.ID)})
	}
	return m, nil
}

func (e *Engine) ttl(a, b model.User, now time.Time) time.Duration {
	if model.MatchTTL(a, b, now) == model.PremiumMatchTTL {
		return e.premiumTTL
	}
	return e.standardTTL
}
