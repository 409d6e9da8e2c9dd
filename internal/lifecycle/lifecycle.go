// Package lifecycle derives and persists match state: active until
// expiresAt, then expired, or ended early by an unmatch or a block.
// Terminal matches keep their document with isActive=false and an end
// reason; they are never reactivated.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/remote"
)

// TimeRemaining returns how long m stays open, never negative.
func TimeRemaining(m model.Match, now time.Time) time.Duration {
	d := m.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsExpired reports whether m's window has elapsed. A match is expired at
// exactly expiresAt.
func IsExpired(m model.Match, now time.Time) bool {
	return TimeRemaining(m, now) <= 0
}

// State derives the lifecycle state of m at now.
func State(m model.Match, now time.Time) model.MatchState {
	if !m.IsActive {
		switch m.EndReason {
		case model.EndUnmatched:
			return model.StateUnmatched
		case model.EndBlocked:
			return model.StateBlocked
		default:
			return model.StateExpired
		}
	}
	if IsExpired(m, now) {
		return model.StateExpired
	}
	return model.StateActive
}

// CanSendMessage reports whether m accepts new messages at now.
func CanSendMessage(m model.Match, now time.Time) bool {
	return State(m, now) == model.StateActive
}

// View is a match as a match list shows it at one instant.
type View struct {
	model.Match
	State            model.MatchState `json:"state"`
	RemainingSeconds int64            `json:"remainingSeconds"`
	TimeRemaining    string           `json:"timeRemaining"`
	CanMessage       bool             `json:"canMessage"`
}

// Describe renders m at now.
func Describe(m model.Match, now time.Time) View {
	return View{
		Match:            m,
		State:            State(m, now),
		RemainingSeconds: int64(TimeRemaining(m, now) / time.Second),
		TimeRemaining:    FormatRemaining(m, now),
		CanMessage:       CanSendMessage(m, now),
	}
}

// FormatRemaining renders the countdown shown next to a match.
func FormatRemaining(m model.Match, now time.Time) string {
	if State(m, now) != model.StateActive {
		return "Expired"
	}
	d := TimeRemaining(m, now)
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh %dm left", hours, minutes)
	}
	return fmt.Sprintf("%dm left", minutes)
}

type Manager struct {
	store  remote.Store
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Manager)

func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(store remote.Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match reads one match document.
func (mg *Manager) Match(ctx context.Context, id string) (model.Match, error) {
	return remote.GetAs[model.Match](ctx, mg.store, remote.NewRef(remote.Matches, id))
}

// endFields are the updates that close a match.
func endFields(reason model.EndReason, at time.Time, by string) remote.Doc {
	d := remote.Doc{
		"isActive":  false,
		"endReason": string(reason),
		"endedAt":   at.UTC(),
	}
	if by != "" {
		d["endedBy"] = by
	}
	return d
}

// close buffers the writes that end m and release the pair anchor. A match
// whose window already elapsed is recorded as expired regardless of reason.
func closeMatch(tx remote.Tx, m *model.Match, pair *model.Pair, reason model.EndReason, by string, now time.Time) {
	at := now
	if IsExpired(*m, now) {
		reason, at, by = model.EndExpired, m.ExpiresAt, ""
	}
	tx.Update(remote.NewRef(remote.Matches, m.ID), endFields(reason, at, by))
	m.IsActive, m.EndReason = false, reason
	ended := at.UTC()
	m.EndedAt, m.EndedBy = &ended, by

	if pair != nil && pair.ActiveMatchID == m.ID {
		tx.Update(remote.NewRef(remote.Pairs, pair.Key), remote.Doc{"activeMatchId": ""})
	}
}

// detach removes m from each participant's matches list. Participants whose
// user document is gone are skipped.
func detach(ctx context.Context, tx remote.Tx, m model.Match) error {
	for _, id := range m.Users {
		ref := remote.NewRef(remote.Users, id)
		if _, err := tx.Get(ctx, ref); err != nil {
			if remote.IsNotFound(err) {
				continue
			}
			return err
		}
		tx.Update(ref, remote.Doc{"matches": remote.ArrayRemove(m.ID)})
	}
	return nil
}

func readPair(ctx context.Context, tx remote.Tx, key string) (*model.Pair, error) {
	p, err := remote.GetAs[model.Pair](ctx, tx, remote.NewRef(remote.Pairs, key))
	if remote.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Key == "" {
		p.Key = key
	}
	return &p, nil
}

// Unmatch ends matchID on behalf of byUserID and removes it from both
// participants' matches. An already terminal match is returned unchanged
// and only detached from the users.
func (mg *Manager) Unmatch(ctx context.Context, matchID, byUserID string) (model.Match, error) {
	var out model.Match
	err := mg.store.RunTransaction(ctx, func(ctx context.Context, tx remote.Tx) error {
		now := mg.now().UTC()
		m, err := remote.GetAs[model.Match](ctx, tx, remote.NewRef(remote.Matches, matchID))
		if remote.IsNotFound(err) {
			return engine.NewPermanentError("match "+matchID+" not found", err)
		}
		if err != nil {
			return err
		}
		if !m.Includes(byUserID) {
			return engine.NewPermanentError(fmt.Sprintf("user %s is not part of match %s", byUserID, matchID), nil)
		}
		if !m.IsActive {
			out = m
			return detach(ctx, tx, m)
		}

		pair, err := readPair(ctx, tx, m.PairKey)
		if err != nil {
			return err
		}
		closeMatch(tx, &m, pair, model.EndUnmatched, byUserID, now)
		out = m
		return detach(ctx, tx, m)
	})
	if err != nil {
		return model.Match{}, err
	}
	mg.logger.Info("match ended",
		zap.String("match_id", out.ID),
		zap.String("reason", string(out.EndReason)))
	return out, nil
}

// Block records that byUserID blocked targetID, drops pending likes in both
// directions and ends the pair's active match, removing it from both users'
// matches. It returns the ended match, if there was one.
func (mg *Manager) Block(ctx context.Context, byUserID, targetID string) (*model.Match, error) {
	if byUserID == "" || targetID == "" || byUserID == targetID {
		return nil, engine.NewPermanentError("invalid block", model.ErrInvalidPayload)
	}

	var ended *model.Match
	err := mg.store.RunTransaction(ctx, func(ctx context.Context, tx remote.Tx) error {
		ended = nil
		now := mg.now().UTC()
		key := model.PairKey(byUserID, targetID)

		pair, err := readPair(ctx, tx, key)
		if err != nil {
			return err
		}
		var active *model.Match
		if pair != nil && pair.ActiveMatchID != "" {
			m, err := remote.GetAs[model.Match](ctx, tx, remote.NewRef(remote.Matches, pair.ActiveMatchID))
			if err != nil && !remote.IsNotFound(err) {
				return err
			}
			if err == nil && m.IsActive {
				active = &m
			}
		}

		if _, err := tx.Get(ctx, remote.NewRef(remote.Users, byUserID)); err != nil {
			if remote.IsNotFound(err) {
				return engine.NewPermanentError("user "+byUserID+" not found", err)
			}
			return err
		}
		_, err = tx.Get(ctx, remote.NewRef(remote.Users, targetID))
		targetExists := err == nil
		if err != nil && !remote.IsNotFound(err) {
			return err
		}

		tx.Update(remote.NewRef(remote.Users, byUserID), remote.Doc{
			"blockedUsers":  remote.ArrayUnion(targetID),
			"likedProfiles": remote.ArrayRemove(targetID),
		})
		if targetExists {
			tx.Update(remote.NewRef(remote.Users, targetID), remote.Doc{
				"likedProfiles": remote.ArrayRemove(byUserID),
			})
		}
		if active != nil {
			closeMatch(tx, active, pair, model.EndBlocked, byUserID, now)
			ended = active
			return detach(ctx, tx, *active)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	mg.logger.Info("user blocked",
		zap.String("by_user_id", byUserID),
		zap.String("target_id", targetID),
		zap.Bool("ended_match", ended != nil))
	return ended, nil
}

// ExpireDue persists endReason=expired on every elapsed match of userID
// that is still flagged active and returns their ids. Running it twice
// changes nothing the second time.
func (mg *Manager) ExpireDue(ctx context.Context, userID string, now time.Time) ([]string, error) {
	u, err := remote.GetAs[model.User](ctx, mg.store, remote.NewRef(remote.Users, userID))
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, id := range u.Matches {
		var changed bool
		err := mg.store.RunTransaction(ctx, func(ctx context.Context, tx remote.Tx) error {
			changed = false
			m, err := remote.GetAs[model.Match](ctx, tx, remote.NewRef(remote.Matches, id))
			if remote.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if !m.IsActive || !IsExpired(m, now) {
				return nil
			}
			pair, err := readPair(ctx, tx, m.PairKey)
			if err != nil {
				return err
			}
			closeMatch(tx, &m, pair, model.EndExpired, "", now)
			changed = true
			return nil
		})
		if err != nil {
			return expired, fmt.Errorf("expire match %s: %w", id, err)
		}
		if changed {
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		mg.logger.Info("expired matches",
			zap.String("user_id", userID),
			zap.Strings("match_ids", expired))
	}
	return expired, nil
}
