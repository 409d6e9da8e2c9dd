// Package actions applies drained queue actions to the remote store.
//
// Every apply is idempotent: documents created by an action carry an id
// derived from the action id and are written only if absent, array fields
// change through set transforms, and match creation goes through the pair
// anchor. Replaying an action whose effect already landed changes nothing.
package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/lifecycle"
	"github.com/AakashB275/BrandModel/internal/matching"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/remote"
)

// ErrMatchClosed is the cause of a dead-lettered message whose match ended
// or expired before the message was sent.
var ErrMatchClosed = errors.New("match is closed")

type Applier struct {
	store     remote.Store
	matcher   *matching.Engine
	lifecycle *lifecycle.Manager
	publisher engine.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Applier)

// WithPublisher receives MatchCreated events.
func WithPublisher(p engine.Publisher) Option {
	return func(a *Applier) { a.publisher = p }
}

func WithNow(now func() time.Time) Option {
	return func(a *Applier) { a.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Applier) { a.logger = l }
}

func New(store remote.Store, matcher *matching.Engine, lc *lifecycle.Manager, opts ...Option) *Applier {
	a := &Applier{
		store:     store,
		matcher:   matcher,
		lifecycle: lc,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var _ engine.Applier = (*Applier)(nil)

// Apply executes action's remote effect.
func (a *Applier) Apply(ctx context.Context, action model.PendingAction) error {
	payload, err := model.DecodePayload(action)
	if err != nil {
		return engine.NewPermanentError("decode payload", err)
	}

	switch p := payload.(type) {
	case model.SwipePayload:
		err = a.swipe(ctx, p.ActorID, p.TargetID, p.Direction)
	case model.LikePayload:
		err = a.swipe(ctx, p.ActorID, p.TargetID, model.DirectionLike)
	case model.CreateMatchPayload:
		err = a.createMatch(ctx, p)
	case model.ProfileUpdatePayload:
		err = a.updateProfile(ctx, p)
	case model.MessagePayload:
		err = a.sendMessage(ctx, action, p)
	case model.ReportPayload:
		err = a.report(ctx, action, p)
	case model.UnmatchPayload:
		_, err = a.lifecycle.Unmatch(ctx, p.MatchID, p.ByUserID)
	case model.BlockPayload:
		_, err = a.lifecycle.Block(ctx, p.ByUserID, p.TargetID)
	default:
		err = engine.NewPermanentError(fmt.Sprintf("no applier for %s", action.Kind), nil)
	}
	return normalize(err)
}

// normalize makes a missing referent permanent. Other remote errors keep
// their classification.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	var ae *engine.ActionError
	if errors.As(err, &ae) {
		return err
	}
	if remote.IsNotFound(err) {
		return engine.NewPermanentError("referenced document missing", err)
	}
	return err
}

func (a *Applier) publishMatch(out matching.Outcome) {
	if !out.Created || a.publisher == nil {
		return
	}
	a.publisher.Publish(engine.Event{Type: engine.EventMatchCreated, At: a.now().UTC(), Match: out.Match})
}

func (a *Applier) swipe(ctx context.Context, actor, target string, dir model.SwipeDirection) error {
	out, err := a.matcher.RecordSwipe(ctx, actor, target, dir)
	if err != nil {
		return err
	}
	a.publishMatch(out)
	return nil
}

func (a *Applier) createMatch(ctx context.Context, p model.CreateMatchPayload) error {
	out, err := a.matcher.CreateMatch(ctx, p.UserA, p.UserB)
	if err != nil {
		return err
	}
	a.publishMatch(out)
	return nil
}

// updateProfile sets scalar fields and merges array fields into the stored
// sets.
func (a *Applier) updateProfile(ctx context.Context, p model.ProfileUpdatePayload) error {
	fields := make(remote.Doc, len(p.Fields))
	for name, v := range p.Fields {
		if arr, ok := v.([]any); ok {
			fields[name] = remote.ArrayUnion(arr...)
			continue
		}
		fields[name] = v
	}
	return a.store.Update(ctx, remote.NewRef(remote.Users, p.UserID), fields)
}

// sendMessage writes the message and bumps the match's lastMessageAt in one
// transaction. A message is delivered only if it was enqueued before the
// match expired and the match was not ended early.
func (a *Applier) sendMessage(ctx context.Context, action model.PendingAction, p model.MessagePayload) error {
	msgID := model.MessageID(action.ID)
	msgRef := remote.NewRef(remote.Messages, msgID)
	matchRef := remote.NewRef(remote.Matches, p.MatchID)

	return a.store.RunTransaction(ctx, func(ctx context.Context, tx remote.Tx) error {
		if _, err := tx.Get(ctx, msgRef); err == nil {
			return nil
		} else if !remote.IsNotFound(err) {
			return err
		}

		m, err := remote.GetAs[model.Match](ctx, tx, matchRef)
		if err != nil {
			return err
		}
		if !m.Includes(p.SenderID) {
			return engine.NewPermanentError(fmt.Sprintf("sender %s is not part of match %s", p.SenderID, m.ID), nil)
		}
		if !m.IsActive && m.EndReason != model.EndExpired {
			return engine.NewPermanentError("match "+string(m.EndReason), ErrMatchClosed)
		}
		if !action.EnqueuedAt.Before(m.ExpiresAt) {
			return engine.NewPermanentError("message enqueued after match expiry", ErrMatchClosed)
		}

		msg := model.Message{
			ID:         msgID,
			MatchID:    p.MatchID,
			SenderID:   p.SenderID,
			Text:       p.Text,
			ActionID:   action.ID,
			Seq:        action.Seq,
			ClientTime: action.EnqueuedAt.UTC(),
		}
		doc, err := remote.Encode(msg)
		if err != nil {
			return engine.NewPermanentError("encode message", err)
		}
		doc["createdAt"] = remote.ServerTimestamp()

		tx.Set(msgRef, doc)
		tx.Update(matchRef, remote.Doc{
			"lastMessageAt": remote.ServerTimestamp(),
			"lastMessage":   p.Text,
		})
		return nil
	})
}

func (a *Applier) report(ctx context.Context, action model.PendingAction, p model.ReportPayload) error {
	r := model.Report{
		ID:             model.ReportID(action.ID),
		ReporterID:     p.ReporterID,
		ReportedUserID: p.TargetID,
		Reason:         p.Reason,
		CustomReason:   p.CustomReason,
		Status:         model.ReportStatusPending,
	}
	doc, err := remote.Encode(r)
	if err != nil {
		return engine.NewPermanentError("encode report", err)
	}
	doc["reportedAt"] = remote.ServerTimestamp()
	return createOnce(ctx, a.store, remote.NewRef(remote.Reports, r.ID), doc)
}

// createOnce writes doc at ref unless a document is already there.
func createOnce(ctx context.Context, store remote.Store, ref remote.Ref, doc remote.Doc) error {
	return store.RunTransaction(ctx, func(ctx context.Context, tx remote.Tx) error {
		_, err := tx.Get(ctx, ref)
		if err == nil {
			return nil
		}
		if !remote.IsNotFound(err) {
			return err
		}
		tx.Set(ref, doc)
		return nil
	})
}
