package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ActionKind identifies the remote effect a PendingAction carries.
type ActionKind string

const (
	KindUpdateProfile ActionKind = "update_profile"
	KindSendMessage   ActionKind = "send_message"
	KindCreateMatch   ActionKind = "create_match"
	KindReportUser    ActionKind = "report_user"
	KindRecordSwipe   ActionKind = "record_swipe"
	KindRecordLike    ActionKind = "record_like"
	KindUnmatch       ActionKind = "unmatch"
	KindBlock         ActionKind = "block"
)

// AllKinds lists every kind the executor knows how to apply.
var AllKinds = []ActionKind{
	KindUpdateProfile,
	KindSendMessage,
	KindCreateMatch,
	KindReportUser,
	KindRecordSwipe,
	KindRecordLike,
	KindUnmatch,
	KindBlock,
}

// Valid reports whether k is a known kind.
func (k ActionKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ErrInvalidPayload is wrapped by every payload validation failure.
var ErrInvalidPayload = errors.New("invalid action payload")

// PendingAction is a durable record of user intent not yet confirmed by the
// remote store.
type PendingAction struct {
	ID            string          `json:"id"`
	Kind          ActionKind      `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Seq           int64           `json:"seq"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"nextAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

// Ready reports whether the action's backoff has elapsed at now.
func (a PendingAction) Ready(now time.Time) bool {
	return a.NextAttemptAt.IsZero() || !now.Before(a.NextAttemptAt)
}

// DeadLetter is an action removed from the retry path, kept for inspection.
type DeadLetter struct {
	Action         PendingAction `json:"action"`
	ErrorCode      string        `json:"errorCode"`
	LastError      string        `json:"lastError"`
	DeadLetteredAt time.Time     `json:"deadLetteredAt"`
}

// SwipeDirection is the user's verdict on a profile.
type SwipeDirection string

const (
	DirectionLike SwipeDirection = "like"
	DirectionPass SwipeDirection = "pass"
)

// ParseDirection accepts the spellings the UI layer uses.
func ParseDirection(s string) (SwipeDirection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "like", "right", "superlike":
		return DirectionLike, nil
	case "pass", "left", "dislike":
		return DirectionPass, nil
	default:
		return "", fmt.Errorf("%w: unknown swipe direction %q", ErrInvalidPayload, s)
	}
}

// Payload is implemented by every kind-specific payload.
type Payload interface {
	Kind() ActionKind
	Validate() error
	// EntityKey names the entity whose actions must apply in enqueue order.
	EntityKey() string
}

type SwipePayload struct {
	ActorID   string         `json:"actorId"`
	TargetID  string         `json:"targetId"`
	Direction SwipeDirection `json:"direction"`
}

func (SwipePayload) Kind() ActionKind { return KindRecordSwipe }

func (p SwipePayload) Validate() error {
	if err := requirePair(p.ActorID, p.TargetID); err != nil {
		return err
	}
	if p.Direction != DirectionLike && p.Direction != DirectionPass {
		return fmt.Errorf("%w: direction %q", ErrInvalidPayload, p.Direction)
	}
	return nil
}

// EntityKey is the actor: every swipe writes the actor's user document, so
// one user's swipes apply in order alongside their profile edits.
func (p SwipePayload) EntityKey() string { return "user:" + p.ActorID }

// LikePayload is a swipe that is always a like.
type LikePayload struct {
	ActorID  string `json:"actorId"`
	TargetID string `json:"targetId"`
}

func (LikePayload) Kind() ActionKind { return KindRecordLike }

func (p LikePayload) Validate() error { return requirePair(p.ActorID, p.TargetID) }

func (p LikePayload) EntityKey() string { return "user:" + p.ActorID }

type ProfileUpdatePayload struct {
	UserID string         `json:"userId"`
	Fields map[string]any `json:"fields"`
}

func (ProfileUpdatePayload) Kind() ActionKind { return KindUpdateProfile }

// protectedProfileFields are maintained by the match engine, the lifecycle
// manager or account administration; a profile edit must never set them.
var protectedProfileFields = map[string]bool{
	"id":               true,
	"swipedProfiles":   true,
	"likedProfiles":    true,
	"matches":          true,
	"blockedUsers":     true,
	"userType":         true,
	"isVerified":       true,
	"isPremium":        true,
	"premiumExpiresAt": true,
}

func (p ProfileUpdatePayload) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidPayload)
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("%w: no fields to update", ErrInvalidPayload)
	}
	for name := range p.Fields {
		if protectedProfileFields[name] {
			return fmt.Errorf("%w: field %q is not editable", ErrInvalidPayload, name)
		}
	}
	return nil
}

func (p ProfileUpdatePayload) EntityKey() string { return "user:" + p.UserID }

type MessagePayload struct {
	MatchID  string `json:"matchId"`
	SenderID string `json:"senderId"`
	Text     string `json:"text"`
}

func (MessagePayload) Kind() ActionKind { return KindSendMessage }

func (p MessagePayload) Validate() error {
	if strings.TrimSpace(p.MatchID) == "" || strings.TrimSpace(p.SenderID) == "" {
		return fmt.Errorf("%w: matchId and senderId are required", ErrInvalidPayload)
	}
	if strings.TrimSpace(p.Text) == "" {
		return fmt.Errorf("%w: message text is empty", ErrInvalidPayload)
	}
	if len(p.Text) > MaxMessageLength {
		return fmt.Errorf("%w: message exceeds %d bytes", ErrInvalidPayload, MaxMessageLength)
	}
	return nil
}

func (p MessagePayload) EntityKey() string { return "match:" + p.MatchID }

type CreateMatchPayload struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
}

func (CreateMatchPayload) Kind() ActionKind { return KindCreateMatch }

func (p CreateMatchPayload) Validate() error { return requirePair(p.UserA, p.UserB) }

func (p CreateMatchPayload) EntityKey() string { return "pair:" + PairKey(p.UserA, p.UserB) }

type ReportPayload struct {
	ReporterID   string `json:"reporterId"`
	TargetID     string `json:"reportedUserId"`
	Reason       string `json:"reason"`
	CustomReason string `json:"customReason,omitempty"`
}

func (ReportPayload) Kind() ActionKind { return KindReportUser }

func (p ReportPayload) Validate() error {
	if err := requirePair(p.ReporterID, p.TargetID); err != nil {
		return err
	}
	if !IsReportReason(p.Reason) {
		return fmt.Errorf("%w: unknown report reason %q", ErrInvalidPayload, p.Reason)
	}
	if p.Reason == ReasonOther && strings.TrimSpace(p.CustomReason) == "" {
		return fmt.Errorf("%w: details are required for reason %q", ErrInvalidPayload, ReasonOther)
	}
	return nil
}

func (p ReportPayload) EntityKey() string { return "report:" + p.ReporterID }

type UnmatchPayload struct {
	MatchID  string `json:"matchId"`
	ByUserID string `json:"byUserId"`
}

func (UnmatchPayload) Kind() ActionKind { return KindUnmatch }

func (p UnmatchPayload) Validate() error {
	if strings.TrimSpace(p.MatchID) == "" || strings.TrimSpace(p.ByUserID) == "" {
		return fmt.Errorf("%w: matchId and byUserId are required", ErrInvalidPayload)
	}
	return nil
}

func (p UnmatchPayload) EntityKey() string { return "match:" + p.MatchID }

type BlockPayload struct {
	ByUserID string `json:"byUserId"`
	TargetID string `json:"targetId"`
}

func (BlockPayload) Kind() ActionKind { return KindBlock }

func (p BlockPayload) Validate() error { return requirePair(p.ByUserID, p.TargetID) }

func (p BlockPayload) EntityKey() string { return "pair:" + PairKey(p.ByUserID, p.TargetID) }

func requirePair(a, b string) error {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return fmt.Errorf("%w: both user ids are required", ErrInvalidPayload)
	}
	if a == b {
		return fmt.Errorf("%w: user %q cannot act on themselves", ErrInvalidPayload, a)
	}
	return nil
}

// NewPayload returns an empty payload value for kind, ready for decoding.
func NewPayload(kind ActionKind) (Payload, error) {
	switch kind {
	case KindRecordSwipe:
		return &SwipePayload{}, nil
	case KindRecordLike:
		return &LikePayload{}, nil
	case KindUpdateProfile:
		return &ProfileUpdatePayload{}, nil
	case KindSendMessage:
		return &MessagePayload{}, nil
	case KindCreateMatch:
		return &CreateMatchPayload{}, nil
	case KindReportUser:
		return &ReportPayload{}, nil
	case KindUnmatch:
		return &UnmatchPayload{}, nil
	case KindBlock:
		return &BlockPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, kind)
	}
}

// DecodePayload decodes and validates the action's payload.
func DecodePayload(a PendingAction) (Payload, error) {
	p, err := NewPayload(a.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(a.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidPayload, a.Kind, err)
	}
	// Pointer receivers are not used by Payload methods; dereference so
	// callers can type-switch on value types.
	v := derefPayload(p)
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *SwipePayload:
		return *v
	case *LikePayload:
		return *v
	case *ProfileUpdatePayload:
		return *v
	case *MessagePayload:
		return *v
	case *CreateMatchPayload:
		return *v
	case *ReportPayload:
		return *v
	case *UnmatchPayload:
		return *v
	case *BlockPayload:
		return *v
	default:
		return p
	}
}

// EntityKey returns the serialization key of a stored action. Undecodable
// actions get a key of their own so they never hold up other entities.
func EntityKey(a PendingAction) string {
	p, err := DecodePayload(a)
	if err != nil {
		return "action:" + a.ID
	}
	return p.EntityKey()
}
