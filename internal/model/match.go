package model

import (
	"strings"
	"time"
)

// Match TTLs fixed at creation time.
const (
	StandardMatchTTL = 24 * time.Hour
	PremiumMatchTTL  = 48 * time.Hour
)

// EndReason tags a terminal match.
type EndReason string

const (
	EndExpired   EndReason = "expired"
	EndUnmatched EndReason = "unmatched"
	EndBlocked   EndReason = "blocked"
)

// MatchState is the derived lifecycle state of a match.
type MatchState string

const (
	StateActive    MatchState = "active"
	StateExpired   MatchState = "expired"
	StateUnmatched MatchState = "unmatched"
	StateBlocked   MatchState = "blocked"
)

// Match is a time-boxed mutual connection between exactly two users.
type Match struct {
	ID            string     `json:"id"`
	Users         []string   `json:"users"`
	PairKey       string     `json:"pairKey"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	IsActive      bool       `json:"isActive"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	LastMessage   string     `json:"lastMessage,omitempty"`
	EndReason     EndReason  `json:"endReason,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	EndedBy       string     `json:"endedBy,omitempty"`
}

// Includes reports whether userID participates in the match.
func (m Match) Includes(userID string) bool { return contains(m.Users, userID) }

// Other returns the participant that is not userID.
func (m Match) Other(userID string) string {
	for _, u := range m.Users {
		if u != userID {
			return u
		}
	}
	return ""
}

// Pair is the per-pair anchor document. ActiveMatchID is empty when the pair
// has no live match; History lists every match ever created for the pair.
type Pair struct {
	Key           string   `json:"pairKey"`
	Users         []string `json:"users"`
	ActiveMatchID string   `json:"activeMatchId"`
	History       []string `json:"history"`
}

// PairKeySeparator joins the two ids of a pair key.
const PairKeySeparator = "|"

// PairKey is the order-independent identifier of the pair (a, b).
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + PairKeySeparator + b
}

// SplitPairKey returns the two ids of a pair key in canonical order.
func SplitPairKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, PairKeySeparator)
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}

// MatchTTL returns the TTL a new match gets. Either participant holding
// active premium at creation grants the longer window.
func MatchTTL(a, b User, now time.Time) time.Duration {
	if a.PremiumActive(now) || b.PremiumActive(now) {
		return PremiumMatchTTL
	}
	return StandardMatchTTL
}
