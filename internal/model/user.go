package model

import "time"

// UserType separates the two sides of the marketplace.
type UserType string

const (
	UserTypeModel UserType = "model"
	UserTypeBrand UserType = "brand"
)

// User is the matching-relevant projection of a profile document.
//
// SwipedProfiles only grows. LikedProfiles holds the ids this user liked that
// have not yet been consumed into a match.
type User struct {
	ID               string     `json:"id"`
	UserType         UserType   `json:"userType,omitempty"`
	Name             string     `json:"name,omitempty"`
	IsVerified       bool       `json:"isVerified"`
	ProfileComplete  bool       `json:"profileComplete"`
	SwipedProfiles   []string   `json:"swipedProfiles"`
	LikedProfiles    []string   `json:"likedProfiles"`
	Matches          []string   `json:"matches"`
	BlockedUsers     []string   `json:"blockedUsers"`
	IsPremium        bool       `json:"isPremium"`
	PremiumExpiresAt *time.Time `json:"premiumExpiresAt,omitempty"`
}

// PremiumActive reports whether the user holds premium at now. A premium
// flag without an expiry never lapses.
func (u User) PremiumActive(now time.Time) bool {
	if !u.IsPremium {
		return false
	}
	return u.PremiumExpiresAt == nil || now.Before(*u.PremiumExpiresAt)
}

// HasLiked reports whether id is among the user's unconsumed likes.
func (u User) HasLiked(id string) bool { return contains(u.LikedProfiles, id) }

// HasSwiped reports whether the user already evaluated id.
func (u User) HasSwiped(id string) bool { return contains(u.SwipedProfiles, id) }

// HasBlocked reports whether the user blocked id.
func (u User) HasBlocked(id string) bool { return contains(u.BlockedUsers, id) }

func contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
