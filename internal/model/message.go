package model

import "time"

// MaxMessageLength bounds the stored text of one message, in bytes.
const MaxMessageLength = 4000

// Message belongs to one match and is immutable once written.
type Message struct {
	ID        string    `json:"id"`
	MatchID   string    `json:"matchId"`
	SenderID  string    `json:"senderId"`
	Text      string    `json:"text"`
	ActionID  string    `json:"actionId"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	// ClientTime is the local wall time at enqueue.
	ClientTime time.Time `json:"clientTime"`
}

// Report reasons offered by the reporting dialog.
const (
	ReasonInappropriateContent  = "Inappropriate content"
	ReasonSpam                  = "Spam or fake profile"
	ReasonHarassment            = "Harassment or bullying"
	ReasonUnderage              = "Underage user"
	ReasonInappropriateBehavior = "Inappropriate behavior"
	ReasonOther                 = "Other"
)

var ReportReasons = []string{
	ReasonInappropriateContent,
	ReasonSpam,
	ReasonHarassment,
	ReasonUnderage,
	ReasonInappropriateBehavior,
	ReasonOther,
}

func IsReportReason(reason string) bool {
	for _, r := range ReportReasons {
		if r == reason {
			return true
		}
	}
	return false
}

const ReportStatusPending = "pending"

type Report struct {
	ID             string    `json:"id"`
	ReporterID     string    `json:"reporterId"`
	ReportedUserID string    `json:"reportedUserId"`
	Reason         string    `json:"reason"`
	CustomReason   string    `json:"customReason,omitempty"`
	Status         string    `json:"status"`
	ReportedAt     time.Time `json:"reportedAt"`
}

// AnalyticsEvent is buffered locally and flushed best-effort.
type AnalyticsEvent struct {
	ID         string         `json:"id"`
	Name       string         `json:"event"`
	Properties map[string]any `json:"properties,omitempty"`
	RecordedAt time.Time      `json:"timestamp"`
}
