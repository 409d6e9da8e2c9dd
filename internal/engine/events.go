package engine

import (
	"time"

	"github.com/AakashB275/BrandModel/internal/model"
)

// EventType distinguishes outbound notifications.
type EventType string

const (
	EventMatchCreated       EventType = "match_created"
	EventActionDeadLettered EventType = "action_dead_lettered"
	EventDrainComplete      EventType = "drain_complete"
)

// Event is an outbound notification to the UI layer.
type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	Match      *model.Match      `json:"match,omitempty"`
	DeadLetter *model.DeadLetter `json:"deadLetter,omitempty"`
	Drain      *DrainReport      `json:"drain,omitempty"`
}

// DrainReport summarizes one Drain call.
type DrainReport struct {
	// Applied counts actions whose remote effect was confirmed.
	Applied int `json:"applied"`
	// Failed counts actions rescheduled or dead-lettered.
	Failed int `json:"failed"`
	// DeadLettered is the subset of Failed moved to the dead-letter set.
	DeadLettered int `json:"deadLettered"`
	// Deferred counts actions left for a later drain because they were not
	// yet due or sat behind a failed action of the same entity.
	Deferred int `json:"deferred"`
	// NextAttemptAt is the earliest time a deferred action becomes due.
	// Zero when nothing is waiting on backoff.
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
}

// Publisher receives outbound events. Implemented by Notifier.
type Publisher interface {
	Publish(Event)
}
