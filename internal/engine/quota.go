package engine

import "fmt"

// AttemptQuota enforces the retry ceiling for a single action.
//
// CRITICAL DISTINCTION from classification:
//   - Permanent errors dead-letter on the first failure.
//   - Transient and conflict errors dead-letter only when the quota runs out.
type AttemptQuota struct {
	maxAttempts int
}

// NewAttemptQuota creates a quota allowing maxAttempts failed applies.
func NewAttemptQuota(maxAttempts int) AttemptQuota {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return AttemptQuota{maxAttempts: maxAttempts}
}

// Check returns AttemptsExceededError once attempts reaches the ceiling.
func (q AttemptQuota) Check(actionID string, attempts int) error {
	if attempts >= q.maxAttempts {
		return &AttemptsExceededError{ActionID: actionID, Attempts: attempts, Limit: q.maxAttempts}
	}
	return nil
}

// MaxAttempts returns the ceiling. Used for logging and diagnostics.
func (q AttemptQuota) MaxAttempts() int {
	return q.maxAttempts
}

// AttemptsExceededError is the dead-letter cause for an exhausted action.
type AttemptsExceededError struct {
	ActionID string
	Attempts int
	Limit    int
	Last     error
}

func (e *AttemptsExceededError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("action %s failed %d times (limit %d): %v", e.ActionID, e.Attempts, e.Limit, e.Last)
	}
	return fmt.Sprintf("action %s failed %d times (limit %d)", e.ActionID, e.Attempts, e.Limit)
}

func (e *AttemptsExceededError) Unwrap() error { return e.Last }
