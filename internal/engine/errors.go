package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/AakashB275/BrandModel/internal/model"
)

// ErrorCode categorizes action failures for the retry policy.
type ErrorCode string

const (
	// CodeTransientRemote covers network failures and timeouts. Retried with backoff.
	CodeTransientRemote ErrorCode = "TRANSIENT_REMOTE"

	// CodeConflict is a concurrent-write rejection. Retried, since every
	// apply is idempotent.
	CodeConflict ErrorCode = "CONFLICT"

	// CodePermanent is a malformed payload or a deleted referent. Dead-lettered
	// without retry.
	CodePermanent ErrorCode = "PERMANENT"

	// CodeLocalPersistence is a corrupt or unwritable local queue.
	CodeLocalPersistence ErrorCode = "LOCAL_PERSISTENCE"

	// CodeAttemptsExhausted marks a dead letter produced by the retry ceiling.
	CodeAttemptsExhausted ErrorCode = "ATTEMPTS_EXHAUSTED"
)

// ActionError is a classified failure.
type ActionError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ActionID identifies the affected action, when known.
	ActionID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.ActionID != "" {
		return fmt.Sprintf("%s: %s (action=%s)", e.Code, msg, e.ActionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable remote failure.
func NewTransientError(msg string, err error) *ActionError {
	return &ActionError{Code: CodeTransientRemote, Message: msg, Err: err}
}

// NewConflictError wraps err as a concurrent-write rejection.
func NewConflictError(msg string, err error) *ActionError {
	return &ActionError{Code: CodeConflict, Message: msg, Err: err}
}

// NewPermanentError wraps err as a non-retryable failure.
func NewPermanentError(msg string, err error) *ActionError {
	return &ActionError{Code: CodePermanent, Message: msg, Err: err}
}

// NewLocalPersistenceError wraps a local storage failure.
func NewLocalPersistenceError(msg string, err error) *ActionError {
	return &ActionError{Code: CodeLocalPersistence, Message: msg, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsTransient returns true if err is classified as a transient remote error.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool { return hasCode(err, CodeTransientRemote) }

// IsConflict returns true if err is a concurrent-write rejection.
func IsConflict(err error) bool { return hasCode(err, CodeConflict) }

// IsPermanent returns true if err must not be retried.
func IsPermanent(err error) bool { return hasCode(err, CodePermanent) }

// IsLocalPersistence returns true if err came from local storage.
func IsLocalPersistence(err error) bool { return hasCode(err, CodeLocalPersistence) }

// PostgreSQL SQLSTATE codes the classifier understands.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
	sqlStateAdminShutdown        = "57P01"
)

// Classify maps an apply error to its retry category.
//
// Explicit ActionErrors keep their code. Context deadlines, network errors and
// connection-class SQLSTATEs are transient. Serialization failures, deadlocks
// and unique violations are conflicts: the losing transaction is retried and
// then observes the winner's write. Payload validation failures are
// permanent. Anything unrecognized is treated as transient and left to the
// attempt ceiling.
func Classify(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Code
	}

	if errors.Is(err, model.ErrInvalidPayload) {
		return CodePermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTransientRemote
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlStateSerializationFailure,
			pgErr.Code == sqlStateDeadlockDetected,
			pgErr.Code == sqlStateUniqueViolation:
			return CodeConflict
		case pgErr.Code == sqlStateAdminShutdown,
			len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53"):
			return CodeTransientRemote
		case len(pgErr.Code) == 5 && (pgErr.Code[:2] == "22" || pgErr.Code[:2] == "23"):
			return CodePermanent
		default:
			return CodeTransientRemote
		}
	}

	// pgconn.Timeout, pgconn.SafeToRetry and net.Error all land here too.
	return CodeTransientRemote
}
