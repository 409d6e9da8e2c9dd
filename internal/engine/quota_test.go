package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttemptQuota_WithinLimit(t *testing.T) {
	q := NewAttemptQuota(5)

	for attempts := 0; attempts < 5; attempts++ {
		assert.NoError(t, q.Check("a-1", attempts), "attempt %d should be allowed", attempts)
	}
}

func TestAttemptQuota_ExceedsLimit(t *testing.T) {
	q := NewAttemptQuota(5)

	err := q.Check("a-1", 5)
	require.Error(t, err)

	var exceeded *AttemptsExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, "a-1", exceeded.ActionID)
	assert.Equal(t, 5, exceeded.Attempts)
	assert.Equal(t, 5, exceeded.Limit)
}

func TestAttemptQuota_ZeroLimitMeansOne(t *testing.T) {
	q := NewAttemptQuota(0)
	assert.Equal(t, 1, q.MaxAttempts())
	assert.Error(t, q.Check("a-1", 1))
}

func TestAttemptsExceededError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &AttemptsExceededError{ActionID: "a-1", Attempts: 5, Limit: 5, Last: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed 5 times (limit 5)")
	assert.Contains(t, err.Error(), "connection reset")
}
