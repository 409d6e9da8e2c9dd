package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/reciprocal_like.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalTrace(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalTrace(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FailedExpectationIsReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: wrong-expectation
description: a like on a missing user still succeeds locally
setup:
  - action: user
    args: {id: a}
flow:
  - invoke: swipe
    args: {actor: a, target: ghost}
    expect: {case: invalid_payload}
assertions:
  - type: queue_length
    count: 0
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `expected case "invalid_payload", got "ok"`)
	assert.Contains(t, result.Errors[1], "queue_length")
}

func TestRun_InvalidIntentCase(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: empty-message
description: markup-only text is rejected
setup:
  - action: user
    args: {id: a}
  - action: user
    args: {id: b}
  - action: match
    args: {id: m1, users: [a, b]}
flow:
  - invoke: message
    args: {match: m1, sender: a, text: "<b></b>"}
    expect: {case: invalid_payload}
  - invoke: block
    args: {by: a, target: b}
    expect: {case: ok, result: {kind: block}}
  - invoke: drain
    args: {}
    expect: {case: ok, result: {applied: 1}}
assertions:
  - type: final_state
    collection: matches
    id: m1
    expect: {isActive: false, endReason: blocked}
  - type: final_state
    collection: users
    id: a
    expect: {blockedUsers: [b]}
`))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnknownDurationAborts(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: bad-advance
description: a malformed duration stops the run
flow:
  - invoke: advance
    args: {by: soon}
assertions:
  - type: queue_length
`))
	require.NoError(t, err)

	_, err = Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow step 0 (advance)")
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventCount,
		Expected: "1 match_created events",
		Actual:   "0 events",
		Trace: []TraceEvent{
			{Type: TraceInvocation, Action: "swipe", Args: map[string]any{"actor": "a"}, Seq: 1},
			{Type: TraceCompletion, Action: "swipe", Case: CaseOK, Seq: 2},
			{Type: TracePublished, Event: "drain_complete", Seq: 3},
		},
	}

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "Assertion failed: event_count\n"))
	assert.Contains(t, msg, "Expected: 1 match_created events")
	assert.Contains(t, msg, "[1] swipe map[actor:a]")
	assert.Contains(t, msg, "[3] <- drain_complete")
	assert.NotContains(t, msg, "[2]")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := []TraceEvent{
		{Type: TraceInvocation, Action: "swipe"},
		{Type: TraceInvocation, Action: "drain"},
		{Type: TracePublished, Event: "match_created"},
	}

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"swipe", "match_created"}}))
	assert.Error(t, assertTraceOrder(trace, Assertion{Actions: []string{"match_created", "swipe"}}))
	assert.Error(t, assertTraceOrder(trace, Assertion{Actions: []string{"swipe", "swipe"}}))
}
