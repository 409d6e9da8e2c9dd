// Package harness runs YAML scenarios against a fully wired core.
//
// Each scenario gets a fresh temporary directory holding the SQLite queue,
// an in-memory remote store, a fake wall clock and sequential action ids, so
// two runs of the same scenario produce byte-identical traces. Steps are
// executed in order; drains run synchronously, so every event the core
// publishes lands in the trace right after the step that caused it.
//
// # Scenario format
//
//	name: reciprocal-like
//	description: Two likes create exactly one match
//	start: 2026-06-01T10:00:00Z
//	setup:
//	  - action: user
//	    args: {id: a}
//	flow:
//	  - invoke: swipe
//	    args: {actor: a, target: b, direction: like}
//	    expect: {case: ok}
//	  - invoke: drain
//	    args: {}
//	assertions:
//	  - type: event_count
//	    event: match_created
//	    count: 1
//
// Setup actions: user, match. Flow steps: swipe, profile, message, report,
// unmatch, block, drain, offline, online, advance, restart, fail_remote.
//
// Golden traces live in testdata/golden and are refreshed with
//
//	go test ./internal/harness -update
package harness
