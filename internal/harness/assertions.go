package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/AakashB275/BrandModel/internal/app"
	"github.com/AakashB275/BrandModel/internal/remote"
)

// AssertionContext gives assertions access to the final state of a run.
type AssertionContext struct {
	Ctx    context.Context
	Remote *remote.MemoryStore
	Core   *app.Core
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case TraceInvocation:
				fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Action, event.Args)
			case TracePublished:
				fmt.Fprintf(&buf, "  [%d] <- %s %v\n", event.Seq, event.Event, event.Result)
			}
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertEventCount:
		return assertEventCount(trace, a)
	case AssertFinalState:
		return assertFinalState(actx.Remote, a)
	case AssertDocCount:
		return assertDocCount(actx.Remote, a)
	case AssertQueueLength:
		return assertQueueLength(actx, a)
	case AssertDeadLetters:
		return assertDeadLetters(actx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertTraceContains checks for an invocation of the action whose args
// contain the expected args.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Type == TraceInvocation && event.Action == a.Action && matchArgs(event.Args, a.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", a.Action, a.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the named entries appear in order. Intervening
// entries are allowed. Each name matches the next flow step or published
// event of that name after the previous match.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, want := range a.Actions {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if (event.Type == TraceInvocation && event.Action == want) ||
				(event.Type == TracePublished && event.Event == want) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("entries in order: %v", a.Actions),
				Actual:   fmt.Sprintf("%s not found after position %d", want, pos),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == TraceInvocation && event.Action == a.Action && matchArgs(event.Args, a.Args) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertEventCount counts published events of a type whose result contains
// the assertion's args.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == TracePublished && event.Event == a.Event && matchArgs(event.Result, a.Args) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks one remote document with subset semantics. The
// document is named by ID, or found as the only one matching Where.
func assertFinalState(rs *remote.MemoryStore, a Assertion) error {
	docs := rs.Collection(a.Collection)

	var doc remote.Doc
	if a.ID != "" {
		d, ok := docs[a.ID]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("document %s/%s", a.Collection, a.ID),
				Actual:   "document not found",
			}
		}
		doc = d
	} else {
		matched := matching(docs, a.Where)
		if len(matched) != 1 {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("exactly one document in %s where %s", a.Collection, formatWhere(a.Where)),
				Actual:   fmt.Sprintf("%d documents matched", len(matched)),
			}
		}
		doc = docs[matched[0]]
	}

	keys := sortedKeys(a.Expect)
	for _, key := range keys {
		want := a.Expect[key]
		got, ok := doc[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("fields present: %v", sortedKeys(doc)),
			}
		}
		if !equalValue(got, want) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", key, want),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}

func assertDocCount(rs *remote.MemoryStore, a Assertion) error {
	n := len(matching(rs.Collection(a.Collection), a.Where))
	if n != a.Count {
		return &AssertionError{
			Type:     AssertDocCount,
			Expected: fmt.Sprintf("%d documents in %s where %s", a.Count, a.Collection, formatWhere(a.Where)),
			Actual:   fmt.Sprintf("%d documents", n),
		}
	}
	return nil
}

func assertQueueLength(actx *AssertionContext, a Assertion) error {
	pending, err := actx.Core.Pending(actx.Ctx)
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	if len(pending) != a.Count {
		kinds := make([]string, len(pending))
		for i, p := range pending {
			kinds[i] = string(p.Kind)
		}
		return &AssertionError{
			Type:     AssertQueueLength,
			Expected: fmt.Sprintf("%d pending actions", a.Count),
			Actual:   fmt.Sprintf("%d pending: %v", len(pending), kinds),
		}
	}
	return nil
}

// assertDeadLetters counts dead letters whose fields contain Where. The
// keys kind, actionId and errorCode are recognized.
func assertDeadLetters(actx *AssertionContext, a Assertion) error {
	letters, err := actx.Core.DeadLetters(actx.Ctx)
	if err != nil {
		return fmt.Errorf("read dead letters: %w", err)
	}
	count := 0
	for _, dl := range letters {
		fields := map[string]any{
			"kind":      string(dl.Action.Kind),
			"actionId":  dl.Action.ID,
			"errorCode": dl.ErrorCode,
		}
		if matchArgs(fields, a.Where) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertDeadLetters,
			Expected: fmt.Sprintf("%d dead letters where %s", a.Count, formatWhere(a.Where)),
			Actual:   fmt.Sprintf("%d dead letters", count),
		}
	}
	return nil
}

// matching returns the sorted ids of docs containing where.
func matching(docs map[string]remote.Doc, where map[string]any) []string {
	var ids []string
	for id, doc := range docs {
		if matchArgs(doc, where) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// matchArgs checks if actual contains all expected keys with equal values.
// Extra keys in actual are ignored.
func matchArgs[M ~map[string]any](actual M, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}
