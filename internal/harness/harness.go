package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/app"
	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/model"
	"github.com/AakashB275/BrandModel/internal/queue"
	"github.com/AakashB275/BrandModel/internal/remote"
	"github.com/AakashB275/BrandModel/internal/testutil"
)

// Outcome cases reported for a step.
const (
	CaseOK               = "ok"
	CaseInvalidPayload   = "invalid_payload"
	CaseMatchExpired     = "match_expired"
	CaseMatchInactive    = "match_inactive"
	CaseMatchNotFound    = "match_not_found"
	CaseNotParticipant   = "not_participant"
	CaseLocalPersistence = "local_persistence"
	CaseError            = "error"
)

// Harness holds one scenario run.
type Harness struct {
	dir    string
	clock  *testutil.FakeClock
	ids    *testutil.SequentialIDs
	remote *remote.MemoryStore
	core   *app.Core
	online bool
	logger *zap.Logger

	mu     sync.Mutex
	seq    int64
	result *Result
}

type Option func(*Harness)

// WithLogger routes core logs, which are discarded by default.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes scenario in a fresh temporary directory.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	dir, err := os.MkdirTemp("", "brandmodel-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)
	return RunIn(dir, scenario, opts...)
}

// RunIn executes scenario with its local state under dir.
func RunIn(dir string, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		dir:    dir,
		clock:  testutil.NewFakeClock(scenario.Start),
		ids:    testutil.NewSequentialIDs("act"),
		online: true,
		logger: zap.NewNop(),
		result: NewResult(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.remote = remote.NewMemoryStore(remote.WithClock(h.clock.Now))

	ctx := context.Background()
	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.open(ctx); err != nil {
		return nil, err
	}
	defer func() { h.core.Close() }()

	if err := h.executeFlow(ctx, scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Ctx: ctx, Remote: h.remote, Core: h.core}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// open starts a core over the queue file in dir, as a process start would.
func (h *Harness) open(ctx context.Context) error {
	q, local, err := queue.OpenSQLite(ctx, filepath.Join(h.dir, "queue.db"),
		queue.WithNow(h.clock.Now),
		queue.WithIDGenerator(h.ids),
		queue.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	core, err := app.New(ctx, q, h.remote,
		app.WithLocalStore(local),
		app.WithExecutorConfig(engine.Config{Concurrency: 1, RateLimit: -1}),
		app.WithInitialOnline(h.online),
		app.WithObserver(h),
		app.WithNow(h.clock.Now),
		app.WithLogger(h.logger))
	if err != nil {
		q.Close()
		return fmt.Errorf("start core: %w", err)
	}
	h.core = core
	return nil
}

// Publish records core events in the trace. Match ids are content hashes
// and are left out so traces stay readable.
func (h *Harness) Publish(ev engine.Event) {
	result := map[string]any{}
	switch {
	case ev.Match != nil:
		users := make([]any, len(ev.Match.Users))
		for i, u := range ev.Match.Users {
			users[i] = u
		}
		result["users"] = users
		result["expiresAt"] = ev.Match.ExpiresAt.UTC().Format(time.RFC3339)
	case ev.DeadLetter != nil:
		result["actionId"] = ev.DeadLetter.Action.ID
		result["kind"] = string(ev.DeadLetter.Action.Kind)
		result["errorCode"] = ev.DeadLetter.ErrorCode
	case ev.Drain != nil:
		result = reportFields(*ev.Drain)
	}
	h.trace(TraceEvent{Type: TracePublished, Event: string(ev.Type), Result: result})
}

func (h *Harness) trace(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	ev.Seq = h.seq
	h.result.Trace = append(h.result.Trace, ev)
}

func reportFields(r engine.DrainReport) map[string]any {
	return map[string]any{
		"applied":      r.Applied,
		"failed":       r.Failed,
		"deadLettered": r.DeadLettered,
		"deferred":     r.Deferred,
	}
}

func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep) error {
	for i, step := range setup {
		var (
			writes []remote.Write
			err    error
		)
		switch step.Action {
		case SetupUser:
			writes, err = userWrites(step.Args)
		case SetupMatch:
			writes, err = matchWrites(step.Args, h.clock.Now())
		}
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if err := h.remote.Commit(ctx, writes); err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
	}
	return nil
}

func userWrites(args map[string]any) ([]remote.Write, error) {
	u, err := seedUser(args)
	if err != nil {
		return nil, err
	}
	doc, err := remote.Encode(u)
	if err != nil {
		return nil, err
	}
	return []remote.Write{remote.SetWrite(remote.NewRef(remote.Users, u.ID), doc)}, nil
}

// matchWrites seeds the match together with its pair anchor.
func matchWrites(args map[string]any, now time.Time) ([]remote.Write, error) {
	m, err := seedMatch(args, now)
	if err != nil {
		return nil, err
	}
	pair := model.Pair{Key: m.PairKey, Users: m.Users, History: []string{m.ID}}
	if m.IsActive {
		pair.ActiveMatchID = m.ID
	}
	matchDoc, err := remote.Encode(m)
	if err != nil {
		return nil, err
	}
	pairDoc, err := remote.Encode(pair)
	if err != nil {
		return nil, err
	}
	return []remote.Write{
		remote.SetWrite(remote.NewRef(remote.Matches, m.ID), matchDoc),
		remote.SetWrite(remote.NewRef(remote.Pairs, m.PairKey), pairDoc),
	}, nil
}

// seedUser decodes args onto model.User.
func seedUser(args map[string]any) (model.User, error) {
	var u model.User
	raw, err := json.Marshal(args)
	if err != nil {
		return u, err
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return u, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}

// seedMatch builds a match from relative times: created (offset from now,
// default 0) and ttl (default 24h).
func seedMatch(args map[string]any, now time.Time) (model.Match, error) {
	created, err := durationArg(args, "created", 0)
	if err != nil {
		return model.Match{}, err
	}
	ttl, err := durationArg(args, "ttl", model.StandardMatchTTL)
	if err != nil {
		return model.Match{}, err
	}

	users := strs(args, "users")
	if len(users) != 2 {
		return model.Match{}, fmt.Errorf("match needs exactly two users")
	}
	sort.Strings(users)
	m := model.Match{
		ID:        str(args, "id"),
		Users:     users,
		PairKey:   model.PairKey(users[0], users[1]),
		CreatedAt: now.Add(created),
		ExpiresAt: now.Add(created + ttl),
		IsActive:  true,
	}
	if reason := str(args, "endReason"); reason != "" {
		ended := now
		m.IsActive = false
		m.EndReason = model.EndReason(reason)
		m.EndedAt = &ended
	}
	return m, nil
}

func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep) error {
	for i, step := range flow {
		h.trace(TraceEvent{Type: TraceInvocation, Action: step.Invoke, Args: step.Args})

		result, err := h.execute(ctx, step)
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, fatal.err)
		}
		c := caseOf(err)
		if c == CaseOK {
			h.trace(TraceEvent{Type: TraceCompletion, Action: step.Invoke, Case: c, Result: result})
		} else {
			h.trace(TraceEvent{Type: TraceCompletion, Action: step.Invoke, Case: c})
		}

		if step.Expect == nil {
			if err != nil {
				h.result.AddError(fmt.Sprintf("flow[%d] %s: unexpected error: %v", i, step.Invoke, err))
			}
			continue
		}
		if c != step.Expect.Case {
			h.result.AddError(fmt.Sprintf("flow[%d] %s: expected case %q, got %q (%v)", i, step.Invoke, step.Expect.Case, c, err))
			continue
		}
		for k, want := range step.Expect.Result {
			if got, ok := result[k]; !ok || !equalValue(got, want) {
				h.result.AddError(fmt.Sprintf("flow[%d] %s: result.%s = %v, want %v", i, step.Invoke, k, got, want))
			}
		}
	}
	return nil
}

// fatalError aborts the run: the harness itself could not proceed.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }

func (h *Harness) execute(ctx context.Context, step FlowStep) (map[string]any, error) {
	a := step.Args
	switch step.Invoke {
	case StepSwipe:
		dir, err := model.ParseDirection(strOr(a, "direction", "like"))
		if err != nil {
			return nil, err
		}
		return actionFields(h.core.EnqueueSwipe(ctx, str(a, "actor"), str(a, "target"), dir))
	case StepProfile:
		fields, _ := a["fields"].(map[string]any)
		return actionFields(h.core.EnqueueProfileUpdate(ctx, str(a, "user"), fields))
	case StepMessage:
		return actionFields(h.core.EnqueueMessage(ctx, str(a, "match"), str(a, "sender"), str(a, "text")))
	case StepReport:
		return actionFields(h.core.EnqueueReport(ctx, str(a, "reporter"), str(a, "reported"), str(a, "reason"), str(a, "details")))
	case StepUnmatch:
		return actionFields(h.core.RequestUnmatch(ctx, str(a, "match"), str(a, "by")))
	case StepBlock:
		return actionFields(h.core.RequestBlock(ctx, str(a, "by"), str(a, "target")))
	case StepDrain:
		report, err := h.core.Drain(ctx)
		if err != nil {
			return nil, err
		}
		return reportFields(report), nil
	case StepOffline:
		h.setOnline(false)
		return nil, nil
	case StepOnline:
		h.setOnline(true)
		return nil, nil
	case StepAdvance:
		d, err := durationArg(a, "by", 0)
		if err != nil {
			return nil, &fatalError{err}
		}
		h.clock.Advance(d)
		return map[string]any{"now": h.clock.Now().Format(time.RFC3339)}, nil
	case StepRestart:
		if err := h.core.Close(); err != nil {
			return nil, &fatalError{fmt.Errorf("close queue: %w", err)}
		}
		if err := h.open(ctx); err != nil {
			return nil, &fatalError{err}
		}
		n, err := h.core.Pending(ctx)
		if err != nil {
			return nil, &fatalError{err}
		}
		return map[string]any{"pending": len(n)}, nil
	case StepFailRemote:
		n := intOr(a, "count", 1)
		errs := make([]error, n)
		for i := range errs {
			if str(a, "kind") == "conflict" {
				errs[i] = remote.Conflict("injected")
			} else {
				errs[i] = remote.Unavailable("injected")
			}
		}
		h.remote.FailNext(errs...)
		return nil, nil
	}
	return nil, &fatalError{fmt.Errorf("unknown step %q", step.Invoke)}
}

func (h *Harness) setOnline(online bool) {
	h.online = online
	h.remote.SetOnline(online)
	h.core.SetOnline(online)
}

func actionFields(a model.PendingAction, err error) (map[string]any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"actionId": a.ID, "kind": string(a.Kind), "seq": a.Seq}, nil
}

func caseOf(err error) string {
	switch {
	case err == nil:
		return CaseOK
	case errors.Is(err, model.ErrInvalidPayload):
		return CaseInvalidPayload
	case errors.Is(err, app.ErrMatchExpired):
		return CaseMatchExpired
	case errors.Is(err, app.ErrMatchInactive):
		return CaseMatchInactive
	case errors.Is(err, app.ErrMatchNotFound):
		return CaseMatchNotFound
	case errors.Is(err, app.ErrNotParticipant):
		return CaseNotParticipant
	case engine.IsLocalPersistence(err):
		return CaseLocalPersistence
	default:
		return CaseError
	}
}

func str(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func strOr(args map[string]any, key, def string) string {
	if s := str(args, key); s != "" {
		return s
	}
	return def
}

func strs(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intOr(args map[string]any, key string, def int) int {
	if n, ok := args[key].(int); ok {
		return n
	}
	return def
}

func durationArg(args map[string]any, key string, def time.Duration) (time.Duration, error) {
	s := str(args, key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// equalValue compares through JSON so YAML ints match decoded numbers.
func equalValue(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
