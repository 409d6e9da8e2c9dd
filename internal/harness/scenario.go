package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end run of the core.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Start is the initial fake wall time. Defaults to DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// Setup seeds remote documents before the core starts.
	Setup []ActionStep `yaml:"setup,omitempty"`

	Flow       []FlowStep  `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultStart is the fake wall time used when a scenario sets none.
var DefaultStart = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// ActionStep seeds one remote document.
type ActionStep struct {
	// Action is "user" or "match".
	Action string         `yaml:"action"`
	Args   map[string]any `yaml:"args"`
}

// FlowStep is one user intent or environment change.
type FlowStep struct {
	Invoke string         `yaml:"invoke"`
	Args   map[string]any `yaml:"args"`

	// Expect checks the step outcome. Nil skips the check.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Case is "ok" or an error case such as "match_expired".
	Case string `yaml:"case"`

	// Result is a subset match on the step's result fields.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Action names a flow step (trace_contains, trace_count).
	Action string         `yaml:"action,omitempty"`
	Args   map[string]any `yaml:"args,omitempty"`

	// Actions is the expected step order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Event is a published event type (event_count).
	Event string `yaml:"event,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Collection, ID and Where select a remote document (final_state,
	// doc_count). Where is a subset match used when ID is empty.
	Collection string         `yaml:"collection,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Where      map[string]any `yaml:"where,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertEventCount    = "event_count"
	AssertFinalState    = "final_state"
	AssertDocCount      = "doc_count"
	AssertQueueLength   = "queue_length"
	AssertDeadLetters   = "dead_letters"
)

// Setup actions.
const (
	SetupUser  = "user"
	SetupMatch = "match"
)

// Flow steps.
const (
	StepSwipe      = "swipe"
	StepProfile    = "profile"
	StepMessage    = "message"
	StepReport     = "report"
	StepUnmatch    = "unmatch"
	StepBlock      = "block"
	StepDrain      = "drain"
	StepOffline    = "offline"
	StepOnline     = "online"
	StepAdvance    = "advance"
	StepRestart    = "restart"
	StepFailRemote = "fail_remote"
)

var knownSteps = map[string]bool{
	StepSwipe: true, StepProfile: true, StepMessage: true, StepReport: true,
	StepUnmatch: true, StepBlock: true, StepDrain: true, StepOffline: true,
	StepOnline: true, StepAdvance: true, StepRestart: true, StepFailRemote: true,
}

// LoadScenario reads and validates a scenario file. Unknown YAML fields are
// rejected so that typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Start.IsZero() {
		scenario.Start = DefaultStart
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if step.Action != SetupUser && step.Action != SetupMatch {
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
		if id, _ := step.Args["id"].(string); id == "" {
			return fmt.Errorf("setup[%d]: args.id is required", i)
		}
	}

	for i, step := range s.Flow {
		if !knownSteps[step.Invoke] {
			return fmt.Errorf("flow[%d]: unknown step %q", i, step.Invoke)
		}
		if step.Args == nil {
			return fmt.Errorf("flow[%d]: args is required (use empty map if no args)", i)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains, AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for %s", index, a.Type)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
	case AssertFinalState:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for final_state", index)
		}
		if a.ID == "" && len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: id or where is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertDocCount:
		if a.Collection == "" {
			return fmt.Errorf("assertions[%d]: collection is required for doc_count", index)
		}
	case AssertQueueLength, AssertDeadLetters:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
