package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines an archive scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Registry is an optional CUE registry path, relative to the scenario
	// file. Empty selects the embedded default.
	Registry string `yaml:"registry,omitempty"`

	// Setup steps establish initial state and must succeed.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are checked against their expect clauses.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and stored documents.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation against the archive.
type Step struct {
	// Action is one of the Action* constants.
	Action string `yaml:"action"`

	// Actor is the acting user id. bootstrap and signup act as the new
	// account itself and ignore it.
	Actor string `yaml:"actor,omitempty"`

	Collection string `yaml:"collection,omitempty"`

	// ID names the target document, or the id to create.
	ID string `yaml:"id,omitempty"`

	// Fields seeds create, bootstrap and signup.
	Fields map[string]any `yaml:"fields,omitempty"`

	// Set and Unset are update mutations.
	Set   map[string]any `yaml:"set,omitempty"`
	Unset []string       `yaml:"unset,omitempty"`

	// Reason accompanies suspend and unsuspend.
	Reason string `yaml:"reason,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause states what a step must produce.
type ExpectClause struct {
	// Error is the expected error code; empty expects success.
	Error string `yaml:"error,omitempty"`

	// Outcome is the expected workflow outcome (applied, noop).
	Outcome string `yaml:"outcome,omitempty"`

	// Fields is a subset match over the resulting document, keyed by
	// dotted JSON paths such as fields.name or approval.state.
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Actions is the expected order for trace_order.
	Actions []string `yaml:"actions,omitempty"`

	// Count is used by trace_count and history_length.
	Count int `yaml:"count,omitempty"`

	Collection string `yaml:"collection,omitempty"`
	ID         string `yaml:"id,omitempty"`

	// Expect is a dotted-path subset match used by final_state.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Field, Value and IDs are used by lookup.
	Field string   `yaml:"field,omitempty"`
	Value any      `yaml:"value,omitempty"`
	IDs   []string `yaml:"ids,omitempty"`

	// Absent asserts final_state finds no document.
	Absent bool `yaml:"absent,omitempty"`
}

// Step actions.
const (
	ActionBootstrap = "bootstrap"
	ActionSignUp    = "signup"
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionApprove   = "approve"
	ActionDeny      = "deny"
	ActionView      = "view"
	ActionSuspend   = "suspend"
	ActionUnsuspend = "unsuspend"
	ActionArchive   = "archive"
	ActionUnarchive = "unarchive"
	ActionDelete    = "delete"
	ActionUndelete  = "undelete"
	ActionPurge     = "purge"
)

// Actions lists every step action.
var Actions = []string{
	ActionBootstrap, ActionSignUp, ActionCreate, ActionUpdate,
	ActionApprove, ActionDeny, ActionView,
	ActionSuspend, ActionUnsuspend, ActionArchive, ActionUnarchive,
	ActionDelete, ActionUndelete, ActionPurge,
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertHistoryLength = "history_length"
	AssertLookup        = "lookup"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative registry path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Registry != "" && !filepath.IsAbs(scenario.Registry) {
		scenario.Registry = filepath.Join(filepath.Dir(path), scenario.Registry)
	}
	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
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
		if err := validateStep(fmt.Sprintf("setup[%d]", i), &step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is not allowed in setup", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, st *Step) error {
	if st.Action == "" {
		return fmt.Errorf("%s: action is required", where)
	}
	if !slices.Contains(Actions, st.Action) {
		return fmt.Errorf("%s: unknown action %q", where, st.Action)
	}
	switch st.Action {
	case ActionBootstrap, ActionSignUp:
		if st.ID == "" {
			return fmt.Errorf("%s: id is required for %s", where, st.Action)
		}
	case ActionCreate:
		if st.Actor == "" || st.Collection == "" {
			return fmt.Errorf("%s: actor and collection are required for create", where)
		}
	default:
		if st.Actor == "" || st.Collection == "" || st.ID == "" {
			return fmt.Errorf("%s: actor, collection and id are required for %s", where, st.Action)
		}
	}
	if st.Action == ActionUpdate && len(st.Set) == 0 && len(st.Unset) == 0 {
		return fmt.Errorf("%s: update needs set or unset", where)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Collection == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: collection and id are required for final_state", index)
		}
		if len(a.Expect) == 0 && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	case AssertHistoryLength:
		if a.Collection == "" || a.ID == "" || a.Count <= 0 {
			return fmt.Errorf("assertions[%d]: collection, id and a positive count are required for history_length", index)
		}
	case AssertLookup:
		if a.Collection == "" || a.Field == "" || a.Value == nil {
			return fmt.Errorf("assertions[%d]: collection, field and value are required for lookup", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
