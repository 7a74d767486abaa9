package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines one scripted sync scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Collection defaults to "feeds".
	Collection string `yaml:"collection,omitempty"`

	// Capabilities is "full" (default) or "basic". Basic backends have
	// neither the Updater nor the Clearer capability.
	Capabilities string `yaml:"capabilities,omitempty"`

	// Defaults are the bundled default records.
	Defaults []map[string]any `yaml:"defaults,omitempty"`

	// Setup steps run before the engine is opened. Only seed is allowed.
	Setup []Step `yaml:"setup,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation in a scenario.
type Step struct {
	Op string `yaml:"op"`

	// Backend selects "local" (default) or "remote" for seed, the
	// scripting ops and session_change.
	Backend string `yaml:"backend,omitempty"`

	Category string           `yaml:"category,omitempty"`
	ID       string           `yaml:"id,omitempty"`
	Fields   map[string]any   `yaml:"fields,omitempty"`
	Records  []map[string]any `yaml:"records,omitempty"`

	// By is the duration for advance, e.g. "450ms".
	By string `yaml:"by,omitempty"`

	// Fail turns a fail_* op on or off.
	Fail bool `yaml:"fail,omitempty"`

	// Expect is the required step result, e.g. "data_set" or "not_found".
	// Empty accepts anything.
	Expect string `yaml:"expect,omitempty"`
}

// Assertion checks the state after the last step.
type Assertion struct {
	Type     string   `yaml:"type"`
	Backend  string   `yaml:"backend,omitempty"`
	Category string   `yaml:"category,omitempty"`
	ID       string   `yaml:"id,omitempty"`
	IDs      []string `yaml:"ids,omitempty"`
	Event    string   `yaml:"event,omitempty"`
	Value    *bool    `yaml:"value,omitempty"`
	Count    *int     `yaml:"count,omitempty"`
}

// Step operations.
const (
	OpSeed             = "seed"
	OpLoad             = "load"
	OpHydrate          = "hydrate"
	OpHoldList         = "hold_list"
	OpHydrateAsync     = "hydrate_async"
	OpRelease          = "release"
	OpStaleList        = "stale_list"
	OpEmptyList        = "empty_list"
	OpFailLists        = "fail_lists"
	OpFailSaves        = "fail_saves"
	OpFailDeletes      = "fail_deletes"
	OpAdd              = "add"
	OpUpdate           = "update"
	OpDelete           = "delete"
	OpReset            = "reset"
	OpAdvance          = "advance"
	OpReload           = "reload"
	OpForgetTombstones = "forget_tombstones"
	OpSessionChange    = "session_change"
)

// Assertion types.
const (
	AssertVisible      = "visible"
	AssertHidden       = "hidden"
	AssertCustomized   = "customized"
	AssertVersion      = "version"
	AssertEventCount   = "event_count"
	AssertBackendHas   = "backend_has"
	AssertBackendLacks = "backend_lacks"
	AssertSuppressed   = "suppressed"
)

// Backend names.
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
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
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	switch s.Capabilities {
	case "", "full", "basic":
	default:
		return fmt.Errorf("capabilities must be full or basic, got %q", s.Capabilities)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if step.Op != OpSeed {
			return fmt.Errorf("setup[%d]: only seed is allowed, got %q", i, step.Op)
		}
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Backend {
	case "", BackendLocal, BackendRemote:
	default:
		return fmt.Errorf("unknown backend %q", step.Backend)
	}

	switch step.Op {
	case OpSeed, OpStaleList:
		if len(step.Records) == 0 {
			return fmt.Errorf("%s: records are required", step.Op)
		}
	case OpAdd:
		if step.Category == "" {
			return fmt.Errorf("add: category is required")
		}
	case OpUpdate, OpDelete:
		if step.ID == "" {
			return fmt.Errorf("%s: id is required", step.Op)
		}
	case OpAdvance:
		if _, err := time.ParseDuration(step.By); err != nil {
			return fmt.Errorf("advance: by: %w", err)
		}
	case OpLoad, OpHydrate, OpHoldList, OpHydrateAsync, OpRelease, OpEmptyList,
		OpFailLists, OpFailSaves, OpFailDeletes, OpReset, OpReload,
		OpForgetTombstones, OpSessionChange:
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertVisible:
		if a.Category == "" {
			return fmt.Errorf("visible: category is required")
		}
	case AssertHidden:
		if a.ID == "" {
			return fmt.Errorf("hidden: id is required")
		}
	case AssertCustomized:
		if a.Category == "" || a.Value == nil {
			return fmt.Errorf("customized: category and value are required")
		}
	case AssertVersion:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("version: non-negative count is required")
		}
	case AssertEventCount:
		if a.Event == "" || a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("event_count: event and non-negative count are required")
		}
	case AssertBackendHas, AssertBackendLacks, AssertSuppressed:
		if len(a.IDs) == 0 {
			return fmt.Errorf("%s: ids are required", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
