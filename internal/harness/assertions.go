package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/flocksync/internal/engine"
	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/testutil"
)

// AssertionContext gives assertions access to the engine and backends.
type AssertionContext struct {
	Ctx        context.Context
	Engine     *engine.Engine
	Backends   map[string]*testutil.ScriptedStrategy
	Collection string
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Steps    []StepResult
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Steps) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for _, s := range e.Steps {
			fmt.Fprintf(&buf, "  [%d] %s -> %s\n", s.Index, s.Op, s.Result)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: a.Type, Expected: expected, Actual: actual, Steps: result.Steps}
	}

	switch a.Type {
	case AssertVisible:
		want := sortedCopy(a.IDs)
		got := result.Final.Categories[a.Category]
		if got == nil {
			got = []string{}
		}
		if !equalStrings(want, got) {
			return fail(fmt.Sprintf("%s shows %v", a.Category, want), fmt.Sprintf("%v", got))
		}

	case AssertHidden:
		for cat, ids := range result.Final.Categories {
			for _, id := range ids {
				if id == a.ID {
					return fail(fmt.Sprintf("%s hidden", a.ID), fmt.Sprintf("visible in %s", cat))
				}
			}
		}

	case AssertCustomized:
		got := actx.Engine.Customized()[a.Category]
		if got != *a.Value {
			return fail(fmt.Sprintf("%s customized=%t", a.Category, *a.Value), fmt.Sprintf("customized=%t", got))
		}

	case AssertVersion:
		if result.Final.Version != int64(*a.Count) {
			return fail(fmt.Sprintf("version %d", *a.Count), fmt.Sprintf("version %d", result.Final.Version))
		}

	case AssertEventCount:
		if got := result.CountEvents(a.Event); got != *a.Count {
			return fail(fmt.Sprintf("%d %s events", *a.Count, a.Event), fmt.Sprintf("%d", got))
		}

	case AssertBackendHas, AssertBackendLacks:
		stored, err := backendIDs(actx, a.Backend)
		if err != nil {
			return err
		}
		for _, id := range a.IDs {
			if stored[id] != (a.Type == AssertBackendHas) {
				return fail(fmt.Sprintf("%s %s", a.Type, id), fmt.Sprintf("stored ids %v", sortedKeys(stored)))
			}
		}

	case AssertSuppressed:
		suppressed, err := persistedSuppression(actx, a.Backend)
		if err != nil {
			return err
		}
		for _, id := range a.IDs {
			if _, ok := suppressed[id]; !ok {
				return fail(fmt.Sprintf("%s in suppressedDeletes", id), fmt.Sprintf("%v", suppressed))
			}
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// backendIDs reads the backend directly, bypassing any scripting.
func backendIDs(actx *AssertionContext, name string) (map[string]bool, error) {
	b := actx.backend(name)
	recs, err := b.Memory.List(actx.Ctx, actx.Collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(recs))
	for _, r := range recs {
		out[r.ID] = true
	}
	return out, nil
}

func persistedSuppression(actx *AssertionContext, name string) (map[string]int64, error) {
	metas, err := actx.backend(name).Memory.List(actx.Ctx, record.MetaCollection)
	if err != nil {
		return nil, err
	}
	out := map[string]int64{}
	for _, m := range metas {
		if m.ID == record.MetaSuppressedDelete {
			if err := record.DecodeMeta(m, &out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func (actx *AssertionContext) backend(name string) *testutil.ScriptedStrategy {
	if name == "" {
		name = BackendLocal
	}
	return actx.Backends[name]
}

func sortedCopy(in []string) []string {
	out := append([]string{}, in...)
	sort.Strings(out)
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
