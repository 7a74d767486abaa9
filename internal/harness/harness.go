package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/flocksync/internal/engine"
	"github.com/roach88/flocksync/internal/record"
	"github.com/roach88/flocksync/internal/strategy"
	"github.com/roach88/flocksync/internal/testutil"
)

const (
	defaultCollection = "feeds"

	// asyncTimeout bounds how long a held hydration may take to reach or
	// leave its list call.
	asyncTimeout = 5 * time.Second
)

// Harness executes one scenario against a real engine.
type Harness struct {
	scenario   *Scenario
	collection string
	clock      *testutil.ManualClock
	ids        *testutil.SequentialIDs
	backends   map[string]*testutil.ScriptedStrategy
	defaults   []record.Record
	engine     *engine.Engine
	logger     *slog.Logger

	mu    sync.Mutex
	trace []TraceEvent

	gates   []*testutil.Gate
	held    *testutil.Gate
	pending chan engine.HydrationResult
}

// Run executes a scenario and returns the result.
//
// Each scenario gets fresh backends, a manual clock at testutil.Epoch and
// sequential ids, so runs are reproducible.
//
// Execution flow:
// 1. Seed the backends from setup
// 2. Create the engine (not yet hydrated)
// 3. Execute steps, checking each expect
// 4. Capture the final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Setup {
		if _, err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("setup step %d: %w", i, err)
		}
	}

	h.engine = h.newEngine()

	for i, step := range scenario.Steps {
		got, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		result.Steps = append(result.Steps, StepResult{Index: i, Op: step.Op, Result: got})
		if step.Expect != "" && step.Expect != got {
			result.AddError(fmt.Sprintf("step %d (%s): expected %s, got %s", i, step.Op, step.Expect, got))
		}
		h.logger.Info("step completed", "step", i, "op", step.Op, "result", got)
	}

	if h.pending != nil {
		h.held.Release()
		<-h.pending
		return nil, fmt.Errorf("hydrate_async without release")
	}

	h.mu.Lock()
	result.Trace = append(result.Trace, h.trace...)
	h.mu.Unlock()
	result.Final = h.finalState()

	actx := &AssertionContext{
		Ctx:        ctx,
		Engine:     h.engine,
		Backends:   h.backends,
		Collection: h.collection,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	defaults := make([]record.Record, 0, len(scenario.Defaults))
	for i, m := range scenario.Defaults {
		rec, err := record.FromMap(m)
		if err != nil {
			return nil, fmt.Errorf("defaults[%d]: %w", i, err)
		}
		defaults = append(defaults, rec)
	}

	collection := scenario.Collection
	if collection == "" {
		collection = defaultCollection
	}

	return &Harness{
		scenario:   scenario,
		collection: collection,
		clock:      testutil.NewManualClock(),
		ids:        testutil.NewSequentialIDs("rec"),
		backends: map[string]*testutil.ScriptedStrategy{
			BackendLocal:  testutil.NewScriptedStrategy(),
			BackendRemote: testutil.NewScriptedStrategy(),
		},
		defaults: defaults,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// newEngine builds an engine over the local backend, as a process start would.
func (h *Harness) newEngine() *engine.Engine {
	return engine.New(h.collection, h.strategy(BackendLocal),
		engine.WithClock(h.clock),
		engine.WithIDGenerator(h.ids),
		engine.WithDefaults(h.defaults),
		engine.WithHook(engine.HookFunc(h.record)),
	)
}

func (h *Harness) record(ev engine.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = append(h.trace, TraceEvent{
		Kind:     string(ev.Kind),
		Op:       ev.Op,
		Category: ev.Category,
		RecordID: ev.RecordID,
		Count:    ev.Count,
	})
}

func (h *Harness) backend(name string) *testutil.ScriptedStrategy {
	if name == "" {
		name = BackendLocal
	}
	return h.backends[name]
}

// strategy returns the named backend as the engine sees it.
func (h *Harness) strategy(name string) strategy.Strategy {
	b := h.backend(name)
	if h.scenario.Capabilities == "basic" {
		return testutil.Basic(b)
	}
	return b
}

// execute runs one step and returns its result string.
// A returned error is a harness failure, not a step outcome.
func (h *Harness) execute(ctx context.Context, step Step) (string, error) {
	switch step.Op {
	case OpSeed:
		recs, err := toRecords(step.Records)
		if err != nil {
			return "", err
		}
		if err := testutil.Seed(ctx, h.backend(step.Backend).Memory, h.collection, recs...); err != nil {
			return "", err
		}
		return "ok", nil

	case OpLoad, OpHydrate:
		res, err := h.engine.Hydrate(ctx)
		if err != nil {
			return "", err
		}
		return res.Outcome.String(), nil

	case OpHoldList:
		h.gates = append(h.gates, h.backend(step.Backend).HoldNextList())
		return "ok", nil

	case OpHydrateAsync:
		return h.hydrateAsync(ctx)

	case OpRelease:
		return h.release()

	case OpStaleList:
		recs, err := toRecords(step.Records)
		if err != nil {
			return "", err
		}
		h.backend(step.Backend).OverrideNextList(recs)
		return "ok", nil

	case OpEmptyList:
		h.backend(step.Backend).OverrideNextList(nil)
		return "ok", nil

	case OpFailLists:
		h.backend(step.Backend).FailLists(failure(step.Fail, strategy.ErrUnavailable))
		return "ok", nil

	case OpFailSaves:
		h.backend(step.Backend).FailSaves(failure(step.Fail, strategy.ErrUnavailable))
		return "ok", nil

	case OpFailDeletes:
		h.backend(step.Backend).FailDeletes(failure(step.Fail, strategy.ErrUnavailable))
		return "ok", nil

	case OpAdd:
		fields := copyFields(step.Fields)
		if step.ID != "" {
			fields[record.KeyID] = step.ID
		}
		_, err := h.engine.Add(ctx, step.Category, fields)
		return resultOf(err), nil

	case OpUpdate:
		return resultOf(h.engine.Update(ctx, step.Category, step.ID, copyFields(step.Fields))), nil

	case OpDelete:
		return resultOf(h.engine.Delete(ctx, step.Category, step.ID)), nil

	case OpReset:
		return resultOf(h.engine.ResetToDefaults(ctx)), nil

	case OpAdvance:
		d, err := time.ParseDuration(step.By)
		if err != nil {
			return "", err
		}
		h.clock.Advance(d)
		return "ok", nil

	case OpReload:
		if h.pending != nil {
			return "", fmt.Errorf("reload with a held hydration")
		}
		h.engine = h.newEngine()
		return "ok", nil

	case OpForgetTombstones:
		h.engine.ForgetTombstones()
		return "ok", nil

	case OpSessionChange:
		res, err := h.engine.SessionChanged(ctx, h.strategy(step.Backend))
		if err != nil {
			return "", err
		}
		return res.Outcome.String(), nil
	}
	return "", fmt.Errorf("unknown op %q", step.Op)
}

// hydrateAsync starts a hydration against the oldest held list and
// returns once that list has read the backend.
func (h *Harness) hydrateAsync(ctx context.Context) (string, error) {
	if len(h.gates) == 0 {
		return "", fmt.Errorf("hydrate_async requires a preceding hold_list")
	}
	if h.pending != nil {
		return "", fmt.Errorf("only one hydration may be held at a time")
	}
	gate := h.gates[0]
	h.gates = h.gates[1:]

	pending := make(chan engine.HydrationResult, 1)
	go func() {
		res, _ := h.engine.Hydrate(ctx)
		pending <- res
	}()

	select {
	case <-gate.Entered():
	case <-time.After(asyncTimeout):
		gate.Release()
		return "", fmt.Errorf("held list was never reached")
	}
	h.held = gate
	h.pending = pending
	return "held", nil
}

// release lets the held list return and waits for its hydration.
func (h *Harness) release() (string, error) {
	if h.pending == nil {
		return "", fmt.Errorf("release without hydrate_async")
	}
	h.held.Release()

	select {
	case res := <-h.pending:
		h.held, h.pending = nil, nil
		return res.Outcome.String(), nil
	case <-time.After(asyncTimeout):
		return "", fmt.Errorf("held hydration did not finish")
	}
}

func (h *Harness) finalState() FinalState {
	snap := h.engine.Snapshot()
	categories := make(map[string][]string, len(snap.State))
	for cat, recs := range snap.State {
		if len(recs) == 0 {
			continue
		}
		ids := make([]string, 0, len(recs))
		for _, r := range recs {
			ids = append(ids, r.ID)
		}
		sort.Strings(ids)
		categories[cat] = ids
	}

	customized := []string{}
	for cat, on := range h.engine.Customized() {
		if on {
			customized = append(customized, cat)
		}
	}
	sort.Strings(customized)

	return FinalState{
		Categories: categories,
		Customized: customized,
		Version:    snap.Version,
	}
}

// resultOf renders a mutation error as a step result.
func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	var syncErr *engine.SyncError
	if errors.As(err, &syncErr) {
		return strings.ToLower(string(syncErr.Code))
	}
	return "error"
}

func failure(on bool, err error) error {
	if on {
		return err
	}
	return nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func toRecords(raw []map[string]any) ([]record.Record, error) {
	recs := make([]record.Record, 0, len(raw))
	for i, m := range raw {
		rec, err := record.FromMap(m)
		if err != nil {
			return nil, fmt.Errorf("records[%d]: %w", i, err)
		}
		if _, ok := m[record.KeyIsCustom]; !ok {
			rec.IsCustom = true
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
