package harness

// TraceEvent is one engine event seen during a run.
type TraceEvent struct {
	Kind     string `json:"kind"`
	Op       string `json:"op,omitempty"`
	Category string `json:"category,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Index  int    `json:"index"`
	Op     string `json:"op"`
	Result string `json:"result"`
}

// FinalState is the engine state after the last step.
// Ids are sorted; record order inside a category is not significant.
type FinalState struct {
	Categories map[string][]string `json:"categories"`
	Customized []string            `json:"customized"`
	Version    int64               `json:"version"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`
	Final FinalState   `json:"final"`

	// Trace holds every engine event in emission order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// CountEvents returns how many trace events have the given kind.
func (r *Result) CountEvents(kind string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
