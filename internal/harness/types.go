package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq  int    `json:"seq"`
	Step string `json:"step"`
	As   string `json:"as,omitempty"`
	// Tanda is the tanda the step acted on, if any.
	Tanda string `json:"tanda,omitempty"`
	// Outcome is "ok" or the lower-case error code.
	Outcome string `json:"outcome"`
	// Elapsed is fake-clock time since the scenario started.
	Elapsed string         `json:"elapsed"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expected outcome and every
	// assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`

	// State is the end state: "tanda", "reputation" and "records".
	State map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]any),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Count returns how many trace events ran step, restricted to outcome
// when it is non-empty.
func (r *Result) Count(step, outcome string) int {
	n := 0
	for _, ev := range r.Trace {
		if ev.Step == step && (outcome == "" || ev.Outcome == outcome) {
			n++
		}
	}
	return n
}
