package harness

// FrameOutcome is one row of the session's frame ledger.
type FrameOutcome struct {
	Frame  float64 `json:"frame"`
	Status string  `json:"status"`
	Steps  int     `json:"steps"`
	Error  string  `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// Ops is the sink operation trace in call order.
	Ops []string `json:"ops"`

	// State is the orchestrator state the session ended in.
	State string `json:"state"`

	// Error is the session-fatal error, if any.
	Error string `json:"error,omitempty"`

	// Frames are the frame outcomes recorded in the ledger.
	Frames []FrameOutcome `json:"frames"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Ops:    []string{},
		Frames: []FrameOutcome{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
