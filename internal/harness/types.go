package harness

// Trace event kinds.
const (
	KindOperation = "operation"
	KindTick      = "tick"
	KindLock      = "lock"
	KindUnlock    = "unlock"
	KindLevel     = "level"
)

// Prediction outcomes recorded on operation events.
const (
	PredictionHeld      = "held"
	PredictionCorrected = "corrected"
	PredictionRefused   = "refused"
)

// TraceEvent is one entry of a scenario trace. Only deterministic values
// are recorded so traces compare byte for byte across runs.
type TraceEvent struct {
	Seq        int                `json:"seq"`
	Kind       string             `json:"kind"`
	Step       string             `json:"step,omitempty"`
	Op         string             `json:"op,omitempty"`
	Success    *bool              `json:"success,omitempty"`
	Failure    string             `json:"failure,omitempty"`
	Slots      []int              `json:"slots,omitempty"`
	Queued     bool               `json:"queued,omitempty"`
	Prediction string             `json:"prediction,omitempty"`
	Replicated []ReplicationTrace `json:"replicated,omitempty"`
}

// ReplicationTrace records one payload applied to a replica during a tick.
type ReplicationTrace struct {
	Owner  string `json:"owner"`
	Client string `json:"client"`
	Full   bool   `json:"full"`
	InSync bool   `json:"in_sync"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// Final maps slot names to the item ids the player ends with. Empty
	// slots are omitted.
	Final map[string]string `json:"final"`

	Violations uint64 `json:"violations"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Final:  make(map[string]string),
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

func boolPtr(b bool) *bool {
	return &b
}
