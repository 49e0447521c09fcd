package harness

// Trace event types.
const (
	EventMessage  = "message"
	EventRemove   = "remove"
	EventAdvance  = "advance"
	EventFailNext = "fail_next"
	EventReset    = "reset"
	EventSetRules = "set_rules"
	EventGates    = "gates"
	EventDispatch = "dispatch"
	EventError    = "error"
)

// Dispatch and removal outcomes recorded in the trace.
const (
	DispatchSent   = "sent"
	DispatchFailed = "failed"

	RemoveCancelled  = "cancelled"
	RemoveNotPending = "not_pending"
)

// TraceEvent is one entry of a scenario trace. Times are offsets from the
// scenario start, formatted as Go durations.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Step     int    `json:"step"`
	At       string `json:"at"`
	Type     string `json:"type"`
	SourceID string `json:"source_id,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
	Text     string `json:"text,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Code     string `json:"code,omitempty"`
	FireAt   string `json:"fire_at,omitempty"`
	Duration string `json:"duration,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step and dispatch in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// Phases is the final reply phase of every source seen in a message step.
	Phases map[string]string `json:"phases,omitempty"`

	// Pending is the number of replies still scheduled at the end.
	Pending int `json:"pending"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Phases: make(map[string]string),
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
