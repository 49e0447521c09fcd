package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s step=%d %s", ev.Seq, ev.At, ev.Step, ev.Type)
		if ev.SourceID != "" {
			fmt.Fprintf(&buf, " source=%s", ev.SourceID)
		}
		if ev.ReplyTo != "" {
			fmt.Fprintf(&buf, " reply_to=%s", ev.ReplyTo)
		}
		if ev.Outcome != "" {
			fmt.Fprintf(&buf, " outcome=%s", ev.Outcome)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// sentReplies returns the dispatch events that were delivered.
func sentReplies(trace []TraceEvent) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Type == EventDispatch && ev.Outcome == DispatchSent {
			out = append(out, ev)
		}
	}
	return out
}

// assertSentCount checks the number of delivered replies.
func assertSentCount(result *Result, a Assertion) error {
	got := len(sentReplies(result.Trace))
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertSentCount,
		Expected: fmt.Sprintf("%d replies sent", a.Count),
		Actual:   fmt.Sprintf("%d replies sent", got),
		Trace:    result.Trace,
	}
}

// assertSent checks that a reply matching reply_to and text was delivered.
// Empty fields match anything.
func assertSent(result *Result, a Assertion) error {
	for _, ev := range sentReplies(result.Trace) {
		if (a.ReplyTo == "" || ev.ReplyTo == a.ReplyTo) && (a.Text == "" || ev.Text == a.Text) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertSent,
		Expected: fmt.Sprintf("reply to %q with text %q", a.ReplyTo, a.Text),
		Actual:   "not found in trace",
		Trace:    result.Trace,
	}
}

// assertOutcome checks the engine outcome of the message at a.Step.
func assertOutcome(result *Result, a Assertion) error {
	for _, ev := range result.Trace {
		if ev.Type != EventMessage || ev.Step != a.Step {
			continue
		}
		if ev.Outcome == a.Outcome {
			return nil
		}
		return &AssertionError{
			Type:     AssertOutcome,
			Expected: fmt.Sprintf("step %d outcome %s", a.Step, a.Outcome),
			Actual:   fmt.Sprintf("step %d outcome %s", a.Step, ev.Outcome),
			Trace:    result.Trace,
		}
	}
	return &AssertionError{
		Type:     AssertOutcome,
		Expected: fmt.Sprintf("step %d outcome %s", a.Step, a.Outcome),
		Actual:   fmt.Sprintf("step %d is not a message", a.Step),
		Trace:    result.Trace,
	}
}

// assertPhase checks the final reply phase of a source. Sources never
// delivered in a message step are in phase none.
func assertPhase(result *Result, a Assertion) error {
	got, ok := result.Phases[a.SourceID]
	if !ok {
		got = "none"
	}
	if got == a.Phase {
		return nil
	}
	return &AssertionError{
		Type:     AssertPhase,
		Expected: fmt.Sprintf("source %s in phase %s", a.SourceID, a.Phase),
		Actual:   fmt.Sprintf("source %s in phase %s", a.SourceID, got),
		Trace:    result.Trace,
	}
}

// assertErrorCount checks the number of runtime errors with a.Code.
func assertErrorCount(result *Result, a Assertion) error {
	got := 0
	for _, ev := range result.Trace {
		if ev.Type == EventError && ev.Code == a.Code {
			got++
		}
	}
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertErrorCount,
		Expected: fmt.Sprintf("%d %s errors", a.Count, a.Code),
		Actual:   fmt.Sprintf("%d %s errors", got, a.Code),
		Trace:    result.Trace,
	}
}

// assertPendingCount checks the number of replies still scheduled.
func assertPendingCount(result *Result, a Assertion) error {
	if result.Pending == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPendingCount,
		Expected: fmt.Sprintf("%d pending replies", a.Count),
		Actual:   fmt.Sprintf("%d pending replies", result.Pending),
		Trace:    result.Trace,
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertSentCount:
			err = assertSentCount(result, assertion)
		case AssertSent:
			err = assertSent(result, assertion)
		case AssertOutcome:
			err = assertOutcome(result, assertion)
		case AssertPhase:
			err = assertPhase(result, assertion)
		case AssertErrorCount:
			err = assertErrorCount(result, assertion)
		case AssertPendingCount:
			err = assertPendingCount(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
