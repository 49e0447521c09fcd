package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/autoreply/internal/engine"
	"github.com/roach88/autoreply/internal/rule"
	"github.com/roach88/autoreply/internal/testutil"
)

// Harness drives one engine through a scenario.
//
// Everything runs on the caller's goroutine: the manual clock fires delayed
// replies synchronously inside Advance, so the trace needs no locking.
type Harness struct {
	engine  *engine.Engine
	store   *rule.MemoryStore
	gates   *testutil.StaticGates
	gateway *testutil.RecordingGateway
	clock   *testutil.ManualClock
	start   time.Time

	allowed []string
	sources []string
	result  *Result
	step    int
}

// Run executes a scenario and returns the result.
//
// Each run builds a fresh engine on an in-memory rule store, a manual clock
// starting at testutil.DefaultEpoch and a recording gateway. Assertion
// failures are reported in Result.Errors; an error is returned only when the
// scenario itself is invalid.
func Run(scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	clock := testutil.NewManualClock(testutil.DefaultEpoch)
	h := &Harness{
		store:   rule.NewMemoryStore(scenario.Rules...),
		gates:   testutil.NewStaticGates(),
		gateway: testutil.NewRecordingGateway(0),
		clock:   clock,
		start:   clock.Now(),
		result:  NewResult(),
	}
	h.applyGates(scenario.Gates)
	h.engine = engine.New(h.store, h.gates, engine.GatewayFunc(h.send),
		engine.WithClock(clock),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		h.step = i
		if err := h.execute(ctx, step); err != nil {
			h.engine.Close()
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		h.drainErrors()
	}

	for _, id := range h.sources {
		h.result.Phases[id] = h.engine.Phase(id).String()
	}
	h.result.Pending = len(h.engine.Pending())
	h.engine.Close()

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}

	return h.result, nil
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	switch {
	case step.Message != nil:
		h.message(ctx, *step.Message)

	case step.Remove != "":
		outcome := RemoveNotPending
		if h.engine.OnRemoved(step.Remove) {
			outcome = RemoveCancelled
		}
		h.record(TraceEvent{Type: EventRemove, SourceID: step.Remove, Outcome: outcome})

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.record(TraceEvent{Type: EventAdvance, Duration: d.String()})
		h.clock.Advance(d)

	case step.FailNext > 0:
		h.gateway.FailNext(step.FailNext)
		h.record(TraceEvent{Type: EventFailNext, Count: step.FailNext})

	case step.Reset:
		h.engine.Reset()
		h.record(TraceEvent{Type: EventReset})

	case step.SetRules != nil:
		if err := h.store.Save(ctx, *step.SetRules); err != nil {
			return fmt.Errorf("set_rules: %w", err)
		}
		h.record(TraceEvent{Type: EventSetRules, Count: len(*step.SetRules)})

	case step.Gates != nil:
		h.applyGates(step.Gates)
		h.record(TraceEvent{Type: EventGates, Count: len(step.Gates.AllowedSources)})

	default:
		return fmt.Errorf("no action set")
	}
	return nil
}

// message delivers one inbound message. The message event is recorded
// before the engine runs so that an immediate dispatch follows it.
func (h *Harness) message(ctx context.Context, m MessageStep) {
	h.noteSource(m.SourceID)
	idx := h.record(TraceEvent{Type: EventMessage, SourceID: m.SourceID, Text: m.Text})

	res := h.engine.OnMessage(ctx, engine.InboundMessage{
		SourceID:    m.SourceID,
		Origin:      m.origin(),
		Text:        m.Text,
		ReplyHandle: m.replyHandle(),
	})

	ev := &h.result.Trace[idx]
	ev.Outcome = string(res.Outcome)
	if d := res.Decision; d != nil && d.Kind != engine.DecisionRejected {
		ev.RuleID = d.RuleID
		if d.Kind == engine.DecisionScheduled {
			ev.FireAt = h.offset(d.FireAt)
		}
	}
}

// send is the engine's gateway. It records every attempt.
func (h *Harness) send(ctx context.Context, replyHandle, text string) error {
	err := h.gateway.Send(ctx, replyHandle, text)
	outcome := DispatchSent
	if err != nil {
		outcome = DispatchFailed
	}
	h.record(TraceEvent{Type: EventDispatch, ReplyTo: replyHandle, Text: text, Outcome: outcome})
	return err
}

// drainErrors moves every runtime error reported so far into the trace.
func (h *Harness) drainErrors() {
	for {
		select {
		case err := <-h.engine.Errors():
			ev := TraceEvent{Type: EventError, Code: "UNKNOWN"}
			var re *engine.RuntimeError
			if errors.As(err, &re) {
				ev.Code = string(re.Code)
				ev.SourceID = re.SourceID
				ev.RuleID = re.RuleID
			}
			h.record(ev)
		default:
			return
		}
	}
}

// applyGates replaces the gate configuration. Nil means enabled with
// DefaultOrigin allowed.
func (h *Harness) applyGates(gs *GateSpec) {
	if gs == nil {
		gs = &GateSpec{AllowedSources: []string{DefaultOrigin}}
	}
	for _, o := range h.allowed {
		h.gates.Allow(o, false)
	}
	h.gates.SetEnabled(gs.enabled())
	for _, o := range gs.AllowedSources {
		h.gates.Allow(o, true)
	}
	h.allowed = append([]string(nil), gs.AllowedSources...)
}

func (h *Harness) noteSource(id string) {
	for _, s := range h.sources {
		if s == id {
			return
		}
	}
	h.sources = append(h.sources, id)
}

// record appends ev stamped with sequence, step and time, returning its index.
func (h *Harness) record(ev TraceEvent) int {
	ev.Seq = len(h.result.Trace) + 1
	ev.Step = h.step
	ev.At = h.offset(h.clock.Now())
	h.result.Trace = append(h.result.Trace, ev)
	return len(h.result.Trace) - 1
}

func (h *Harness) offset(t time.Time) string {
	return t.Sub(h.start).String()
}
