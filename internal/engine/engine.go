package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/autoreply/internal/metric"
	"github.com/roach88/autoreply/internal/rule"
)

// DefaultErrorBuffer is the capacity of the Errors() channel.
const DefaultErrorBuffer = 16

// Outcome is the per-message result label used in logs and metrics.
type Outcome string

const (
	OutcomeDisabled      Outcome = "disabled"
	OutcomeSourceDenied  Outcome = "source_denied"
	OutcomeEmptyText     Outcome = "empty_text"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUnavailable   Outcome = "rules_unavailable"
	OutcomeNoMatch       Outcome = "no_match"
	OutcomeNoReplyHandle Outcome = "no_reply_handle"
	OutcomeImmediate     Outcome = "immediate"
	OutcomeScheduled     Outcome = "scheduled"
	OutcomeFailed        Outcome = "dispatch_failed"
)

// Result reports what OnMessage did. Hosts are free to ignore it.
type Result struct {
	Outcome Outcome

	// Decision is set when a rule matched and reached the scheduler.
	Decision *Decision
}

// Engine is the auto-reply orchestrator.
//
// For every inbound message it checks the configuration gates, reads the
// current rules, runs Match and hands the winner to the Scheduler. Rules are
// never cached: an edit takes effect on the next message.
//
// Thread-safety model:
//   - OnMessage, OnRemoved, Reset: safe from any goroutine
//   - Rule store reads happen without holding the scheduler lock
//   - Errors() is a shared, buffered channel; slow readers lose reports
type Engine struct {
	store     rule.Store
	gates     Gates
	gateway   Gateway
	scheduler *Scheduler

	clock       Clock
	logger      *slog.Logger
	metrics     *metric.Metrics
	errorBuffer int
	errs        chan error
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithClock sets the clock used for delays. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithErrorBuffer sets the capacity of the Errors() channel.
func WithErrorBuffer(n int) Option {
	return func(e *Engine) {
		e.errorBuffer = n
	}
}

// New creates an Engine reading rules from store, gated by gates and
// replying through gateway.
func New(store rule.Store, gates Gates, gateway Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		gates:       gates,
		gateway:     gateway,
		clock:       SystemClock{},
		logger:      slog.Default(),
		errorBuffer: DefaultErrorBuffer,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.errorBuffer < 0 {
		e.errorBuffer = 0
	}
	e.errs = make(chan error, e.errorBuffer)
	e.scheduler = NewScheduler(e.clock, gateway, e.logger, e.metrics, e.report)

	return e
}

// OnMessage processes one inbound delivery. It never panics and never
// returns an error; failures are logged and published on Errors().
func (e *Engine) OnMessage(ctx context.Context, msg InboundMessage) Result {
	res := e.handle(ctx, msg)
	e.metrics.ObserveMessage(string(res.Outcome))
	return res
}

func (e *Engine) handle(ctx context.Context, msg InboundMessage) Result {
	log := e.logger.With("source_id", msg.SourceID, "origin", msg.Origin)

	if !e.gate(func() bool { return e.gates.EngineEnabled() }) {
		log.Debug("engine disabled, ignoring message")
		return Result{Outcome: OutcomeDisabled}
	}
	if !e.gate(func() bool { return e.gates.SourceAllowed(msg.Origin) }) {
		log.Debug("source not allowed, ignoring message")
		return Result{Outcome: OutcomeSourceDenied}
	}
	if msg.Text == "" {
		log.Debug("empty message text")
		return Result{Outcome: OutcomeEmptyText}
	}
	if e.scheduler.Phase(msg.SourceID) != PhaseNone {
		log.Debug("already replied or reply pending")
		return Result{Outcome: OutcomeDuplicate}
	}

	rules, err := e.store.List(ctx)
	if err != nil {
		rerr := NewConfigUnavailableError(msg.SourceID, err)
		log.Warn("rule store unavailable", "error", err)
		e.report(rerr)
		return Result{Outcome: OutcomeUnavailable}
	}

	matched, ok := Match(rules, msg.Text)
	if !ok {
		log.Debug("no rule matches message")
		return Result{Outcome: OutcomeNoMatch}
	}
	log = log.With("rule_id", matched.ID)

	if msg.ReplyHandle == "" {
		log.Warn("rule matched but message has no reply handle")
		return Result{Outcome: OutcomeNoReplyHandle}
	}

	d := e.scheduler.Consider(ctx, msg, matched)
	res := Result{Decision: &d}
	switch {
	case d.Kind == DecisionRejected && d.Err != nil:
		res.Outcome = OutcomeFailed
	case d.Kind == DecisionRejected:
		res.Outcome = OutcomeDuplicate
	case d.Kind == DecisionScheduled:
		res.Outcome = OutcomeScheduled
	case d.Err != nil:
		res.Outcome = OutcomeFailed
	default:
		res.Outcome = OutcomeImmediate
	}
	log.Debug("message handled", "outcome", res.Outcome)
	return res
}

// gate evaluates a configuration predicate. A panicking predicate counts as
// unavailable configuration and denies.
func (e *Engine) gate(pred func() bool) (allowed bool) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("configuration gate panicked, denying", "panic", p)
			allowed = false
		}
	}()
	return pred()
}

// OnRemoved handles the disappearance of a source (notification dismissed).
// Returns true if a pending reply was cancelled.
func (e *Engine) OnRemoved(sourceID string) bool {
	return e.scheduler.Cancel(sourceID)
}

// Reset cancels all pending replies and forgets all dedup state.
func (e *Engine) Reset() {
	e.logger.Info("resetting reply state")
	e.scheduler.Reset()
}

// Close stops the scheduler. Pending replies are dropped.
func (e *Engine) Close() {
	e.scheduler.Close()
}

// Errors returns the channel on which runtime errors are published.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// Phase returns the reply phase of a source.
func (e *Engine) Phase(sourceID string) Phase {
	return e.scheduler.Phase(sourceID)
}

// Outstanding returns the number of replies not yet settled, pending or in
// flight.
func (e *Engine) Outstanding() int {
	return e.scheduler.Outstanding()
}

// Pending returns a snapshot of scheduled replies.
func (e *Engine) Pending() []PendingReply {
	return e.scheduler.Pending()
}

// report publishes err without blocking.
func (e *Engine) report(err error) {
	select {
	case e.errs <- err:
	default:
		e.logger.Debug("error channel full, dropping report", "error", err)
	}
}
