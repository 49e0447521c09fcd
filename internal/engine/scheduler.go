package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/autoreply/internal/metric"
	"github.com/roach88/autoreply/internal/rule"
)

// Phase is the reply state of a single source.
type Phase int

const (
	// PhaseNone means no reply is recorded for the source.
	PhaseNone Phase = iota
	// PhasePending means a delayed reply is waiting for its timer.
	PhasePending
	// PhaseInFlight means the Gateway is being called right now.
	PhaseInFlight
	// PhaseFired means a reply was delivered.
	PhaseFired
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhasePending:
		return "pending"
	case PhaseInFlight:
		return "in_flight"
	case PhaseFired:
		return "fired"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DecisionKind is the outcome of Scheduler.Consider.
type DecisionKind int

const (
	// DecisionRejected means the source already has a pending or fired reply.
	DecisionRejected DecisionKind = iota + 1
	// DecisionImmediate means the reply was dispatched synchronously.
	DecisionImmediate
	// DecisionScheduled means a delayed reply was registered.
	DecisionScheduled
)

// String returns the lower-case decision name.
func (k DecisionKind) String() string {
	switch k {
	case DecisionRejected:
		return "rejected"
	case DecisionImmediate:
		return "immediate"
	case DecisionScheduled:
		return "scheduled"
	default:
		return fmt.Sprintf("decision(%d)", int(k))
	}
}

// Decision describes what Consider did with a matched message.
type Decision struct {
	Kind        DecisionKind
	SourceID    string
	RuleID      string
	Text        string
	ReplyHandle string

	// FireAt is when a scheduled reply fires (DecisionScheduled only).
	FireAt time.Time

	// Err is the dispatch failure of an immediate reply, if any.
	Err error
}

// PendingReply is a snapshot of a scheduled, not yet fired, reply.
type PendingReply struct {
	SourceID    string
	RuleID      string
	ScheduledAt time.Time
	FireAt      time.Time
}

// replyState is the per-source record. Pointer identity distinguishes one
// scheduling from the next for the same source ID.
type replyState struct {
	phase       Phase
	ruleID      string
	scheduledAt time.Time
	fireAt      time.Time
	stop        func() bool

	// removed is set when the source disappears while the reply is in flight.
	removed bool
}

// Scheduler turns a matched (message, rule) pair into an immediate or delayed
// dispatch and guarantees at most one reply per source ID.
//
// Thread-safety model:
//   - All access to the per-source table happens under mu
//   - The Gateway is never called with mu held
//   - A timer that observes a state other than its own pending record skips dispatch
type Scheduler struct {
	clock   Clock
	gateway Gateway
	logger  *slog.Logger
	metrics *metric.Metrics
	onError func(error)

	// ctx bounds delayed dispatches; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	replies map[string]*replyState
	closed  bool
	fires   sync.WaitGroup
}

// NewScheduler creates a scheduler dispatching through gateway.
// onError, if non-nil, receives every dispatch failure.
func NewScheduler(clock Clock, gateway Gateway, logger *slog.Logger, m *metric.Metrics, onError func(error)) *Scheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if onError == nil {
		onError = func(error) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:   clock,
		gateway: gateway,
		logger:  logger,
		metrics: m,
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
		replies: make(map[string]*replyState),
	}
}

// Consider records and dispatches a reply for msg using r.
//
// If the source already has a pending, in-flight or fired reply the call is a
// no-op returning DecisionRejected. A rule whose delay is outside
// [0, rule.MaxDelaySeconds] is rejected with Err set and no state. A rule with DelaySeconds == 0 is dispatched
// before Consider returns; otherwise a timer is started and DecisionScheduled
// is returned. A failed dispatch forgets the source so that a later delivery
// may try again.
func (s *Scheduler) Consider(ctx context.Context, msg InboundMessage, r rule.Rule) Decision {
	d := Decision{
		SourceID:    msg.SourceID,
		RuleID:      r.ID,
		Text:        r.ReplyMessage,
		ReplyHandle: msg.ReplyHandle,
	}

	if r.DelaySeconds < 0 || r.DelaySeconds > rule.MaxDelaySeconds {
		d.Kind = DecisionRejected
		d.Err = NewDispatchError(msg.SourceID, r.ID,
			fmt.Errorf("delay_seconds %d outside [0, %d]", r.DelaySeconds, rule.MaxDelaySeconds))
		s.logger.Warn("rule delay out of range, not replying",
			"source_id", msg.SourceID,
			"rule_id", r.ID,
			"delay_seconds", r.DelaySeconds,
		)
		s.onError(d.Err)
		return d
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		d.Kind = DecisionRejected
		return d
	}
	if _, exists := s.replies[msg.SourceID]; exists {
		s.mu.Unlock()
		d.Kind = DecisionRejected
		return d
	}

	now := s.clock.Now()
	st := &replyState{ruleID: r.ID, scheduledAt: now}
	s.replies[msg.SourceID] = st

	if r.DelaySeconds == 0 {
		st.phase = PhaseInFlight
		s.mu.Unlock()

		err := s.dispatch(ctx, msg, r, "immediate")
		s.finish(msg.SourceID, st, err)

		d.Kind = DecisionImmediate
		d.Err = err
		return d
	}

	delay := r.Delay()
	st.phase = PhasePending
	st.fireAt = now.Add(delay)
	st.stop = s.clock.AfterFunc(delay, func() { s.fire(msg, r, st) })
	s.metrics.PendingInc()
	s.mu.Unlock()

	s.logger.Debug("reply scheduled",
		"source_id", msg.SourceID,
		"rule_id", r.ID,
		"fire_at", st.fireAt,
	)

	d.Kind = DecisionScheduled
	d.FireAt = st.fireAt
	return d
}

// fire runs on timer expiry.
func (s *Scheduler) fire(msg InboundMessage, r rule.Rule, st *replyState) {
	s.mu.Lock()
	if s.closed || s.replies[msg.SourceID] != st || st.phase != PhasePending {
		// Cancelled, reset or superseded before the timer got the lock.
		s.mu.Unlock()
		return
	}
	st.phase = PhaseInFlight
	s.metrics.PendingDec()
	s.fires.Add(1)
	s.mu.Unlock()
	defer s.fires.Done()

	err := s.dispatch(s.ctx, msg, r, "delayed")
	s.finish(msg.SourceID, st, err)
}

// dispatch calls the Gateway once. Panics are converted to errors.
func (s *Scheduler) dispatch(ctx context.Context, msg InboundMessage, r rule.Rule, mode string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("gateway panic: %v", p)
		}
		if err != nil {
			err = NewDispatchError(msg.SourceID, r.ID, err)
			s.metrics.ObserveDispatch(mode, "failed")
			s.logger.Warn("reply dispatch failed, source may retry",
				"source_id", msg.SourceID,
				"rule_id", r.ID,
				"mode", mode,
				"error", err,
			)
			s.onError(err)
			return
		}
		s.metrics.ObserveDispatch(mode, "sent")
		s.logger.Info("reply sent",
			"source_id", msg.SourceID,
			"rule_id", r.ID,
			"mode", mode,
		)
	}()

	return s.gateway.Send(ctx, msg.ReplyHandle, r.ReplyMessage)
}

// finish settles an in-flight reply.
func (s *Scheduler) finish(sourceID string, st *replyState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replies[sourceID] != st {
		// Reset while in flight; the table no longer knows this reply.
		return
	}
	if err != nil || st.removed {
		delete(s.replies, sourceID)
		return
	}
	st.phase = PhaseFired
}

// Cancel forgets the source. A pending reply is stopped and never dispatched;
// Cancel then returns true. An in-flight reply is left to complete and the
// record is dropped afterwards. A fired record is simply forgotten.
func (s *Scheduler) Cancel(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.replies[sourceID]
	if !ok {
		return false
	}

	switch st.phase {
	case PhasePending:
		st.stop()
		delete(s.replies, sourceID)
		s.metrics.PendingDec()
		s.logger.Debug("pending reply cancelled", "source_id", sourceID, "rule_id", st.ruleID)
		return true
	case PhaseInFlight:
		st.removed = true
		return false
	default:
		delete(s.replies, sourceID)
		return false
	}
}

// Reset cancels every pending reply and forgets all state, as after the
// event source reconnects.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Scheduler) resetLocked() {
	for _, st := range s.replies {
		if st.phase == PhasePending {
			st.stop()
			s.metrics.PendingDec()
		}
	}
	s.replies = make(map[string]*replyState)
}

// Close cancels all pending replies, rejects further work, cancels the
// context of delayed dispatches already in flight and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.resetLocked()
	s.mu.Unlock()

	s.cancel()
	s.fires.Wait()
}

// Phase returns the current reply phase of a source.
func (s *Scheduler) Phase(sourceID string) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.replies[sourceID]; ok {
		return st.phase
	}
	return PhaseNone
}

// Outstanding returns the number of replies still pending or in flight.
func (s *Scheduler) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.replies {
		if st.phase == PhasePending || st.phase == PhaseInFlight {
			n++
		}
	}
	return n
}

// Pending returns a snapshot of pending replies ordered by fire time.
func (s *Scheduler) Pending() []PendingReply {
	s.mu.Lock()
	pending := make([]PendingReply, 0, len(s.replies))
	for id, st := range s.replies {
		if st.phase != PhasePending {
			continue
		}
		pending = append(pending, PendingReply{
			SourceID:    id,
			RuleID:      st.ruleID,
			ScheduledAt: st.scheduledAt,
			FireAt:      st.fireAt,
		})
	}
	s.mu.Unlock()

	slices.SortFunc(pending, func(a, b PendingReply) int {
		if c := a.FireAt.Compare(b.FireAt); c != 0 {
			return c
		}
		if a.SourceID < b.SourceID {
			return -1
		}
		if a.SourceID > b.SourceID {
			return 1
		}
		return 0
	})
	return pending
}
