package testutil

import (
	"context"
	"errors"
	"sync"
)

// ErrInjected is the default error returned by RecordingGateway.FailNext.
var ErrInjected = errors.New("injected dispatch failure")

// Sent is one reply accepted by RecordingGateway.
type Sent struct {
	ReplyHandle string
	Text        string
}

// RecordingGateway is a Gateway that records replies and can be told to fail.
//
// Implements engine.Gateway.
//
// Thread-safety: All methods are safe for concurrent use.
type RecordingGateway struct {
	mu       sync.Mutex
	sent     []Sent
	attempts int
	failures []error

	// Notify, if set, receives every attempt after it is recorded.
	// Sends are non-blocking; size the buffer for the test.
	Notify chan Sent
}

// NewRecordingGateway creates a gateway with a notification buffer of size n.
func NewRecordingGateway(n int) *RecordingGateway {
	return &RecordingGateway{Notify: make(chan Sent, n)}
}

// Send records the reply or returns the next queued failure.
func (g *RecordingGateway) Send(_ context.Context, replyHandle, text string) error {
	g.mu.Lock()
	g.attempts++
	var err error
	if len(g.failures) > 0 {
		err = g.failures[0]
		g.failures = g.failures[1:]
	} else {
		g.sent = append(g.sent, Sent{ReplyHandle: replyHandle, Text: text})
	}
	notify := g.Notify
	g.mu.Unlock()

	if notify != nil {
		select {
		case notify <- Sent{ReplyHandle: replyHandle, Text: text}:
		default:
		}
	}
	return err
}

// FailNext makes the next n Send calls fail with ErrInjected.
func (g *RecordingGateway) FailNext(n int) {
	g.FailNextWith(n, ErrInjected)
}

// FailNextWith makes the next n Send calls fail with err.
func (g *RecordingGateway) FailNextWith(n int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < n; i++ {
		g.failures = append(g.failures, err)
	}
}

// Sent returns a copy of the successfully sent replies.
func (g *RecordingGateway) Sent() []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Sent, len(g.sent))
	copy(out, g.sent)
	return out
}

// Attempts returns the number of Send calls, failed ones included.
func (g *RecordingGateway) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}
