package inbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultHandleTimeout bounds the handling of a single NATS message,
// including an immediate dispatch.
const DefaultHandleTimeout = 30 * time.Second

// Subscriber is the subset of *nats.Conn used by NATSSource.
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSSource subscribes to a posted subject and a removed subject.
//
// A posted payload is a JSON engine.InboundMessage. When reply_to is empty
// the NATS reply subject of the message is used as the reply handle, so a
// plain request/reply client gets its answer on its inbox.
type NATSSource struct {
	conn           Subscriber
	handler        Handler
	logger         *slog.Logger
	postedSubject  string
	removedSubject string
	timeout        time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NATSOption configures a NATSSource.
type NATSOption func(*NATSSource)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) NATSOption {
	return func(s *NATSSource) {
		s.logger = l
	}
}

// WithHandleTimeout overrides DefaultHandleTimeout.
func WithHandleTimeout(d time.Duration) NATSOption {
	return func(s *NATSSource) {
		s.timeout = d
	}
}

// NewNATSSource creates a source. An empty removedSubject disables removal
// events.
func NewNATSSource(conn Subscriber, handler Handler, postedSubject, removedSubject string, opts ...NATSOption) *NATSSource {
	s := &NATSSource{
		conn:           conn,
		handler:        handler,
		logger:         slog.Default(),
		postedSubject:  postedSubject,
		removedSubject: removedSubject,
		timeout:        DefaultHandleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start subscribes to the configured subjects. Handlers derive their context
// from ctx.
func (s *NATSSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.conn.Subscribe(s.postedSubject, func(msg *nats.Msg) {
		s.HandlePosted(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.postedSubject, err)
	}
	s.subs = append(s.subs, sub)

	if s.removedSubject != "" {
		sub, err := s.conn.Subscribe(s.removedSubject, func(msg *nats.Msg) {
			s.HandleRemoved(msg)
		})
		if err != nil {
			s.unsubscribeLocked()
			return fmt.Errorf("subscribe %s: %w", s.removedSubject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.Info("listening for messages",
		"posted_subject", s.postedSubject,
		"removed_subject", s.removedSubject,
	)
	return nil
}

// Stop removes all subscriptions.
func (s *NATSSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked()
}

func (s *NATSSource) unsubscribeLocked() {
	for _, sub := range s.subs {
		if sub == nil {
			continue
		}
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	s.subs = nil
}

// HandlePosted processes one posted payload.
func (s *NATSSource) HandlePosted(ctx context.Context, msg *nats.Msg) {
	in, err := decodePosted(msg.Data)
	if err != nil {
		s.logger.Warn("dropping malformed message", "subject", msg.Subject, "error", err)
		return
	}
	if in.ReplyHandle == "" {
		in.ReplyHandle = msg.Reply
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.handler.OnMessage(ctx, in)
	s.logger.Debug("message processed", "source_id", in.SourceID, "outcome", res.Outcome)
}

// HandleRemoved processes one removal payload.
func (s *NATSSource) HandleRemoved(msg *nats.Msg) {
	id, err := decodeRemoved(msg.Data)
	if err != nil {
		s.logger.Warn("dropping malformed removal", "subject", msg.Subject, "error", err)
		return
	}
	if s.handler.OnRemoved(id) {
		s.logger.Debug("pending reply cancelled", "source_id", id)
	}
}

// ReconnectHandler returns a NATS connection callback that resets the
// handler's reply state. Messages missed while disconnected are redelivered
// by the host as fresh postings.
func ReconnectHandler(h Handler, logger *slog.Logger) nats.ConnHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(nc *nats.Conn) {
		logger.Info("nats reconnected, resetting reply state", "url", nc.ConnectedUrl())
		h.Reset()
	}
}
