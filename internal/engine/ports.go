package engine

import "context"

// InboundMessage is one delivery of an incoming message. The same SourceID
// may be delivered more than once (notification updates); the engine is
// idempotent under redelivery.
type InboundMessage struct {
	// SourceID identifies the conversation/notification instance.
	SourceID string `json:"source_id"`

	// Origin is the app or channel the message came from, checked against
	// the source allow-list.
	Origin string `json:"origin"`

	// Text is the message body matched against rules.
	Text string `json:"text"`

	// ReplyHandle is the opaque capability the Gateway uses to answer this
	// message. Empty means the message cannot be answered.
	ReplyHandle string `json:"reply_to,omitempty"`
}

// Gates are the externally managed configuration predicates evaluated on
// every inbound message. Implementations must be safe for concurrent use.
type Gates interface {
	EngineEnabled() bool
	SourceAllowed(origin string) bool
}

// Gateway sends a reply through the host messaging surface. Any non-nil
// error is treated as transient and reverts the fired mark for the source.
type Gateway interface {
	Send(ctx context.Context, replyHandle, text string) error
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, replyHandle, text string) error

// Send calls f.
func (f GatewayFunc) Send(ctx context.Context, replyHandle, text string) error {
	return f(ctx, replyHandle, text)
}
