package gateway

import (
	"context"
	"fmt"
)

// Publisher is the subset of *nats.Conn used by NATSGateway.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSGateway publishes the reply text to the subject named by the reply
// handle. With request/reply inbound messages the handle is the requester's
// inbox, so the reply lands directly with the sender.
type NATSGateway struct {
	conn Publisher
}

// NewNATSGateway creates a gateway publishing on conn.
func NewNATSGateway(conn Publisher) *NATSGateway {
	return &NATSGateway{conn: conn}
}

// Send publishes text to replyHandle.
func (g *NATSGateway) Send(ctx context.Context, replyHandle, text string) error {
	if replyHandle == "" {
		return ErrNoReplyHandle
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.conn.Publish(replyHandle, []byte(text)); err != nil {
		return fmt.Errorf("publish reply to %s: %w", replyHandle, err)
	}
	return nil
}
