// Package inbound feeds message-posted and message-removed events into the
// engine from a transport: NATS subjects or newline-delimited JSON.
//
// Malformed events are logged and dropped; a bad payload never stops a
// source.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/autoreply/internal/engine"
)

// Handler receives decoded events. *engine.Engine implements it.
type Handler interface {
	OnMessage(ctx context.Context, msg engine.InboundMessage) engine.Result
	OnRemoved(sourceID string) bool
	Reset()
}

var _ Handler = (*engine.Engine)(nil)

// Event types for the line protocol.
const (
	EventPosted  = "posted"
	EventRemoved = "removed"
	EventReset   = "reset"
)

// ErrMissingSourceID is returned for events without a source_id.
var ErrMissingSourceID = errors.New("missing source_id")

// RemovedEvent is the payload announcing a source has gone away.
type RemovedEvent struct {
	SourceID string `json:"source_id"`
}

// decodePosted parses an inbound message payload.
func decodePosted(data []byte) (engine.InboundMessage, error) {
	var msg engine.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return engine.InboundMessage{}, fmt.Errorf("decode posted event: %w", err)
	}
	if msg.SourceID == "" {
		return engine.InboundMessage{}, fmt.Errorf("decode posted event: %w", ErrMissingSourceID)
	}
	return msg, nil
}

// decodeRemoved parses a removal payload.
func decodeRemoved(data []byte) (string, error) {
	var ev RemovedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", fmt.Errorf("decode removed event: %w", err)
	}
	if ev.SourceID == "" {
		return "", fmt.Errorf("decode removed event: %w", ErrMissingSourceID)
	}
	return ev.SourceID, nil
}
