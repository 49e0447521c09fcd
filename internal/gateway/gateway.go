// Package gateway delivers auto-replies to the host messaging surface.
//
// Both gateways implement engine.Gateway. Any returned error is treated by
// the engine as transient: the source's fired mark is reverted so that a
// later delivery can retry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNoReplyHandle is returned when a reply has nowhere to go.
var ErrNoReplyHandle = errors.New("empty reply handle")

// Reply is the wire form of one outbound reply.
type Reply struct {
	ReplyTo string `json:"reply_to"`
	Text    string `json:"text"`
}

// WriterGateway writes each reply as one JSON line to an io.Writer.
// Used with the stdin line reader so the process can sit in a pipe.
//
// Thread-safety: Safe for concurrent use; lines are never interleaved.
type WriterGateway struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterGateway creates a gateway writing to w.
func NewWriterGateway(w io.Writer) *WriterGateway {
	return &WriterGateway{enc: json.NewEncoder(w)}
}

// Send writes {"reply_to":handle,"text":text}.
func (g *WriterGateway) Send(ctx context.Context, replyHandle, text string) error {
	if replyHandle == "" {
		return ErrNoReplyHandle
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enc.Encode(Reply{ReplyTo: replyHandle, Text: text}); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
