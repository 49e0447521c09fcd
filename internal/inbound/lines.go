package inbound

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// maxLineSize bounds one JSON event line.
const maxLineSize = 1 << 20

// lineEvent is one line of the line protocol:
//
//	{"type":"posted","source_id":"n1","origin":"chat","text":"hi","reply_to":"r1"}
//	{"type":"removed","source_id":"n1"}
//	{"type":"reset"}
type lineEvent struct {
	Type string `json:"type"`
}

// LineReader reads newline-delimited JSON events and feeds them to a Handler.
type LineReader struct {
	r       io.Reader
	handler Handler
	logger  *slog.Logger
}

// NewLineReader creates a reader over r. A nil logger means slog.Default().
func NewLineReader(r io.Reader, handler Handler, logger *slog.Logger) *LineReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &LineReader{r: r, handler: handler, logger: logger}
}

// Run processes lines until EOF or ctx is cancelled. Blank lines are
// skipped and malformed lines are logged and dropped. Returns nil at EOF.
func (l *LineReader) Run(ctx context.Context) error {
	sc := bufio.NewScanner(l.r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++

		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := l.handleLine(ctx, line); err != nil {
			l.logger.Warn("dropping malformed event", "line", lineNo, "error", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	return nil
}

func (l *LineReader) handleLine(ctx context.Context, line []byte) error {
	var ev lineEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	switch ev.Type {
	case EventPosted:
		msg, err := decodePosted(line)
		if err != nil {
			return err
		}
		res := l.handler.OnMessage(ctx, msg)
		l.logger.Debug("message processed", "source_id", msg.SourceID, "outcome", res.Outcome)
	case EventRemoved:
		id, err := decodeRemoved(line)
		if err != nil {
			return err
		}
		l.handler.OnRemoved(id)
	case EventReset:
		l.handler.Reset()
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}
