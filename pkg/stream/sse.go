package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/observa/pulse/pkg/events"
)

// SSEStream writes events to a client as Server-Sent Events frames. The
// writer is typically an http.ResponseWriter; when it implements
// http.Flusher each frame is flushed immediately.
type SSEStream struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	onClose func()
}

// NewSSEStream wraps a writer as a streaming connection. onClose may be nil;
// when set it runs once when the stream is closed.
func NewSSEStream(w io.Writer, onClose func()) *SSEStream {
	s := &SSEStream{w: w, onClose: onClose}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Send serializes the event as one SSE frame:
//
//	event: telemetry
//	id: <event id>
//	data: <event JSON>
func (s *SSEStream) Send(ctx context.Context, event *events.DebugEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sse stream closed")
	}
	if _, err := fmt.Fprintf(s.w, "event: telemetry\nid: %s\ndata: %s\n\n", event.ID, payload); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close marks the stream closed and runs the close hook once.
func (s *SSEStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
	return nil
}
