package sse

import (
	"fmt"
	"net/http"
	"sync"
)

// StreamWriter writes Server-Sent-Events frames to an HTTP response.
// Notifications are framed as "event: message" + "data:" pairs;
// keepalives and the connection confirmation are comment lines that
// EventSource clients ignore as protocol-level pings.
//
// Writes are serialized internally: the delivery goroutine and the
// keepalive ticker share one writer.
type StreamWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewStreamWriter wraps an http.ResponseWriter for SSE output. It
// fails if the writer does not support flushing.
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	return &StreamWriter{w: w, flusher: flusher}, nil
}

// WriteHeaders sets the SSE response headers. Call once, before any frame.
func (s *StreamWriter) WriteHeaders() {
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.Header().Set("X-Accel-Buffering", "no")
}

// WriteMessage writes one notification frame and flushes it.
func (s *StreamWriter) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream writer is closed")
	}
	if _, err := fmt.Fprintf(s.w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteComment writes a comment frame (connection confirmation or
// keepalive) and flushes it.
func (s *StreamWriter) WriteComment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream writer is closed")
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the writer closed. Subsequent writes fail without
// touching the underlying response.
func (s *StreamWriter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
