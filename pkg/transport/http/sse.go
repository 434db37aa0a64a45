package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/transport"
)

// writerState tracks the state of an SSE stream writer.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // [DONE], a terminal event, or a failed write
)

// sseWriter implements transport.StreamWriter for HTTP/SSE responses.
// Every event is written as a single "data: {json}" line followed by a
// blank line and flushed immediately.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
}

var _ transport.StreamWriter = (*sseWriter)(nil)

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	return &sseWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// errWriterCompleted is returned for writes after the stream ended.
var errWriterCompleted = errors.New("cannot write event: stream is completed")

// WriteEvent sends one event. Error events and the single-event not-found
// reply end the stream.
func (s *sseWriter) WriteEvent(_ context.Context, event api.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errWriterCompleted
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := s.writeLocked(data); err != nil {
		return err
	}

	if event.Error || event.Done {
		s.state = writerCompleted
	}
	return nil
}

// WriteDone sends the [DONE] terminator.
func (s *sseWriter) WriteDone(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errWriterCompleted
	}
	err := s.writeLocked([]byte("[DONE]"))
	s.state = writerCompleted
	return err
}

func (s *sseWriter) writeLocked(payload []byte) error {
	if s.state == writerIdle {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.state = writerStreaming
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		s.state = writerCompleted
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		s.state = writerCompleted
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// hasStarted reports whether any bytes of the stream were written.
func (s *sseWriter) hasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != writerIdle
}
