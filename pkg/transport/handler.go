package transport

import (
	"context"

	"github.com/rhuss/kbqa/pkg/api"
)

// StreamWriter abstracts the SSE output of a streamed answer.
//
// After WriteDone or an event with Done or Error set, the stream is
// complete and further writes return an error.
type StreamWriter interface {
	// WriteEvent sends a single "data:" event and flushes it. Returns an
	// error if the client has disconnected or the stream is complete.
	WriteEvent(ctx context.Context, event api.StreamEvent) error

	// WriteDone sends the "data: [DONE]" terminator.
	WriteDone(ctx context.Context) error
}
