package provider

import (
	"context"
	"net/http"

	"github.com/rhuss/kbqa/pkg/api"
)

// Provider abstracts an LLM inference backend.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Provider interface {
	// Name returns the backend identifier (e.g., "deepseek", "ollama").
	Name() string

	// Complete performs non-streaming inference and returns the full
	// assistant message content.
	Complete(ctx context.Context, req *Request) (string, error)

	// Stream performs streaming inference. The returned channel yields
	// EventDelta values in order and is closed by the provider when the
	// stream completes, fails, or ctx is cancelled.
	Stream(ctx context.Context, req *Request) (<-chan Event, error)

	// Close releases provider resources (HTTP clients, connections).
	Close() error
}

// Dialect translates between the internal Request and one provider wire
// protocol. Implementations are stateless.
type Dialect interface {
	// Name returns the dialect tag ("openai", "ollama").
	Name() string

	// Path returns the chat endpoint path appended to the backend base URL.
	Path() string

	// BuildHeaders sets protocol headers, including credentials.
	BuildHeaders(h http.Header, apiKey string, stream bool)

	// BuildPayload serializes the request body.
	BuildPayload(req *Request) ([]byte, error)

	// ParseStreamLine decodes one line of a streaming body. It returns the
	// text delta carried by the line (possibly empty), whether the line
	// terminates the stream, and an error for malformed lines. A returned
	// *UpstreamUnavailableError aborts the stream; any other error causes
	// the line to be skipped.
	ParseStreamLine(line string) (delta string, done bool, err error)

	// ParseResponse extracts the assistant content from a non-streaming body.
	ParseResponse(body []byte) (string, error)

	// ParseError extracts a human-readable message from an error body.
	// Returns an empty string if the body carries no recognizable message.
	ParseError(body []byte) string
}

// Request is the backend-facing generation request.
type Request struct {
	Model       string
	Messages    []api.ChatMessage
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// EventType classifies a streaming event from the backend.
type EventType int

const (
	EventDelta EventType = iota // Incremental text content
	EventDone                   // Stream finished
	EventError                  // Stream error
)

// Event is a single streaming event from the backend.
type Event struct {
	Type  EventType
	Delta string
	Err   error
}
