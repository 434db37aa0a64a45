package openaicompat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/kbqa/pkg/provider"
)

// Name is the dialect tag used in configuration.
const Name = "openai"

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Dialect speaks the OpenAI Chat Completions wire format.
type Dialect struct{}

// Ensure Dialect implements provider.Dialect at compile time.
var _ provider.Dialect = Dialect{}

// New returns the OpenAI-compatible dialect.
func New() Dialect { return Dialect{} }

// Name returns "openai".
func (Dialect) Name() string { return Name }

// Path returns the chat completions endpoint path.
func (Dialect) Path() string { return "/chat/completions" }

// BuildHeaders sets the JSON content type, the bearer credential when one
// is configured, and the SSE accept header for streaming requests.
func (Dialect) BuildHeaders(h http.Header, apiKey string, stream bool) {
	h.Set("Content-Type", "application/json")
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	if stream {
		h.Set("Accept", "text/event-stream")
	}
}

// BuildPayload serializes req as a ChatCompletionRequest.
func (Dialect) BuildPayload(req *provider.Request) ([]byte, error) {
	msgs := make([]ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ChatMessage{Role: m.Role, Content: m.Content}
	}
	return json.Marshal(ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	})
}

// ParseStreamLine decodes one SSE line. Lines without the "data:" prefix
// (blank separators, comments, event names) carry nothing and are ignored.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[{"delta":{"content":"..."}}]}\n
//	\n
//	data: [DONE]\n
func (Dialect) ParseStreamLine(line string) (string, bool, error) {
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false, nil
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return "", false, nil
	}
	if payload == doneSentinel {
		return "", true, nil
	}

	var chunk ChatCompletionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false, fmt.Errorf("decoding chunk: %w", err)
	}

	// Usage-only and keep-alive chunks have no choices.
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}

// ParseResponse returns choices[0].message.content.
func (Dialect) ParseResponse(body []byte) (string, error) {
	var resp ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return "", fmt.Errorf("no choices: %w", provider.ErrMissingContent)
	}
	return resp.Choices[0].Message.Content, nil
}
