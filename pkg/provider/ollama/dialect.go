package ollama

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rhuss/kbqa/pkg/provider"
)

// Name is the dialect tag used in configuration.
const Name = "ollama"

// Dialect speaks the Ollama native chat protocol.
type Dialect struct{}

// Ensure Dialect implements provider.Dialect at compile time.
var _ provider.Dialect = Dialect{}

// New returns the Ollama dialect.
func New() Dialect { return Dialect{} }

// Name returns "ollama".
func (Dialect) Name() string { return Name }

// Path returns the native chat endpoint path.
func (Dialect) Path() string { return "/api/chat" }

// BuildHeaders sets the JSON content type. Ollama does not authenticate.
func (Dialect) BuildHeaders(h http.Header, _ string, _ bool) {
	h.Set("Content-Type", "application/json")
}

// BuildPayload serializes req, mapping sampling parameters into options.
func (Dialect) BuildPayload(req *provider.Request) ([]byte, error) {
	msgs := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	return json.Marshal(chatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   req.Stream,
		Options: chatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
}

// ParseStreamLine decodes one NDJSON object. The object with done:true ends
// the stream and its content, if any, is not emitted. An object carrying
// an error aborts the stream.
func (Dialect) ParseStreamLine(line string) (string, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false, nil
	}

	var obj chatResponse
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		return "", false, fmt.Errorf("decoding stream object: %w", err)
	}
	if obj.Error != "" {
		return "", false, &provider.UpstreamUnavailableError{Message: obj.Error}
	}
	if obj.Done {
		return "", true, nil
	}
	if obj.Message == nil {
		return "", false, nil
	}
	return obj.Message.Content, false, nil
}

// ParseResponse returns message.content from a buffered response.
func (Dialect) ParseResponse(body []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if resp.Message == nil {
		return "", fmt.Errorf("no message: %w", provider.ErrMissingContent)
	}
	return resp.Message.Content, nil
}

// ParseError extracts the "error" string from an Ollama error body.
func (Dialect) ParseError(body []byte) string {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return resp.Error
}
