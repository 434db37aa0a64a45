package openaicompat

import "encoding/json"

// ParseError extracts error.message from an OpenAI-style error body.
// Returns an empty string when the body is not a recognizable envelope.
func (Dialect) ParseError(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var errResp ChatErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}

	return ""
}
