package api

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Defaults and limits applied to incoming requests.
const (
	DefaultTopK        = 5
	DefaultTemperature = 0.1

	MaxQuestionLength = 2000
	MaxChatTopK       = 20
	MaxSearchTopK     = 50
	MaxTemperature    = 2.0
)

// Normalize fills unset optional fields with their defaults.
func (r *ChatRequest) Normalize() {
	r.Question = strings.TrimSpace(r.Question)
	if r.TopK == nil {
		k := DefaultTopK
		r.TopK = &k
	}
	if r.Temperature == nil {
		t := DefaultTemperature
		r.Temperature = &t
	}
	if r.UseCache == nil {
		u := true
		r.UseCache = &u
	}
}

// ValidateChatRequest checks a normalized ChatRequest. It returns an
// *APIError describing the first validation failure, or nil.
func ValidateChatRequest(r *ChatRequest) *APIError {
	if r.Question == "" {
		return NewInvalidRequestError("question", "question is required")
	}
	if n := utf8.RuneCountInString(r.Question); n > MaxQuestionLength {
		return NewInvalidRequestError("question",
			fmt.Sprintf("question exceeds maximum of %d characters (got %d)", MaxQuestionLength, n))
	}
	if r.TopK != nil && (*r.TopK < 1 || *r.TopK > MaxChatTopK) {
		return NewInvalidRequestError("top_k",
			fmt.Sprintf("top_k must be between 1 and %d", MaxChatTopK))
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > MaxTemperature) {
		return NewInvalidRequestError("temperature", "temperature must be between 0.0 and 2.0")
	}
	return nil
}

// Normalize fills unset optional fields with their defaults.
func (r *DocumentSearchRequest) Normalize() {
	r.Query = strings.TrimSpace(r.Query)
	if r.TopK == nil {
		k := DefaultTopK
		r.TopK = &k
	}
}

// ValidateSearchRequest checks a normalized DocumentSearchRequest.
func ValidateSearchRequest(r *DocumentSearchRequest) *APIError {
	if r.Query == "" {
		return NewInvalidRequestError("query", "query is required")
	}
	if r.TopK != nil && (*r.TopK < 1 || *r.TopK > MaxSearchTopK) {
		return NewInvalidRequestError("top_k",
			fmt.Sprintf("top_k must be between 1 and %d", MaxSearchTopK))
	}
	return nil
}
