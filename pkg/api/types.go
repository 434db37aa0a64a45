package api

// Message roles accepted by the LLM backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one entry of the conversation sent to a backend.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SearchResult is a single snippet returned by the retriever. Score is a
// similarity in [-1, 1] (1 - distance) and Rank is the 1-based position in
// the retriever's ordering.
type SearchResult struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
	Rank     int            `json:"rank"`
}

// SourcePreview is the shortened form of a SearchResult sent in the
// metadata event of a streamed answer.
type SourcePreview struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// CachedAnswer is the value stored in the answer cache.
type CachedAnswer struct {
	Answer   string         `json:"answer"`
	Sources  []SearchResult `json:"sources"`
	Question string         `json:"question"`
}

// ChatRequest is the body of POST /api/v1/chat and /api/v1/chat/stream.
// Pointer fields distinguish "absent" from zero values so defaults can be
// applied by Normalize.
type ChatRequest struct {
	Question    string   `json:"question"`
	TopK        *int     `json:"top_k,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	UseCache    *bool    `json:"use_cache,omitempty"`
}

// ChatResponse is the buffered answer returned by POST /api/v1/chat.
type ChatResponse struct {
	Answer         string         `json:"answer"`
	Sources        []SearchResult `json:"sources"`
	Cached         bool           `json:"cached"`
	Backend        string         `json:"backend,omitempty"`
	Model          string         `json:"model,omitempty"`
	ProcessingTime float64        `json:"processing_time"`
	RequestID      string         `json:"request_id,omitempty"`
}

// DocumentSearchRequest is the body of POST /api/v1/documents/search.
type DocumentSearchRequest struct {
	Query          string `json:"query"`
	TopK           *int   `json:"top_k,omitempty"`
	FilterBySource string `json:"filter_by_source,omitempty"`
	FilterByType   string `json:"filter_by_type,omitempty"`
}

// DocumentSearchResponse is the result of a raw retrieval query.
type DocumentSearchResponse struct {
	Results        []SearchResult `json:"results"`
	Total          int            `json:"total"`
	Query          string         `json:"query"`
	ProcessingTime float64        `json:"processing_time"`
}

// SwitchResult reports the outcome of an administrative backend switch.
type SwitchResult struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	CurrentBackend string `json:"current_backend"`
	CurrentModel   string `json:"current_model,omitempty"`
}

// BackendStatus describes one configured LLM backend.
type BackendStatus struct {
	Name                 string `json:"name"`
	Model                string `json:"model"`
	Dialect              string `json:"dialect"`
	Healthy              bool   `json:"healthy"`
	CredentialConfigured bool   `json:"api_key_configured"`
}

// BackendInfo is a diagnostic snapshot of the backend registry.
type BackendInfo struct {
	CurrentBackend    string          `json:"current_backend"`
	CurrentModel      string          `json:"current_model"`
	HealthChecked     bool            `json:"health_checked"`
	AvailableBackends []BackendStatus `json:"available_backends"`
}

// ComponentHealth is the health entry of a single subsystem.
type ComponentHealth struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// HealthResponse is returned by GET /api/v1/system/health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     float64                    `json:"uptime"`
}

// StreamEvent is one "data:" payload of a streamed answer. Exactly one
// group of fields is set per event: the metadata header (Sources, Backend,
// Model), a Content chunk, the not-found reply (Content with Done), or a
// terminal failure (Error with Message).
type StreamEvent struct {
	Sources []SourcePreview `json:"sources,omitempty"`
	Backend string          `json:"backend,omitempty"`
	Model   string          `json:"model,omitempty"`
	Content string          `json:"content,omitempty"`
	Done    bool            `json:"done,omitempty"`
	Error   bool            `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}
