// Command mock-backend runs a deterministic LLM server that speaks both
// dialects the gateway supports: OpenAI-compatible chat completions (SSE)
// and Ollama's native /api/chat (NDJSON). It is used for local development
// and failover drills without a real model.
//
// Configuration:
//
//	MOCK_PORT  - Listen port (default: 9090)
//	MOCK_MODEL - Model name reported in responses (default: mock-model)
//	MOCK_FAIL  - When set to "1", every generation request fails with 503
//	MOCK_DELAY - Delay between streamed tokens (default: 0, e.g. "50ms")
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/rhuss/kbqa/pkg/provider/openaicompat"
)

type mockServer struct {
	model string
	fail  bool
	delay time.Duration
}

func main() {
	port := envOr("MOCK_PORT", "9090")
	s := &mockServer{
		model: envOr("MOCK_MODEL", "mock-model"),
		fail:  os.Getenv("MOCK_FAIL") == "1",
	}
	if d, err := time.ParseDuration(os.Getenv("MOCK_DELAY")); err == nil {
		s.delay = d
	}

	srv := &http.Server{Addr: ":" + port, Handler: s.routes()}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "model", s.model, "fail", s.fail)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func (s *mockServer) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/chat/completions", s.handleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/v1/chat/completions", s.handleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/v1/models", s.handleModels).Methods(http.MethodGet)
	r.HandleFunc("/api/chat", s.handleOllamaChat).Methods(http.MethodPost)
	r.HandleFunc("/api/tags", s.handleTags).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

// answer builds a deterministic reply that reveals whether the prompt
// carried retrieved context.
func answer(messages []openaicompat.ChatMessage) []string {
	var prompt string
	withContext := false
	for _, m := range messages {
		switch m.Role {
		case "system":
			withContext = withContext || strings.Contains(m.Content, "[来源1]")
		case "user":
			prompt = m.Content
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return []string{"I", " did", " not", " receive", " a", " question", "."}
	}
	if withContext {
		return []string{"According", " to", " the", " knowledge", " base", ",", " see", " [来源1]", "."}
	}
	return []string{"Mock", " answer", " without", " context", "."}
}

// --- OpenAI-compatible dialect ---

func (s *mockServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	if s.fail {
		writeOpenAIError(w, http.StatusServiceUnavailable, "server_error", "mock backend configured to fail")
		return
	}

	tokens := answer(req.Messages)
	model := s.modelFor(req.Model)

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openaicompat.ChatCompletionResponse{
			ID:    "chatcmpl-mock",
			Model: model,
			Choices: []openaicompat.ChatChoice{{
				Message:      &openaicompat.ChatMessage{Role: "assistant", Content: strings.Join(tokens, "")},
				FinishReason: "stop",
			}},
		})
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeChunk := func(delta *openaicompat.ChatDelta, finish *string) {
		data, _ := json.Marshal(openaicompat.ChatCompletionChunk{
			ID:      "chatcmpl-mock-stream",
			Model:   model,
			Choices: []openaicompat.ChatChunkChoice{{Delta: delta, FinishReason: finish}},
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		rc.Flush()
	}

	writeChunk(&openaicompat.ChatDelta{Role: "assistant"}, nil)
	for _, tok := range tokens {
		if !s.pause(r.Context()) {
			return
		}
		writeChunk(&openaicompat.ChatDelta{Content: tok}, nil)
	}
	stop := "stop"
	writeChunk(&openaicompat.ChatDelta{}, &stop)
	fmt.Fprint(w, "data: [DONE]\n\n")
	rc.Flush()
}

func (s *mockServer) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   []map[string]any{{"id": s.model, "object": "model", "owned_by": "kbqa-mock"}},
	})
}

func writeOpenAIError(w http.ResponseWriter, status int, typ, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(openaicompat.ChatErrorResponse{
		Error: openaicompat.ChatErrorDetail{Type: typ, Message: msg},
	})
}

// --- Ollama dialect ---

type ollamaRequest struct {
	Model    string                     `json:"model"`
	Messages []openaicompat.ChatMessage `json:"messages"`
	Stream   bool                       `json:"stream"`
}

type ollamaResponse struct {
	Model   string                    `json:"model"`
	Message *openaicompat.ChatMessage `json:"message,omitempty"`
	Done    bool                      `json:"done"`
	Error   string                    `json:"error,omitempty"`
}

func (s *mockServer) handleOllamaChat(w http.ResponseWriter, r *http.Request) {
	var req ollamaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOllamaError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if s.fail {
		writeOllamaError(w, http.StatusServiceUnavailable, "mock backend configured to fail")
		return
	}

	tokens := answer(req.Messages)
	model := s.modelFor(req.Model)

	if !req.Stream {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ollamaResponse{
			Model:   model,
			Message: &openaicompat.ChatMessage{Role: "assistant", Content: strings.Join(tokens, "")},
			Done:    true,
		})
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for _, tok := range tokens {
		if !s.pause(r.Context()) {
			return
		}
		enc.Encode(ollamaResponse{
			Model:   model,
			Message: &openaicompat.ChatMessage{Role: "assistant", Content: tok},
		})
		rc.Flush()
	}
	enc.Encode(ollamaResponse{Model: model, Message: &openaicompat.ChatMessage{Role: "assistant"}, Done: true})
	rc.Flush()
}

func (s *mockServer) handleTags(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"models": []map[string]string{{"name": s.model}},
	})
}

func writeOllamaError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ollamaResponse{Error: msg})
}

// --- Helpers ---

func (s *mockServer) modelFor(requested string) string {
	if requested != "" {
		return requested
	}
	return s.model
}

// pause waits MOCK_DELAY between tokens. It reports false when the client
// went away.
func (s *mockServer) pause(ctx context.Context) bool {
	if s.delay <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.delay):
		return true
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
