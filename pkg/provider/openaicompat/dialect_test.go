package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/provider"
)

func newTestClient(t *testing.T, url string) *provider.Client {
	t.Helper()
	c := provider.NewClient(New(), provider.ClientConfig{
		Name:    "deepseek",
		BaseURL: url,
		APIKey:  "sk-test",
		Model:   "deepseek-chat",
		Timeout: 5 * time.Second,
	})
	t.Cleanup(func() { c.Close() })
	return c
}

func testRequest() *provider.Request {
	return &provider.Request{
		Messages: []api.ChatMessage{
			{Role: api.RoleSystem, Content: "answer from context"},
			{Role: api.RoleUser, Content: "What is the refund window?"},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	}
}

func TestBuildPayload(t *testing.T) {
	req := testRequest()
	req.Model = "qwen-turbo"
	req.Stream = true

	data, err := New().BuildPayload(req)
	if err != nil {
		t.Fatalf("BuildPayload failed: %v", err)
	}

	var got ChatCompletionRequest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if got.Model != "qwen-turbo" {
		t.Errorf("model = %q, want %q", got.Model, "qwen-turbo")
	}
	if !got.Stream {
		t.Error("expected stream to be true")
	}
	if got.Temperature != 0.1 {
		t.Errorf("temperature = %v, want 0.1", got.Temperature)
	}
	if got.MaxTokens != 2000 {
		t.Errorf("max_tokens = %d, want 2000", got.MaxTokens)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
}

func TestBuildHeaders(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		stream     bool
		wantAuth   string
		wantAccept string
	}{
		{name: "key and stream", apiKey: "sk-1", stream: true, wantAuth: "Bearer sk-1", wantAccept: "text/event-stream"},
		{name: "no key", apiKey: "", stream: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			New().BuildHeaders(h, tt.apiKey, tt.stream)
			if h.Get("Content-Type") != "application/json" {
				t.Errorf("Content-Type = %q", h.Get("Content-Type"))
			}
			if h.Get("Authorization") != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", h.Get("Authorization"), tt.wantAuth)
			}
			if h.Get("Accept") != tt.wantAccept {
				t.Errorf("Accept = %q, want %q", h.Get("Accept"), tt.wantAccept)
			}
		})
	}
}

func TestParseStreamLine(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantDelta string
		wantDone  bool
		wantErr   bool
	}{
		{name: "content chunk", line: `data: {"choices":[{"delta":{"content":"Hel"}}]}`, wantDelta: "Hel"},
		{name: "no space after prefix", line: `data:{"choices":[{"delta":{"content":"lo"}}]}`, wantDelta: "lo"},
		{name: "role only", line: `data: {"choices":[{"delta":{"role":"assistant"}}]}`},
		{name: "empty choices", line: `data: {"choices":[]}`},
		{name: "done sentinel", line: "data: [DONE]", wantDone: true},
		{name: "blank separator", line: ""},
		{name: "comment", line: ": keep-alive"},
		{name: "event name", line: "event: message"},
		{name: "malformed json", line: "data: {not json", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta, done, err := New().ParseStreamLine(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if delta != tt.wantDelta {
				t.Errorf("delta = %q, want %q", delta, tt.wantDelta)
			}
			if done != tt.wantDone {
				t.Errorf("done = %v, want %v", done, tt.wantDone)
			}
		})
	}
}

func TestParseResponse_MissingChoices(t *testing.T) {
	_, err := New().ParseResponse([]byte(`{"id":"x","choices":[]}`))
	if !errors.Is(err, provider.ErrMissingContent) {
		t.Fatalf("expected ErrMissingContent, got %v", err)
	}
}

func TestParseError(t *testing.T) {
	body := []byte(`{"error":{"message":"Insufficient Balance","type":"invalid_request_error"}}`)
	if got := New().ParseError(body); got != "Insufficient Balance" {
		t.Errorf("ParseError = %q", got)
	}
	if got := New().ParseError([]byte("<html>bad gateway</html>")); got != "" {
		t.Errorf("expected empty message for non-JSON body, got %q", got)
	}
}

func TestClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		var req ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "deepseek-chat" {
			t.Errorf("expected configured model, got %q", req.Model)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatCompletionResponse{
			ID: "chatcmpl-1",
			Choices: []ChatChoice{
				{Message: &ChatMessage{Role: "assistant", Content: "Refunds within 30 days."}, FinishReason: "stop"},
			},
		})
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv.URL).Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Refunds within 30 days." {
		t.Errorf("content = %q", got)
	}
}

func TestClient_Complete_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), testRequest())

	var unavailable *provider.UpstreamUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UpstreamUnavailableError, got %T: %v", err, err)
	}
	if unavailable.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d", unavailable.Status)
	}
	if unavailable.Message != "overloaded" {
		t.Errorf("message = %q", unavailable.Message)
	}
	if !provider.IsUpstreamFailure(err) {
		t.Error("expected IsUpstreamFailure to be true")
	}
}

func TestClient_Complete_Malformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Complete(context.Background(), testRequest())

	var protocol *provider.UpstreamProtocolError
	if !errors.As(err, &protocol) {
		t.Fatalf("expected UpstreamProtocolError, got %T: %v", err, err)
	}
}

func TestClient_Complete_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).Complete(context.Background(), testRequest())
	if !provider.IsUpstreamFailure(err) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
}

// sseServer streams the given chunks, flushing after each one.
func sseServer(t *testing.T, chunks []string, withDone bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			// Buffered variant of the same answer.
			json.NewEncoder(w).Encode(ChatCompletionResponse{
				Choices: []ChatChoice{{Message: &ChatMessage{Role: "assistant", Content: strings.Join(chunks, "")}}},
			})
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		for _, c := range chunks {
			data, _ := json.Marshal(ChatCompletionChunk{Choices: []ChatChunkChoice{{Delta: &ChatDelta{Content: c}}}})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		if withDone {
			fmt.Fprint(w, "data: [DONE]\n\n")
		}
	}))
}

func collect(t *testing.T, ch <-chan provider.Event) ([]string, *provider.Event) {
	t.Helper()
	var deltas []string
	var last *provider.Event
	for ev := range ch {
		switch ev.Type {
		case provider.EventDelta:
			deltas = append(deltas, ev.Delta)
		default:
			e := ev
			last = &e
		}
	}
	return deltas, last
}

func TestClient_Stream(t *testing.T) {
	chunks := []string{"Refunds ", "within ", "30 days."}
	srv := sseServer(t, chunks, true)
	defer srv.Close()

	ch, err := newTestClient(t, srv.URL).Stream(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	deltas, last := collect(t, ch)
	if strings.Join(deltas, "|") != strings.Join(chunks, "|") {
		t.Errorf("deltas = %q, want %q", deltas, chunks)
	}
	if last == nil || last.Type != provider.EventDone {
		t.Errorf("expected terminal EventDone, got %+v", last)
	}
}

func TestClient_Stream_EOFWithoutDone(t *testing.T) {
	srv := sseServer(t, []string{"partial"}, false)
	defer srv.Close()

	ch, err := newTestClient(t, srv.URL).Stream(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	deltas, last := collect(t, ch)
	if len(deltas) != 1 || deltas[0] != "partial" {
		t.Errorf("deltas = %q", deltas)
	}
	if last == nil || last.Type != provider.EventDone {
		t.Errorf("expected EventDone on clean EOF, got %+v", last)
	}
}

func TestClient_StreamMatchesComplete(t *testing.T) {
	chunks := []string{"根据", "提供的信息", "，退款期限为30天。"}
	srv := sseServer(t, chunks, true)
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	buffered, err := c.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	ch, err := c.Stream(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	deltas, _ := collect(t, ch)

	if strings.Join(deltas, "") != buffered {
		t.Errorf("concatenated stream %q differs from buffered %q", strings.Join(deltas, ""), buffered)
	}
}

func TestClient_Stream_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Stream(context.Background(), testRequest())

	var unavailable *provider.UpstreamUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected UpstreamUnavailableError, got %T: %v", err, err)
	}
	if unavailable.Status != http.StatusUnauthorized {
		t.Errorf("status = %d", unavailable.Status)
	}
}

func TestClient_Stream_Cancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := newTestClient(t, srv.URL).Stream(ctx, testRequest())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	ev := <-ch
	if ev.Type != provider.EventDelta || ev.Delta != "first" {
		t.Fatalf("unexpected first event %+v", ev)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream channel not closed after cancellation")
	}
}
