package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func post(t *testing.T, srv *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestChatCompletionsStream(t *testing.T) {
	srv := httptest.NewServer((&mockServer{model: "m"}).routes())
	defer srv.Close()

	resp := post(t, srv, "/v1/chat/completions",
		`{"stream":true,"messages":[{"role":"system","content":"[来源1] doc"},{"role":"user","content":"q"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var text strings.Builder
	var sawDone bool
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if line == "[DONE]" {
			sawDone = true
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			t.Fatalf("bad chunk %q: %v", line, err)
		}
		text.WriteString(chunk.Choices[0].Delta.Content)
	}
	if !sawDone {
		t.Error("stream did not end with [DONE]")
	}
	if !strings.Contains(text.String(), "knowledge base") {
		t.Errorf("text = %q, want context-grounded answer", text.String())
	}
}

func TestOllamaChatStream(t *testing.T) {
	srv := httptest.NewServer((&mockServer{model: "m"}).routes())
	defer srv.Close()

	resp := post(t, srv, "/api/chat", `{"stream":true,"messages":[{"role":"user","content":"q"}]}`)

	var objs []ollamaResponse
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var o ollamaResponse
		if err := dec.Decode(&o); err != nil {
			t.Fatalf("decode: %v", err)
		}
		objs = append(objs, o)
	}
	if len(objs) < 2 {
		t.Fatalf("got %d objects", len(objs))
	}
	if !objs[len(objs)-1].Done {
		t.Error("last object not done")
	}
	if objs[0].Model != "m" {
		t.Errorf("model = %q", objs[0].Model)
	}
}

func TestFailMode(t *testing.T) {
	srv := httptest.NewServer((&mockServer{model: "m", fail: true}).routes())
	defer srv.Close()

	for _, path := range []string{"/chat/completions", "/api/chat"} {
		resp := post(t, srv, path, `{"messages":[{"role":"user","content":"q"}]}`)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, resp.StatusCode)
		}
	}
}

func TestTags(t *testing.T) {
	srv := httptest.NewServer((&mockServer{model: "llama3"}).routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/tags")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Models []struct{ Name string } `json:"models"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if len(body.Models) != 1 || body.Models[0].Name != "llama3" {
		t.Errorf("models = %+v", body.Models)
	}
}
