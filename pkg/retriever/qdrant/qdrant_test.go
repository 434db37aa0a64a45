package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/kbqa/pkg/retriever"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestQdrant_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/collections/conscription/points/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("api-key"); got != "secret" {
			t.Errorf("api-key = %q", got)
		}

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Limit != 2 || !req.WithPayload || len(req.Vector) != 3 {
			t.Errorf("request = %+v", req)
		}
		if req.Filter != nil {
			t.Errorf("expected no filter, got %+v", req.Filter)
		}

		w.Write([]byte(`{"result":[
			{"id":1,"score":0.92,"payload":{"text":"第一条","source":"law.md","file_type":"md"}},
			{"id":"b","score":0.75,"payload":{"content":"第二条","source":"faq.txt"}}
		]}`))
	}))
	defer server.Close()

	q := New(server.URL+"/", "secret", "conscription", fixedEmbedder{})
	results, err := q.Search(context.Background(), "征兵", 2, retriever.Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("len = %d, want 2", len(results))
	}
	if results[0].Text != "第一条" || results[0].Rank != 1 || results[0].Score != 0.92 {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[0].Metadata["source"] != "law.md" || results[0].Metadata["file_type"] != "md" {
		t.Errorf("metadata = %+v", results[0].Metadata)
	}
	if _, ok := results[0].Metadata["text"]; ok {
		t.Error("text should not be copied into metadata")
	}
	if results[1].Text != "第二条" || results[1].Rank != 2 {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestQdrant_SearchFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		json.NewDecoder(r.Body).Decode(&req)

		if req.Filter == nil || len(req.Filter.Must) != 2 {
			t.Fatalf("filter = %+v", req.Filter)
		}
		if c := req.Filter.Must[0]; c.Key != "source" || c.Match.Text != "law" {
			t.Errorf("source condition = %+v", c)
		}
		if c := req.Filter.Must[1]; c.Key != "file_type" || c.Match.Value != "pdf" {
			t.Errorf("type condition = %+v", c)
		}
		w.Write([]byte(`{"result":[]}`))
	}))
	defer server.Close()

	q := New(server.URL, "", "c", fixedEmbedder{})
	results, err := q.Search(context.Background(), "q", 5, retriever.Filter{Source: "law", Type: "pdf"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestQdrant_SearchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":{"error":"Collection not found"}}`))
	}))
	defer server.Close()

	q := New(server.URL, "", "missing", fixedEmbedder{})
	if _, err := q.Search(context.Background(), "q", 5, retriever.Filter{}); err == nil {
		t.Fatal("expected error for missing collection")
	}
}

func TestQdrant_Stats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/collections/conscription" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"result":{"status":"green","points_count":1234}}`))
	}))
	defer server.Close()

	q := New(server.URL, "", "conscription", fixedEmbedder{})
	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalChunks != 1234 || stats.Status != retriever.StatusHealthy || stats.Collection != "conscription" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestQdrant_StatsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	q := New(server.URL, "", "c", fixedEmbedder{})
	stats, err := q.Stats(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if stats.Status != retriever.StatusError {
		t.Errorf("status = %q, want error", stats.Status)
	}
}
