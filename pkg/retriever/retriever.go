// Package retriever defines the knowledge base search interface used by the
// request orchestrator, plus the query embedding clients shared by the
// vector store implementations.
package retriever

import (
	"context"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/observability"
)

// Stats status values.
const (
	StatusHealthy = "healthy"
	StatusError   = "error"
)

// Filter narrows a search by chunk metadata. Source is a substring match on
// the "source" field, Type an exact match on "file_type". Empty fields do not
// filter.
type Filter struct {
	Source string
	Type   string
}

// IsZero reports whether the filter selects everything.
func (f Filter) IsZero() bool {
	return f.Source == "" && f.Type == ""
}

// Stats describes the queried collection.
type Stats struct {
	TotalChunks int64  `json:"total_chunks"`
	Status      string `json:"status"`
	Collection  string `json:"collection_name"`
}

// Retriever searches an existing collection of text chunks.
//
// Search returns at most topK results ordered by descending score, where
// score = 1 - distance and Rank is the 1-based position in that order.
type Retriever interface {
	Name() string
	Search(ctx context.Context, query string, topK int, filter Filter) ([]api.SearchResult, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Instrumented wraps a Retriever and records search latency.
type Instrumented struct {
	Retriever
}

var _ Retriever = Instrumented{}

// WithMetrics returns r wrapped so every Search observes
// kbqa_retrieval_duration_seconds.
func WithMetrics(r Retriever) Retriever {
	return Instrumented{Retriever: r}
}

// Search delegates to the wrapped retriever.
func (i Instrumented) Search(ctx context.Context, query string, topK int, filter Filter) ([]api.SearchResult, error) {
	start := time.Now()
	results, err := i.Retriever.Search(ctx, query, topK, filter)
	observability.RetrievalDuration.WithLabelValues(i.Name()).Observe(time.Since(start).Seconds())
	return results, err
}

// Rank assigns 1-based ranks in slice order.
func Rank(results []api.SearchResult) []api.SearchResult {
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}
