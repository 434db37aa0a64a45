// Package qdrant implements retriever.Retriever on top of the Qdrant HTTP API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/retriever"
)

// Name identifies this retriever in metrics and health output.
const Name = "qdrant"

// Payload keys of the ingested chunks.
const (
	payloadText     = "text"
	payloadContent  = "content"
	payloadSource   = "source"
	payloadFileType = "file_type"
)

// Retriever searches a Qdrant collection.
type Retriever struct {
	BaseURL    string
	APIKey     string
	Collection string
	Embedder   retriever.Embedder
	HTTPClient *http.Client
}

// Compile-time check that Retriever implements retriever.Retriever.
var _ retriever.Retriever = (*Retriever)(nil)

// New creates a Retriever that communicates with Qdrant via HTTP.
func New(url, apiKey, collection string, embedder retriever.Embedder) *Retriever {
	return &Retriever{
		BaseURL:    strings.TrimRight(url, "/"),
		APIKey:     apiKey,
		Collection: collection,
		Embedder:   embedder,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (q *Retriever) Name() string { return Name }

// searchRequest is the JSON body for Qdrant's search endpoint.
type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
	Filter      *filter   `json:"filter,omitempty"`
}

type filter struct {
	Must []condition `json:"must"`
}

type condition struct {
	Key   string `json:"key"`
	Match match  `json:"match"`
}

type match struct {
	Value string `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`
}

// searchResponse represents Qdrant's search response.
type searchResponse struct {
	Result []searchResult `json:"result"`
}

type searchResult struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type collectionResponse struct {
	Result struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
	} `json:"result"`
}

func buildFilter(f retriever.Filter) *filter {
	if f.IsZero() {
		return nil
	}
	out := &filter{}
	if f.Source != "" {
		out.Must = append(out.Must, condition{Key: payloadSource, Match: match{Text: f.Source}})
	}
	if f.Type != "" {
		out.Must = append(out.Must, condition{Key: payloadFileType, Match: match{Value: f.Type}})
	}
	return out
}

// Search embeds query and performs a nearest-neighbor search.
// POST /collections/{name}/points/search
func (q *Retriever) Search(ctx context.Context, query string, topK int, f retriever.Filter) ([]api.SearchResult, error) {
	vector, err := q.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	data, err := json.Marshal(searchRequest{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
		Filter:      buildFilter(f),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", q.BaseURL, q.Collection)
	respBody, err := q.do(ctx, http.MethodPost, url, data)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	var searchResp searchResponse
	if err := json.Unmarshal(respBody, &searchResp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	// Qdrant returns cosine similarity, already 1 - distance, in
	// descending order.
	results := make([]api.SearchResult, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		res := api.SearchResult{
			Score:    r.Score,
			Metadata: make(map[string]any, len(r.Payload)),
		}
		for k, v := range r.Payload {
			switch k {
			case payloadText, payloadContent:
				if s, ok := v.(string); ok && res.Text == "" {
					res.Text = s
				}
			default:
				res.Metadata[k] = v
			}
		}
		results = append(results, res)
	}

	return retriever.Rank(results), nil
}

// Stats reports the collection's point count.
// GET /collections/{name}
func (q *Retriever) Stats(ctx context.Context) (retriever.Stats, error) {
	url := fmt.Sprintf("%s/collections/%s", q.BaseURL, q.Collection)
	respBody, err := q.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retriever.Stats{Status: retriever.StatusError, Collection: q.Collection},
			fmt.Errorf("qdrant collection info: %w", err)
	}

	var info collectionResponse
	if err := json.Unmarshal(respBody, &info); err != nil {
		return retriever.Stats{Status: retriever.StatusError, Collection: q.Collection},
			fmt.Errorf("parsing collection info: %w", err)
	}

	status := retriever.StatusHealthy
	if info.Result.Status == "red" {
		status = retriever.StatusError
	}
	return retriever.Stats{
		TotalChunks: info.Result.PointsCount,
		Status:      status,
		Collection:  q.Collection,
	}, nil
}

func (q *Retriever) Close() error { return nil }

func (q *Retriever) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.APIKey != "" {
		req.Header.Set("api-key", q.APIKey)
	}

	resp, err := q.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
