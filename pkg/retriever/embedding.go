package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Embedder converts a query into a vector in the collection's space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls any OpenAI-compatible /embeddings endpoint
// (OpenAI, Ollama's /v1, vLLM, TEI).
type OpenAIEmbedder struct {
	URL        string
	Model      string
	APIKey     string
	Dimensions int
	HTTPClient *http.Client
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible endpoint.
// url may be the API base ("http://host/v1") or the full endpoint.
func NewOpenAIEmbedder(url, model, apiKey string, dimensions int) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		URL:        url,
		Model:      model,
		APIKey:     apiKey,
		Dimensions: dimensions,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []embeddingData `json:"data"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func (e *OpenAIEmbedder) endpoint() string {
	if strings.HasSuffix(e.URL, "/embeddings") {
		return e.URL
	}
	return strings.TrimRight(e.URL, "/") + "/embeddings"
}

// Embed sends text to the embeddings endpoint and returns its vector.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{
		Input:      []string{text},
		Model:      e.Model,
		Dimensions: e.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(respBody, &embResp); err != nil {
		return nil, fmt.Errorf("parsing embedding response: %w", err)
	}

	if len(embResp.Data) == 0 || len(embResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	vec := embResp.Data[0].Embedding
	if e.Dimensions > 0 && len(vec) != e.Dimensions {
		return nil, fmt.Errorf("unexpected embedding size %d (expected %d)", len(vec), e.Dimensions)
	}
	return vec, nil
}
