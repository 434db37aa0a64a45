package retriever

import (
	"context"
	"fmt"

	"github.com/rhuss/kbqa/pkg/config"
)

// NewEmbedder builds the query embedder selected by cfg.Provider.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIEmbedder(cfg.URL, cfg.Model, cfg.APIKey, cfg.Dimensions), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.APIKey, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
