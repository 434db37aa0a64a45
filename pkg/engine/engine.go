package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/cache"
	"github.com/rhuss/kbqa/pkg/gateway"
	"github.com/rhuss/kbqa/pkg/logging"
	"github.com/rhuss/kbqa/pkg/observability"
	"github.com/rhuss/kbqa/pkg/provider"
	"github.com/rhuss/kbqa/pkg/retriever"
	"github.com/rhuss/kbqa/pkg/transport"
)

// DefaultCacheWriteTimeout bounds a background cache write.
const DefaultCacheWriteTimeout = 5 * time.Second

// Generator produces answers from a prompt. *gateway.Gateway implements it.
type Generator interface {
	Generate(ctx context.Context, req *provider.Request) (*gateway.Result, error)
	Stream(ctx context.Context, req *provider.Request) (*gateway.Stream, error)
}

var _ Generator = (*gateway.Gateway)(nil)

// Config holds configuration for the engine.
type Config struct {
	// CacheTTL is the lifetime of cached answers. Zero means cache.DefaultTTL.
	CacheTTL time.Duration

	// CacheWriteTimeout bounds each background cache write. Zero means
	// DefaultCacheWriteTimeout.
	CacheWriteTimeout time.Duration
}

// AnswerRequest is a buffered question.
type AnswerRequest struct {
	Question    string
	TopK        int
	Temperature float64
	UseCache    bool
}

// StreamRequest is a streamed question. Streamed answers bypass the cache.
type StreamRequest struct {
	Question    string
	TopK        int
	Temperature float64
}

// Engine orchestrates cache, retrieval and generation.
type Engine struct {
	gen       Generator
	retriever retriever.Retriever
	cache     cache.Cache
	cfg       Config

	wg sync.WaitGroup
}

// New creates a new Engine. gen and r must not be nil; a nil cache
// disables caching.
func New(gen Generator, r retriever.Retriever, c cache.Cache, cfg Config) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("engine: generator must not be nil")
	}
	if r == nil {
		return nil, errors.New("engine: retriever must not be nil")
	}
	if c == nil {
		c = cache.Noop{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.CacheWriteTimeout <= 0 {
		cfg.CacheWriteTimeout = DefaultCacheWriteTimeout
	}
	return &Engine{gen: gen, retriever: r, cache: c, cfg: cfg}, nil
}

// Cache returns the answer cache in use.
func (e *Engine) Cache() cache.Cache { return e.cache }

// Retriever returns the knowledge base retriever in use.
func (e *Engine) Retriever() retriever.Retriever { return e.retriever }

// Answer returns a complete answer for req.
func (e *Engine) Answer(ctx context.Context, req AnswerRequest) (*api.ChatResponse, error) {
	start := time.Now()
	requestID := transport.RequestIDFromContext(ctx)

	if req.UseCache {
		if cached := e.lookup(ctx, req.Question); cached != nil {
			return &api.ChatResponse{
				Answer:         cached.Answer,
				Sources:        nonNil(cached.Sources),
				Cached:         true,
				ProcessingTime: time.Since(start).Seconds(),
				RequestID:      requestID,
			}, nil
		}
	}

	results, err := e.retriever.Search(ctx, req.Question, req.TopK, retriever.Filter{})
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	contextText := BuildContext(results)
	if strings.TrimSpace(contextText) == "" {
		logging.Debug("engine", "no context found", "request_id", requestID)
		return &api.ChatResponse{
			Answer:         NotFoundMessage,
			Sources:        []api.SearchResult{},
			ProcessingTime: time.Since(start).Seconds(),
			RequestID:      requestID,
		}, nil
	}

	res, err := e.gen.Generate(ctx, &provider.Request{
		Messages:    BuildMessages(contextText, req.Question),
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	if req.UseCache {
		e.store(req.Question, &api.CachedAnswer{
			Answer:   res.Content,
			Sources:  results,
			Question: req.Question,
		})
	}

	return &api.ChatResponse{
		Answer:         res.Content,
		Sources:        nonNil(results),
		Backend:        res.Backend,
		Model:          res.Model,
		ProcessingTime: time.Since(start).Seconds(),
		RequestID:      requestID,
	}, nil
}

// lookup returns the cached answer, absorbing every cache failure.
func (e *Engine) lookup(ctx context.Context, question string) *api.CachedAnswer {
	if !e.cache.Available() {
		return nil
	}
	cached, err := e.cache.Get(ctx, question)
	switch {
	case err != nil:
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		slog.Warn("answer cache lookup failed", "error", err)
		return nil
	case cached == nil:
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil
	default:
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return cached
	}
}

// store writes answer in the background. The write outlives the request
// and is awaited by Close.
func (e *Engine) store(question string, answer *api.CachedAnswer) {
	if !e.cache.Available() {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.CacheWriteTimeout)
		defer cancel()
		if err := e.cache.Set(ctx, question, answer, e.cfg.CacheTTL); err != nil {
			slog.Warn("answer cache write failed", "error", err)
			return
		}
		logging.Debug("engine", "answer cached", "key", cache.Key(question))
	}()
}

// Search runs a raw retrieval for the documents API. req must be normalized.
func (e *Engine) Search(ctx context.Context, req *api.DocumentSearchRequest) (*api.DocumentSearchResponse, error) {
	start := time.Now()

	topK := api.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	results, err := e.retriever.Search(ctx, req.Query, topK, retriever.Filter{
		Source: req.FilterBySource,
		Type:   req.FilterByType,
	})
	if err != nil {
		return nil, fmt.Errorf("searching documents: %w", err)
	}

	return &api.DocumentSearchResponse{
		Results:        nonNil(results),
		Total:          len(results),
		Query:          req.Query,
		ProcessingTime: time.Since(start).Seconds(),
	}, nil
}

// Stats returns the retriever's collection statistics.
func (e *Engine) Stats(ctx context.Context) (retriever.Stats, error) {
	return e.retriever.Stats(ctx)
}

// Close waits for pending cache writes until ctx is done.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for cache writes: %w", ctx.Err())
	}
}

func nonNil(results []api.SearchResult) []api.SearchResult {
	if results == nil {
		return []api.SearchResult{}
	}
	return results
}
