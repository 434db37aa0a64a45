package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/kbqa/pkg/backend"
	"github.com/rhuss/kbqa/pkg/logging"
	"github.com/rhuss/kbqa/pkg/observability"
	"github.com/rhuss/kbqa/pkg/provider"
)

// DefaultMaxTokens is applied to requests that do not set MaxTokens.
const DefaultMaxTokens = 2000

// Result is a completed buffered generation.
type Result struct {
	Content string
	Backend string
	Model   string
}

// Gateway routes generation requests through the backend registry.
type Gateway struct {
	registry  *backend.Registry
	maxTokens int
}

// New creates a Gateway over registry. maxTokens <= 0 uses DefaultMaxTokens.
func New(registry *backend.Registry, maxTokens int) *Gateway {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Gateway{registry: registry, maxTokens: maxTokens}
}

// Registry returns the underlying backend registry.
func (g *Gateway) Registry() *backend.Registry { return g.registry }

// Generate performs a buffered generation, failing over on upstream errors.
func (g *Gateway) Generate(ctx context.Context, req *provider.Request) (*Result, error) {
	req = g.prepare(req, false)
	g.registry.CheckHealth(ctx)

	tried := make(map[string]bool)
	current := g.registry.Active()

	for {
		tried[current.ID] = true

		p, ok := g.registry.Provider(current.ID)
		if !ok {
			return nil, fmt.Errorf("backend %s has no provider", current.ID)
		}

		logging.Debug("gateway", "dispatching generation", "backend", current.ID, "messages", len(req.Messages))
		start := time.Now()
		content, err := p.Complete(ctx, req)
		record(current, err, time.Since(start))

		if err == nil {
			return &Result{Content: content, Backend: current.ID, Model: current.Model}, nil
		}

		next, ferr := g.next(ctx, current, tried, err)
		if ferr != nil {
			return nil, ferr
		}
		current = next
	}
}

// next decides how a failed attempt continues: the caller's cancellation
// and non-upstream errors end the request as is, upstream failures mark
// the backend unhealthy and move to the next untried healthy backend.
func (g *Gateway) next(ctx context.Context, failed backend.Descriptor, tried map[string]bool, err error) (backend.Descriptor, error) {
	if ctx.Err() != nil {
		return backend.Descriptor{}, ctx.Err()
	}
	if !provider.IsUpstreamFailure(err) {
		return backend.Descriptor{}, err
	}

	slog.Warn("LLM backend call failed", "backend", failed.ID, "error", err.Error())
	g.registry.MarkUnhealthy(failed.ID)

	next, ok := g.registry.Failover(failed.ID, tried)
	if !ok {
		return backend.Descriptor{}, &NoHealthyBackendError{Last: failed.ID, Err: err}
	}
	return next, nil
}

func (g *Gateway) prepare(req *provider.Request, stream bool) *provider.Request {
	out := *req
	out.Stream = stream
	if out.MaxTokens <= 0 {
		out.MaxTokens = g.maxTokens
	}
	return &out
}

func record(d backend.Descriptor, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.ProviderRequestsTotal.WithLabelValues(d.ID, d.Model, status).Inc()
	observability.ProviderLatency.WithLabelValues(d.ID, d.Model).Observe(elapsed.Seconds())
}
