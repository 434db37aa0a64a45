package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/auth"
	"github.com/rhuss/kbqa/pkg/backend"
	"github.com/rhuss/kbqa/pkg/cache"
	"github.com/rhuss/kbqa/pkg/engine"
	"github.com/rhuss/kbqa/pkg/gateway"
	"github.com/rhuss/kbqa/pkg/observability"
	"github.com/rhuss/kbqa/pkg/provider"
	"github.com/rhuss/kbqa/pkg/retriever"
	"github.com/rhuss/kbqa/pkg/transport"
)

// ServiceName is reported by the version endpoint.
const ServiceName = "Knowledge Base API"

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// ChatService answers questions and serves raw retrieval. *engine.Engine
// implements it.
type ChatService interface {
	Answer(ctx context.Context, req engine.AnswerRequest) (*api.ChatResponse, error)
	AnswerStream(ctx context.Context, req engine.StreamRequest, w transport.StreamWriter) error
	Search(ctx context.Context, req *api.DocumentSearchRequest) (*api.DocumentSearchResponse, error)
	Stats(ctx context.Context) (retriever.Stats, error)
}

// BackendAdmin exposes the LLM backend registry. *backend.Registry
// implements it.
type BackendAdmin interface {
	Describe() api.BackendInfo
	SwitchTo(ctx context.Context, id string) api.SwitchResult
	CheckHealth(ctx context.Context) map[string]bool
}

var (
	_ ChatService  = (*engine.Engine)(nil)
	_ BackendAdmin = (*backend.Registry)(nil)
)

// Adapter serves the question answering API over HTTP.
// It routes requests to the appropriate handler and serializes responses.
type Adapter struct {
	chat     ChatService
	backends BackendAdmin
	cache    cache.Cache
	inflight *transport.InFlightRegistry
	router   *mux.Router
	config   Config
	started  time.Time
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	MaxBodySize int64

	// Version is reported by GET /api/v1/system/version.
	Version string

	// Components are extra entries for the version endpoint, such as the
	// retriever and cache types.
	Components map[string]string

	// MetricsPath serves Prometheus metrics when non-empty.
	MetricsPath string

	// Admin wraps the administrative routes (backend switch, cache clear).
	// Nil leaves them open.
	Admin transport.Middleware
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 1 << 20, // 1 MB
		Version:     "1.0.0",
		MetricsPath: "/metrics",
	}
}

// NewAdapter creates an HTTP adapter. A nil cache is treated as disabled.
func NewAdapter(chat ChatService, backends BackendAdmin, c cache.Cache, cfg Config) *Adapter {
	if c == nil {
		c = cache.Noop{}
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	a := &Adapter{
		chat:     chat,
		backends: backends,
		cache:    c,
		inflight: transport.NewInFlightRegistry(),
		router:   mux.NewRouter(),
		config:   cfg,
		started:  time.Now(),
	}
	a.routes()
	return a
}

func (a *Adapter) routes() {
	r := a.router
	r.Use(observability.MetricsMiddleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteAPIError(w, api.NewNotFoundError("route "+r.URL.Path+" not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		transport.WriteAPIError(w,
			api.NewInvalidRequestError("method", "method "+r.Method+" not allowed").WithStatus(http.StatusMethodNotAllowed),
		)
	})

	admin := a.config.Admin
	if admin == nil {
		admin = func(next http.Handler) http.Handler { return next }
	}

	r.HandleFunc("/", a.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", a.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.handleLiveness).Methods(http.MethodGet)
	if a.config.MetricsPath != "" {
		r.Handle(a.config.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/chat", a.handleChat).Methods(http.MethodPost)
	v1.HandleFunc("/chat/stream", a.handleChatStream).Methods(http.MethodPost)
	v1.HandleFunc("/documents/search", a.handleSearch).Methods(http.MethodPost)
	v1.HandleFunc("/documents/stats", a.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/system/health", a.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/system/version", a.handleVersion).Methods(http.MethodGet)
	v1.HandleFunc("/system/llm/backends", a.handleBackends).Methods(http.MethodGet)
	v1.Handle("/system/llm/switch/{backend}", admin(http.HandlerFunc(a.handleSwitch))).Methods(http.MethodPost)
	v1.Handle("/system/cache", admin(http.HandlerFunc(a.handleClearCache))).Methods(http.MethodDelete)
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. Recovery, request ID and
// logging middleware wrap the router.
func (a *Adapter) Handler() http.Handler {
	return transport.Chain(
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(slog.Default()),
	)(a.router)
}

// InFlight returns the registry of open streams.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// decodeJSON reads a size-limited JSON body into v. On failure it writes
// the error response and returns false.
func (a *Adapter) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !isJSONContentType(ct) {
		transport.WriteAPIError(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json").WithStatus(http.StatusUnsupportedMediaType),
		)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteAPIError(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)).WithStatus(http.StatusRequestEntityTooLarge),
			)
			return false
		}
		transport.WriteAPIError(w, api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()))
		return false
	}
	return true
}

func isJSONContentType(ct string) bool {
	const want = "application/json"
	return len(ct) >= len(want) && ct[:len(want)] == want
}

// decodeChat decodes, normalizes and validates a chat request.
func (a *Adapter) decodeChat(w http.ResponseWriter, r *http.Request) (*api.ChatRequest, bool) {
	var req api.ChatRequest
	if !a.decodeJSON(w, r, &req) {
		return nil, false
	}
	req.Normalize()
	if apiErr := api.ValidateChatRequest(&req); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return nil, false
	}
	return &req, true
}

// handleChat handles POST /api/v1/chat.
func (a *Adapter) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeChat(w, r)
	if !ok {
		return
	}

	resp, err := a.chat.Answer(r.Context(), engine.AnswerRequest{
		Question:    req.Question,
		TopK:        *req.TopK,
		Temperature: *req.Temperature,
		UseCache:    *req.UseCache,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	transport.WriteJSON(w, http.StatusOK, resp)
}

// handleChatStream handles POST /api/v1/chat/stream. Validation failures
// are reported as JSON before the stream opens; later failures travel as
// error events.
func (a *Adapter) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeChat(w, r)
	if !ok {
		return
	}

	id := transport.RequestIDFromContext(r.Context())
	ctx, release := a.inflight.Track(r.Context(), id)
	defer release()

	sw := newSSEWriter(w)
	err := a.chat.AnswerStream(ctx, engine.StreamRequest{
		Question:    req.Question,
		TopK:        *req.TopK,
		Temperature: *req.Temperature,
	}, sw)
	if err == nil {
		return
	}

	if ctx.Err() != nil {
		slog.Debug("stream ended by client or shutdown", "request_id", id, "error", err)
		return
	}
	if !sw.hasStarted() {
		writeError(w, err)
		return
	}
	slog.Warn("stream write failed", "request_id", id, "error", err)
}

// handleSearch handles POST /api/v1/documents/search.
func (a *Adapter) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req api.DocumentSearchRequest
	if !a.decodeJSON(w, r, &req) {
		return
	}
	req.Normalize()
	if apiErr := api.ValidateSearchRequest(&req); apiErr != nil {
		transport.WriteAPIError(w, apiErr)
		return
	}

	resp, err := a.chat.Search(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, resp)
}

// handleStats handles GET /api/v1/documents/stats.
func (a *Adapter) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.chat.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	transport.WriteJSON(w, http.StatusOK, stats)
}

// handleBackends handles GET /api/v1/system/llm/backends.
func (a *Adapter) handleBackends(w http.ResponseWriter, r *http.Request) {
	a.backends.CheckHealth(r.Context())
	transport.WriteJSON(w, http.StatusOK, a.backends.Describe())
}

// handleSwitch handles POST /api/v1/system/llm/switch/{backend}. The
// outcome is reported in the body; an unavailable backend is not an HTTP
// error.
func (a *Adapter) handleSwitch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["backend"]
	result := a.backends.SwitchTo(r.Context(), name)
	slog.Info("backend switch requested",
		"backend", name,
		"success", result.Success,
		"subject", auth.SubjectFromContext(r.Context()),
	)
	transport.WriteJSON(w, http.StatusOK, result)
}

// handleClearCache handles DELETE /api/v1/system/cache.
func (a *Adapter) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if !a.cache.Available() {
		transport.WriteJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "cache is not available",
			"cleared": 0,
		})
		return
	}

	n, err := a.cache.Clear(r.Context())
	if err != nil {
		transport.WriteAPIError(w, api.NewServerError("clearing cache: "+err.Error()))
		return
	}
	slog.Info("answer cache cleared", "entries", n, "subject", auth.SubjectFromContext(r.Context()))
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("cleared %d cached answers", n),
		"cleared": n,
	})
}

// handleHealth handles GET /api/v1/system/health.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]api.ComponentHealth{
		"vector_db": a.retrieverHealth(r.Context()),
		"cache":     a.cacheHealth(r.Context()),
		"llm":       a.llmHealth(r.Context()),
	}

	status := statusHealthy
	for _, c := range components {
		if c.Status != statusHealthy {
			status = statusUnhealthy
			break
		}
	}

	transport.WriteJSON(w, http.StatusOK, api.HealthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
		Uptime:     time.Since(a.started).Seconds(),
	})
}

func (a *Adapter) retrieverHealth(ctx context.Context) api.ComponentHealth {
	stats, err := a.chat.Stats(ctx)
	if err != nil {
		return api.ComponentHealth{Status: statusUnhealthy, Error: err.Error()}
	}
	status := statusHealthy
	if stats.Status != retriever.StatusHealthy {
		status = statusUnhealthy
	}
	return api.ComponentHealth{
		Status: status,
		Details: map[string]any{
			"total_chunks":    stats.TotalChunks,
			"collection_name": stats.Collection,
		},
	}
}

func (a *Adapter) cacheHealth(ctx context.Context) api.ComponentHealth {
	if !a.cache.Available() {
		return api.ComponentHealth{Status: statusUnhealthy, Details: map[string]any{"available": false}}
	}
	if hc, ok := a.cache.(cache.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return api.ComponentHealth{Status: statusUnhealthy, Error: err.Error()}
		}
	}
	return api.ComponentHealth{Status: statusHealthy, Details: map[string]any{"available": true}}
}

func (a *Adapter) llmHealth(ctx context.Context) api.ComponentHealth {
	health := a.backends.CheckHealth(ctx)
	info := a.backends.Describe()
	status := statusUnhealthy
	if health[info.CurrentBackend] {
		status = statusHealthy
	}
	return api.ComponentHealth{
		Status: status,
		Details: map[string]any{
			"current_backend": info.CurrentBackend,
			"current_model":   info.CurrentModel,
		},
	}
}

// handleVersion handles GET /api/v1/system/version.
func (a *Adapter) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := a.backends.Describe()
	components := map[string]string{
		"llm_backend": info.CurrentBackend,
		"llm_model":   info.CurrentModel,
	}
	for k, v := range a.config.Components {
		components[k] = v
	}
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"name":       ServiceName,
		"version":    a.config.Version,
		"components": components,
	})
}

func (a *Adapter) handleRoot(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"message": ServiceName,
		"version": a.config.Version,
	})
}

// handleLiveness answers load balancer probes without touching dependencies.
func (a *Adapter) handleLiveness(w http.ResponseWriter, r *http.Request) {
	transport.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
	})
}

// writeError maps a domain error to an API error response. Generation
// failures are upstream errors (502); anything else is a server error.
func writeError(w http.ResponseWriter, err error) {
	transport.WriteAPIError(w, toAPIError(err))
}

func toAPIError(err error) *api.APIError {
	var (
		apiErr      *api.APIError
		noBackend   *gateway.NoHealthyBackendError
		configErr   *backend.ConfigurationError
		unavailable *provider.UpstreamUnavailableError
		protocol    *provider.UpstreamProtocolError
	)
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.As(err, &noBackend),
		errors.As(err, &configErr),
		errors.As(err, &unavailable),
		errors.As(err, &protocol):
		return api.NewUpstreamError(err.Error())
	default:
		return api.NewServerError(err.Error())
	}
}
