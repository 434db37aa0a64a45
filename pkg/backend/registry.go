package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/config"
	"github.com/rhuss/kbqa/pkg/logging"
	"github.com/rhuss/kbqa/pkg/observability"
	"github.com/rhuss/kbqa/pkg/provider"
	"github.com/rhuss/kbqa/pkg/provider/ollama"
)

// AutoSelect disables the explicit backend override.
const AutoSelect = "auto"

// Entry pairs a backend descriptor with the provider that serves it.
type Entry struct {
	Descriptor Descriptor
	Provider   provider.Provider
}

// Options control default selection and health probing.
type Options struct {
	// Override names the backend to activate at startup. Empty or "auto"
	// selects automatically.
	Override string

	// PreferLocal selects the native-chat backend before any credential
	// backend during automatic selection.
	PreferLocal bool

	// HealthTimeout bounds each native-chat reachability probe (default: 5s).
	HealthTimeout time.Duration
}

// Registry tracks configured backends, their health and the active backend.
type Registry struct {
	order     []string
	entries   map[string]Entry
	opts      Options
	probeHTTP *http.Client

	// mu guards active, healthy and checked.
	mu      sync.RWMutex
	active  string
	healthy map[string]bool
	checked bool

	// checkMu serializes health evaluation so probes run without holding mu.
	checkMu sync.Mutex
}

// New creates a Registry from entries listed in priority order and selects
// the default active backend.
func New(opts Options, entries ...Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, errors.New("backend registry requires at least one backend")
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = ollama.DefaultHealthTimeout
	}

	r := &Registry{
		entries:   make(map[string]Entry, len(entries)),
		opts:      opts,
		probeHTTP: &http.Client{Timeout: opts.HealthTimeout},
		healthy:   make(map[string]bool, len(entries)),
	}
	for _, e := range entries {
		id := e.Descriptor.ID
		if _, dup := r.entries[id]; dup {
			return nil, fmt.Errorf("backend %q configured twice", id)
		}
		r.order = append(r.order, id)
		r.entries[id] = e
	}

	r.active = r.SelectDefault()
	slog.Info("default LLM backend selected",
		"backend", r.active,
		"model", r.entries[r.active].Descriptor.Model,
	)
	return r, nil
}

// FromConfig builds a Registry whose providers are HTTP clients for the
// configured backends.
func FromConfig(cfg config.LLMConfig) (*Registry, error) {
	entries := make([]Entry, 0, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		d := DescriptorFromConfig(bc)
		dialect, err := NewDialect(d.Dialect)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", d.ID, err)
		}
		client := provider.NewClient(dialect, provider.ClientConfig{
			Name:    d.ID,
			BaseURL: d.BaseURL,
			APIKey:  d.APIKey,
			Model:   d.Model,
			Timeout: d.Timeout,
		})
		entries = append(entries, Entry{Descriptor: d, Provider: client})
	}
	return New(Options{
		Override:      cfg.Backend,
		PreferLocal:   cfg.PreferLocal,
		HealthTimeout: cfg.HealthTimeout,
	}, entries...)
}

// SelectDefault resolves the startup backend. An unknown explicit override
// is logged as a ConfigurationError and automatic selection is used
// instead. Automatic selection prefers the native-chat backend when
// PreferLocal is set, then the first credential backend in priority order
// with a usable credential, then the native-chat backend, then the first
// configured backend.
func (r *Registry) SelectDefault() string {
	if o := strings.TrimSpace(r.opts.Override); o != "" && o != AutoSelect {
		if _, ok := r.entries[o]; ok {
			return o
		}
		slog.Error("ignoring LLM backend override",
			"error", (&ConfigurationError{Requested: o, Known: r.IDs()}).Error(),
		)
	}

	local := r.firstNativeChat()
	if r.opts.PreferLocal && local != "" {
		return local
	}
	for _, id := range r.order {
		d := r.entries[id].Descriptor
		if !d.NativeChat() && d.CredentialConfigured() {
			return id
		}
	}
	if local != "" {
		return local
	}
	return r.order[0]
}

func (r *Registry) firstNativeChat() string {
	for _, id := range r.order {
		if r.entries[id].Descriptor.NativeChat() {
			return id
		}
	}
	return ""
}

// CheckHealth evaluates backend health once per process and returns a
// snapshot. Native-chat backends are probed over HTTP; credential backends
// are healthy when their credential is usable. Concurrent first callers
// wait for a single evaluation; later calls return the memoized state.
func (r *Registry) CheckHealth(ctx context.Context) map[string]bool {
	r.mu.RLock()
	if r.checked {
		defer r.mu.RUnlock()
		return r.snapshotLocked()
	}
	r.mu.RUnlock()

	r.checkMu.Lock()
	defer r.checkMu.Unlock()

	r.mu.RLock()
	if r.checked {
		defer r.mu.RUnlock()
		return r.snapshotLocked()
	}
	r.mu.RUnlock()

	// The probe outcome is shared by every request, so a single caller's
	// cancellation must not turn into a recorded outage.
	probeCtx := context.WithoutCancel(ctx)

	results := make(map[string]bool, len(r.order))
	for _, id := range r.order {
		d := r.entries[id].Descriptor
		if d.NativeChat() {
			results[id] = r.probe(probeCtx, d)
		} else {
			results[id] = d.CredentialConfigured()
		}
		logging.Debug("gateway", "backend health evaluated", "backend", id, "healthy", results[id])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ok := range results {
		// A failure recorded while probes ran is newer information.
		if prev, seen := r.healthy[id]; seen && !prev {
			continue
		}
		r.healthy[id] = ok
	}
	r.checked = true
	r.publishLocked()
	return r.snapshotLocked()
}

func (r *Registry) probe(ctx context.Context, d Descriptor) bool {
	ctx, cancel := context.WithTimeout(ctx, r.opts.HealthTimeout)
	defer cancel()

	models, err := ollama.Probe(ctx, r.probeHTTP, d.BaseURL)
	if err != nil {
		slog.Warn("native chat backend unreachable", "backend", d.ID, "error", err.Error())
		return false
	}
	logging.Debug("gateway", "native chat backend reachable", "backend", d.ID, "models", models)
	return true
}

// SwitchTo makes id the active backend if it is configured and healthy.
// State is unchanged on failure.
func (r *Registry) SwitchTo(ctx context.Context, id string) api.SwitchResult {
	r.CheckHealth(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.entries[r.active].Descriptor
	if _, ok := r.entries[id]; !ok {
		return api.SwitchResult{
			Success:        false,
			Message:        (&ConfigurationError{Requested: id, Known: r.IDs()}).Error(),
			CurrentBackend: current.ID,
			CurrentModel:   current.Model,
		}
	}
	if !r.healthy[id] {
		return api.SwitchResult{
			Success:        false,
			Message:        fmt.Sprintf("%s 后端不可用或未配置 (backend %s is unavailable or not configured)", id, id),
			CurrentBackend: current.ID,
			CurrentModel:   current.Model,
		}
	}

	r.active = id
	d := r.entries[id].Descriptor
	slog.Info("LLM backend switched", "from", current.ID, "to", id)
	return api.SwitchResult{
		Success:        true,
		Message:        fmt.Sprintf("已切换到 %s 后端", id),
		CurrentBackend: d.ID,
		CurrentModel:   d.Model,
	}
}

// MarkUnhealthy records a failure of backend id.
func (r *Registry) MarkUnhealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return
	}
	r.healthy[id] = false
	r.publishLocked()
	slog.Warn("LLM backend marked unhealthy", "backend", id)
}

// Failover activates the first healthy backend, in priority order, that is
// neither failed nor in tried. It returns false when no candidate remains,
// leaving the active backend unchanged.
func (r *Registry) Failover(failed string, tried map[string]bool) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if id == failed || tried[id] || !r.healthy[id] {
			continue
		}
		r.active = id
		observability.FailoversTotal.WithLabelValues(failed, id).Inc()
		slog.Warn("LLM backend failover", "from", failed, "to", id)
		return r.entries[id].Descriptor, true
	}
	return Descriptor{}, false
}

// Active returns the descriptor of the active backend.
func (r *Registry) Active() Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[r.active].Descriptor
}

// Descriptor returns the descriptor of backend id.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	e, ok := r.entries[id]
	return e.Descriptor, ok
}

// Provider returns the provider serving backend id.
func (r *Registry) Provider(id string) (provider.Provider, bool) {
	e, ok := r.entries[id]
	return e.Provider, ok
}

// Healthy reports the last known health of backend id.
func (r *Registry) Healthy(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[id]
}

// IDs returns the configured backend ids in priority order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// Describe returns a diagnostic snapshot of the registry.
func (r *Registry) Describe() api.BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := r.entries[r.active].Descriptor
	info := api.BackendInfo{
		CurrentBackend:    active.ID,
		CurrentModel:      active.Model,
		HealthChecked:     r.checked,
		AvailableBackends: make([]api.BackendStatus, 0, len(r.order)),
	}
	for _, id := range r.order {
		d := r.entries[id].Descriptor
		info.AvailableBackends = append(info.AvailableBackends, api.BackendStatus{
			Name:                 id,
			Model:                d.Model,
			Dialect:              d.Dialect,
			Healthy:              r.healthy[id],
			CredentialConfigured: d.NativeChat() || d.CredentialConfigured(),
		})
	}
	return info
}

// Close releases every provider.
func (r *Registry) Close() error {
	var errs []error
	for _, id := range r.order {
		if p := r.entries[id].Provider; p != nil {
			errs = append(errs, p.Close())
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) snapshotLocked() map[string]bool {
	out := make(map[string]bool, len(r.healthy))
	for id, ok := range r.healthy {
		out[id] = ok
	}
	return out
}

func (r *Registry) publishLocked() {
	for _, id := range r.order {
		v := 0.0
		if r.healthy[id] {
			v = 1
		}
		observability.BackendHealthy.WithLabelValues(id).Set(v)
	}
}
