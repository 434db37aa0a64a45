package auth

import (
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/observability"
	"github.com/rhuss/kbqa/pkg/transport"
)

// DefaultBypassEndpoints are reachable without credentials.
var DefaultBypassEndpoints = []string{"/health", "/healthz", "/metrics"}

// guard is the state shared by every request passing the middleware.
type guard struct {
	chain   *AuthChain
	limiter RateLimiter
	bypass  map[string]struct{}
}

// Middleware authenticates requests against chain and, when limiter is
// non-nil, enforces its budget. The identity is stored in the request
// context for handlers (see IdentityFromContext). Paths in bypass pass
// through untouched.
func Middleware(chain *AuthChain, limiter RateLimiter, bypass []string) transport.Middleware {
	g := &guard{chain: chain, limiter: limiter, bypass: make(map[string]struct{}, len(bypass))}
	for _, p := range bypass {
		g.bypass[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := g.bypass[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id, ok := g.authenticate(w, r)
			if !ok {
				return
			}
			if !g.admit(w, r, id) {
				return
			}
			next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
		})
	}
}

// authenticate runs the chain and writes the rejection itself when the
// caller is not let in.
func (g *guard) authenticate(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	res := g.chain.Authenticate(r.Context(), r)
	switch {
	case res.Decision != Yes || res.Identity == nil:
		slog.Warn("admin request rejected",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"decision", res.Decision,
			"error", res.Err,
		)
		w.Header().Set("WWW-Authenticate", `Bearer realm="kbqa"`)
		transport.WriteAPIError(w, api.NewUnauthorizedError("authentication required"))
		return nil, false
	case res.Identity.Subject == "":
		slog.Error("authenticator returned an identity without subject", "path", r.URL.Path)
		transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
		return nil, false
	}
	slog.Debug("admin request authenticated", "subject", res.Identity.Subject, "path", r.URL.Path)
	return res.Identity, true
}

// admit applies the rate limiter.
func (g *guard) admit(w http.ResponseWriter, r *http.Request, id *Identity) bool {
	if g.limiter == nil {
		return true
	}
	err := g.limiter.Allow(r.Context(), id)
	if err == nil {
		return true
	}

	tier := id.Tier()
	observability.RateLimitRejectedTotal.WithLabelValues(tier).Inc()
	slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", tier)

	var le *LimitError
	if errors.As(err, &le) {
		secs := int(math.Ceil(le.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	transport.WriteAPIError(w, api.NewTooManyRequestsError(err.Error()))
	return false
}
