package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// AuthDecision is the vote of one Authenticator.
type AuthDecision int

const (
	// Yes accepts the request; AuthResult.Identity is set.
	Yes AuthDecision = iota
	// No rejects the request; AuthResult.Err says why.
	No
	// Abstain passes the request on to the next authenticator.
	Abstain
)

func (d AuthDecision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	}
	return "unknown"
}

// AuthResult is what an Authenticator returns.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity
	Err      error
}

// DefaultTier is the rate limit tier of callers that carry none.
const DefaultTier = "default"

// Anonymous is the subject of requests admitted without credentials.
const Anonymous = "anonymous"

// Identity is an authenticated caller of the admin endpoints.
type Identity struct {
	Subject     string
	ServiceTier string
	Scopes      []string
}

// Tier returns the caller's service tier or DefaultTier.
func (id *Identity) Tier() string {
	if id != nil && id.ServiceTier != "" {
		return id.ServiceTier
	}
	return DefaultTier
}

// Authenticator inspects the credentials of a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// AuthChain asks each authenticator in turn. The first Yes or No wins;
// when all abstain, DefaultDecision applies.
type AuthChain struct {
	Authenticators  []Authenticator
	DefaultDecision AuthDecision
}

// Authenticate evaluates the chain for r.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, a := range c.Authenticators {
		if res := a.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.DefaultDecision != Yes {
		return AuthResult{Decision: No, Err: ErrUnauthenticated}
	}
	return AuthResult{Decision: Yes, Identity: &Identity{Subject: Anonymous, ServiceTier: DefaultTier}}
}

// BearerToken extracts the credentials of an "Authorization: Bearer"
// header. The scheme is matched case-insensitively. The boolean reports
// whether the Bearer scheme was used, so a present but empty token can be
// told apart from a missing header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}
