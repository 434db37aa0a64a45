package auth

import "context"

type identityKey struct{}

// SetIdentity stores the authenticated caller in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller set by Middleware, or nil when
// the request did not pass through it.
func IdentityFromContext(ctx context.Context) *Identity {
	if v, ok := ctx.Value(identityKey{}).(*Identity); ok {
		return v
	}
	return nil
}

// SubjectFromContext returns the caller's subject for audit logs.
// Requests without an identity report Anonymous.
func SubjectFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil && id.Subject != "" {
		return id.Subject
	}
	return Anonymous
}
