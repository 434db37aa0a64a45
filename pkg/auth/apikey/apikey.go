// Package apikey provides an API key authenticator that validates bearer
// tokens (or the X-API-Key header) against a static key store using
// SHA-256 hashing and constant-time comparison.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/rhuss/kbqa/pkg/auth"
	"github.com/rhuss/kbqa/pkg/config"
)

// HeaderAPIKey is the alternative header carrying a raw key.
const HeaderAPIKey = "X-API-Key"

// KeyEntry maps a key hash to an identity.
type KeyEntry struct {
	KeyHash  [32]byte
	Identity auth.Identity
}

// RawKeyEntry is the configuration format for API keys.
type RawKeyEntry struct {
	Key      string
	Identity auth.Identity
}

// Authenticator validates tokens against a static key store.
type Authenticator struct {
	keys []KeyEntry
}

var _ auth.Authenticator = (*Authenticator)(nil)

// New creates an API key authenticator from a list of raw keys and identities.
// Keys are hashed immediately; plaintext keys are not stored.
func New(entries []RawKeyEntry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		a.keys = append(a.keys, KeyEntry{
			KeyHash:  sha256.Sum256([]byte(e.Key)),
			Identity: e.Identity,
		})
	}
	return a
}

// FromConfig builds the authenticator from resolved config entries.
// Entries without a subject are named after their position.
func FromConfig(keys []config.APIKeyConfig) *Authenticator {
	entries := make([]RawKeyEntry, 0, len(keys))
	for i, k := range keys {
		if k.Key == "" {
			continue
		}
		subject := k.Subject
		if subject == "" {
			subject = fmt.Sprintf("apikey-%d", i)
		}
		entries = append(entries, RawKeyEntry{
			Key:      k.Key,
			Identity: auth.Identity{Subject: subject, ServiceTier: k.ServiceTier},
		})
	}
	return New(entries)
}

// Authenticate extracts the token and validates it.
// Returns Yes if valid, No if a token is present but invalid,
// Abstain if neither a Bearer token nor X-API-Key is present.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	token, ok := auth.BearerToken(r)
	if !ok {
		token = r.Header.Get(HeaderAPIKey)
		if token == "" {
			return auth.AuthResult{Decision: auth.Abstain}
		}
	}
	if token == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	tokenHash := sha256.Sum256([]byte(token))

	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(tokenHash[:], entry.KeyHash[:]) == 1 {
			// Copy identity to avoid shared state.
			id := entry.Identity
			return auth.AuthResult{Decision: auth.Yes, Identity: &id}
		}
	}

	return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
