// Package cache defines the answer cache used by the engine and shared
// helpers for its implementations (memory, postgres, sqlite).
//
// Caches are an optimization: every failure is absorbed by the caller and
// a store that cannot be reached is replaced by Noop at startup.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
)

// KeyPrefix namespaces answer entries.
const KeyPrefix = "answer:"

// DefaultTTL is how long an answer stays cached (72 hours).
const DefaultTTL = 72 * time.Hour

// ErrUnavailable reports that the backing store cannot be reached.
var ErrUnavailable = errors.New("answer cache unavailable")

// Cache stores generated answers keyed by the normalized question.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the cached answer for question, or nil and no error on a
	// miss or an expired entry.
	Get(ctx context.Context, question string) (*api.CachedAnswer, error)

	// Set stores answer for question for ttl.
	Set(ctx context.Context, question string, answer *api.CachedAnswer, ttl time.Duration) error

	// Clear removes every entry and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Available reports whether the cache is backed by a reachable store.
	Available() bool

	// Close releases the store.
	Close() error
}

// HealthChecker is implemented by caches backed by an external store.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NormalizeQuestion trims the question and collapses internal whitespace,
// so formatting differences map to the same entry.
func NormalizeQuestion(question string) string {
	return strings.Join(strings.Fields(question), " ")
}

// Key returns the storage key for question.
func Key(question string) string {
	sum := sha256.Sum256([]byte(NormalizeQuestion(question)))
	return KeyPrefix + hex.EncodeToString(sum[:])
}
