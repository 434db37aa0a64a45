package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RateLimiter decides whether an authenticated caller may issue another
// request. A rejection should wrap ErrTooManyRequests.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// TierConfig overrides the request budget of one service tier.
type TierConfig struct {
	RequestsPerMinute int
}

// LimitError is returned when a caller has used up the budget of the
// current minute.
type LimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limit of %d requests per minute exceeded, retry in %s", e.Limit, e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is match ErrTooManyRequests.
func (e *LimitError) Is(target error) bool { return target == ErrTooManyRequests }

// InProcessLimiter counts requests per subject and tier in wall-clock
// minutes. State lives in process memory, so every replica has its own
// budget.
type InProcessLimiter struct {
	tiers      map[string]TierConfig
	defaultRPM int
	now        func() time.Time

	mu      sync.Mutex
	minute  time.Time
	buckets map[string]int
}

// NewInProcessLimiter creates a limiter. Tiers missing from tiers get
// defaultRPM; a budget of zero or less means unlimited.
func NewInProcessLimiter(tiers map[string]TierConfig, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tiers:      tiers,
		defaultRPM: defaultRPM,
		now:        time.Now,
		buckets:    make(map[string]int),
	}
}

func (l *InProcessLimiter) budget(tier string) int {
	if tc, ok := l.tiers[tier]; ok {
		return tc.RequestsPerMinute
	}
	return l.defaultRPM
}

// Allow records one request for identity and reports a *LimitError once
// the tier's budget for the current minute is spent.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	tier := identity.Tier()
	limit := l.budget(tier)
	if limit <= 0 {
		return nil
	}

	now := l.now()
	minute := now.Truncate(time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()

	// A new minute drops every bucket at once, which keeps memory bounded
	// by the number of callers seen within one minute.
	if !minute.Equal(l.minute) {
		l.minute = minute
		clear(l.buckets)
	}

	key := identity.Subject + "\x00" + tier
	if l.buckets[key] >= limit {
		return &LimitError{Limit: limit, RetryAfter: minute.Add(time.Minute).Sub(now)}
	}
	l.buckets[key]++
	return nil
}
