package cache

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPurgeInterval is how often persistent stores drop expired rows.
const DefaultPurgeInterval = time.Hour

// Purger is implemented by caches that keep expired entries on disk until
// they are deleted explicitly.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// StartPurger removes expired entries from c every interval until ctx is
// done or the returned stop function is called. It is a no-op for caches
// that do not implement Purger. stop waits for the goroutine to exit.
func StartPurger(ctx context.Context, c Cache, interval time.Duration) (stop func()) {
	p, ok := c.(Purger)
	if !ok || interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := p.PurgeExpired(ctx)
				if err != nil {
					if ctx.Err() == nil {
						slog.Warn("answer cache purge failed", "error", err)
					}
					continue
				}
				if n > 0 {
					slog.Debug("purged expired answers", "count", n)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
