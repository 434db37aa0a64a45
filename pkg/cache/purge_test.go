package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type purgingCache struct {
	Noop
	calls atomic.Int32
}

func (p *purgingCache) PurgeExpired(context.Context) (int, error) {
	p.calls.Add(1)
	return 1, nil
}

func TestStartPurger(t *testing.T) {
	c := &purgingCache{}
	stop := StartPurger(context.Background(), c, 5*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for c.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.calls.Load() < 2 {
		t.Fatalf("purge calls = %d, want at least 2", c.calls.Load())
	}

	stop()
	after := c.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := c.calls.Load(); got != after {
		t.Errorf("purge ran after stop: %d calls, want %d", got, after)
	}
}

func TestStartPurger_ContextCancel(t *testing.T) {
	c := &purgingCache{}
	ctx, cancel := context.WithCancel(context.Background())
	stop := StartPurger(ctx, c, time.Millisecond)
	cancel()
	stop() // returns once the goroutine has exited
	after := c.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if got := c.calls.Load(); got != after {
		t.Errorf("purge ran after cancel: %d calls, want %d", got, after)
	}
}

func TestStartPurger_NotPurger(t *testing.T) {
	stop := StartPurger(context.Background(), Noop{}, time.Millisecond)
	stop()

	c := &purgingCache{}
	stop = StartPurger(context.Background(), c, 0)
	time.Sleep(10 * time.Millisecond)
	stop()
	if c.calls.Load() != 0 {
		t.Errorf("zero interval must disable purging, got %d calls", c.calls.Load())
	}
}
