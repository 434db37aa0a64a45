package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
)

func answer(text string) *api.CachedAnswer {
	return &api.CachedAnswer{
		Answer:   text,
		Question: "q",
		Sources:  []api.SearchResult{{Text: "src", Score: 0.9, Rank: 1}},
	}
}

func TestRoundTripWithTTL(t *testing.T) {
	c := New(0)
	ctx := context.Background()

	if err := c.Set(ctx, "什么是健康的生活方式？", answer("规律作息"), 100*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := c.Get(ctx, "什么是健康的生活方式？")
	if err != nil || got == nil {
		t.Fatalf("Get = %v, %v; want hit", got, err)
	}
	if got.Answer != "规律作息" || len(got.Sources) != 1 {
		t.Errorf("unexpected answer %+v", got)
	}

	time.Sleep(150 * time.Millisecond)

	got, err = c.Get(ctx, "什么是健康的生活方式？")
	if err != nil || got != nil {
		t.Errorf("Get after TTL = %v, %v; want miss", got, err)
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, len=%d", c.Len())
	}
}

func TestExpiryWithClock(t *testing.T) {
	c := New(0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "q", answer("a"), time.Second)

	now = now.Add(999 * time.Millisecond)
	if got, _ := c.Get(ctx, "q"); got == nil {
		t.Fatal("entry expired early")
	}
	now = now.Add(time.Millisecond)
	if got, _ := c.Get(ctx, "q"); got != nil {
		t.Fatal("entry must expire exactly at its TTL")
	}
}

func TestNormalizedKey(t *testing.T) {
	c := New(0)
	ctx := context.Background()

	c.Set(ctx, "  refund   window ", answer("30 days"), time.Minute)
	got, _ := c.Get(ctx, "refund window")
	if got == nil || got.Answer != "30 days" {
		t.Errorf("expected hit for normalized question, got %v", got)
	}
}

func TestReturnsCopy(t *testing.T) {
	c := New(0)
	ctx := context.Background()
	c.Set(ctx, "q", answer("original"), time.Minute)

	got, _ := c.Get(ctx, "q")
	got.Answer = "mutated"

	again, _ := c.Get(ctx, "q")
	if again.Answer != "original" {
		t.Errorf("cache entry was mutated through a returned value: %q", again.Answer)
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(2)
	ctx := context.Background()

	c.Set(ctx, "a", answer("A"), time.Minute)
	c.Set(ctx, "b", answer("B"), time.Minute)
	c.Get(ctx, "a") // a becomes most recently used
	c.Set(ctx, "c", answer("C"), time.Minute)

	if got, _ := c.Get(ctx, "b"); got != nil {
		t.Error("least recently used entry b should be evicted")
	}
	if got, _ := c.Get(ctx, "a"); got == nil {
		t.Error("a should survive")
	}
	if got, _ := c.Get(ctx, "c"); got == nil {
		t.Error("c should be present")
	}
}

func TestClear(t *testing.T) {
	c := New(0)
	ctx := context.Background()
	c.Set(ctx, "a", answer("A"), time.Minute)
	c.Set(ctx, "b", answer("B"), time.Minute)

	n, err := c.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v; want 2", n, err)
	}
	if got, _ := c.Get(ctx, "a"); got != nil {
		t.Error("entries must be gone after Clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(50)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := string(rune('a' + i%5))
			for j := 0; j < 100; j++ {
				c.Set(ctx, q, answer(q), time.Minute)
				c.Get(ctx, q)
			}
		}(i)
	}
	wg.Wait()

	if c.Len() != 5 {
		t.Errorf("len = %d, want 5", c.Len())
	}
}
