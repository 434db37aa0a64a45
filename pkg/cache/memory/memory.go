// Package memory provides an in-process answer cache with TTL expiry and
// LRU eviction. Entries are lost when the process restarts.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/cache"
)

// entry holds a cached answer and its metadata.
type entry struct {
	key       string
	answer    api.CachedAnswer
	expiresAt time.Time
	lruElem   *list.Element // position in LRU list
}

// Cache is an in-memory cache.Cache with optional LRU eviction.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
	now     func() time.Time
}

// Ensure Cache implements cache.Cache at compile time.
var _ cache.Cache = (*Cache)(nil)

// New creates an in-memory cache. If maxSize is 0 the cache grows without
// limit; otherwise the least recently used entry is evicted at capacity.
func New(maxSize int) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get returns a copy of the cached answer, or nil when absent or expired.
func (c *Cache) Get(_ context.Context, question string) (*api.CachedAnswer, error) {
	key := cache.Key(question)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !c.now().Before(e.expiresAt) {
		c.remove(e)
		return nil, nil
	}

	c.lruList.MoveToFront(e.lruElem)
	answer := e.answer
	return &answer, nil
}

// Set stores answer for ttl, replacing any previous entry.
func (c *Cache) Set(_ context.Context, question string, answer *api.CachedAnswer, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	key := cache.Key(question)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.answer = *answer
		e.expiresAt = c.now().Add(ttl)
		c.lruList.MoveToFront(e.lruElem)
		return nil
	}

	// Evict if at capacity.
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	e := &entry{key: key, answer: *answer, expiresAt: c.now().Add(ttl)}
	e.lruElem = c.lruList.PushFront(e)
	c.entries[key] = e
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*entry)
	c.lruList.Init()
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Available always reports true.
func (c *Cache) Available() bool { return true }

// Close is a no-op for the in-memory cache.
func (c *Cache) Close() error { return nil }

// evictOldest removes the least recently used entry. Caller must hold mu.
func (c *Cache) evictOldest() {
	if back := c.lruList.Back(); back != nil {
		c.remove(back.Value.(*entry))
	}
}

// remove deletes e. Caller must hold mu.
func (c *Cache) remove(e *entry) {
	c.lruList.Remove(e.lruElem)
	delete(c.entries, e.key)
}
