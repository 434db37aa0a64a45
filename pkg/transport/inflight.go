package transport

import (
	"context"
	"sync"
)

// InFlightRegistry tracks open streaming answers so shutdown can cancel
// them. Entries are keyed by request ID; since clients may choose their own
// X-Request-ID, several streams can share one ID and are tracked
// independently.
type InFlightRegistry struct {
	mu      sync.Mutex
	next    uint64
	streams map[string]map[uint64]context.CancelFunc
}

func NewInFlightRegistry() *InFlightRegistry {
	return &InFlightRegistry{streams: make(map[string]map[uint64]context.CancelFunc)}
}

// Track derives a cancellable context for the stream identified by id.
// The returned release func must be called when the stream ends; it
// removes the entry and cancels the context.
func (r *InFlightRegistry) Track(parent context.Context, id string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	r.mu.Lock()
	r.next++
	seq := r.next
	if r.streams[id] == nil {
		r.streams[id] = make(map[uint64]context.CancelFunc)
	}
	r.streams[id][seq] = cancel
	r.mu.Unlock()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			r.mu.Lock()
			if m := r.streams[id]; m != nil {
				delete(m, seq)
				if len(m) == 0 {
					delete(r.streams, id)
				}
			}
			r.mu.Unlock()
			cancel()
		})
	}
}

// Cancel cancels every stream registered under id and returns how many
// there were.
func (r *InFlightRegistry) Cancel(id string) int {
	r.mu.Lock()
	m := r.streams[id]
	delete(r.streams, id)
	r.mu.Unlock()

	for _, cancel := range m {
		cancel()
	}
	return len(m)
}

// CancelAll cancels every open stream and returns how many there were.
func (r *InFlightRegistry) CancelAll() int {
	r.mu.Lock()
	all := r.streams
	r.streams = make(map[string]map[uint64]context.CancelFunc)
	r.mu.Unlock()

	n := 0
	for _, m := range all {
		for _, cancel := range m {
			cancel()
			n++
		}
	}
	return n
}

// Len returns the number of open streams.
func (r *InFlightRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.streams {
		n += len(m)
	}
	return n
}
