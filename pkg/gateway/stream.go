package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhuss/kbqa/pkg/backend"
	"github.com/rhuss/kbqa/pkg/provider"
)

// Stream is an open generation stream on one backend.
type Stream struct {
	backend backend.Descriptor
	events  chan provider.Event
}

// Backend returns the id of the backend serving the stream.
func (s *Stream) Backend() string { return s.backend.ID }

// Model returns the model name of the backend serving the stream.
func (s *Stream) Model() string { return s.backend.Model }

// Events returns the ordered event channel. It is closed after a terminal
// EventDone or EventError, or when the request context is cancelled.
func (s *Stream) Events() <-chan provider.Event { return s.events }

// Stream opens a streaming generation. Failover happens only until the
// first event is received: once content has reached the caller, an
// upstream failure ends the stream with an EventError instead of
// re-issuing the request elsewhere.
func (g *Gateway) Stream(ctx context.Context, req *provider.Request) (*Stream, error) {
	req = g.prepare(req, true)
	g.registry.CheckHealth(ctx)

	tried := make(map[string]bool)
	current := g.registry.Active()

	for {
		tried[current.ID] = true

		p, ok := g.registry.Provider(current.ID)
		if !ok {
			return nil, fmt.Errorf("backend %s has no provider", current.ID)
		}

		start := time.Now()
		attemptCtx, cancel := context.WithCancel(ctx)
		first, upstream, err := open(attemptCtx, current, p, req)
		if err == nil {
			s := &Stream{backend: current, events: make(chan provider.Event, 16)}
			go func() {
				defer cancel()
				g.forward(attemptCtx, s, first, upstream, start)
			}()
			return s, nil
		}
		cancel()
		record(current, err, time.Since(start))

		next, ferr := g.next(ctx, current, tried, err)
		if ferr != nil {
			return nil, ferr
		}
		current = next
	}
}

// open starts the provider stream and waits for its first event, turning
// an immediate EventError into an error so it is eligible for failover.
// A backend that sends nothing within its timeout counts as unavailable;
// the caller cancels ctx to release the stalled stream.
func open(ctx context.Context, d backend.Descriptor, p provider.Provider, req *provider.Request) (provider.Event, <-chan provider.Event, error) {
	upstream, err := p.Stream(ctx, req)
	if err != nil {
		return provider.Event{}, nil, err
	}

	wait := d.Timeout
	if wait <= 0 {
		wait = provider.DefaultTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case first, ok := <-upstream:
		if !ok {
			if ctx.Err() != nil {
				return provider.Event{}, nil, ctx.Err()
			}
			// Closed without a terminal event: an empty answer.
			return provider.Event{Type: provider.EventDone}, upstream, nil
		}
		if first.Type == provider.EventError {
			drain(upstream)
			return provider.Event{}, nil, first.Err
		}
		return first, upstream, nil
	case <-timer.C:
		drain(upstream)
		return provider.Event{}, nil, &provider.UpstreamUnavailableError{
			Backend: d.ID,
			Message: fmt.Sprintf("no response within %s", wait),
		}
	case <-ctx.Done():
		drain(upstream)
		return provider.Event{}, nil, ctx.Err()
	}
}

// forward relays events to the caller. It always closes s.events.
func (g *Gateway) forward(ctx context.Context, s *Stream, first provider.Event, upstream <-chan provider.Event, start time.Time) {
	defer close(s.events)

	var streamErr error
	defer func() {
		if ctx.Err() == nil {
			record(s.backend, streamErr, time.Since(start))
		}
	}()

	send := func(ev provider.Event) bool {
		select {
		case s.events <- ev:
			return true
		case <-ctx.Done():
			drain(upstream)
			return false
		}
	}

	ev := first
	for {
		if ev.Type == provider.EventError {
			streamErr = ev.Err
			if provider.IsUpstreamFailure(ev.Err) {
				slog.Warn("LLM stream failed after content was delivered", "backend", s.backend.ID, "error", ev.Err.Error())
				g.registry.MarkUnhealthy(s.backend.ID)
				// The request is not retried, but later requests should not
				// land on the failed backend.
				if g.registry.Active().ID == s.backend.ID {
					g.registry.Failover(s.backend.ID, nil)
				}
			}
		}
		if !send(ev) || ev.Type != provider.EventDelta {
			drain(upstream)
			return
		}

		var ok bool
		select {
		case ev, ok = <-upstream:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				ev = provider.Event{Type: provider.EventDone}
			}
		case <-ctx.Done():
			drain(upstream)
			return
		}
	}
}

// drain consumes the remaining events in the background so the provider
// goroutine can exit and release its connection.
func drain(ch <-chan provider.Event) {
	if ch == nil {
		return
	}
	go func() {
		for range ch {
		}
	}()
}
