package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/backend"
	"github.com/rhuss/kbqa/pkg/provider"
)

// fakeProvider is a scripted provider.Provider.
type fakeProvider struct {
	name string

	mu       sync.Mutex
	calls    int
	lastReq  provider.Request
	content  string
	chunks   []string
	err      error
	midError error // sent after the chunks instead of EventDone
	block    bool  // stream never produces an event
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) Complete(ctx context.Context, req *provider.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = *req
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *provider.Request) (<-chan provider.Event, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = *req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan provider.Event)
	go func() {
		defer close(ch)
		if f.block {
			<-ctx.Done()
			return
		}
		for _, c := range f.chunks {
			select {
			case ch <- provider.Event{Type: provider.EventDelta, Delta: c}:
			case <-ctx.Done():
				return
			}
		}
		last := provider.Event{Type: provider.EventDone}
		if f.midError != nil {
			last = provider.Event{Type: provider.EventError, Err: f.midError}
		}
		select {
		case ch <- last:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func unavailable(name string) error {
	return &provider.UpstreamUnavailableError{Backend: name, Status: 503, Message: "overloaded"}
}

// newRegistry builds a registry of credential backends; keys decide
// initial health.
func newRegistry(t *testing.T, fakes []*fakeProvider, keys []string) *backend.Registry {
	t.Helper()
	entries := make([]backend.Entry, len(fakes))
	for i, f := range fakes {
		entries[i] = backend.Entry{
			Descriptor: backend.Descriptor{ID: f.name, Dialect: backend.DialectOpenAI, APIKey: keys[i], Model: f.name + "-model"},
			Provider:   f,
		}
	}
	r, err := backend.New(backend.Options{}, entries...)
	if err != nil {
		t.Fatalf("backend.New failed: %v", err)
	}
	return r
}

func request() *provider.Request {
	return &provider.Request{
		Messages:    []api.ChatMessage{{Role: api.RoleUser, Content: "hi"}},
		Temperature: 0.1,
	}
}

func TestGenerate_ActiveBackend(t *testing.T) {
	a := &fakeProvider{name: "a", content: "answer"}
	g := New(newRegistry(t, []*fakeProvider{a}, []string{"k"}), 0)

	res, err := g.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Content != "answer" || res.Backend != "a" || res.Model != "a-model" {
		t.Errorf("unexpected result %+v", res)
	}
	if a.lastReq.MaxTokens != DefaultMaxTokens || a.lastReq.Stream {
		t.Errorf("unexpected request %+v", a.lastReq)
	}
}

func TestGenerate_FailsOverToNextHealthy(t *testing.T) {
	a := &fakeProvider{name: "a", err: unavailable("a")}
	b := &fakeProvider{name: "b", content: "from b"}
	c := &fakeProvider{name: "c", content: "from c"}
	r := newRegistry(t, []*fakeProvider{a, b, c}, []string{"k", "", "k"})
	g := New(r, 512)

	res, err := g.Generate(context.Background(), request())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Backend != "c" || res.Content != "from c" {
		t.Errorf("expected answer from c, got %+v", res)
	}
	if b.Calls() != 0 {
		t.Error("unhealthy backend b must not be called")
	}
	if r.Active().ID != "c" {
		t.Errorf("active = %q, want c", r.Active().ID)
	}
	if r.Healthy("a") {
		t.Error("a should be marked unhealthy")
	}
	if c.lastReq.MaxTokens != 512 {
		t.Errorf("max tokens = %d, want 512", c.lastReq.MaxTokens)
	}
}

func TestGenerate_FailoverBound(t *testing.T) {
	const n = 5
	fakes := make([]*fakeProvider, n)
	keys := make([]string, n)
	for i := range fakes {
		name := string(rune('a' + i))
		fakes[i] = &fakeProvider{name: name, err: unavailable(name)}
		keys[i] = "k"
	}
	r := newRegistry(t, fakes, keys)
	g := New(r, 0)

	_, err := g.Generate(context.Background(), request())

	var noHealthy *NoHealthyBackendError
	if !errors.As(err, &noHealthy) {
		t.Fatalf("expected NoHealthyBackendError, got %T: %v", err, err)
	}
	if noHealthy.Last != "e" {
		t.Errorf("last = %q, want e", noHealthy.Last)
	}
	if !strings.Contains(err.Error(), "e") {
		t.Errorf("message %q should name the last backend", err.Error())
	}
	total := 0
	for _, f := range fakes {
		if f.Calls() != 1 {
			t.Errorf("backend %s called %d times, want exactly 1", f.name, f.Calls())
		}
		total += f.Calls()
	}
	if switches := total - 1; switches > n-1 {
		t.Errorf("%d switches exceed bound %d", switches, n-1)
	}
}

func TestGenerate_OnlyActiveHealthy(t *testing.T) {
	a := &fakeProvider{name: "a", err: unavailable("a")}
	b := &fakeProvider{name: "b", content: "unused"}
	c := &fakeProvider{name: "c", content: "unused"}
	r := newRegistry(t, []*fakeProvider{a, b, c}, []string{"k", "", ""})

	_, err := New(r, 0).Generate(context.Background(), request())

	var noHealthy *NoHealthyBackendError
	if !errors.As(err, &noHealthy) || noHealthy.Last != "a" {
		t.Fatalf("expected NoHealthyBackendError for a, got %v", err)
	}
	if b.Calls()+c.Calls() != 0 {
		t.Error("unhealthy backends must not be attempted")
	}
	if r.Active().ID != "a" {
		t.Errorf("active = %q, want a", r.Active().ID)
	}
}

func TestGenerate_ProtocolErrorTriggersFailover(t *testing.T) {
	a := &fakeProvider{name: "a", err: &provider.UpstreamProtocolError{Backend: "a", Err: provider.ErrMissingContent}}
	b := &fakeProvider{name: "b", content: "ok"}
	r := newRegistry(t, []*fakeProvider{a, b}, []string{"k", "k"})

	res, err := New(r, 0).Generate(context.Background(), request())
	if err != nil || res.Backend != "b" {
		t.Fatalf("expected failover to b, got %+v, %v", res, err)
	}
}

func TestGenerate_CancellationIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := &fakeProvider{name: "a", err: &provider.UpstreamUnavailableError{Backend: "a", Err: context.Canceled}}
	b := &fakeProvider{name: "b", content: "ok"}
	r := newRegistry(t, []*fakeProvider{a, b}, []string{"k", "k"})

	_, err := New(r, 0).Generate(ctx, request())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !r.Healthy("a") || b.Calls() != 0 || r.Active().ID != "a" {
		t.Error("cancellation must not mutate health or fail over")
	}
}

func TestGenerate_NonUpstreamErrorNotRetried(t *testing.T) {
	boom := errors.New("building payload")
	a := &fakeProvider{name: "a", err: boom}
	b := &fakeProvider{name: "b", content: "ok"}
	r := newRegistry(t, []*fakeProvider{a, b}, []string{"k", "k"})

	_, err := New(r, 0).Generate(context.Background(), request())
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if b.Calls() != 0 {
		t.Error("non-upstream errors must not trigger failover")
	}
}

func collect(t *testing.T, s *Stream) (string, provider.Event) {
	t.Helper()
	var sb strings.Builder
	var last provider.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return sb.String(), last
			}
			if ev.Type == provider.EventDelta {
				sb.WriteString(ev.Delta)
			} else {
				last = ev
			}
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestStream_Success(t *testing.T) {
	a := &fakeProvider{name: "a", chunks: []string{"x", "y", "z"}}
	g := New(newRegistry(t, []*fakeProvider{a}, []string{"k"}), 0)

	s, err := g.Stream(context.Background(), request())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if s.Backend() != "a" || s.Model() != "a-model" {
		t.Errorf("stream backend = %s/%s", s.Backend(), s.Model())
	}
	text, last := collect(t, s)
	if text != "xyz" || last.Type != provider.EventDone {
		t.Errorf("text=%q last=%+v", text, last)
	}
	if !a.lastReq.Stream {
		t.Error("expected stream flag on request")
	}
}

func TestStream_FailoverBeforeFirstChunk(t *testing.T) {
	a := &fakeProvider{name: "a", err: unavailable("a")}
	b := &fakeProvider{name: "b", midError: unavailable("b")} // errors before any content
	c := &fakeProvider{name: "c", chunks: []string{"ok"}}
	r := newRegistry(t, []*fakeProvider{a, b, c}, []string{"k", "k", "k"})

	s, err := New(r, 0).Stream(context.Background(), request())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if s.Backend() != "c" {
		t.Errorf("backend = %q, want c", s.Backend())
	}
	text, _ := collect(t, s)
	if text != "ok" {
		t.Errorf("text = %q", text)
	}
	if r.Healthy("a") || r.Healthy("b") {
		t.Error("a and b should be unhealthy")
	}
}

func TestStream_ErrorAfterContentDoesNotFailOver(t *testing.T) {
	a := &fakeProvider{name: "a", chunks: []string{"partial"}, midError: unavailable("a")}
	b := &fakeProvider{name: "b", chunks: []string{"other"}}
	r := newRegistry(t, []*fakeProvider{a, b}, []string{"k", "k"})

	s, err := New(r, 0).Stream(context.Background(), request())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	text, last := collect(t, s)
	if text != "partial" {
		t.Errorf("text = %q", text)
	}
	if last.Type != provider.EventError {
		t.Errorf("expected terminal EventError, got %+v", last)
	}
	if b.Calls() != 0 {
		t.Error("must not re-issue a stream after content was delivered")
	}
	if r.Healthy("a") {
		t.Error("a should be marked unhealthy")
	}
	if got := r.Active().ID; got != "b" {
		t.Errorf("active backend = %q, want b for subsequent requests", got)
	}
}

func TestStream_StalledBackendFailsOver(t *testing.T) {
	a := &fakeProvider{name: "a", block: true}
	b := &fakeProvider{name: "b", chunks: []string{"ok"}}
	entries := []backend.Entry{
		{Descriptor: backend.Descriptor{ID: "a", Dialect: backend.DialectOpenAI, APIKey: "k", Model: "a-model", Timeout: 20 * time.Millisecond}, Provider: a},
		{Descriptor: backend.Descriptor{ID: "b", Dialect: backend.DialectOpenAI, APIKey: "k", Model: "b-model", Timeout: time.Second}, Provider: b},
	}
	r, err := backend.New(backend.Options{}, entries...)
	if err != nil {
		t.Fatalf("backend.New failed: %v", err)
	}

	s, err := New(r, 0).Stream(context.Background(), request())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if s.Backend() != "b" {
		t.Errorf("backend = %q, want b", s.Backend())
	}
	if text, _ := collect(t, s); text != "ok" {
		t.Errorf("text = %q", text)
	}
	if r.Healthy("a") {
		t.Error("stalled backend should be marked unhealthy")
	}
	if r.Active().ID != "b" {
		t.Errorf("active backend = %q, want b", r.Active().ID)
	}
}

func TestStream_Exhausted(t *testing.T) {
	a := &fakeProvider{name: "a", err: unavailable("a")}
	b := &fakeProvider{name: "b", err: unavailable("b")}
	r := newRegistry(t, []*fakeProvider{a, b}, []string{"k", "k"})

	_, err := New(r, 0).Stream(context.Background(), request())
	var noHealthy *NoHealthyBackendError
	if !errors.As(err, &noHealthy) || noHealthy.Last != "b" {
		t.Fatalf("expected NoHealthyBackendError for b, got %v", err)
	}
}

func TestStream_CancelClosesEvents(t *testing.T) {
	a := &fakeProvider{name: "a", chunks: []string{"1", "2", "3", "4"}}
	r := newRegistry(t, []*fakeProvider{a}, []string{"k"})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := New(r, 0).Stream(ctx, request())
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	<-s.Events()
	cancel()

	done := make(chan struct{})
	go func() {
		for range s.Events() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after cancellation")
	}
	if !r.Healthy("a") {
		t.Error("cancellation must not mark the backend unhealthy")
	}
}

func TestStream_CancelWhileWaitingForFirstEvent(t *testing.T) {
	a := &fakeProvider{name: "a", block: true}
	r := newRegistry(t, []*fakeProvider{a}, []string{"k"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(r, 0).Stream(ctx, request())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !r.Healthy("a") {
		t.Error("caller timeout must not mark the backend unhealthy")
	}
}
