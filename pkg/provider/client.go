package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxLineSize bounds a single SSE/NDJSON line.
const maxLineSize = 1 << 20

// ClientConfig holds the per-backend settings of a Client.
type ClientConfig struct {
	// Name is the backend identifier used in errors and logs.
	Name string

	// BaseURL is the backend root; the dialect path is appended to it.
	BaseURL string

	// APIKey is sent according to the dialect's header rules. Optional.
	APIKey string

	// Model is the model name placed in every payload.
	Model string

	// Timeout bounds buffered calls end to end and streamed calls until
	// response headers arrive (default: DefaultTimeout).
	Timeout time.Duration
}

// DefaultTimeout applies when a backend configures no timeout.
const DefaultTimeout = 60 * time.Second

// Client performs HTTP requests against a backend speaking the given
// Dialect.
type Client struct {
	name    string
	dialect Dialect
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration

	httpClient   *http.Client
	streamClient *http.Client
}

// Ensure Client implements Provider at compile time.
var _ Provider = (*Client)(nil)

// NewClient creates a Client for the backend described by cfg.
func NewClient(d Dialect, cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	// Streams may legitimately outlive any fixed deadline, so the stream
	// client only bounds the wait for response headers. The request
	// context controls the rest of the stream's lifetime.
	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = timeout

	return &Client{
		name:    cfg.Name,
		dialect: d,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{
			Transport: streamTransport,
		},
	}
}

// Name returns the backend identifier.
func (c *Client) Name() string { return c.name }

// Dialect returns the wire protocol spoken by this client.
func (c *Client) Dialect() Dialect { return c.dialect }

// Complete performs a non-streaming request and returns the assistant content.
func (c *Client) Complete(ctx context.Context, req *Request) (string, error) {
	reqCopy := *req
	reqCopy.Stream = false
	reqCopy.Model = c.model

	httpReq, err := c.newRequest(ctx, &reqCopy)
	if err != nil {
		return "", err
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.networkError(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return "", c.statusError(httpResp)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", c.networkError(err)
	}

	content, err := c.dialect.ParseResponse(body)
	if err != nil {
		slog.Error("backend returned malformed response",
			"backend", c.name,
			"error", err.Error(),
			"body", truncate(string(body), 200),
		)
		return "", &UpstreamProtocolError{Backend: c.name, Err: err}
	}
	return content, nil
}

// Stream performs a streaming request. It returns a channel of Events that
// is closed when the stream completes, errors, or ctx is cancelled. The
// response body is released when the channel closes.
func (c *Client) Stream(ctx context.Context, req *Request) (<-chan Event, error) {
	reqCopy := *req
	reqCopy.Stream = true
	reqCopy.Model = c.model

	httpReq, err := c.newRequest(ctx, &reqCopy)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, c.networkError(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		defer httpResp.Body.Close()
		return nil, c.statusError(httpResp)
	}

	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		c.readStream(ctx, httpResp.Body, ch)
	}()

	return ch, nil
}

// readStream parses the body line by line and forwards deltas. Exactly one
// line is buffered at a time, so chunks reach the consumer as soon as the
// backend flushes them.
func (c *Client) readStream(ctx context.Context, body io.Reader, ch chan<- Event) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	send := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		delta, done, err := c.dialect.ParseStreamLine(scanner.Text())
		if err != nil {
			if unavailable, ok := err.(*UpstreamUnavailableError); ok {
				unavailable.Backend = c.name
				send(Event{Type: EventError, Err: unavailable})
				return
			}
			slog.Warn("skipping malformed stream line",
				"backend", c.name,
				"error", err.Error(),
				"data", truncate(scanner.Text(), 200),
			)
			continue
		}
		if done {
			send(Event{Type: EventDone})
			return
		}
		if delta == "" {
			continue
		}
		if !send(Event{Type: EventDelta, Delta: delta}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		// Cancellation by the consumer is not a backend failure.
		if ctx.Err() != nil {
			return
		}
		send(Event{Type: EventError, Err: c.networkError(err)})
		return
	}

	send(Event{Type: EventDone})
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
	return nil
}

func (c *Client) newRequest(ctx context.Context, req *Request) (*http.Request, error) {
	body, err := c.dialect.BuildPayload(req)
	if err != nil {
		return nil, fmt.Errorf("building %s payload: %w", c.dialect.Name(), err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.dialect.Path(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	c.dialect.BuildHeaders(httpReq.Header, c.apiKey, req.Stream)
	return httpReq, nil
}

// statusError converts a non-2xx response into an UpstreamUnavailableError,
// parsing the body for a message on a best-effort basis.
func (c *Client) statusError(resp *http.Response) *UpstreamUnavailableError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := c.dialect.ParseError(data)
	if msg == "" {
		msg = truncate(strings.TrimSpace(string(data)), 200)
	}

	slog.Error("backend returned error status",
		"backend", c.name,
		"status", resp.StatusCode,
		"message", msg,
	)

	return &UpstreamUnavailableError{
		Backend: c.name,
		Status:  resp.StatusCode,
		Message: msg,
	}
}

// networkError converts transport failures (connection refused, DNS,
// timeouts) into an UpstreamUnavailableError.
func (c *Client) networkError(err error) *UpstreamUnavailableError {
	return &UpstreamUnavailableError{
		Backend: c.name,
		Message: "connection error",
		Err:     err,
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
