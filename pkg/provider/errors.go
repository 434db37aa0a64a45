package provider

import (
	"errors"
	"fmt"
)

// UpstreamUnavailableError reports a backend that could not serve a
// request: a network failure, a timeout, or a non-2xx status.
type UpstreamUnavailableError struct {
	Backend string
	Status  int // 0 when no HTTP response was received
	Message string
	Err     error
}

func (e *UpstreamUnavailableError) Error() string {
	if e.Status != 0 {
		if e.Message != "" {
			return fmt.Sprintf("backend %s returned HTTP %d: %s", e.Backend, e.Status, e.Message)
		}
		return fmt.Sprintf("backend %s returned HTTP %d", e.Backend, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
	}
	return fmt.Sprintf("backend %s unavailable: %s", e.Backend, e.Message)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

// UpstreamProtocolError reports a response whose shape the dialect could
// not interpret.
type UpstreamProtocolError struct {
	Backend string
	Err     error
}

func (e *UpstreamProtocolError) Error() string {
	return fmt.Sprintf("backend %s returned an unexpected response: %v", e.Backend, e.Err)
}

func (e *UpstreamProtocolError) Unwrap() error { return e.Err }

// ErrMissingContent is wrapped by dialects when a response lacks the
// expected content field.
var ErrMissingContent = errors.New("response carries no message content")

// IsUpstreamFailure reports whether err is a backend failure that should
// trigger failover.
func IsUpstreamFailure(err error) bool {
	var unavailable *UpstreamUnavailableError
	var protocol *UpstreamProtocolError
	return errors.As(err, &unavailable) || errors.As(err, &protocol)
}
