package gateway

import "fmt"

// NoHealthyBackendError reports that every candidate backend failed or was
// unhealthy. Last names the backend attempted last.
type NoHealthyBackendError struct {
	Last string
	Err  error
}

func (e *NoHealthyBackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no healthy LLM backend available (last attempted: %s)", e.Last)
	}
	return fmt.Sprintf("no healthy LLM backend available (last attempted: %s): %v", e.Last, e.Err)
}

func (e *NoHealthyBackendError) Unwrap() error { return e.Err }
