package backend

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a requested backend that is not configured.
type ConfigurationError struct {
	Requested string
	Known     []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unknown backend %q (configured: %s)", e.Requested, strings.Join(e.Known, ", "))
}
