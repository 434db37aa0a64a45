package backend

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rhuss/kbqa/pkg/config"
	"github.com/rhuss/kbqa/pkg/provider"
	"github.com/rhuss/kbqa/pkg/provider/ollama"
	"github.com/rhuss/kbqa/pkg/provider/openaicompat"
)

// Dialect tags accepted in configuration.
const (
	DialectOpenAI = openaicompat.Name
	DialectOllama = ollama.Name
)

// Descriptor is the immutable configuration of one backend.
type Descriptor struct {
	ID      string
	BaseURL string
	Model   string
	Dialect string
	APIKey  string
	Timeout time.Duration
}

// NativeChat reports whether the backend speaks the local Ollama dialect.
func (d Descriptor) NativeChat() bool { return d.Dialect == DialectOllama }

// CredentialConfigured reports whether the descriptor carries a usable
// credential.
func (d Descriptor) CredentialConfigured() bool { return !IsPlaceholder(d.APIKey) }

// DescriptorFromConfig converts a configured backend into a Descriptor.
func DescriptorFromConfig(c config.BackendConfig) Descriptor {
	return Descriptor{
		ID:      c.Name,
		BaseURL: c.BaseURL,
		Model:   c.Model,
		Dialect: c.Dialect,
		APIKey:  c.APIKey,
		Timeout: c.Timeout,
	}
}

// NewDialect returns the provider.Dialect for a dialect tag.
func NewDialect(tag string) (provider.Dialect, error) {
	switch tag {
	case DialectOpenAI, "":
		return openaicompat.New(), nil
	case DialectOllama:
		return ollama.New(), nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", tag)
	}
}

var placeholderPattern = regexp.MustCompile(`^(your_.*_here|changeme|<.*>)$`)

// IsPlaceholder reports whether a credential is empty or a template value
// such as "your_deepseek_api_key_here".
func IsPlaceholder(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}
	return placeholderPattern.MatchString(strings.ToLower(key))
}
