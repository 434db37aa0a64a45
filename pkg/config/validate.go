package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if len(c.LLM.Backends) == 0 {
		errs = append(errs, fmt.Errorf("llm.backends must not be empty"))
	}
	seen := make(map[string]bool)
	for i, b := range c.LLM.Backends {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("llm.backends[%d].name is required", i))
		} else if seen[b.Name] {
			errs = append(errs, fmt.Errorf("llm.backends[%d].name %q is duplicated", i, b.Name))
		}
		seen[b.Name] = true

		switch b.Dialect {
		case "openai", "ollama":
			// valid
		default:
			errs = append(errs, fmt.Errorf("llm.backends[%d].dialect must be \"openai\" or \"ollama\", got %q", i, b.Dialect))
		}
		if b.BaseURL == "" {
			errs = append(errs, fmt.Errorf("llm.backends[%d].base_url is required", i))
		}
		if b.Model == "" {
			errs = append(errs, fmt.Errorf("llm.backends[%d].model is required", i))
		}
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be > 0, got %d", c.LLM.MaxTokens))
	}

	switch c.Retriever.Type {
	case "qdrant":
		if c.Retriever.Qdrant.URL == "" {
			errs = append(errs, fmt.Errorf("retriever.qdrant.url is required when retriever.type is \"qdrant\""))
		}
	case "pgvector":
		if c.Retriever.PGVector.DSN == "" {
			errs = append(errs, fmt.Errorf("retriever.pgvector.dsn or retriever.pgvector.dsn_file is required when retriever.type is \"pgvector\""))
		}
	default:
		errs = append(errs, fmt.Errorf("retriever.type must be \"qdrant\" or \"pgvector\", got %q", c.Retriever.Type))
	}

	switch c.Retriever.Embedding.Provider {
	case "openai":
		if c.Retriever.Embedding.URL == "" {
			errs = append(errs, fmt.Errorf("retriever.embedding.url is required for the openai embedding provider"))
		}
	case "gemini":
		if c.Retriever.Embedding.APIKey == "" {
			errs = append(errs, fmt.Errorf("retriever.embedding.api_key is required for the gemini embedding provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("retriever.embedding.provider must be \"openai\" or \"gemini\", got %q", c.Retriever.Embedding.Provider))
	}

	switch c.Cache.Type {
	case "memory", "sqlite", "none":
		// valid
	case "postgres":
		if c.Cache.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("cache.postgres.dsn or cache.postgres.dsn_file is required when cache.type is \"postgres\""))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.type must be \"memory\", \"postgres\", \"sqlite\" or \"none\", got %q", c.Cache.Type))
	}
	if c.Cache.Type != "none" && c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be > 0, got %v", c.Cache.TTL))
	}
	if c.Cache.PurgeInterval < 0 {
		errs = append(errs, fmt.Errorf("cache.purge_interval must be >= 0, got %v", c.Cache.PurgeInterval))
	}

	switch c.Auth.Type {
	case "none":
		// valid
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, fmt.Errorf("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	return errors.Join(errs...)
}
