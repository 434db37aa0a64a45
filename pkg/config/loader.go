package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. .env file (KBQA_ENV_FILE or ./.env), never overriding the real environment
//  3. YAML config file (explicit path, KBQA_CONFIG env, ./config.yaml, /etc/kbqa/config.yaml)
//  4. Environment variable overrides
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	applyEnvOverrides(&cfg)
	applyBackendDefaults(&cfg)

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv populates the process environment from a dotenv file. A
// missing default file is not an error; a missing explicit one is.
func loadDotEnv() error {
	path := os.Getenv("KBQA_ENV_FILE")
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. KBQA_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/kbqa/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("KBQA_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/kbqa/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
// A backends list in the file replaces the built-in list.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// backendEnv lists the legacy per-backend variable prefixes.
var backendEnv = map[string]string{
	"deepseek": "DEEPSEEK",
	"qwen":     "QWEN",
	"openai":   "OPENAI",
}

// applyEnvOverrides maps environment variables to config fields. Both the
// KBQA_* names and the legacy unprefixed names are honoured; the KBQA_*
// name wins when both are set.
func applyEnvOverrides(cfg *Config) {
	if v := firstEnv("KBQA_PORT", "API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := firstEnv("KBQA_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := firstEnv("KBQA_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := firstEnv("KBQA_LLM_BACKEND", "LLM_BACKEND"); v != "" {
		cfg.LLM.Backend = v
	}
	if v := firstEnv("KBQA_PREFER_LOCAL", "USE_LOCAL_LLM"); v != "" {
		cfg.LLM.PreferLocal = parseBool(v)
	}
	if v := firstEnv("KBQA_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}

	for name, prefix := range backendEnv {
		b := cfg.LLM.FindBackend(name)
		if b == nil {
			continue
		}
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			b.APIKey = v
		}
		if v := os.Getenv(prefix + "_API_BASE"); v != "" {
			b.BaseURL = v
		}
		if v := os.Getenv(prefix + "_MODEL"); v != "" {
			b.Model = v
		}
	}
	if b := cfg.LLM.FindBackend("ollama"); b != nil {
		if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
			b.BaseURL = v
		}
		if v := os.Getenv("OLLAMA_MODEL"); v != "" {
			b.Model = v
		}
	}

	if v := firstEnv("KBQA_RETRIEVER_TYPE"); v != "" {
		cfg.Retriever.Type = v
	}
	if v := firstEnv("KBQA_COLLECTION", "COLLECTION_NAME"); v != "" {
		cfg.Retriever.Collection = v
	}
	if v := firstEnv("KBQA_QDRANT_URL", "QDRANT_URL"); v != "" {
		cfg.Retriever.Qdrant.URL = v
	}
	if v := firstEnv("KBQA_PGVECTOR_DSN", "DATABASE_URL"); v != "" {
		cfg.Retriever.PGVector.DSN = v
	}
	if v := firstEnv("KBQA_EMBEDDING_PROVIDER"); v != "" {
		cfg.Retriever.Embedding.Provider = v
	}
	if v := firstEnv("KBQA_EMBEDDING_API_KEY", "GEMINI_API_KEY"); v != "" {
		cfg.Retriever.Embedding.APIKey = v
	}

	if v := firstEnv("KBQA_CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := firstEnv("KBQA_CACHE_TTL", "CACHE_TTL"); v != "" {
		if ttl, ok := parseTTL(v); ok {
			cfg.Cache.TTL = ttl
		}
	}
	if v := firstEnv("KBQA_CACHE_DSN"); v != "" {
		cfg.Cache.Postgres.DSN = v
	}

	if v := firstEnv("KBQA_AUTH_TYPE"); v != "" {
		cfg.Auth.Type = v
	}
	// KBQA_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("KBQA_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err == nil && len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}
	if v := firstEnv("KBQA_JWT_SECRET"); v != "" {
		cfg.Auth.JWT.Secret = v
	}
}

// applyBackendDefaults fills per-backend timeouts left unset.
func applyBackendDefaults(cfg *Config) {
	for i := range cfg.LLM.Backends {
		b := &cfg.LLM.Backends[i]
		if b.Dialect == "" {
			b.Dialect = "openai"
		}
		if b.Timeout == 0 {
			if b.Dialect == "ollama" {
				b.Timeout = 180 * time.Second
			} else {
				b.Timeout = 60 * time.Second
			}
		}
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// parseTTL accepts either a Go duration ("72h") or a number of seconds.
func parseTTL(s string) (time.Duration, bool) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, true
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var raw []struct {
		Key         string `json:"key"`
		Subject     string `json:"subject"`
		ServiceTier string `json:"service_tier"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	keys := make([]APIKeyConfig, len(raw))
	for i, k := range raw {
		keys[i] = APIKeyConfig{Key: k.Key, Subject: k.Subject, ServiceTier: k.ServiceTier}
	}
	return keys, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// llm.backends[*].api_key_file -> llm.backends[*].api_key
	for i := range cfg.LLM.Backends {
		b := &cfg.LLM.Backends[i]
		if b.APIKeyFile != "" && b.APIKey == "" {
			val, err := readSecretFile(b.APIKeyFile)
			if err != nil {
				return fmt.Errorf("llm.backends[%d].api_key_file: %w", i, err)
			}
			b.APIKey = val
		}
	}

	if e := &cfg.Retriever.Embedding; e.APIKeyFile != "" && e.APIKey == "" {
		val, err := readSecretFile(e.APIKeyFile)
		if err != nil {
			return fmt.Errorf("retriever.embedding.api_key_file: %w", err)
		}
		e.APIKey = val
	}

	if p := &cfg.Retriever.PGVector; p.DSNFile != "" && p.DSN == "" {
		val, err := readSecretFile(p.DSNFile)
		if err != nil {
			return fmt.Errorf("retriever.pgvector.dsn_file: %w", err)
		}
		p.DSN = val
	}

	// cache.postgres.dsn_file -> cache.postgres.dsn
	if p := &cfg.Cache.Postgres; p.DSNFile != "" && p.DSN == "" {
		val, err := readSecretFile(p.DSNFile)
		if err != nil {
			return fmt.Errorf("cache.postgres.dsn_file: %w", err)
		}
		p.DSN = val
	}

	// auth.api_keys[*].key_file -> auth.api_keys[*].key
	for i := range cfg.Auth.APIKeys {
		if cfg.Auth.APIKeys[i].KeyFile != "" && cfg.Auth.APIKeys[i].Key == "" {
			val, err := readSecretFile(cfg.Auth.APIKeys[i].KeyFile)
			if err != nil {
				return fmt.Errorf("auth.api_keys[%d].key_file: %w", i, err)
			}
			cfg.Auth.APIKeys[i].Key = val
		}
	}

	if j := &cfg.Auth.JWT; j.SecretFile != "" && j.Secret == "" {
		val, err := readSecretFile(j.SecretFile)
		if err != nil {
			return fmt.Errorf("auth.jwt.secret_file: %w", err)
		}
		j.Secret = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
