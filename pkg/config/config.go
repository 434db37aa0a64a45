// Package config provides unified configuration for the kbqa gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. .env file (values already in the environment win)
//  3. YAML config file (discovered or explicitly specified)
//  4. Environment variable overrides (KBQA_ prefix and legacy names)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for the kbqa gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	LLM           LLMConfig           `yaml:"llm"`
	Retriever     RetrieverConfig     `yaml:"retriever"`
	Cache         CacheConfig         `yaml:"cache"`
	Auth          AuthConfig          `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8000
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 0 (streams are unbounded)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 15s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 1 MiB
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // ERROR, WARN, INFO, DEBUG, TRACE
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file"`   // empty logs to stderr
	Debug      string `yaml:"debug"`  // comma separated debug categories
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LLMConfig holds the generation backend settings.
type LLMConfig struct {
	Backend       string          `yaml:"backend"`        // explicit override, "auto" or empty for detection
	PreferLocal   bool            `yaml:"prefer_local"`   // select the native-chat backend first
	HealthTimeout time.Duration   `yaml:"health_timeout"` // default: 5s
	MaxTokens     int             `yaml:"max_tokens"`     // default: 2000
	Backends      []BackendConfig `yaml:"backends"`       // priority order
}

// BackendConfig describes one LLM backend.
type BackendConfig struct {
	Name       string        `yaml:"name"`
	Dialect    string        `yaml:"dialect"` // "openai" or "ollama"
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	Timeout    time.Duration `yaml:"timeout"`      // default: 60s, 180s for ollama
}

// RetrieverConfig holds knowledge base search settings.
type RetrieverConfig struct {
	Type       string          `yaml:"type"` // "qdrant" or "pgvector"
	Collection string          `yaml:"collection"`
	Qdrant     QdrantConfig    `yaml:"qdrant"`
	PGVector   PGVectorConfig  `yaml:"pgvector"`
	Embedding  EmbeddingConfig `yaml:"embedding"`
}

// QdrantConfig holds Qdrant REST settings.
type QdrantConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// PGVectorConfig holds PostgreSQL pgvector settings.
type PGVectorConfig struct {
	DSN      string `yaml:"dsn"`
	DSNFile  string `yaml:"dsn_file"`
	Table    string `yaml:"table"` // default: "chunks"
	MaxConns int32  `yaml:"max_conns"`
}

// EmbeddingConfig holds the query embedding settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "openai" or "gemini"
	URL        string `yaml:"url"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
	Dimensions int    `yaml:"dimensions"`
}

// CacheConfig holds answer cache settings.
type CacheConfig struct {
	Type          string         `yaml:"type"`           // "memory", "postgres", "sqlite" or "none"
	TTL           time.Duration  `yaml:"ttl"`            // default: 72h
	MaxSize       int            `yaml:"max_size"`       // for memory cache, default: 10000
	PurgeInterval time.Duration  `yaml:"purge_interval"` // expired-row cleanup for postgres/sqlite, default: 1h, 0 disables
	Postgres      PostgresConfig `yaml:"postgres"`
	SQLite        SQLiteConfig   `yaml:"sqlite"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// SQLiteConfig holds SQLite cache settings.
type SQLiteConfig struct {
	Path string `yaml:"path"` // default: "data/cache.db"
}

// AuthConfig holds authentication settings for the admin routes.
type AuthConfig struct {
	Type         string         `yaml:"type"`     // "none", "apikey" or "jwt", default: "none"
	APIKeys      []APIKeyConfig `yaml:"api_keys"` // API key entries for type=apikey
	JWT          JWTConfig      `yaml:"jwt"`
	RateLimitRPM int            `yaml:"rate_limit_rpm"` // 0 disables rate limiting
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key         string `yaml:"key"`
	KeyFile     string `yaml:"key_file"` // _file variant for key
	Subject     string `yaml:"subject"`
	ServiceTier string `yaml:"service_tier"`
}

// JWTConfig holds HS256 token validation settings.
type JWTConfig struct {
	Secret     string `yaml:"secret"`
	SecretFile string `yaml:"secret_file"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// DefaultBackends returns the built-in backend set in priority order.
func DefaultBackends() []BackendConfig {
	return []BackendConfig{
		{Name: "deepseek", Dialect: "openai", BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat"},
		{Name: "qwen", Dialect: "openai", BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-turbo"},
		{Name: "openai", Dialect: "openai", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
		{Name: "ollama", Dialect: "ollama", BaseURL: "http://localhost:11434", Model: "qwen3:4b"},
	}
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodySize:     1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		LLM: LLMConfig{
			Backend:       "auto",
			HealthTimeout: 5 * time.Second,
			MaxTokens:     2000,
			Backends:      DefaultBackends(),
		},
		Retriever: RetrieverConfig{
			Type:       "qdrant",
			Collection: "conscription",
			Qdrant: QdrantConfig{
				URL: "http://localhost:6333",
			},
			PGVector: PGVectorConfig{
				Table:    "chunks",
				MaxConns: 10,
			},
			Embedding: EmbeddingConfig{
				Provider: "openai",
				URL:      "http://localhost:11434/v1",
				Model:    "bge-m3",
			},
		},
		Cache: CacheConfig{
			Type:          "memory",
			TTL:           72 * time.Hour,
			MaxSize:       10000,
			PurgeInterval: time.Hour,
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
			SQLite: SQLiteConfig{
				Path: "data/cache.db",
			},
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// FindBackend returns the configured backend with the given name, or nil.
func (c *LLMConfig) FindBackend(name string) *BackendConfig {
	for i := range c.Backends {
		if c.Backends[i].Name == name {
			return &c.Backends[i]
		}
	}
	return nil
}
