// Command server runs the kbqa knowledge base question answering gateway.
//
// Configuration is read from a YAML file (--config, KBQA_CONFIG,
// ./config.yaml or /etc/kbqa/config.yaml), a .env file and environment
// variables. See pkg/config for the full list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rhuss/kbqa/pkg/auth"
	"github.com/rhuss/kbqa/pkg/auth/apikey"
	"github.com/rhuss/kbqa/pkg/auth/jwt"
	"github.com/rhuss/kbqa/pkg/auth/noop"
	"github.com/rhuss/kbqa/pkg/backend"
	"github.com/rhuss/kbqa/pkg/cache"
	"github.com/rhuss/kbqa/pkg/cache/memory"
	"github.com/rhuss/kbqa/pkg/cache/postgres"
	"github.com/rhuss/kbqa/pkg/cache/sqlite"
	"github.com/rhuss/kbqa/pkg/config"
	"github.com/rhuss/kbqa/pkg/engine"
	"github.com/rhuss/kbqa/pkg/gateway"
	"github.com/rhuss/kbqa/pkg/logging"
	"github.com/rhuss/kbqa/pkg/retriever"
	"github.com/rhuss/kbqa/pkg/retriever/pgvector"
	"github.com/rhuss/kbqa/pkg/retriever/qdrant"
	"github.com/rhuss/kbqa/pkg/transport"
	transporthttp "github.com/rhuss/kbqa/pkg/transport/http"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	_, logCloser, err := logging.Init(cfg.Logging)
	if err != nil {
		slog.Warn("log file unavailable, logging to stderr", "error", err)
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// LLM backends.
	registry, err := backend.FromConfig(cfg.LLM)
	if err != nil {
		return fmt.Errorf("creating backend registry: %w", err)
	}
	defer registry.Close()
	gw := gateway.New(registry, cfg.LLM.MaxTokens)

	// Knowledge base.
	ret, err := newRetriever(ctx, cfg.Retriever)
	if err != nil {
		return fmt.Errorf("creating retriever: %w", err)
	}
	defer ret.Close()

	// Answer cache.
	answerCache := newCache(ctx, cfg.Cache)
	defer answerCache.Close()
	stopPurge := cache.StartPurger(ctx, answerCache, cfg.Cache.PurgeInterval)
	defer stopPurge()

	eng, err := engine.New(gw, retriever.WithMetrics(ret), answerCache, engine.Config{
		CacheTTL: cfg.Cache.TTL,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	admin, err := newAdminMiddleware(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configuring auth: %w", err)
	}

	adapterCfg := transporthttp.DefaultConfig()
	adapterCfg.MaxBodySize = cfg.Server.MaxBodySize
	adapterCfg.Version = version
	adapterCfg.Admin = admin
	adapterCfg.Components = map[string]string{
		"vector_db": ret.Name(),
		"cache":     cfg.Cache.Type,
		"embedding": cfg.Retriever.Embedding.Provider + "/" + cfg.Retriever.Embedding.Model,
	}
	adapterCfg.MetricsPath = ""
	if cfg.Observability.Metrics.Enabled {
		adapterCfg.MetricsPath = cfg.Observability.Metrics.Path
	}
	adapter := transporthttp.NewAdapter(eng, registry, answerCache, adapterCfg)

	// Evaluate backend health in the background so the first request does
	// not pay for the probes.
	go registry.CheckHealth(ctx)

	srv := transporthttp.NewServer(adapter,
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)

	slog.Info("kbqa starting",
		"version", version,
		"port", cfg.Server.Port,
		"retriever", ret.Name(),
		"collection", cfg.Retriever.Collection,
		"cache", cfg.Cache.Type,
		"cache_available", answerCache.Available(),
		"auth", cfg.Auth.Type,
		"backend", registry.Active().ID,
	)

	serveErr := srv.Run(ctx)

	// Pending cache writes get the remainder of the shutdown budget.
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := eng.Close(closeCtx); err != nil {
		slog.Warn("pending cache writes dropped", "error", err)
	}

	return serveErr
}

// newRetriever builds the configured vector store client.
func newRetriever(ctx context.Context, cfg config.RetrieverConfig) (retriever.Retriever, error) {
	embedder, err := retriever.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	switch cfg.Type {
	case "qdrant":
		return qdrant.New(cfg.Qdrant.URL, cfg.Qdrant.APIKey, cfg.Collection, embedder), nil
	case "pgvector":
		table := cfg.PGVector.Table
		if table == "" {
			table = cfg.Collection
		}
		return pgvector.New(ctx, pgvector.Config{
			DSN:      cfg.PGVector.DSN,
			Table:    table,
			MaxConns: cfg.PGVector.MaxConns,
		}, embedder)
	default:
		return nil, fmt.Errorf("unknown retriever type %q", cfg.Type)
	}
}

// newCache builds the configured answer cache. A store that cannot be
// reached degrades to the no-op cache instead of failing startup.
func newCache(ctx context.Context, cfg config.CacheConfig) cache.Cache {
	var (
		c   cache.Cache
		err error
	)
	switch cfg.Type {
	case "memory":
		c = memory.New(cfg.MaxSize)
	case "postgres":
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		c, err = postgres.New(initCtx, postgres.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
	case "sqlite":
		c, err = sqlite.New(cfg.SQLite.Path)
	default:
		slog.Info("answer cache disabled")
		return cache.Noop{}
	}

	if err != nil {
		slog.Warn("answer cache unavailable, continuing without cache",
			"type", cfg.Type,
			"error", err,
			"unavailable", errors.Is(err, cache.ErrUnavailable),
		)
		return cache.Noop{}
	}
	slog.Info("answer cache enabled", "type", cfg.Type, "ttl", cfg.TTL)
	return c
}

// newAdminMiddleware protects the administrative routes. Auth type "none"
// leaves them open.
func newAdminMiddleware(cfg config.AuthConfig) (transport.Middleware, error) {
	chain := &auth.AuthChain{DefaultDecision: auth.No}

	switch cfg.Type {
	case "", "none":
		chain.Authenticators = []auth.Authenticator{noop.Authenticator{}}
	case "apikey":
		chain.Authenticators = []auth.Authenticator{apikey.FromConfig(cfg.APIKeys)}
	case "jwt":
		a, err := jwt.FromConfig(cfg.JWT)
		if err != nil {
			return nil, err
		}
		chain.Authenticators = []auth.Authenticator{a}
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Type)
	}

	var limiter auth.RateLimiter
	if cfg.RateLimitRPM > 0 {
		limiter = auth.NewInProcessLimiter(nil, cfg.RateLimitRPM)
	}
	return auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints), nil
}
