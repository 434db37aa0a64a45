// Package postgres provides a PostgreSQL implementation of cache.Cache.
// It uses pgx/v5 for connection pooling and JSONB for the cached answers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/cache"
)

// Cache is a PostgreSQL-backed answer cache.
type Cache struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Ensure Cache implements cache.Cache at compile time.
var (
	_ cache.Cache  = (*Cache)(nil)
	_ cache.Purger = (*Cache)(nil)
)

// New connects to PostgreSQL with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w: %w", cache.ErrUnavailable, err)
	}

	c := &Cache{pool: pool, now: time.Now}

	if cfg.MigrateOnStart {
		if err := c.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return c, nil
}

// Get returns the cached answer, or nil when absent or expired.
func (c *Cache) Get(ctx context.Context, question string) (*api.CachedAnswer, error) {
	var value []byte
	err := c.pool.QueryRow(ctx,
		"SELECT value FROM answer_cache WHERE key = $1 AND expires_at > $2",
		cache.Key(question), c.now(),
	).Scan(&value)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying answer cache: %w", err)
	}

	var answer api.CachedAnswer
	if err := json.Unmarshal(value, &answer); err != nil {
		return nil, fmt.Errorf("unmarshaling cached answer: %w", err)
	}
	return &answer, nil
}

// Set upserts answer with an expiry of now+ttl.
func (c *Cache) Set(ctx context.Context, question string, answer *api.CachedAnswer, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}

	value, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshaling cached answer: %w", err)
	}

	_, err = c.pool.Exec(ctx, `
		INSERT INTO answer_cache (key, question, value, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET question = EXCLUDED.question, value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`,
		cache.Key(question), cache.NormalizeQuestion(question), value, c.now().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("writing answer cache: %w", err)
	}
	return nil
}

// Clear removes every cached answer.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	result, err := c.pool.Exec(ctx, "DELETE FROM answer_cache")
	if err != nil {
		return 0, fmt.Errorf("clearing answer cache: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// PurgeExpired deletes entries whose TTL has passed.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	result, err := c.pool.Exec(ctx, "DELETE FROM answer_cache WHERE expires_at <= $1", c.now())
	if err != nil {
		return 0, fmt.Errorf("purging answer cache: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// Available always reports true; an unreachable database fails New.
func (c *Cache) Available() bool { return true }

// HealthCheck verifies the database connection.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	c.pool.Close()
	return nil
}
