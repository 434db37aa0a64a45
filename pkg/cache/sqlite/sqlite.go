// Package sqlite provides a single-file SQLite implementation of cache.Cache
// for deployments without Redis or PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/cache"
)

// Cache wraps the SQLite database connection.
type Cache struct {
	conn *sql.DB
	now  func() time.Time
}

var (
	_ cache.Cache  = (*Cache)(nil)
	_ cache.Purger = (*Cache)(nil)
)

// New opens (or creates) the database at path and initializes the schema.
func New(path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	c := &Cache{conn: conn, now: time.Now}
	if err := c.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return c, nil
}

// initSchema creates the required tables if they don't exist
func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS answer_cache (
		key TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		value TEXT NOT NULL,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_answer_cache_expires_at ON answer_cache(expires_at);
	`

	_, err := c.conn.Exec(schema)
	return err
}

// Get returns the cached answer, or nil when absent or expired.
func (c *Cache) Get(ctx context.Context, question string) (*api.CachedAnswer, error) {
	var value string
	err := c.conn.QueryRowContext(ctx,
		`SELECT value FROM answer_cache WHERE key = ? AND expires_at > ?`,
		cache.Key(question), c.now().UnixMilli(),
	).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query answer cache: %w", err)
	}

	var answer api.CachedAnswer
	if err := json.Unmarshal([]byte(value), &answer); err != nil {
		return nil, fmt.Errorf("failed to decode cached answer: %w", err)
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
		return fmt.Errorf("failed to encode cached answer: %w", err)
	}

	now := c.now()
	_, err = c.conn.ExecContext(ctx, `
		INSERT INTO answer_cache (key, question, value, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			question = excluded.question,
			value = excluded.value,
			expires_at = excluded.expires_at
	`,
		cache.Key(question), cache.NormalizeQuestion(question), string(value),
		now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write answer cache: %w", err)
	}
	return nil
}

// Clear removes every cached answer.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	result, err := c.conn.ExecContext(ctx, `DELETE FROM answer_cache`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear answer cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PurgeExpired deletes entries whose TTL has passed.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	result, err := c.conn.ExecContext(ctx,
		`DELETE FROM answer_cache WHERE expires_at <= ?`, c.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge answer cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (c *Cache) Available() bool { return true }

// HealthCheck pings the database.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.conn.PingContext(ctx)
}

// Close closes the database connection
func (c *Cache) Close() error {
	return c.conn.Close()
}
