// Package pgvector implements retriever.Retriever on a PostgreSQL table with
// a pgvector embedding column. Expected layout:
//
//	CREATE TABLE chunks (
//	    id        BIGSERIAL PRIMARY KEY,
//	    content   TEXT NOT NULL,
//	    metadata  JSONB NOT NULL DEFAULT '{}',
//	    embedding vector(N) NOT NULL
//	);
package pgvector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/rhuss/kbqa/pkg/api"
	"github.com/rhuss/kbqa/pkg/retriever"
)

// Name identifies this retriever in metrics and health output.
const Name = "pgvector"

// DefaultTable is the chunk table queried when none is configured.
const DefaultTable = "chunks"

// Config holds the pgvector retriever settings.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

// Retriever searches a pgvector table by cosine distance.
type Retriever struct {
	pool     *pgxpool.Pool
	table    string
	embedder retriever.Embedder
}

var _ retriever.Retriever = (*Retriever)(nil)

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, cfg Config, embedder retriever.Embedder) (*Retriever, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return newWithPool(pool, cfg.Table, embedder), nil
}

func newWithPool(pool *pgxpool.Pool, table string, embedder retriever.Embedder) *Retriever {
	if table == "" {
		table = DefaultTable
	}
	return &Retriever{pool: pool, table: table, embedder: embedder}
}

func (r *Retriever) Name() string { return Name }

// searchQuery returns the similarity query for table. Source is matched as a
// substring of metadata.source, type exactly against metadata.file_type.
func searchQuery(table string) string {
	return fmt.Sprintf(`
		SELECT content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE ($2 = '' OR strpos(metadata->>'source', $2) > 0)
		  AND ($3 = '' OR metadata->>'file_type' = $3)
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgx.Identifier{table}.Sanitize())
}

// Search embeds query and returns the topK nearest chunks.
func (r *Retriever) Search(ctx context.Context, query string, topK int, f retriever.Filter) ([]api.SearchResult, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := r.pool.Query(ctx, searchQuery(r.table),
		pgvector.NewVector(embedding), f.Source, f.Type, topK)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", r.table, err)
	}
	defer rows.Close()

	var results []api.SearchResult
	for rows.Next() {
		var res api.SearchResult
		if err := rows.Scan(&res.Text, &res.Metadata, &res.Score); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if res.Metadata == nil {
			res.Metadata = map[string]any{}
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}

	return retriever.Rank(results), nil
}

// Stats counts the chunks in the table.
func (r *Retriever) Stats(ctx context.Context) (retriever.Stats, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s", pgx.Identifier{r.table}.Sanitize()),
	).Scan(&count)
	if err != nil {
		return retriever.Stats{Status: retriever.StatusError, Collection: r.table},
			fmt.Errorf("counting chunks: %w", err)
	}
	return retriever.Stats{TotalChunks: count, Status: retriever.StatusHealthy, Collection: r.table}, nil
}

// HealthCheck verifies the database connection.
func (r *Retriever) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Retriever) Close() error {
	r.pool.Close()
	return nil
}
