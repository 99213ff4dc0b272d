package postgres

import (
	"context"
	"fmt"

	"github.com/FranksOps/serpent/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS serp_pages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	query TEXT NOT NULL,
	page_index INTEGER NOT NULL,
	total_estimate BIGINT NOT NULL,
	next TEXT NOT NULL,
	results JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, page_index)
);
CREATE INDEX IF NOT EXISTS serp_pages_query_idx ON serp_pages (query, created_at DESC);
`

// New connects to Postgres and creates the schema if needed.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, rec *storage.PageRecord) error {
	results := rec.Results
	if results == nil {
		results = []storage.ResultRow{}
	}

	_, err := b.pool.Exec(ctx, `
	INSERT INTO serp_pages (id, session_id, query, page_index, total_estimate, next, results, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SessionID, rec.Query, rec.PageIndex, rec.TotalEstimate, rec.Next, results, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.PageRecord, error) {
	query := `SELECT id, session_id, query, page_index, total_estimate, next, results, created_at FROM serp_pages WHERE 1=1`
	args := pgx.NamedArgs{}

	if filter.Query != "" {
		query += ` AND query = @query`
		args["query"] = filter.Query
	}
	if filter.SessionID != "" {
		query += ` AND session_id = @session_id`
		args["session_id"] = filter.SessionID
	}
	if filter.Since != nil {
		query += ` AND created_at >= @since`
		args["since"] = *filter.Since
	}

	query += ` ORDER BY created_at DESC, page_index DESC`

	if filter.Limit > 0 {
		query += ` LIMIT @limit`
		args["limit"] = filter.Limit
	}
	if filter.Offset > 0 {
		query += ` OFFSET @offset`
		args["offset"] = filter.Offset
	}

	rows, err := b.pool.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*storage.PageRecord, error) {
		var r storage.PageRecord
		err := row.Scan(&r.ID, &r.SessionID, &r.Query, &r.PageIndex, &r.TotalEstimate, &r.Next, &r.Results, &r.CreatedAt)
		return &r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pages: %w", err)
	}
	return recs, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
