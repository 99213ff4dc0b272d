package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/FranksOps/serpent/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	query TEXT NOT NULL,
	page_index INTEGER NOT NULL,
	total_estimate INTEGER NOT NULL,
	next TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS pages_query_idx ON pages (query, created_at);
CREATE TABLE IF NOT EXISTS results (
	page_id TEXT NOT NULL REFERENCES pages (id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	title TEXT NOT NULL,
	url TEXT NOT NULL,
	PRIMARY KEY (page_id, position)
);
`

// New opens (and migrates) a SQLite database at dsn.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps in-memory databases and file locks consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, rec *storage.PageRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO pages (id, session_id, query, page_index, total_estimate, next, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Query, rec.PageIndex, rec.TotalEstimate, rec.Next, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}

	for _, r := range rec.Results {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO results (page_id, position, title, url) VALUES (?, ?, ?, ?)`,
			rec.ID, r.Position, r.Title, r.URL,
		)
		if err != nil {
			return fmt.Errorf("insert result %d: %w", r.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.PageRecord, error) {
	query := `SELECT id, session_id, query, page_index, total_estimate, next, created_at FROM pages WHERE 1=1`
	args := []any{}

	if filter.Query != "" {
		query += ` AND query = ?`
		args = append(args, filter.Query)
	}
	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY created_at DESC, page_index DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var recs []*storage.PageRecord
	byID := map[string]*storage.PageRecord{}
	for rows.Next() {
		var r storage.PageRecord
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Query, &r.PageIndex, &r.TotalEstimate, &r.Next, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		recs = append(recs, &r)
		byID[r.ID] = &r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}

	if err := b.loadResults(ctx, byID); err != nil {
		return nil, err
	}
	return recs, nil
}

func (b *sqliteBackend) loadResults(ctx context.Context, byID map[string]*storage.PageRecord) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]any, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := b.db.QueryContext(ctx,
		`SELECT page_id, position, title, url FROM results WHERE page_id IN (`+placeholders+`) ORDER BY page_id, position`,
		ids...,
	)
	if err != nil {
		return fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pageID string
		var r storage.ResultRow
		if err := rows.Scan(&pageID, &r.Position, &r.Title, &r.URL); err != nil {
			return fmt.Errorf("scan result: %w", err)
		}
		rec := byID[pageID]
		rec.Results = append(rec.Results, r)
	}
	return rows.Err()
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
