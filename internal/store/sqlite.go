package store

import (
	"context"
	"database/sql"
	"fmt"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS forum_posts (
	id TEXT PRIMARY KEY,
	author_id TEXT NOT NULL,
	category TEXT NOT NULL,
	document TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS forum_posts_category_created_idx ON forum_posts (category, created_at DESC);
CREATE INDEX IF NOT EXISTS forum_posts_author_idx ON forum_posts (author_id);
`

// SQLiteStore serves local development and tests.
type SQLiteStore struct {
	sqlPostStore
}

func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return &SQLiteStore{sqlPostStore{db: db, bind: bindQuestion}}, nil
}
