package store

import "database/sql"

// PostgresStore is the default backend. The schema lives in db/migrations and
// is applied with ApplyMigrations.
type PostgresStore struct {
	sqlPostStore
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlPostStore{db: db, bind: bindDollar}}
}
