package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/personaorch/internal/db"
)

// OpenPostgres opens a Postgres-backed SQLiteStore (the name is historical;
// the SQL in sqlite.go is written to be portable across both dialects via
// sqlx's Rebind). Both the writer and reader pools point at the same DSN:
// pgx manages connection pooling internally, so there is no WAL-style
// single-writer restriction to honor here.
func OpenPostgres(dsn string, maxConns, minConns int) (*SQLiteStore, error) {
	conn, err := db.OpenPostgres(dsn, maxConns, minConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlxDB := sqlx.NewDb(conn, "pgx")
	pool := db.NewPool(sqlxDB, sqlxDB)
	store, err := NewWithPool(pool)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}
