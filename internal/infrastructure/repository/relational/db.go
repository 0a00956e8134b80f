package relational

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open prepares the structured store handle without connecting. The first
// lookup or Ping dials the backend, so an unreachable store surfaces as
// ErrBackendUnavailable per request instead of failing startup. SQLite
// handles are read-only and limited to a single connection, so concurrent
// lookups queue on the handle.
func Open(driver, dsn string) (*sql.DB, Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverPostgres:
		db, err := newPostgres(dsn)
		return db, PostgresDialect, err
	case DriverSQLite:
		db, err := newSQLite(dsn)
		return db, SQLiteDialect, err
	default:
		return nil, Dialect{}, fmt.Errorf("unsupported structured driver %q", driver)
	}
}

// OpenPostgres opens and pings a postgres handle.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := newPostgres(dsn)
	if err != nil {
		return nil, err
	}
	return pinged(ctx, db)
}

func newPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func newSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func sqliteDSN(path string) string {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)"
}

func pinged(ctx context.Context, db *sql.DB) (*sql.DB, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}
