package app

import (
	"database/sql"
	"fmt"

	"github.com/guttosm/equitypanel/config"
	"github.com/guttosm/equitypanel/internal/storage"

	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
)

// sqlOpener is an indirection for unit testing; defaults to sql.Open.
var sqlOpener = sql.Open

// migrator applies the panel schema; overridden in tests that run on sqlmock.
var migrator = storage.Migrate

// InitPostgres opens and pings the panel database described by cfg.Postgres.
//
// Behavior:
//   - Uses cfg.Postgres.URL when set, otherwise builds the DSN from the
//     individual fields.
//   - Pings once so a wrong host or credential fails at startup, not on the
//     first publish.
//
// Returns:
//   - *sql.DB: an open connection pool (safe for concurrent use).
//   - error: if opening or pinging fails.
func InitPostgres(cfg config.Config) (*sql.DB, error) {
	dsn := cfg.Postgres.URL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Postgres.User,
			cfg.Postgres.Password,
			cfg.Postgres.Host,
			cfg.Postgres.Port,
			cfg.Postgres.DBName,
			cfg.Postgres.SSLMode,
		)
	}

	db, err := sqlOpener("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// postgresOpener is an indirection used by the app wiring; overridden in tests to avoid real connections.
var postgresOpener = InitPostgres

// openPanelDB connects and brings the panel schema up to date.
func openPanelDB(cfg config.Config) (*sql.DB, error) {
	db, err := postgresOpener(cfg)
	if err != nil {
		return nil, err
	}
	if err := migrator(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate postgres: %w", err)
	}
	return db, nil
}
