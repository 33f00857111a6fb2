package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	_ "github.com/sijms/go-ora/v2"  // Oracle driver
)

// OpenDatabase opens and pings a connection pool for config.Driver
func OpenDatabase(ctx context.Context, config DatabaseConfig) (*sql.DB, error) {
	switch config.Driver {
	case DriverPostgres, DriverSQLite, DriverOracle:
	default:
		return nil, fmt.Errorf("unsupported database driver %q (must be postgres, sqlite3 or oracle)", config.Driver)
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("%s DSN is required", config.Driver)
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", config.Driver, err)
	}

	configurePool(db, config)

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", config.Driver, err)
	}

	return db, nil
}

func configurePool(db *sql.DB, config DatabaseConfig) {
	// every connection to an in-memory sqlite database sees its own database
	if config.Driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		return
	}
	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)
}
