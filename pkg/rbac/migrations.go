package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/padron/pkg/observability"
)

// Dialects understood by the migrations
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

// SQL returns the statement text for dialect
func (m Migration) SQL(dialect string) (string, error) {
	switch dialect {
	case DialectPostgres:
		return m.Postgres, nil
	case DialectSQLite:
		return m.SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// GetMigrations returns all role store migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create roles table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					parent_id BIGINT REFERENCES roles(id) ON DELETE SET NULL,
					entries JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_roles_parent_id ON roles(parent_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_single_default ON roles(is_default) WHERE is_default = TRUE;
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS roles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					parent_id INTEGER REFERENCES roles(id) ON DELETE SET NULL,
					entries TEXT NOT NULL DEFAULT '{}',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_roles_parent_id ON roles(parent_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_roles_single_default ON roles(is_default) WHERE is_default = TRUE;
			`,
		},
		{
			Version:     2,
			Description: "Create users table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					role_id BIGINT NOT NULL REFERENCES roles(id),
					is_auxiliar BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_users_role_id ON users(role_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					username TEXT NOT NULL UNIQUE,
					role_id INTEGER NOT NULL REFERENCES roles(id),
					is_auxiliar BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_users_role_id ON users(role_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations for dialect
func RunMigrations(ctx context.Context, db *sql.DB, dialect string, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS padron_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM padron_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		stmt, err := migration.SQL(dialect)
		if err != nil {
			return err
		}

		log := logger.WithFields(map[string]interface{}{
			"version": migration.Version,
			"dialect": dialect,
		})
		log.Infof("Running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO padron_migrations (version, description, applied_at) VALUES ($1, $2, $3)",
			migration.Version, migration.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		log.Info("Migration completed")
	}

	return nil
}
