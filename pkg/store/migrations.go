package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Dialect selects the SQL flavor the migrations are rendered for.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// serial renders the auto-incrementing primary key column for the dialect.
func serial(d Dialect) string {
	if d == DialectSQLite {
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// Migrations returns all schema migrations for the given dialect. The column
// set is shared; only the primary key declaration differs.
func Migrations(d Dialect) []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS users (
					id %s,
					username VARCHAR(150) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					is_superuser BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
			`, serial(d)),
		},
		{
			Version:     2,
			Description: "Create ambulances table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS ambulances (
					id %s,
					identifier VARCHAR(50) NOT NULL UNIQUE,
					capability VARCHAR(1) NOT NULL DEFAULT 'B',
					status VARCHAR(2) NOT NULL DEFAULT 'UK',
					comment VARCHAR(254) NOT NULL DEFAULT '',
					updated_at TIMESTAMP NOT NULL
				);
			`, serial(d)),
		},
		{
			Version:     3,
			Description: "Create hospitals table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS hospitals (
					id %s,
					name VARCHAR(254) NOT NULL UNIQUE,
					address VARCHAR(254) NOT NULL DEFAULT '',
					comment VARCHAR(254) NOT NULL DEFAULT '',
					updated_at TIMESTAMP NOT NULL
				);
			`, serial(d)),
		},
		{
			Version:     4,
			Description: "Create equipment tables",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS equipment (
					id %s,
					name VARCHAR(254) NOT NULL UNIQUE,
					etype VARCHAR(1) NOT NULL,
					toggleable BOOLEAN NOT NULL DEFAULT FALSE
				);
				CREATE TABLE IF NOT EXISTS hospital_equipment (
					id %s,
					hospital_id BIGINT NOT NULL REFERENCES hospitals(id) ON DELETE CASCADE,
					equipment_id BIGINT NOT NULL REFERENCES equipment(id) ON DELETE CASCADE,
					value VARCHAR(254) NOT NULL DEFAULT '',
					comment VARCHAR(254) NOT NULL DEFAULT '',
					quantity INTEGER NOT NULL DEFAULT 0,
					updated_at TIMESTAMP NOT NULL,
					UNIQUE(hospital_id, equipment_id)
				);
			`, serial(d), serial(d)),
		},
		{
			Version:     5,
			Description: "Create permission tables",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS ambulance_permissions (
					id %s,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					ambulance_id BIGINT NOT NULL REFERENCES ambulances(id) ON DELETE CASCADE,
					can_read BOOLEAN NOT NULL DEFAULT FALSE,
					can_write BOOLEAN NOT NULL DEFAULT FALSE,
					UNIQUE(user_id, ambulance_id)
				);
				CREATE TABLE IF NOT EXISTS hospital_permissions (
					id %s,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					hospital_id BIGINT NOT NULL REFERENCES hospitals(id) ON DELETE CASCADE,
					can_read BOOLEAN NOT NULL DEFAULT FALSE,
					can_write BOOLEAN NOT NULL DEFAULT FALSE,
					UNIQUE(user_id, hospital_id)
				);
				CREATE INDEX IF NOT EXISTS idx_ambulance_permissions_user_id ON ambulance_permissions(user_id);
				CREATE INDEX IF NOT EXISTS idx_hospital_permissions_user_id ON hospital_permissions(user_id);
			`, serial(d), serial(d)),
		},
		{
			Version:     6,
			Description: "Create temporary tokens table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS temporary_tokens (
					id %s,
					user_id BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
					secret VARCHAR(128) NOT NULL,
					salt VARCHAR(64) NOT NULL,
					issued_at TIMESTAMP NOT NULL
				);
			`, serial(d)),
		},
	}
}

// Migrate applies all pending migrations, tracking progress in a
// schema_migrations table. Each migration runs in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR(255) NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range Migrations(d) {
		applied, err := migrationApplied(ctx, db, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version int) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}
	return count > 0, nil
}
