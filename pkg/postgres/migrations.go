package postgres

import (
	"database/sql"
	"log"
)

// RunMigrations executes database migrations.
func RunMigrations(db *sql.DB, service string) error {
	migrations := getServiceMigrations(service)
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Printf("Migrations completed for service: %s", service)
	return nil
}

func getServiceMigrations(service string) []string {
	profile := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			external_id VARCHAR(255) NOT NULL UNIQUE,
			username VARCHAR(255) NOT NULL,
			email VARCHAR(255),
			first_name VARCHAR(255) NOT NULL DEFAULT '',
			last_name VARCHAR(255) NOT NULL DEFAULT '',
			roles TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_roles ON users USING GIN (roles)`,
		`CREATE TABLE IF NOT EXISTS account_deletions (
			id BIGSERIAL PRIMARY KEY,
			external_id VARCHAR(255) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			stage VARCHAR(32) NOT NULL,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	// Downstream services only track which deletion events they have handled.
	cleanup := []string{
		`CREATE TABLE IF NOT EXISTS processed_deletions (
			dedup_key VARCHAR(300) PRIMARY KEY,
			user_external_id VARCHAR(255) NOT NULL,
			deletion_timestamp TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			correlation_id VARCHAR(36),
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	switch service {
	case "api":
		return profile
	case "assignment", "scheduling", "journal":
		return cleanup
	default:
		return profile
	}
}
