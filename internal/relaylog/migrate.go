package relaylog

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step, applied exactly once and tracked in schema_version.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "relay_log table",
		SQL: `
		CREATE TABLE IF NOT EXISTS relay_log (
			id          TEXT PRIMARY KEY,
			channel     TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			pipeline    TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			delivered   INTEGER NOT NULL DEFAULT 1,
			latency_ms  INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_relay_log_time ON relay_log(created_at);
		`,
	},
	{
		Version:     2,
		Description: "per-user lookups",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_relay_log_user ON relay_log(user_id, created_at);`,
	},
}

// schemaVersion is the version a fully migrated database reports.
var schemaVersion = migrations[len(migrations)-1].Version

func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying relay log migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
