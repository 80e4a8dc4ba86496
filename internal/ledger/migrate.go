package ledger

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// Each migration is applied once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "jobs table",
		SQL: `
		CREATE TABLE IF NOT EXISTS jobs (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			channel         TEXT,
			kind            TEXT NOT NULL,
			status          TEXT NOT NULL,
			stage           TEXT,
			error           TEXT,
			artifact_size   INTEGER DEFAULT 0,
			started_at      DATETIME NOT NULL,
			finished_at     DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_conv ON jobs(conversation_id, finished_at);
		`,
	},
	{
		Version:     2,
		Description: "page count for pdf jobs",
		SQL: `
		ALTER TABLE jobs ADD COLUMN pages INTEGER DEFAULT 0;
		CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(finished_at);
		`,
	},
}

// RunMigrations applies every pending migration in its own transaction.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying ledger migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		for _, stmt := range splitSQL(m.SQL) {
			if _, err := tx.Exec(stmt); err != nil {
				if isAlreadyApplied(err) {
					logger.Debug("migration statement skipped", "version", m.Version, "err", err)
					continue
				}
				tx.Rollback()
				return fmt.Errorf("migration v%d: %w", m.Version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
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

// GetSchemaVersion returns 0 for a database without migrations.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}

func isAlreadyApplied(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "duplicate column") || strings.Contains(s, "already exists")
}

func splitSQL(sql string) []string {
	var out []string
	for _, s := range strings.Split(sql, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
