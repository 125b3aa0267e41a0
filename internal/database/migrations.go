package database

import (
	"database/sql"
	"fmt"
)

const migrationsSQL = `
-- Submitted o2sparc jobs
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    solver_key TEXT NOT NULL,
    solver_version TEXT NOT NULL,
    job_id TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'PUBLISHED',
    progress REAL NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(job_id)
);

CREATE INDEX IF NOT EXISTS idx_jobs_solver ON jobs(solver_key, solver_version);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

-- Settings table (key-value store for simple settings)
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// RunMigrations executes all database migrations
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(migrationsSQL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// SQLite has no ADD COLUMN IF NOT EXISTS, so check first
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('jobs') WHERE name='profile'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check profile column: %w", err)
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE jobs ADD COLUMN profile TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add profile column: %w", err)
		}
	}
	return nil
}
