package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "hierarchical_timestamps: last-change tracking per (scope, level)",
		SQL: `
CREATE TABLE hierarchical_timestamps (
    id            INTEGER PRIMARY KEY,
    scope_path    TEXT NOT NULL,
    scope_level   TEXT NOT NULL CHECK (scope_level IN ('project', 'domain', 'module', 'file')),
    last_change   INTEGER NOT NULL,
    change_source TEXT,
    change_type   TEXT NOT NULL DEFAULT 'content_modified',

    UNIQUE (scope_path, scope_level)
);

CREATE INDEX idx_ts_scope  ON hierarchical_timestamps(scope_path);
CREATE INDEX idx_ts_change ON hierarchical_timestamps(last_change DESC);
`,
	},
	{
		Version:     2,
		Description: "analysis_artifacts: content-addressed analysis results",
		SQL: `
CREATE TABLE analysis_artifacts (
    id                   TEXT PRIMARY KEY,
    analysis_type        TEXT NOT NULL,
    project_id           TEXT NOT NULL,
    scope_path           TEXT NOT NULL,
    full_scope           TEXT NOT NULL,
    scope_level          TEXT NOT NULL,
    result_data          TEXT NOT NULL,
    content_hash         TEXT NOT NULL,
    source_files         TEXT,
    source_file_count    INTEGER NOT NULL DEFAULT 0,
    analysis_timestamp   INTEGER NOT NULL,
    analysis_duration_ms INTEGER NOT NULL DEFAULT 0,
    embedding            BLOB
);

CREATE INDEX idx_art_dedup   ON analysis_artifacts(project_id, scope_path, content_hash);
CREATE INDEX idx_art_recency ON analysis_artifacts(scope_path, analysis_timestamp DESC);
CREATE INDEX idx_art_type    ON analysis_artifacts(analysis_type);
`,
	},
	{
		Version:     3,
		Description: "project_contexts: per-project metadata",
		SQL: `
CREATE TABLE project_contexts (
    project_id   TEXT PRIMARY KEY,
    project_name TEXT NOT NULL,
    base_scope   TEXT NOT NULL,
    description  TEXT,
    is_active    INTEGER NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL,
    last_updated INTEGER NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "archived_artifacts: archival records for lifecycle operations",
		SQL: `
CREATE TABLE archived_artifacts (
    original_id        TEXT PRIMARY KEY,
    archived_at        INTEGER NOT NULL,
    archive_reason     TEXT,
    scope_path         TEXT NOT NULL,
    project_id         TEXT NOT NULL,
    analysis_type      TEXT NOT NULL,
    original_timestamp INTEGER NOT NULL,
    content_hash       TEXT NOT NULL,
    archive_location   TEXT,
    compressed_bytes   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX idx_arch_scope ON archived_artifacts(project_id, scope_path);
`,
	},
	{
		Version:     5,
		Description: "refresh_queue: artifacts queued for re-analysis",
		SQL: `
CREATE TABLE refresh_queue (
    id          INTEGER PRIMARY KEY,
    artifact_id TEXT NOT NULL UNIQUE,
    project_id  TEXT NOT NULL,
    scope_path  TEXT NOT NULL,
    queued_at   INTEGER NOT NULL,
    status      TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'done', 'cancelled'))
);

CREATE INDEX idx_refresh_status ON refresh_queue(status, queued_at);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
