package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ProjectContext is per-project metadata. BaseScope is the root scope path
// every artifact in the project hangs under.
type ProjectContext struct {
	ProjectID   string
	ProjectName string
	BaseScope   string
	Description string
	IsActive    bool
	CreatedAt   int64
	LastUpdated int64
}

// EnsureProject creates the project row if missing and bumps last_updated
// when it already exists.
func (db *DB) EnsureProject(projectID, projectName, baseScope string) error {
	now := time.Now().UnixMilli()
	if projectName == "" {
		projectName = projectID
	}
	if baseScope == "" {
		baseScope = projectID
	}
	_, err := db.Exec(`
		INSERT INTO project_contexts (project_id, project_name, base_scope, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET last_updated = excluded.last_updated
	`, projectID, projectName, baseScope, now, now)
	if err != nil {
		return fmt.Errorf("ensure project %s: %w", projectID, err)
	}
	return nil
}

// GetProject returns the project row, or nil if not found.
func (db *DB) GetProject(projectID string) (*ProjectContext, error) {
	var p ProjectContext
	var desc sql.NullString
	err := db.QueryRow(`
		SELECT project_id, project_name, base_scope, description, is_active, created_at, last_updated
		FROM project_contexts WHERE project_id = ?
	`, projectID).Scan(&p.ProjectID, &p.ProjectName, &p.BaseScope, &desc, &p.IsActive, &p.CreatedAt, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", projectID, err)
	}
	p.Description = desc.String
	return &p, nil
}

// ListProjects returns every registered project, most recently updated first.
func (db *DB) ListProjects() ([]ProjectContext, error) {
	rows, err := db.Query(`
		SELECT project_id, project_name, base_scope, description, is_active, created_at, last_updated
		FROM project_contexts
		ORDER BY last_updated DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []ProjectContext
	for rows.Next() {
		var p ProjectContext
		var desc sql.NullString
		if err := rows.Scan(&p.ProjectID, &p.ProjectName, &p.BaseScope, &desc, &p.IsActive, &p.CreatedAt, &p.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Description = desc.String
		out = append(out, p)
	}
	return out, rows.Err()
}
