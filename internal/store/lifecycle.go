package store

import (
	"fmt"
	"strings"
	"time"
)

// LifecycleFilter selects artifacts for a lifecycle pass. Zero-valued fields
// match everything; OlderThan is unix millis.
type LifecycleFilter struct {
	ProjectID    string
	ScopePath    string // matches the scope and its strict descendants
	AnalysisType string
	IDs          []string // explicit artifact id set
	OlderThan    int64
	Limit        int
}

// SelectLifecycleTargets returns artifacts matching the filter, oldest
// first so batch-bounded passes drain the backlog in age order.
func (db *DB) SelectLifecycleTargets(f LifecycleFilter) ([]Artifact, error) {
	conds := []string{"1=1"}
	var args []any

	if len(f.IDs) > 0 {
		placeholders := strings.Repeat("?,", len(f.IDs))
		conds = append(conds, "id IN ("+placeholders[:len(placeholders)-1]+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, f.ProjectID)
	}
	if f.ScopePath != "" {
		conds = append(conds, `(scope_path = ? OR scope_path LIKE ? ESCAPE '\')`)
		args = append(args, f.ScopePath, likeEscape(f.ScopePath)+".%")
	}
	if f.AnalysisType != "" {
		conds = append(conds, "analysis_type = ?")
		args = append(args, f.AnalysisType)
	}
	if f.OlderThan > 0 {
		conds = append(conds, "analysis_timestamp < ?")
		args = append(args, f.OlderThan)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := db.Query(
		artifactSelect+" WHERE "+strings.Join(conds, " AND ")+
			" ORDER BY analysis_timestamp ASC LIMIT ?",
		args...)
	if err != nil {
		return nil, fmt.Errorf("select lifecycle targets: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ArchiveRecord is the tombstone left behind when an artifact is archived
// out of the live table.
type ArchiveRecord struct {
	OriginalID        string
	ArchivedAt        int64
	ArchiveReason     string
	ScopePath         string
	ProjectID         string
	AnalysisType      string
	OriginalTimestamp int64
	ContentHash       string
	ArchiveLocation   string
	CompressedBytes   int64
}

// ArchiveArtifact moves an artifact into archived_artifacts and deletes the
// live row in one transaction. Location and size come from the archiver that
// already wrote the snapshot.
func (db *DB) ArchiveArtifact(a *Artifact, reason, location string, compressedBytes int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO archived_artifacts
			(original_id, archived_at, archive_reason, scope_path, project_id,
			 analysis_type, original_timestamp, content_hash, archive_location, compressed_bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, time.Now().UnixMilli(), reason, a.ScopePath, a.ProjectID,
		a.AnalysisType, a.AnalysisTimestamp, a.ContentHash, location, compressedBytes)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert archive record %s: %w", a.ID, err)
	}

	if _, err := tx.Exec("DELETE FROM analysis_artifacts WHERE id = ?", a.ID); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete archived artifact %s: %w", a.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive %s: %w", a.ID, err)
	}
	return nil
}

// ListArchived returns archive tombstones for a project, newest first.
func (db *DB) ListArchived(projectID string, limit int) ([]ArchiveRecord, error) {
	rows, err := db.Query(`
		SELECT original_id, archived_at, archive_reason, scope_path, project_id,
		       analysis_type, original_timestamp, content_hash, archive_location, compressed_bytes
		FROM archived_artifacts
		WHERE project_id = ?
		ORDER BY archived_at DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived: %w", err)
	}
	defer rows.Close()

	var out []ArchiveRecord
	for rows.Next() {
		var r ArchiveRecord
		var reason, location *string
		if err := rows.Scan(&r.OriginalID, &r.ArchivedAt, &reason, &r.ScopePath, &r.ProjectID,
			&r.AnalysisType, &r.OriginalTimestamp, &r.ContentHash, &location, &r.CompressedBytes); err != nil {
			return nil, fmt.Errorf("scan archive record: %w", err)
		}
		if reason != nil {
			r.ArchiveReason = *reason
		}
		if location != nil {
			r.ArchiveLocation = *location
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// QueueRefresh marks an artifact for re-analysis. Re-queueing an already
// pending artifact is a no-op.
func (db *DB) QueueRefresh(artifactID, projectID, scopePath string) error {
	_, err := db.Exec(`
		INSERT INTO refresh_queue (artifact_id, project_id, scope_path, queued_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(artifact_id) DO UPDATE SET
			status    = 'pending',
			queued_at = excluded.queued_at
	`, artifactID, projectID, scopePath, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("queue refresh %s: %w", artifactID, err)
	}
	return nil
}

// PendingRefreshes returns queued refresh entries, oldest first.
func (db *DB) PendingRefreshes(limit int) ([]RefreshEntry, error) {
	rows, err := db.Query(`
		SELECT id, artifact_id, project_id, scope_path, queued_at, status
		FROM refresh_queue
		WHERE status = 'pending'
		ORDER BY queued_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending refreshes: %w", err)
	}
	defer rows.Close()

	var out []RefreshEntry
	for rows.Next() {
		var e RefreshEntry
		if err := rows.Scan(&e.ID, &e.ArtifactID, &e.ProjectID, &e.ScopePath, &e.QueuedAt, &e.Status); err != nil {
			return nil, fmt.Errorf("scan refresh entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RefreshEntry is one row of the refresh queue.
type RefreshEntry struct {
	ID         int64
	ArtifactID string
	ProjectID  string
	ScopePath  string
	QueuedAt   int64
	Status     string
}

// CompleteRefresh marks a queue entry done.
func (db *DB) CompleteRefresh(id int64) error {
	_, err := db.Exec("UPDATE refresh_queue SET status = 'done' WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("complete refresh %d: %w", id, err)
	}
	return nil
}
