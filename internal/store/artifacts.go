package store

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Artifact is one persisted analysis result. ResultData is the raw JSON
// payload produced by the analyzer; timestamps are unix milliseconds.
type Artifact struct {
	ID                 string
	AnalysisType       string
	ProjectID          string
	ScopePath          string
	FullScope          string
	ScopeLevel         string
	ResultData         string
	ContentHash        string
	SourceFiles        []string
	SourceFileCount    int
	AnalysisTimestamp  int64
	AnalysisDurationMS int64
	Embedding          []float64
}

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	if n == 0 {
		return nil
	}
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// InsertArtifact persists a new artifact row. Rows are immutable once
// written; a re-analysis inserts a new row rather than updating in place.
func (db *DB) InsertArtifact(a *Artifact) error {
	sourceJSON, err := json.Marshal(a.SourceFiles)
	if err != nil {
		return fmt.Errorf("marshal source files: %w", err)
	}

	_, err = db.Exec(`
		INSERT INTO analysis_artifacts
			(id, analysis_type, project_id, scope_path, full_scope, scope_level,
			 result_data, content_hash, source_files, source_file_count,
			 analysis_timestamp, analysis_duration_ms, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.AnalysisType, a.ProjectID, a.ScopePath, a.FullScope, a.ScopeLevel,
		a.ResultData, a.ContentHash, string(sourceJSON), a.SourceFileCount,
		a.AnalysisTimestamp, a.AnalysisDurationMS, encodeEmbedding(a.Embedding))
	if err != nil {
		return fmt.Errorf("insert artifact %s: %w", a.ID, err)
	}
	return nil
}

// GetArtifact returns the artifact with the given id, or nil if not found.
func (db *DB) GetArtifact(id string) (*Artifact, error) {
	row := db.QueryRow(artifactSelect+" WHERE id = ?", id)
	return scanArtifact(row)
}

// LatestByHash returns the newest artifact matching the dedup identity
// (project, scope, content hash), or nil when the content was never stored.
func (db *DB) LatestByHash(projectID, scopePath, contentHash string) (*Artifact, error) {
	row := db.QueryRow(artifactSelect+`
		WHERE project_id = ? AND scope_path = ? AND content_hash = ?
		ORDER BY analysis_timestamp DESC
		LIMIT 1
	`, projectID, scopePath, contentHash)
	return scanArtifact(row)
}

// LatestByScope returns the newest artifact for a scope, optionally filtered
// by analysis type. An empty projectID matches artifacts from any project.
// Returns nil when nothing was ever stored there.
func (db *DB) LatestByScope(projectID, scopePath, analysisType string) (*Artifact, error) {
	query := artifactSelect + " WHERE scope_path = ?"
	args := []any{scopePath}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	if analysisType != "" {
		query += " AND analysis_type = ?"
		args = append(args, analysisType)
	}
	query += " ORDER BY analysis_timestamp DESC LIMIT 1"

	row := db.QueryRow(query, args...)
	return scanArtifact(row)
}

// ListByScopePrefix returns the newest artifact per scope under the given
// prefix (the scope itself plus its strict descendants), newest first. An
// empty projectID matches artifacts from any project.
func (db *DB) ListByScopePrefix(projectID, scopePath string, limit int) ([]Artifact, error) {
	query := artifactSelect + `
		WHERE (scope_path = ? OR scope_path LIKE ? ESCAPE '\')`
	args := []any{scopePath, likeEscape(scopePath) + ".%"}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += `
		  AND analysis_timestamp = (
			SELECT MAX(analysis_timestamp) FROM analysis_artifacts inner_a
			WHERE inner_a.project_id = analysis_artifacts.project_id
			  AND inner_a.scope_path = analysis_artifacts.scope_path
		  )
		ORDER BY analysis_timestamp DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list by scope prefix %s: %w", scopePath, err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ArtifactsWithEmbeddings returns artifacts in a project that carry an
// embedding vector, newest first, for similarity scans.
func (db *DB) ArtifactsWithEmbeddings(projectID string, limit int) ([]Artifact, error) {
	rows, err := db.Query(artifactSelect+`
		WHERE project_id = ? AND embedding IS NOT NULL
		ORDER BY analysis_timestamp DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("artifacts with embeddings: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// FindReferencing returns artifacts whose result payload mentions the given
// scope path, excluding artifacts stored at that scope itself. An empty
// projectID matches artifacts from any project. Dependency discovery is a
// substring scan over the JSON payload.
func (db *DB) FindReferencing(projectID, scopePath string, limit int) ([]Artifact, error) {
	query := artifactSelect + `
		WHERE scope_path != ?
		  AND result_data LIKE ? ESCAPE '\'`
	args := []any{scopePath, "%" + likeEscape(scopePath) + "%"}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY analysis_timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("find referencing %s: %w", scopePath, err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// ListByType returns the newest artifacts of one analysis type in a project.
func (db *DB) ListByType(projectID, analysisType string, limit int) ([]Artifact, error) {
	rows, err := db.Query(artifactSelect+`
		WHERE project_id = ? AND analysis_type = ?
		ORDER BY analysis_timestamp DESC
		LIMIT ?
	`, projectID, analysisType, limit)
	if err != nil {
		return nil, fmt.Errorf("list by type %s: %w", analysisType, err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// DeleteArtifacts removes the given artifact rows and returns the count.
func (db *DB) DeleteArtifacts(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := db.Exec(
		"DELETE FROM analysis_artifacts WHERE id IN ("+placeholders[:len(placeholders)-1]+")",
		args...)
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CountArtifacts returns the number of stored artifacts.
func (db *DB) CountArtifacts() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM analysis_artifacts").Scan(&n)
	return n, err
}

const artifactSelect = `
	SELECT id, analysis_type, project_id, scope_path, full_scope, scope_level,
	       result_data, content_hash, source_files, source_file_count,
	       analysis_timestamp, analysis_duration_ms, embedding
	FROM analysis_artifacts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifactInto(s rowScanner) (*Artifact, error) {
	var a Artifact
	var sourceJSON sql.NullString
	var blob []byte
	err := s.Scan(&a.ID, &a.AnalysisType, &a.ProjectID, &a.ScopePath, &a.FullScope,
		&a.ScopeLevel, &a.ResultData, &a.ContentHash, &sourceJSON, &a.SourceFileCount,
		&a.AnalysisTimestamp, &a.AnalysisDurationMS, &blob)
	if err != nil {
		return nil, err
	}
	if sourceJSON.Valid && sourceJSON.String != "" {
		if err := json.Unmarshal([]byte(sourceJSON.String), &a.SourceFiles); err != nil {
			return nil, fmt.Errorf("unmarshal source files for %s: %w", a.ID, err)
		}
	}
	a.Embedding = decodeEmbedding(blob)
	return &a, nil
}

func scanArtifact(row *sql.Row) (*Artifact, error) {
	a, err := scanArtifactInto(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	return a, nil
}

func scanArtifacts(rows *sql.Rows) ([]Artifact, error) {
	var out []Artifact
	for rows.Next() {
		a, err := scanArtifactInto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
