package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// TimestampRecord is one row of the hierarchical change log. LastChange is
// unix milliseconds.
type TimestampRecord struct {
	ID           int64
	ScopePath    string
	ScopeLevel   string
	LastChange   int64
	ChangeSource string
	ChangeType   string
}

// RecordDirectChange writes an observed change at the scope where it
// happened. A direct observation always wins: the row is overwritten even if
// an older event arrives late, because the caller saw the change now.
func (db *DB) RecordDirectChange(scopePath, scopeLevel string, lastChange int64, source, changeType string) error {
	_, err := db.Exec(`
		INSERT INTO hierarchical_timestamps (scope_path, scope_level, last_change, change_source, change_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope_path, scope_level) DO UPDATE SET
			last_change   = excluded.last_change,
			change_source = excluded.change_source,
			change_type   = excluded.change_type
	`, scopePath, scopeLevel, lastChange, source, changeType)
	if err != nil {
		return fmt.Errorf("record change %s: %w", scopePath, err)
	}
	return nil
}

// MergeTimestamp propagates a change upward to an ancestor scope. The row
// only moves forward in time, and attribution follows the timestamp: source
// and type update exactly when the incoming event is newer than the stored
// one. A single statement keeps the compare and the write atomic under
// concurrent propagation.
func (db *DB) MergeTimestamp(scopePath, scopeLevel string, lastChange int64, source, changeType string) error {
	_, err := db.Exec(`
		INSERT INTO hierarchical_timestamps (scope_path, scope_level, last_change, change_source, change_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope_path, scope_level) DO UPDATE SET
			last_change   = MAX(last_change, excluded.last_change),
			change_source = CASE WHEN excluded.last_change > last_change THEN excluded.change_source ELSE change_source END,
			change_type   = CASE WHEN excluded.last_change > last_change THEN excluded.change_type   ELSE change_type   END
	`, scopePath, scopeLevel, lastChange, source, changeType)
	if err != nil {
		return fmt.Errorf("merge timestamp %s: %w", scopePath, err)
	}
	return nil
}

// GetTimestamp returns the row recorded at exactly scopePath, or nil if no
// change was ever recorded there.
func (db *DB) GetTimestamp(scopePath string) (*TimestampRecord, error) {
	var r TimestampRecord
	var source sql.NullString
	err := db.QueryRow(`
		SELECT id, scope_path, scope_level, last_change, change_source, change_type
		FROM hierarchical_timestamps
		WHERE scope_path = ?
	`, scopePath).Scan(&r.ID, &r.ScopePath, &r.ScopeLevel, &r.LastChange, &source, &r.ChangeType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get timestamp %s: %w", scopePath, err)
	}
	r.ChangeSource = source.String
	return &r, nil
}

// MaxLastChange returns the newest last_change across the given exact paths
// plus every strict descendant of descendantPrefix (matched as
// descendantPrefix + "." + anything). Returns 0 when no rows match, which
// callers treat as "no change ever recorded".
func (db *DB) MaxLastChange(paths []string, descendantPrefix string) (int64, error) {
	if len(paths) == 0 && descendantPrefix == "" {
		return 0, nil
	}

	var conds []string
	var args []any
	if len(paths) > 0 {
		placeholders := strings.Repeat("?,", len(paths))
		conds = append(conds, fmt.Sprintf("scope_path IN (%s)", placeholders[:len(placeholders)-1]))
		for _, p := range paths {
			args = append(args, p)
		}
	}
	if descendantPrefix != "" {
		conds = append(conds, "scope_path LIKE ? ESCAPE '\\'")
		args = append(args, likeEscape(descendantPrefix)+".%")
	}

	query := "SELECT COALESCE(MAX(last_change), 0) FROM hierarchical_timestamps WHERE " +
		strings.Join(conds, " OR ")

	var maxChange int64
	if err := db.QueryRow(query, args...).Scan(&maxChange); err != nil {
		return 0, fmt.Errorf("max last change: %w", err)
	}
	return maxChange, nil
}

// likeEscape escapes LIKE metacharacters in a scope path so user-supplied
// segments cannot widen the pattern.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// StaleTimestamps returns scopes whose last recorded change is older than
// cutoff (unix millis), oldest first, capped at limit.
func (db *DB) StaleTimestamps(cutoff int64, limit int) ([]TimestampRecord, error) {
	rows, err := db.Query(`
		SELECT id, scope_path, scope_level, last_change, change_source, change_type
		FROM hierarchical_timestamps
		WHERE last_change < ?
		ORDER BY last_change ASC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale timestamps: %w", err)
	}
	defer rows.Close()
	return scanTimestamps(rows)
}

// ListTimestamps returns every recorded scope, newest change first.
func (db *DB) ListTimestamps() ([]TimestampRecord, error) {
	rows, err := db.Query(`
		SELECT id, scope_path, scope_level, last_change, change_source, change_type
		FROM hierarchical_timestamps
		ORDER BY last_change DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list timestamps: %w", err)
	}
	defer rows.Close()
	return scanTimestamps(rows)
}

// CountTimestamps returns the number of tracked scopes.
func (db *DB) CountTimestamps() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM hierarchical_timestamps").Scan(&n)
	return n, err
}

func scanTimestamps(rows *sql.Rows) ([]TimestampRecord, error) {
	var out []TimestampRecord
	for rows.Next() {
		var r TimestampRecord
		var source sql.NullString
		if err := rows.Scan(&r.ID, &r.ScopePath, &r.ScopeLevel, &r.LastChange, &source, &r.ChangeType); err != nil {
			return nil, fmt.Errorf("scan timestamp: %w", err)
		}
		r.ChangeSource = source.String
		out = append(out, r)
	}
	return out, rows.Err()
}
