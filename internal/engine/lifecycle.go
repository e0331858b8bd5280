package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/strataworks/strata/internal/cache"
	"github.com/strataworks/strata/internal/scope"
	"github.com/strataworks/strata/internal/store"
)

// Operation names a lifecycle pass.
type Operation string

const (
	OpArchive   Operation = "archive"
	OpDelete    Operation = "delete"
	OpMarkStale Operation = "mark_stale"
	OpRefresh   Operation = "refresh"
	OpCleanup   Operation = "cleanup"
)

// LifecycleRequest selects artifacts and names what to do with them.
// Apply defaults to false: a request is a dry run unless explicitly applied.
type LifecycleRequest struct {
	Operation    Operation     `json:"operation"`
	ProjectID    string        `json:"project_id,omitempty"`
	ScopePath    string        `json:"scope_path,omitempty"`
	AnalysisType string        `json:"analysis_type,omitempty"`
	AnalysisIDs  []string      `json:"analysis_ids,omitempty"`
	OlderThan    time.Duration `json:"older_than,omitempty"`
	BatchSize    int           `json:"batch_size,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Apply        bool          `json:"apply"`
}

// LifecycleResult reports what a pass did (or would do, for a dry run).
type LifecycleResult struct {
	Operation Operation `json:"operation"`
	DryRun    bool      `json:"dry_run"`
	Affected  int       `json:"affected"`
	Scopes    []string  `json:"scopes,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
}

const defaultBatchSize = 100

// Lifecycle runs one batch-bounded maintenance pass. Dry runs report the
// matching artifacts without touching them. The cleanup operation archives
// when an archiver is configured and deletes otherwise.
func (e *Engine) Lifecycle(ctx context.Context, req LifecycleRequest) (*LifecycleResult, error) {
	if req.ScopePath != "" {
		if err := scope.Validate(req.ScopePath); err != nil {
			return nil, err
		}
	}
	if req.BatchSize <= 0 {
		req.BatchSize = defaultBatchSize
	}

	// mark_stale mutates the scope hierarchy rather than artifact rows.
	if req.Operation == OpMarkStale {
		return e.lifecycleMarkStale(ctx, req)
	}

	op := req.Operation
	if op == OpCleanup {
		op = OpDelete
		if e.Archiver != nil {
			op = OpArchive
		}
	}

	targets, err := e.DB.SelectLifecycleTargets(e.lifecycleFilter(req))
	if err != nil {
		return nil, err
	}

	result := &LifecycleResult{Operation: req.Operation, DryRun: !req.Apply}
	for i := range targets {
		result.Scopes = append(result.Scopes, targets[i].ScopePath)
	}

	if !req.Apply {
		result.Affected = len(targets)
		return result, nil
	}

	switch op {
	case OpArchive:
		result.Affected = e.applyArchive(ctx, targets, req.Reason, result)
	case OpDelete:
		result.Affected = e.applyDelete(targets, result)
	case OpRefresh:
		result.Affected = e.applyRefresh(targets, result)
	default:
		return nil, fmt.Errorf("unknown lifecycle operation %q", req.Operation)
	}

	for i := range targets {
		e.invalidateArtifacts(targets[i].ProjectID, targets[i].ScopePath)
	}
	return result, nil
}

// lifecycleFilter translates a request into the store-level artifact filter
// shared by every lifecycle pass.
func (e *Engine) lifecycleFilter(req LifecycleRequest) store.LifecycleFilter {
	f := store.LifecycleFilter{
		ProjectID:    req.ProjectID,
		ScopePath:    req.ScopePath,
		AnalysisType: req.AnalysisType,
		IDs:          req.AnalysisIDs,
		Limit:        req.BatchSize,
	}
	if req.OlderThan > 0 {
		f.OlderThan = e.now().Add(-req.OlderThan).UnixMilli()
	}
	return f
}

// lifecycleMarkStale selects the artifact batch like any other pass and
// injects a synthetic change per distinct affected scope. The requested
// scope itself is always marked when given, even with no artifacts stored
// there, so the hierarchy under it still invalidates.
func (e *Engine) lifecycleMarkStale(ctx context.Context, req LifecycleRequest) (*LifecycleResult, error) {
	targets, err := e.DB.SelectLifecycleTargets(e.lifecycleFilter(req))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var scopes []string
	if req.ScopePath != "" {
		seen[req.ScopePath] = true
		scopes = append(scopes, req.ScopePath)
	}
	for i := range targets {
		if !seen[targets[i].ScopePath] {
			seen[targets[i].ScopePath] = true
			scopes = append(scopes, targets[i].ScopePath)
		}
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("mark_stale matched no scopes")
	}

	result := &LifecycleResult{
		Operation: OpMarkStale,
		DryRun:    !req.Apply,
		Scopes:    scopes,
		Affected:  len(scopes),
	}
	if !req.Apply {
		return result, nil
	}

	n := 0
	for _, s := range scopes {
		if err := e.MarkStale(ctx, s, req.Reason); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("mark %s: %v", s, err))
			continue
		}
		n++
	}
	result.Affected = n
	return result, nil
}

func (e *Engine) applyArchive(ctx context.Context, targets []store.Artifact, reason string, result *LifecycleResult) int {
	if e.Archiver == nil {
		result.Errors = append(result.Errors, "no archiver configured")
		return 0
	}
	if reason == "" {
		reason = "lifecycle_archive"
	}

	n := 0
	for i := range targets {
		a := &targets[i]
		location, size, err := e.Archiver.Archive(ctx, a)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("archive %s: %v", a.ID, err))
			continue
		}
		if err := e.DB.ArchiveArtifact(a, reason, location, size); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record archive %s: %v", a.ID, err))
			continue
		}
		n++
	}
	return n
}

func (e *Engine) applyDelete(targets []store.Artifact, result *LifecycleResult) int {
	ids := make([]string, len(targets))
	for i := range targets {
		ids[i] = targets[i].ID
	}
	n, err := e.DB.DeleteArtifacts(ids)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	return n
}

func (e *Engine) applyRefresh(targets []store.Artifact, result *LifecycleResult) int {
	n := 0
	for i := range targets {
		a := &targets[i]
		if err := e.DB.QueueRefresh(a.ID, a.ProjectID, a.ScopePath); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("queue %s: %v", a.ID, err))
			continue
		}
		n++
	}
	return n
}

// FlushCache drops every cached entry under the standard key namespaces.
// Used by operators after out-of-band database surgery.
func (e *Engine) FlushCache() int {
	n := e.Cache.DeletePrefix(cache.TimestampKeyPrefix)
	n += e.Cache.DeletePrefix(cache.AnalysisKeyPrefix)
	n += e.Cache.DeletePrefix(cache.SearchKeyPrefix)
	if n > 0 {
		log.Printf("cache: flushed %d entries", n)
	}
	return n
}
