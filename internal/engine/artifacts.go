package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/strataworks/strata/internal/analyze"
	"github.com/strataworks/strata/internal/cache"
	"github.com/strataworks/strata/internal/freshness"
	"github.com/strataworks/strata/internal/scope"
	"github.com/strataworks/strata/internal/store"
)

// StoreRequest is one analysis submission.
type StoreRequest struct {
	AnalysisType analyze.Type `json:"analysis_type"`
	ProjectID    string       `json:"project_id"`
	ScopePath    string       `json:"scope_path"`
	Content      string       `json:"content"`
	SourceFiles  []string     `json:"source_files,omitempty"`
	DurationMS   int64        `json:"analysis_duration_ms,omitempty"`
	ForceRefresh bool         `json:"force_refresh,omitempty"`
}

// ArtifactView is the serializable shape of an artifact, shared by the API,
// the CLI, and the cache.
type ArtifactView struct {
	ID                string          `json:"analysis_id"`
	AnalysisType      string          `json:"analysis_type"`
	ProjectID         string          `json:"project_id"`
	ScopePath         string          `json:"scope_path"`
	FullScope         string          `json:"full_scope"`
	ScopeLevel        string          `json:"scope_level"`
	ResultData        json.RawMessage `json:"result_data"`
	ContentHash       string          `json:"content_hash"`
	SourceFiles       []string        `json:"source_files,omitempty"`
	SourceFileCount   int             `json:"source_file_count"`
	AnalysisTimestamp time.Time       `json:"analysis_timestamp"`
	DurationMS        int64           `json:"analysis_duration_ms"`
}

func toView(a *store.Artifact) *ArtifactView {
	return &ArtifactView{
		ID:                a.ID,
		AnalysisType:      a.AnalysisType,
		ProjectID:         a.ProjectID,
		ScopePath:         a.ScopePath,
		FullScope:         a.FullScope,
		ScopeLevel:        a.ScopeLevel,
		ResultData:        json.RawMessage(a.ResultData),
		ContentHash:       a.ContentHash,
		SourceFiles:       a.SourceFiles,
		SourceFileCount:   a.SourceFileCount,
		AnalysisTimestamp: millisToTime(a.AnalysisTimestamp),
		DurationMS:        a.AnalysisDurationMS,
	}
}

// StoreResult reports what a submission did.
type StoreResult struct {
	Artifact     *ArtifactView `json:"artifact"`
	Deduplicated bool          `json:"deduplicated"`
}

// ContentHash returns the dedup identity of a content blob.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Store persists an analysis submission. Identical content already stored
// for the same (project, scope) is deduplicated: the existing artifact is
// returned, no new row is written, and no change event fires. ForceRefresh
// bypasses the dedup check. A returned ErrPartialPropagation means the
// artifact is durable but some ancestor timestamps missed the update.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (*StoreResult, error) {
	if err := scope.Validate(req.ScopePath); err != nil {
		return nil, err
	}
	if !req.AnalysisType.Valid() {
		return nil, fmt.Errorf("unknown analysis type %q", req.AnalysisType)
	}
	projectID := req.ProjectID
	if projectID == "" {
		projectID = "default"
	}
	if err := e.DB.EnsureProject(projectID, "", ""); err != nil {
		return nil, err
	}

	hash := ContentHash(req.Content)

	if !req.ForceRefresh {
		existing, err := e.DB.LatestByHash(projectID, req.ScopePath, hash)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &StoreResult{Artifact: toView(existing), Deduplicated: true}, nil
		}
	}

	result, err := e.Analyzer.Analyze(req.Content, req.AnalysisType)
	if err != nil {
		return nil, fmt.Errorf("analyze content: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis result: %w", err)
	}

	// Embedding is best-effort: a down embedder never blocks persistence.
	var embedding []float64
	if e.Embedder != nil {
		embedding, err = e.Embedder.Embed(ctx, result.Summary)
		if err != nil {
			log.Printf("embed artifact for %s: %v", req.ScopePath, err)
			embedding = nil
		}
	}

	now := e.now()
	artifact := &store.Artifact{
		ID:                 uuid.NewString(),
		AnalysisType:       string(req.AnalysisType),
		ProjectID:          projectID,
		ScopePath:          req.ScopePath,
		FullScope:          scope.Join(projectID, req.ScopePath),
		ScopeLevel:         string(scope.LevelOf(req.ScopePath)),
		ResultData:         string(resultJSON),
		ContentHash:        hash,
		SourceFiles:        req.SourceFiles,
		SourceFileCount:    len(req.SourceFiles),
		AnalysisTimestamp:  now.UnixMilli(),
		AnalysisDurationMS: req.DurationMS,
	}
	artifact.Embedding = embedding

	if err := e.DB.InsertArtifact(artifact); err != nil {
		return nil, err
	}

	e.invalidateArtifacts(projectID, req.ScopePath)

	// The recorded change propagates up the hierarchy. Propagation failure
	// is surfaced to the caller, but the artifact is already durable.
	changeErr := e.RecordChange(ctx, req.ScopePath,
		"analysis_update:"+artifact.ID, "content_analyzed", now)

	return &StoreResult{Artifact: toView(artifact)}, changeErr
}

// invalidateArtifacts drops cached reads for a scope and every derived
// search result. Projectless fetches cache under the default alias, so that
// key is dropped alongside the project's own. Runs before the write path
// returns so readers never see a stale hit after an acknowledged write.
func (e *Engine) invalidateArtifacts(projectID, scopePath string) {
	e.Cache.Delete(
		cache.AnalysisKey(projectID, scopePath),
		cache.AnalysisKey("", scopePath),
	)
	e.Cache.DeletePrefix(cache.SearchKeyPrefix)
}

// FetchResult pairs an artifact with freshness derived at read time.
type FetchResult struct {
	Artifact  *ArtifactView  `json:"artifact"`
	Freshness freshness.Info `json:"freshness"`
	CacheHit  bool           `json:"cache_hit"`
}

// Fetch returns the newest artifact for a scope, or nil when none exists.
// An empty projectID queries by scope alone, across projects. The artifact
// payload is served read-through from the cache; freshness is recomputed on
// every call because it depends on the current clock.
func (e *Engine) Fetch(ctx context.Context, projectID, scopePath string, analysisType analyze.Type) (*FetchResult, error) {
	if err := scope.Validate(scopePath); err != nil {
		return nil, err
	}

	key := cache.AnalysisKey(projectID, scopePath)
	var view ArtifactView
	hit := false
	// Typed fetches bypass the cache; the cached entry is the newest
	// artifact regardless of type.
	if analysisType == "" {
		ok, err := e.Cache.Get(key, &view)
		if err != nil {
			log.Printf("cache: %v", err)
		}
		hit = ok
	}

	if !hit {
		artifact, err := e.DB.LatestByScope(projectID, scopePath, string(analysisType))
		if err != nil {
			return nil, err
		}
		if artifact == nil {
			return nil, nil
		}
		view = *toView(artifact)
		if analysisType == "" {
			if err := e.Cache.Set(key, &view); err != nil {
				log.Printf("cache: %v", err)
			}
		}
	}

	effective, err := e.EffectiveTimestamp(ctx, scopePath)
	if err != nil {
		return nil, err
	}

	info := freshness.Compute(scopePath, view.AnalysisTimestamp, effective, e.now(), e.Thresholds)
	return &FetchResult{Artifact: &view, Freshness: info, CacheHit: hit}, nil
}

// Freshness reports freshness for the newest artifact at a scope without
// returning the payload. Nil when no artifact exists.
func (e *Engine) Freshness(ctx context.Context, projectID, scopePath string) (*freshness.Info, error) {
	res, err := e.Fetch(ctx, projectID, scopePath, "")
	if err != nil || res == nil {
		return nil, err
	}
	return &res.Freshness, nil
}

// Dependency is one edge of the component graph.
type Dependency struct {
	ScopePath    string    `json:"scope_path"`
	AnalysisType string    `json:"analysis_type"`
	AnalysisID   string    `json:"analysis_id"`
	LastAnalyzed time.Time `json:"last_analyzed"`
}

// FindDependents returns components whose stored analyses reference the
// given scope. An empty projectID searches across projects.
func (e *Engine) FindDependents(ctx context.Context, projectID, scopePath string, limit int) ([]Dependency, error) {
	if err := scope.Validate(scopePath); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = e.SearchLimit
	}

	artifacts, err := e.DB.FindReferencing(projectID, scopePath, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Dependency, 0, len(artifacts))
	for i := range artifacts {
		a := &artifacts[i]
		out = append(out, Dependency{
			ScopePath:    a.ScopePath,
			AnalysisType: a.AnalysisType,
			AnalysisID:   a.ID,
			LastAnalyzed: millisToTime(a.AnalysisTimestamp),
		})
	}
	return out, nil
}

// Architecture is the component view assembled from stored analyses.
type Architecture struct {
	Component  *ArtifactView   `json:"component,omitempty"`
	Freshness  *freshness.Info `json:"freshness,omitempty"`
	DependsOn  []string        `json:"depends_on"`
	Dependents []Dependency    `json:"dependents"`
	Children   []ArtifactView  `json:"children,omitempty"`
}

// ComponentArchitecture assembles the architecture view for a scope: its
// newest artifact, declared dependencies, reverse dependencies, and the
// newest artifact per child scope.
func (e *Engine) ComponentArchitecture(ctx context.Context, projectID, scopePath string) (*Architecture, error) {
	if err := scope.Validate(scopePath); err != nil {
		return nil, err
	}

	arch := &Architecture{
		DependsOn:  []string{},
		Dependents: []Dependency{},
	}

	res, err := e.Fetch(ctx, projectID, scopePath, "")
	if err != nil {
		return nil, err
	}
	if res != nil {
		arch.Component = res.Artifact
		arch.Freshness = &res.Freshness

		var payload struct {
			Dependencies []string `json:"dependencies"`
		}
		if err := json.Unmarshal(res.Artifact.ResultData, &payload); err == nil {
			arch.DependsOn = append(arch.DependsOn, payload.Dependencies...)
		}
	}

	dependents, err := e.FindDependents(ctx, projectID, scopePath, e.SearchLimit)
	if err != nil {
		return nil, err
	}
	arch.Dependents = dependents

	children, err := e.DB.ListByScopePrefix(projectID, scopePath, e.SearchLimit)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if children[i].ScopePath == scopePath {
			continue
		}
		arch.Children = append(arch.Children, *toView(&children[i]))
	}

	return arch, nil
}
