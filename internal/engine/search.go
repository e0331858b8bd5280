package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/strataworks/strata/internal/cache"
	"github.com/strataworks/strata/internal/embed"
)

// SimilarResult is one similarity hit.
type SimilarResult struct {
	ScopePath    string    `json:"scope_path"`
	AnalysisType string    `json:"analysis_type"`
	AnalysisID   string    `json:"analysis_id"`
	Similarity   float64   `json:"similarity"`
	Summary      string    `json:"summary,omitempty"`
	LastAnalyzed time.Time `json:"last_analyzed"`
}

// searchKey derives a stable cache key from the query parameters.
func searchKey(projectID, query string, limit int) string {
	h := xxh3.HashString(fmt.Sprintf("%s\x00%s\x00%d", projectID, query, limit))
	return fmt.Sprintf("%s%016x", cache.SearchKeyPrefix, h)
}

// FindSimilar ranks stored artifacts by embedding similarity to the query.
// Requires an embedder; results are cached until the next write invalidates
// the search namespace.
func (e *Engine) FindSimilar(ctx context.Context, projectID, query string, limit int) ([]SimilarResult, error) {
	if e.Embedder == nil {
		return nil, fmt.Errorf("similarity search requires an embedder")
	}
	if projectID == "" {
		projectID = "default"
	}
	if limit <= 0 || limit > e.SearchLimit {
		limit = e.SearchLimit
	}

	key := searchKey(projectID, query, limit)
	var cached []SimilarResult
	if ok, err := e.Cache.Get(key, &cached); err != nil {
		log.Printf("cache: %v", err)
	} else if ok {
		return cached, nil
	}

	queryVec, err := e.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates, err := e.DB.ArtifactsWithEmbeddings(projectID, e.SearchLimit*4)
	if err != nil {
		return nil, err
	}

	results := make([]SimilarResult, 0, len(candidates))
	for i := range candidates {
		a := &candidates[i]
		sim := embed.CosineSimilarity(queryVec, a.Embedding)
		if sim <= 0 {
			continue
		}
		results = append(results, SimilarResult{
			ScopePath:    a.ScopePath,
			AnalysisType: a.AnalysisType,
			AnalysisID:   a.ID,
			Similarity:   sim,
			Summary:      summaryOf(a.ResultData),
			LastAnalyzed: millisToTime(a.AnalysisTimestamp),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if err := e.Cache.Set(key, results); err != nil {
		log.Printf("cache: %v", err)
	}
	return results, nil
}

// summaryOf pulls the summary field out of a result payload, tolerating
// payloads that lack one.
func summaryOf(resultData string) string {
	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(resultData), &payload); err != nil {
		return ""
	}
	return payload.Summary
}
