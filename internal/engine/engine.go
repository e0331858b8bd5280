// Package engine orchestrates the timestamp hierarchy, the deduplicated
// artifact repository, the cache layer, and lifecycle maintenance.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strataworks/strata/internal/analyze"
	"github.com/strataworks/strata/internal/archive"
	"github.com/strataworks/strata/internal/cache"
	"github.com/strataworks/strata/internal/embed"
	"github.com/strataworks/strata/internal/freshness"
	"github.com/strataworks/strata/internal/store"
)

// Engine is the orchestration layer. DB is required; Cache, Embedder, and
// Archiver are optional and degrade gracefully when nil.
type Engine struct {
	DB       *store.DB
	Cache    *cache.Cache
	Analyzer analyze.Analyzer
	Embedder embed.Embedder
	Archiver archive.Archiver

	Thresholds  freshness.Thresholds
	SearchLimit int

	now  func() time.Time
	cron *cron.Cron
}

// New creates an engine with the default analyzer and thresholds. The cache
// may be nil; every read then goes straight to the store.
func New(db *store.DB, c *cache.Cache) *Engine {
	return &Engine{
		DB:          db,
		Cache:       c,
		Analyzer:    analyze.NewHeuristic(),
		Thresholds:  freshness.DefaultThresholds(),
		SearchLimit: 50,
		now:         time.Now,
	}
}

// SetEmbedder configures the embedding provider.
func (e *Engine) SetEmbedder(emb embed.Embedder) {
	e.Embedder = emb
}

// SetArchiver configures the archival backend for lifecycle operations.
func (e *Engine) SetArchiver(a archive.Archiver) {
	e.Archiver = a
}

// SetClock overrides the engine's time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// StartRetention schedules the cleanup pass on the given cron expression,
// archiving artifacts older than maxAge in batches of batchSize.
func (e *Engine) StartRetention(spec string, maxAge time.Duration, batchSize int) error {
	if e.cron != nil {
		return fmt.Errorf("retention already started")
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		res, err := e.Lifecycle(context.Background(), LifecycleRequest{
			Operation: OpCleanup,
			OlderThan: maxAge,
			BatchSize: batchSize,
			Apply:     true,
		})
		if err != nil {
			log.Printf("retention: %v", err)
			return
		}
		if res.Affected > 0 {
			log.Printf("retention: processed %d artifacts", res.Affected)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", spec, err)
	}
	c.Start()
	e.cron = c
	return nil
}

// Stop halts background maintenance.
func (e *Engine) Stop() {
	if e.cron != nil {
		ctx := e.cron.Stop()
		<-ctx.Done()
		e.cron = nil
	}
}

// Health summarizes the engine's storage and cache state.
type Health struct {
	Status         string  `json:"status"`
	SchemaVersion  int     `json:"schema_version"`
	ArtifactCount  int     `json:"artifact_count"`
	TrackedScopes  int     `json:"tracked_scopes"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	CacheEnabled   bool    `json:"cache_enabled"`
	EmbedderModel  string  `json:"embedder_model,omitempty"`
	ArchiverActive bool    `json:"archiver_active"`
}

// CheckHealth reports storage counts and cache statistics.
func (e *Engine) CheckHealth() (*Health, error) {
	version, err := e.DB.SchemaVersion()
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	artifacts, err := e.DB.CountArtifacts()
	if err != nil {
		return nil, fmt.Errorf("count artifacts: %w", err)
	}
	scopes, err := e.DB.CountTimestamps()
	if err != nil {
		return nil, fmt.Errorf("count timestamps: %w", err)
	}

	h := &Health{
		Status:         "ok",
		SchemaVersion:  version,
		ArtifactCount:  artifacts,
		TrackedScopes:  scopes,
		CacheEnabled:   e.Cache != nil,
		CacheHitRate:   e.Cache.HitRate(),
		ArchiverActive: e.Archiver != nil,
	}
	if e.Embedder != nil {
		h.EmbedderModel = e.Embedder.Model()
	}
	return h, nil
}
