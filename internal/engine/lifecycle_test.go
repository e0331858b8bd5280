package engine

import (
	"context"
	"testing"
	"time"

	"github.com/strataworks/strata/internal/archive"
)

func seedArtifacts(t *testing.T, e *Engine, now *time.Time) {
	t.Helper()
	ctx := context.Background()

	for i, scopePath := range []string{"payments.api", "payments.db", "billing.ledger"} {
		*now = t0.Add(time.Duration(i) * time.Hour)
		_, err := e.Store(ctx, StoreRequest{
			AnalysisType: "semantic",
			ProjectID:    "p1",
			ScopePath:    scopePath,
			Content:      "content for " + scopePath,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", scopePath, err)
		}
	}
}

func TestLifecycleDryRunByDefault(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)

	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpDelete,
		ProjectID: "p1",
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if !res.DryRun {
		t.Error("a request without Apply must be a dry run")
	}
	if res.Affected != 3 {
		t.Errorf("affected = %d, want 3 reported", res.Affected)
	}

	count, _ := e.DB.CountArtifacts()
	if count != 3 {
		t.Errorf("dry run deleted rows: count = %d", count)
	}
}

func TestLifecycleDeleteApply(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)

	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpDelete,
		ProjectID: "p1",
		ScopePath: "payments",
		Apply:     true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 2 {
		t.Errorf("affected = %d, want 2 (payments subtree)", res.Affected)
	}

	count, _ := e.DB.CountArtifacts()
	if count != 1 {
		t.Errorf("count = %d, want billing survivor only", count)
	}
}

func TestLifecycleOlderThanFilter(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)

	// Artifacts were stored at t0, t0+1h, t0+2h. From t0+3h, an OlderThan
	// of 90 minutes matches only the first two.
	*now = t0.Add(3 * time.Hour)
	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpDelete,
		ProjectID: "p1",
		OlderThan: 90 * time.Minute,
		Apply:     true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 2 {
		t.Errorf("affected = %d, want 2", res.Affected)
	}
}

func TestLifecycleBatchBound(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)

	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpDelete,
		ProjectID: "p1",
		BatchSize: 2,
		Apply:     true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 2 {
		t.Errorf("affected = %d, want batch of 2", res.Affected)
	}
	count, _ := e.DB.CountArtifacts()
	if count != 1 {
		t.Errorf("count = %d, want 1 left for the next batch", count)
	}
}

func TestLifecycleArchive(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)
	e.SetArchiver(archive.NewDir(t.TempDir()))

	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpArchive,
		ProjectID: "p1",
		ScopePath: "payments.api",
		Reason:    "age_out",
		Apply:     true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 1 {
		t.Fatalf("affected = %d, want 1, errors: %v", res.Affected, res.Errors)
	}

	archived, _ := e.DB.ListArchived("p1", 10)
	if len(archived) != 1 || archived[0].ScopePath != "payments.api" {
		t.Errorf("archived = %+v", archived)
	}
	if archived[0].ArchiveLocation == "" || archived[0].CompressedBytes <= 0 {
		t.Errorf("archive record missing snapshot info: %+v", archived[0])
	}
}

func TestLifecycleCleanupPrefersArchive(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)
	e.SetArchiver(archive.NewDir(t.TempDir()))

	*now = t0.Add(24 * time.Hour)
	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpCleanup,
		ProjectID: "p1",
		OlderThan: time.Hour,
		Apply:     true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 3 {
		t.Errorf("affected = %d, want 3", res.Affected)
	}

	archived, _ := e.DB.ListArchived("p1", 10)
	if len(archived) != 3 {
		t.Errorf("cleanup with archiver should archive, got %d tombstones", len(archived))
	}
}

func TestLifecycleMarkStale(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)
	ctx := context.Background()

	// The pass marks the requested scope plus the scope of every artifact
	// the filter selects under it.
	*now = t0.Add(48 * time.Hour)
	res, err := e.Lifecycle(ctx, LifecycleRequest{
		Operation: OpMarkStale,
		ScopePath: "payments",
		Reason:    "schema_migration",
		Apply:     true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 3 {
		t.Errorf("affected = %d, want payments plus its 2 artifact scopes", res.Affected)
	}

	for _, path := range []string{"payments", "payments.api", "payments.db"} {
		r, _ := e.DB.GetTimestamp(path)
		if r.ChangeType != "manual_invalidation" {
			t.Errorf("%s change type = %q", path, r.ChangeType)
		}
		if r.LastChange != now.UnixMilli() {
			t.Errorf("%s last_change = %d, want forced to now", path, r.LastChange)
		}
	}

	// The unrelated domain is untouched.
	r, _ := e.DB.GetTimestamp("billing.ledger")
	if r.ChangeType == "manual_invalidation" {
		t.Error("billing.ledger marked despite the scope filter")
	}

	// Artifacts under the scope now read as stale relative to the mark.
	ts, _ := e.EffectiveTimestamp(ctx, "payments.api")
	if !ts.Equal(*now) {
		t.Errorf("effective = %v, want %v", ts, *now)
	}
}

func TestLifecycleMarkStaleDryRunListsScopes(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)

	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpMarkStale,
		ProjectID: "p1",
		ScopePath: "payments",
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if !res.DryRun || len(res.Scopes) != 3 {
		t.Errorf("res = %+v, want dry run listing 3 scopes", res)
	}

	r, _ := e.DB.GetTimestamp("payments.api")
	if r.ChangeType == "manual_invalidation" {
		t.Error("dry run must not write timestamps")
	}
}

func TestLifecycleMarkStaleOlderThanFilter(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)

	// Artifacts sit at t0, t0+1h, t0+2h. From t0+3h, a 90 minute window
	// selects the first two scopes only.
	*now = t0.Add(3 * time.Hour)
	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpMarkStale,
		ProjectID: "p1",
		OlderThan: 90 * time.Minute,
		Apply:     true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 2 {
		t.Errorf("affected = %d, want 2", res.Affected)
	}

	r, _ := e.DB.GetTimestamp("payments.api")
	if r.ChangeType != "manual_invalidation" {
		t.Errorf("old scope change type = %q", r.ChangeType)
	}
	r, _ = e.DB.GetTimestamp("billing.ledger")
	if r.ChangeType == "manual_invalidation" {
		t.Error("recent scope must not be marked")
	}
}

func TestLifecycleMarkStaleRequiresTarget(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.Lifecycle(context.Background(), LifecycleRequest{Operation: OpMarkStale, Apply: true}); err == nil {
		t.Error("expected error for mark_stale matching nothing")
	}
}

func TestLifecycleExplicitIDs(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	var ids []string
	for _, scopePath := range []string{"payments.api", "payments.db"} {
		res, err := e.Store(ctx, StoreRequest{
			AnalysisType: "semantic",
			ProjectID:    "p1",
			ScopePath:    scopePath,
			Content:      "content for " + scopePath,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", scopePath, err)
		}
		ids = append(ids, res.Artifact.ID)
	}

	res, err := e.Lifecycle(ctx, LifecycleRequest{
		Operation:   OpDelete,
		AnalysisIDs: ids[:1],
		Apply:       true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 1 {
		t.Errorf("affected = %d, want only the named id", res.Affected)
	}

	if a, _ := e.DB.GetArtifact(ids[0]); a != nil {
		t.Error("named artifact survived the delete")
	}
	if a, _ := e.DB.GetArtifact(ids[1]); a == nil {
		t.Error("unnamed artifact was deleted")
	}
}

func TestLifecycleRefreshQueues(t *testing.T) {
	e, now := testEngine(t)
	seedArtifacts(t, e, now)

	res, err := e.Lifecycle(context.Background(), LifecycleRequest{
		Operation: OpRefresh,
		ProjectID: "p1",
		ScopePath: "payments",
		Apply:     true,
	})
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if res.Affected != 2 {
		t.Errorf("affected = %d, want 2 queued", res.Affected)
	}

	pending, _ := e.DB.PendingRefreshes(10)
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}

func TestFlushCache(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	e.Store(ctx, StoreRequest{
		AnalysisType: "semantic", ProjectID: "p1",
		ScopePath: "payments.api", Content: "x",
	})
	e.Fetch(ctx, "p1", "payments.api", "")
	e.EffectiveTimestamp(ctx, "payments.api")

	if n := e.FlushCache(); n == 0 {
		t.Error("expected warmed entries to be flushed")
	}
}
