package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/strataworks/strata/internal/cache"
	"github.com/strataworks/strata/internal/engine"
	"github.com/strataworks/strata/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eng := engine.New(db, cache.New(time.Minute))
	return New(eng, "test")
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestStoreAndGetArtifact(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, "POST", "/api/artifacts", map[string]any{
		"analysis_type": "semantic",
		"project_id":    "p1",
		"scope_path":    "payments.api",
		"content":       "the api charges cards",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("store status = %d: %s", w.Code, w.Body.String())
	}

	var stored struct {
		Artifact     map[string]any `json:"artifact"`
		Deduplicated bool           `json:"deduplicated"`
	}
	json.Unmarshal(w.Body.Bytes(), &stored)
	if stored.Deduplicated {
		t.Error("first store must not deduplicate")
	}
	if stored.Artifact["scope_path"] != "payments.api" {
		t.Errorf("artifact = %v", stored.Artifact)
	}

	w = doJSON(t, s, "GET", "/api/artifacts?project=p1&scope=payments.api", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	var fetched struct {
		Artifact  map[string]any `json:"artifact"`
		Freshness map[string]any `json:"freshness"`
	}
	json.Unmarshal(w.Body.Bytes(), &fetched)
	if fetched.Freshness["freshness_category"] != "fresh" {
		t.Errorf("freshness = %v", fetched.Freshness)
	}

	// A get without a project resolves by scope alone.
	w = doJSON(t, s, "GET", "/api/artifacts?scope=payments.api", nil)
	if w.Code != http.StatusOK {
		t.Errorf("projectless get status = %d: %s", w.Code, w.Body.String())
	}
}

func TestStoreDuplicateReturnsOK(t *testing.T) {
	s := testServer(t)

	body := map[string]any{
		"analysis_type": "semantic",
		"project_id":    "p1",
		"scope_path":    "payments.api",
		"content":       "identical content",
	}
	doJSON(t, s, "POST", "/api/artifacts", body)

	w := doJSON(t, s, "POST", "/api/artifacts", body)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate status = %d, want 200", w.Code)
	}
	var res struct {
		Deduplicated bool `json:"deduplicated"`
	}
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Deduplicated {
		t.Error("expected deduplicated response")
	}
}

func TestStoreValidation(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, "POST", "/api/artifacts", map[string]any{
		"analysis_type": "semantic",
		"content":       "no scope",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	w = doJSON(t, s, "POST", "/api/artifacts", map[string]any{
		"analysis_type": "astrology",
		"scope_path":    "a.b",
		"content":       "x",
	})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("unknown type status = %d", w.Code)
	}
}

func TestGetArtifactNotFound(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, "GET", "/api/artifacts?scope=nothing.here", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestTouchScopeAndTimestamps(t *testing.T) {
	s := testServer(t)

	w := doJSON(t, s, "POST", "/api/scopes/touch", map[string]any{
		"scope_path": "payments.api.handlers",
		"source":     "file_watcher",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("touch status = %d: %s", w.Code, w.Body.String())
	}

	// The change is visible from the ancestor.
	w = doJSON(t, s, "GET", "/api/timestamps?scope=payments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("timestamps status = %d", w.Code)
	}
	var body struct {
		Recorded bool `json:"recorded"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if !body.Recorded {
		t.Error("ancestor should see the propagated change")
	}

	w = doJSON(t, s, "GET", "/api/timestamps?scope=other.domain", nil)
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Recorded {
		t.Error("unrelated scope must report no record")
	}
}

func TestFreshnessEndpoint(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, "POST", "/api/artifacts", map[string]any{
		"analysis_type": "semantic",
		"project_id":    "p1",
		"scope_path":    "payments.api",
		"content":       "api",
	})

	w := doJSON(t, s, "GET", "/api/freshness?project=p1&scope=payments.api", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var info map[string]any
	json.Unmarshal(w.Body.Bytes(), &info)
	if info["scope_path"] != "payments.api" {
		t.Errorf("info = %v", info)
	}
}

func TestLifecycleEndpointDryRun(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, "POST", "/api/artifacts", map[string]any{
		"analysis_type": "semantic",
		"project_id":    "p1",
		"scope_path":    "payments.api",
		"content":       "api",
	})

	w := doJSON(t, s, "POST", "/api/lifecycle", map[string]any{
		"operation":  "delete",
		"project_id": "p1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var res struct {
		DryRun   bool `json:"dry_run"`
		Affected int  `json:"affected"`
	}
	json.Unmarshal(w.Body.Bytes(), &res)
	if !res.DryRun || res.Affected != 1 {
		t.Errorf("res = %+v, want dry run reporting 1", res)
	}

	w = doJSON(t, s, "GET", "/api/artifacts?project=p1&scope=payments.api", nil)
	if w.Code != http.StatusOK {
		t.Error("dry run must not delete the artifact")
	}
}

func TestStaleScopesEndpoint(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, "POST", "/api/scopes/touch", map[string]any{
		"scope_path": "payments.api",
	})

	// Everything is newer than the window: empty report.
	w := doJSON(t, s, "GET", "/api/stale?max_age_seconds=3600", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Count != 0 {
		t.Errorf("count = %d, want 0 for fresh scopes", body.Count)
	}

	w = doJSON(t, s, "GET", "/api/stale?max_age_seconds=bogus", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus max_age status = %d", w.Code)
	}
}

func TestSimilarWithoutEmbedder(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, "GET", "/api/artifacts/similar?q=anything", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want error without embedder", w.Code)
	}
}

func TestErrorBodiesAreValidJSON(t *testing.T) {
	s := testServer(t)

	// Scope validation quotes the offending path in its message; the error
	// body must still decode.
	w := doJSON(t, s, "GET", "/api/freshness?scope=a..b", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not valid JSON: %v: %s", err, w.Body.String())
	}
	if body.Error == "" {
		t.Errorf("body = %s, want an error field", w.Body.String())
	}
}

func TestProjectsEndpoint(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, "POST", "/api/artifacts", map[string]any{
		"analysis_type": "semantic",
		"project_id":    "p1",
		"scope_path":    "payments.api",
		"content":       "api",
	})

	w := doJSON(t, s, "GET", "/api/projects", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Projects []map[string]any `json:"projects"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Projects) != 1 || body.Projects[0]["project_id"] != "p1" {
		t.Errorf("projects = %v", body.Projects)
	}
}
