package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/strataworks/strata/internal/analyze"
	"github.com/strataworks/strata/internal/engine"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError emits {"error": msg} through the JSON encoder so messages
// containing quotes stay valid JSON.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStoreArtifact(w http.ResponseWriter, r *http.Request) {
	var req engine.StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ScopePath == "" {
		writeError(w, http.StatusBadRequest, "scope_path required")
		return
	}

	res, err := s.engine.Store(r.Context(), req)
	if err != nil && !errors.Is(err, engine.ErrPartialPropagation) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusCreated
	body := map[string]any{
		"artifact":     res.Artifact,
		"deduplicated": res.Deduplicated,
	}
	if res.Deduplicated {
		status = http.StatusOK
	}
	// The artifact is durable even when propagation is incomplete; report
	// the degradation instead of failing the write.
	if err != nil {
		body["warning"] = err.Error()
	}
	writeJSON(w, status, body)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	scopePath := r.URL.Query().Get("scope")
	if scopePath == "" {
		writeError(w, http.StatusBadRequest, "scope required")
		return
	}
	projectID := r.URL.Query().Get("project")
	analysisType := r.URL.Query().Get("type")

	res, err := s.engine.Fetch(r.Context(), projectID, scopePath, analyze.Type(analysisType))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFindSimilar(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	projectID := r.URL.Query().Get("project")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	results, err := s.engine.FindSimilar(r.Context(), projectID, query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	scopePath := r.URL.Query().Get("scope")
	if scopePath == "" {
		writeError(w, http.StatusBadRequest, "scope required")
		return
	}
	projectID := r.URL.Query().Get("project")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	deps, err := s.engine.FindDependents(r.Context(), projectID, scopePath, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scope_path": scopePath,
		"dependents": deps,
	})
}

func (s *Server) handleArchitecture(w http.ResponseWriter, r *http.Request) {
	scopePath := r.URL.Query().Get("scope")
	if scopePath == "" {
		writeError(w, http.StatusBadRequest, "scope required")
		return
	}

	arch, err := s.engine.ComponentArchitecture(r.Context(), r.URL.Query().Get("project"), scopePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, arch)
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	scopePath := r.URL.Query().Get("scope")
	if scopePath == "" {
		writeError(w, http.StatusBadRequest, "scope required")
		return
	}

	info, err := s.engine.Freshness(r.Context(), r.URL.Query().Get("project"), scopePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleEffectiveTimestamp(w http.ResponseWriter, r *http.Request) {
	scopePath := r.URL.Query().Get("scope")
	if scopePath == "" {
		writeError(w, http.StatusBadRequest, "scope required")
		return
	}

	ts, err := s.engine.EffectiveTimestamp(r.Context(), scopePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	body := map[string]any{
		"scope_path": scopePath,
		"recorded":   !ts.IsZero(),
	}
	if !ts.IsZero() {
		body["effective_timestamp"] = ts.UTC().Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTouchScope(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScopePath  string `json:"scope_path"`
		Source     string `json:"source"`
		ChangeType string `json:"change_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.ScopePath == "" {
		writeError(w, http.StatusBadRequest, "scope_path required")
		return
	}

	err := s.engine.RecordChange(r.Context(), req.ScopePath, req.Source, req.ChangeType, time.Time{})
	body := map[string]any{"scope_path": req.ScopePath, "status": "recorded"}
	if errors.Is(err, engine.ErrPartialPropagation) {
		body["warning"] = err.Error()
	} else if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		engine.LifecycleRequest
		OlderThanSeconds int64 `json:"older_than_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Operation == "" {
		writeError(w, http.StatusBadRequest, "operation required")
		return
	}
	lreq := req.LifecycleRequest
	if req.OlderThanSeconds > 0 {
		lreq.OlderThan = time.Duration(req.OlderThanSeconds) * time.Second
	}

	res, err := s.engine.Lifecycle(r.Context(), lreq)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStaleScopes(w http.ResponseWriter, r *http.Request) {
	maxAge := 7 * 24 * time.Hour
	if v := r.URL.Query().Get("max_age_seconds"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs <= 0 {
			writeError(w, http.StatusBadRequest, "invalid max_age_seconds")
			return
		}
		maxAge = time.Duration(secs) * time.Second
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	scopes, err := s.engine.StaleScopes(r.Context(), maxAge, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"max_age_seconds": maxAge.Seconds(),
		"scopes":          scopes,
		"count":           len(scopes),
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.engine.DB.ListProjects()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		out = append(out, map[string]any{
			"project_id":   p.ProjectID,
			"project_name": p.ProjectName,
			"base_scope":   p.BaseScope,
			"is_active":    p.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": out})
}
