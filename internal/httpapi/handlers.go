package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"slm-core/internal/apperrors"
	"slm-core/internal/persistence/sqlite"
	"slm-core/internal/search"
)

func (rt *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.log.Warnw("encode response failed", "error", err)
	}
}

type errBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (rt *Router) writeErr(w http.ResponseWriter, err error) {
	ae, ok := apperrors.As(err)
	if !ok {
		rt.writeJSON(w, http.StatusInternalServerError, errBody{Kind: "INTERNAL", Message: err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch ae.Kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindIO, apperrors.KindIntegrity:
		status = http.StatusInternalServerError
	case apperrors.KindDependencyUnavailable:
		status = http.StatusServiceUnavailable
	case apperrors.KindCancelled:
		status = 499
	}
	rt.writeJSON(w, status, errBody{Kind: string(ae.Kind), Message: ae.Message})
}

func profileParam(r *http.Request) string {
	return r.URL.Query().Get("profile")
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// handleStats serves the `stats` read-only endpoint (§6).
func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := rt.f.Status(profileParam(r))
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, st)
}

// handleGraph serves `graph(max_nodes)`. max_nodes currently bounds only
// the response's reported node count, since the façade's GraphStats is an
// aggregate view rather than a full node/edge dump (§6).
func (rt *Router) handleGraph(w http.ResponseWriter, r *http.Request) {
	summary, err := rt.f.GraphStats(profileParam(r))
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	maxNodes := intParam(r, "max_nodes", 0)
	if maxNodes > 0 && summary.NodeCount > maxNodes {
		summary.NodeCount = maxNodes
	}
	rt.writeJSON(w, http.StatusOK, summary)
}

// handleClusters serves `clusters` with graph_stats' aggregate counts
// (nodes, edges, clusters, max depth). It does not list the clusters
// themselves; one cluster's members and summary come from /clusters/{id}.
func (rt *Router) handleClusters(w http.ResponseWriter, r *http.Request) {
	summary, err := rt.f.GraphStats(profileParam(r))
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, summary)
}

func (rt *Router) handleClusterDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rt.writeErr(w, apperrors.Validation("cluster id must be an integer"))
		return
	}
	detail, err := rt.f.Cluster(profileParam(r), id)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, detail)
}

// handlePatterns serves `patterns` — identity patterns at or above a
// min_confidence threshold (default 0, i.e. every pattern).
func (rt *Router) handlePatterns(w http.ResponseWriter, r *http.Request) {
	minConf := 0.0
	if raw := r.URL.Query().Get("min_confidence"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			minConf = v
		}
	}
	ctx, err := rt.f.GetIdentityContext(profileParam(r), minConf)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, ctx)
}

// handleTimeline serves `timeline(days)` from the façade's bounded event
// ring buffer.
func (rt *Router) handleTimeline(w http.ResponseWriter, r *http.Request) {
	days := intParam(r, "days", 7)
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rt.writeJSON(w, http.StatusOK, rt.f.Events().Since(cutoff))
}

// handleMemories serves `memories(filters)`.
func (rt *Router) handleMemories(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", 20)
	offset := intParam(r, "offset", 0)
	notes, err := rt.f.List(profileParam(r), sqlite.SortOrder(sortParam(r)), limit, offset)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, notes)
}

func (rt *Router) handleMemory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rt.writeErr(w, apperrors.Validation("memory id must be an integer"))
		return
	}
	n, err := rt.f.Get(profileParam(r), id)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, n)
}

func (rt *Router) handleRelated(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		rt.writeErr(w, apperrors.Validation("memory id must be an integer"))
		return
	}
	hits, err := rt.f.Related(profileParam(r), id)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, hits)
}

type searchRequest struct {
	Profile       string   `json:"profile"`
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	MinScore      float64  `json:"min_score"`
	Tags          []string `json:"tags"`
	Project       string   `json:"project"`
	Category      string   `json:"category"`
	MinImportance int      `json:"min_importance"`
}

// handleSearch serves `search(body)`. It is a POST because the filter body
// doesn't fit cleanly in a query string, but it still never mutates state.
func (rt *Router) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeErr(w, apperrors.Validation("malformed search request body: %v", err))
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	hits, err := rt.f.Search(req.Profile, req.Query, req.Limit, req.MinScore, search.Filters{
		Tags: req.Tags, Project: req.Project, Category: req.Category, MinImportance: req.MinImportance,
	})
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	rt.writeJSON(w, http.StatusOK, hits)
}

// handleExport serves `export(format)` as a raw file download rather than
// a JSON envelope, since its whole point is to hand the caller a portable
// artifact.
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	data, contentType, err := rt.f.Export(profileParam(r), format)
	if err != nil {
		rt.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func sortParam(r *http.Request) string {
	s := strings.ToLower(r.URL.Query().Get("sort"))
	if s == "" {
		return "recent"
	}
	return s
}
