package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/docuflow/statsengine/pkg/httpx"
	"github.com/docuflow/statsengine/pkg/query"
	"github.com/docuflow/statsengine/pkg/recorder"
	"github.com/docuflow/statsengine/pkg/stats"
)

var startTime = time.Now()

// visibleScopesHeader carries the caller's resolved visibility filter.
// Access control itself is an upstream concern; the engine only enforces
// the filter it is handed. Absent header = unrestricted.
const visibleScopesHeader = "X-Visible-Scopes"

// Router builds the engine's HTTP surface.
func Router(e *Engine) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", e.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/results", e.handleRecord).Methods(http.MethodPost)
	r.HandleFunc("/v1/stats", e.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats/summary", e.handleSummary).Methods(http.MethodGet)
	r.HandleFunc("/v1/stats/realtime", e.handleRealtime).Methods(http.MethodGet)
	r.HandleFunc("/v1/reconcile", e.handleReconcile).Methods(http.MethodPost)
	r.HandleFunc("/v1/audit", e.handleAuditList).Methods(http.MethodGet)
	r.HandleFunc("/v1/ws", e.Hub.HandleWebSocket)
	return r
}

func scopeFilter(r *http.Request) stats.ScopeFilter {
	header := strings.TrimSpace(r.Header.Get(visibleScopesHeader))
	if header == "" {
		return stats.AllScopes()
	}
	var scopes []stats.ScopeKey
	for _, s := range strings.Split(header, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, stats.ScopeKey(s))
		}
	}
	return stats.OnlyScopes(scopes...)
}

type recordRequest struct {
	Scope                 stats.ScopeKey       `json:"scope"`
	Category              stats.ResultCategory `json:"category"`
	ProcessingTimeSeconds float64              `json:"processingTimeSeconds"`
}

func (e *Engine) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Scope == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "scope is required")
		return
	}

	err := e.Recorder.RecordResult(r.Context(), req.Scope, req.Category, req.ProcessingTimeSeconds)
	switch {
	case err == nil:
		httpx.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	case errors.Is(err, recorder.ErrRecordingFailed):
		// Transient: the event may be retried later, or the next
		// reconciliation pass picks the document up.
		httpx.RespondError(w, http.StatusServiceUnavailable, err)
	default:
		httpx.RespondError(w, http.StatusBadRequest, err)
	}
}

func (e *Engine) handleStats(w http.ResponseWriter, r *http.Request) {
	start, end, ok := dateRange(w, r)
	if !ok {
		return
	}
	granularity, err := query.ParseGranularity(defaultString(r.URL.Query().Get("granularity"), "day"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	q := query.StatsQuery{Start: start, End: end, Granularity: granularity}
	if raw := r.URL.Query().Get("scopes"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			q.Scopes = append(q.Scopes, stats.ScopeKey(strings.TrimSpace(s)))
		}
	}

	results, err := e.Query.AggregatedStats(r.Context(), scopeFilter(r), q)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, results)
}

func (e *Engine) handleSummary(w http.ResponseWriter, r *http.Request) {
	start, end, ok := dateRange(w, r)
	if !ok {
		return
	}
	results, err := e.Query.ScopeSummaries(r.Context(), scopeFilter(r), start, end)
	if err != nil {
		respondQueryError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, results)
}

func (e *Engine) handleRealtime(w http.ResponseWriter, r *http.Request) {
	result, err := e.Query.RealtimeStats(r.Context(), scopeFilter(r))
	if err != nil {
		respondQueryError(w, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

type reconcileRequest struct {
	Scope      stats.ScopeKey `json:"scope"`
	Date       string         `json:"date"`
	ExecutedBy string         `json:"executedBy"`
}

func (e *Engine) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if !scopeFilter(r).Allows(req.Scope) {
		httpx.RespondError(w, http.StatusForbidden, query.ErrAccessDenied)
		return
	}

	result, err := e.Auditor.VerifyAndReconcile(r.Context(), req.Scope, date, stats.AuditManual, defaultString(req.ExecutedBy, "operator"))
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, result)
}

func (e *Engine) handleAuditList(w http.ResponseWriter, r *http.Request) {
	scope := stats.ScopeKey(r.URL.Query().Get("scope"))
	if scope != "" && !scopeFilter(r).Allows(scope) {
		httpx.RespondError(w, http.StatusForbidden, query.ErrAccessDenied)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	entries, err := e.DB.Audit().List(r.Context(), scope, limit)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, entries)
}

func (e *Engine) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := e.DB.Daily().Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusServiceUnavailable, err)
		return
	}
	hits, misses := e.Cache.HitRate()
	httpx.RespondJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"uptime":      time.Since(startTime).String(),
		"storage":     st,
		"cacheHits":   hits,
		"cacheMisses": misses,
	})
}

func respondQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, query.ErrAccessDenied) {
		httpx.RespondError(w, http.StatusForbidden, err)
		return
	}
	httpx.RespondError(w, http.StatusInternalServerError, err)
}

func dateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	start, err := time.Parse("2006-01-02", r.URL.Query().Get("start"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse("2006-01-02", r.URL.Query().Get("end"))
	if err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	if end.Before(start) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "end before start")
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
