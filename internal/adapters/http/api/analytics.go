// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/http"
	"strconv"
)

// AnalyticsHandler handles analytics query requests.
type AnalyticsHandler struct {
	provider AnalyticsProvider
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(provider AnalyticsProvider) *AnalyticsHandler {
	return &AnalyticsHandler{provider: provider}
}

// HandleLatest handles GET /analytics/latest?scope= requests.
func (h *AnalyticsHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrMissingScope)
		return
	}

	snapshot, ok := h.provider.Latest(scope)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", ErrScopeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// HandleHistory handles GET /analytics/history?scope=&limit= requests.
func (h *AnalyticsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrMissingScope)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadLimit)
			return
		}
		limit = n
	}

	history := h.provider.History(scope, limit)
	if history == nil {
		writeError(w, http.StatusNotFound, "not_found", ErrScopeNotFound)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// HandleScopes handles GET /analytics/scopes requests.
func (h *AnalyticsHandler) HandleScopes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.provider.Scopes())
}
