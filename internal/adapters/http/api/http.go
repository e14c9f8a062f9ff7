// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/scorepipe/scorepipe/internal/analytics"
)

// StatsProvider defines the interface for getting service statistics.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// AnalyticsProvider exposes the analytics query surface.
type AnalyticsProvider interface {
	Latest(scope string) (analytics.Snapshot, bool)
	History(scope string, limit int) []analytics.Snapshot
	Scopes() []string
}

// Server wires HTTP routes for the control surface.
type Server struct {
	healthHandler    *HealthHandler
	metricsHandler   *MetricsHandler
	statsHandler     *StatsHandler
	analyticsHandler *AnalyticsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(statsProvider StatsProvider, analyticsProvider AnalyticsProvider) *Server {
	return &Server{
		healthHandler:    NewHealthHandler(),
		metricsHandler:   NewMetricsHandler(),
		statsHandler:     NewStatsHandler(statsProvider),
		analyticsHandler: NewAnalyticsHandler(analyticsProvider),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.metricsHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/analytics/latest", MetricsMiddleware(s.analyticsHandler.HandleLatest, "analytics_latest"))
	mux.HandleFunc("/analytics/history", MetricsMiddleware(s.analyticsHandler.HandleHistory, "analytics_history"))
	mux.HandleFunc("/analytics/scopes", MetricsMiddleware(s.analyticsHandler.HandleScopes, "analytics_scopes"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
