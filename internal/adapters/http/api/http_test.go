package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scorepipe/scorepipe/internal/analytics"
)

type stubStats struct{}

func (stubStats) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"queue_size": 3,
		"strategy":   "round_robin",
	}
}

type stubAnalytics struct {
	snapshots map[string][]analytics.Snapshot
}

func (s stubAnalytics) Latest(scope string) (analytics.Snapshot, bool) {
	h := s.snapshots[scope]
	if len(h) == 0 {
		return analytics.Snapshot{}, false
	}
	return h[0], true
}

func (s stubAnalytics) History(scope string, limit int) []analytics.Snapshot {
	h := s.snapshots[scope]
	if h == nil {
		return nil
	}
	if limit > 0 && limit < len(h) {
		return h[:limit]
	}
	return h
}

func (s stubAnalytics) Scopes() []string {
	out := make([]string, 0, len(s.snapshots))
	for scope := range s.snapshots {
		out = append(out, scope)
	}
	return out
}

func testServer() *httptest.Server {
	provider := stubAnalytics{snapshots: map[string][]analytics.Snapshot{
		"tournament/T1/match/M1": {
			{Scope: "tournament/T1/match/M1", GeneratedAt: time.Now(), TotalEvents: 8, Points: map[string]int{"A1": 5}},
			{Scope: "tournament/T1/match/M1", GeneratedAt: time.Now().Add(-time.Second), TotalEvents: 4},
		},
	}}

	mux := http.NewServeMux()
	NewServer(stubStats{}, provider).Register(context.Background(), mux)
	return httptest.NewServer(mux)
}

func TestHandleHealth(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected ok status, got %q", body["status"])
	}
}

func TestHandleStats(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["strategy"] != "round_robin" {
		t.Errorf("expected strategy in stats, got %v", body)
	}
}

func TestHandleAnalyticsLatest(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/analytics/latest?scope=tournament/T1/match/M1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var s analytics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if s.TotalEvents != 8 || s.Points["A1"] != 5 {
		t.Errorf("unexpected snapshot: %+v", s)
	}
}

func TestHandleAnalyticsLatest_Errors(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	cases := []struct {
		path   string
		status int
	}{
		{"/analytics/latest", http.StatusBadRequest},
		{"/analytics/latest?scope=no/such", http.StatusNotFound},
		{"/analytics/history", http.StatusBadRequest},
		{"/analytics/history?scope=tournament/T1/match/M1&limit=x", http.StatusBadRequest},
		{"/analytics/history?scope=no/such", http.StatusNotFound},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Errorf("%s: expected %d, got %d", tc.path, tc.status, resp.StatusCode)
		}
	}
}

func TestHandleAnalyticsHistory(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/analytics/history?scope=tournament/T1/match/M1&limit=1")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var history []analytics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected limit honored, got %d entries", len(history))
	}
	if history[0].TotalEvents != 8 {
		t.Errorf("expected most recent first, got %+v", history[0])
	}
}

func TestHandleMetrics(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
