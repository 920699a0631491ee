package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ignite/audience-engine/internal/behavior"
	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/donor"
	"github.com/ignite/audience-engine/internal/segmentation"
)

var apiNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (http.Handler, *segmentation.Engine) {
	t.Helper()

	repo := donor.NewMemoryRepository()
	repo.Put(&donor.Donor{
		ID:    "big-1",
		Email: "big@example.org",
		Donations: []donor.Donation{
			{Amount: 2000, DonatedAt: apiNow.AddDate(0, -1, 0)},
			{Amount: 2000, DonatedAt: apiNow.AddDate(0, -3, 0)},
			{Amount: 1000, DonatedAt: apiNow.AddDate(0, -5, 0)},
		},
	})
	repo.Put(&donor.Donor{
		ID:    "small-1",
		Email: "small@example.org",
		Donations: []donor.Donation{
			{Amount: 20, DonatedAt: apiNow.AddDate(0, -2, 0)},
		},
	})

	engine := segmentation.NewEngine(segmentation.Options{
		Repository: repo,
		Behavior:   behavior.DefaultConfig(),
		Now:        func() time.Time { return apiNow },
	})
	server := NewServer(config.ServerConfig{Host: "localhost", Port: 0}, engine)
	return server.Handler(), engine
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createMajorDonorSegment(t *testing.T, handler http.Handler) segmentation.Segment {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/segments", map[string]any{
		"name": "Major Donors",
		"include_criteria": map[string]any{
			"rules": []map[string]any{
				{"field": "total_donated", "operator": "greater_than", "value": 1000},
			},
			"logical_operator": "AND",
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create segment status = %d, body %s", rec.Code, rec.Body.String())
	}
	var seg segmentation.Segment
	if err := json.Unmarshal(rec.Body.Bytes(), &seg); err != nil {
		t.Fatalf("decode created segment: %v", err)
	}
	return seg
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestServer(t)
	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestSegmentLifecycleOverHTTP(t *testing.T) {
	handler, _ := newTestServer(t)
	seg := createMajorDonorSegment(t, handler)

	// List
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/segments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var segments []segmentation.Segment
	if err := json.Unmarshal(rec.Body.Bytes(), &segments); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("listed %d segments, want 1", len(segments))
	}

	// Reconcile
	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/segments/%s/reconcile", seg.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Members
	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/segments/%s/members", seg.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("members status = %d", rec.Code)
	}
	var members []segmentation.Membership
	if err := json.Unmarshal(rec.Body.Bytes(), &members); err != nil {
		t.Fatalf("decode members: %v", err)
	}
	if len(members) != 1 || members[0].DonorID != "big-1" {
		t.Fatalf("members = %+v, want big-1", members)
	}

	// Donor view
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/donors/big-1/segments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("donor segments status = %d", rec.Code)
	}

	// Patch
	rec = doJSON(t, handler, http.MethodPut, fmt.Sprintf("/api/v1/segments/%s", seg.ID), map[string]any{
		"description": "lifetime giving above $1000",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body.String())
	}
	var updated segmentation.Segment
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if updated.Description != "lifetime giving above $1000" {
		t.Errorf("description = %q", updated.Description)
	}

	// Delete
	rec = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/v1/segments/%s", seg.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/segments/%s", seg.ID), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestSegmentValidationErrorsOverHTTP(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/segments", map[string]any{
		"name": "Broken",
		"include_criteria": map[string]any{
			"rules": []map[string]any{
				{"field": "age", "operator": "almost_equals", "value": 40},
			},
		},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid operator status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/segments/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/segments/00000000-0000-0000-0000-000000000001/reconcile", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("reconcile missing segment status = %d, want 404", rec.Code)
	}
}

func TestClusteringOverHTTP(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/clusters", map[string]any{
		"algorithm":          "kmeans",
		"num_clusters":       2,
		"features":           []string{"total_donated"},
		"normalize_features": true,
		"random_seed":        7,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("clustering status = %d, body %s", rec.Code, rec.Body.String())
	}
	var clusters []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &clusters); err != nil {
		t.Fatalf("decode clusters: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/clusters", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("list clusters status = %d", rec.Code)
	}

	// Unimplemented algorithms surface as client errors, not fake results.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/clusters", map[string]any{
		"algorithm":    "hierarchical",
		"num_clusters": 2,
		"features":     []string{"total_donated"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("hierarchical status = %d, want 400", rec.Code)
	}
}

func TestBehaviorEndpoints(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/donors/big-1/behavior", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("behavior status = %d, body %s", rec.Code, rec.Body.String())
	}
	var patterns []behavior.Pattern
	if err := json.Unmarshal(rec.Body.Bytes(), &patterns); err != nil {
		t.Fatalf("decode patterns: %v", err)
	}
	if len(patterns) == 0 {
		t.Error("expected behavioral patterns for an active donor")
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/donors/ghost/behavior", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown donor status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/behavioral-patterns", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pattern catalog status = %d", rec.Code)
	}
	var types []string
	if err := json.Unmarshal(rec.Body.Bytes(), &types); err != nil {
		t.Fatalf("decode pattern types: %v", err)
	}
	if len(types) != 5 {
		t.Errorf("pattern catalog = %v, want 5 entries", types)
	}
}

func TestAlertsAndAnalyticsEndpoints(t *testing.T) {
	handler, _ := newTestServer(t)
	seg := createMajorDonorSegment(t, handler)

	rec := doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/segments/%s/reconcile", seg.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d", rec.Code)
	}

	// The initial fill trips the churn alert; drain consumes it.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/alerts?drain=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("alerts status = %d", rec.Code)
	}
	var alerts []segmentation.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &alerts); err != nil {
		t.Fatalf("decode alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/alerts", nil)
	var remaining []segmentation.Alert
	if err := json.Unmarshal(rec.Body.Bytes(), &remaining); err != nil {
		t.Fatalf("decode remaining alerts: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("alerts after drain = %d, want 0", len(remaining))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/analytics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("analytics status = %d", rec.Code)
	}
	var analytics segmentation.Analytics
	if err := json.Unmarshal(rec.Body.Bytes(), &analytics); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if analytics.Overview.TotalSegments != 1 {
		t.Errorf("analytics total segments = %d, want 1", analytics.Overview.TotalSegments)
	}
}
