// Package api exposes the segmentation engine over HTTP. The engine's
// contracts are in-process; this package is one host-service choice for
// surfacing them.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/audience-engine/internal/clustering"
	"github.com/ignite/audience-engine/internal/segmentation"
)

// SegmentationAPI handles segmentation endpoints.
type SegmentationAPI struct {
	engine *segmentation.Engine
}

// NewSegmentationAPI creates the handler set around an engine.
func NewSegmentationAPI(engine *segmentation.Engine) *SegmentationAPI {
	return &SegmentationAPI{engine: engine}
}

// RegisterRoutes registers all engine routes.
func (api *SegmentationAPI) RegisterRoutes(r chi.Router) {
	r.Route("/segments", func(r chi.Router) {
		r.Get("/", api.ListSegments)
		r.Post("/", api.CreateSegment)

		r.Route("/{segmentID}", func(r chi.Router) {
			r.Get("/", api.GetSegment)
			r.Put("/", api.UpdateSegment)
			r.Delete("/", api.DeleteSegment)
			r.Get("/members", api.GetSegmentMembers)
			r.Post("/reconcile", api.ReconcileSegment)
		})
	})

	r.Get("/donors/{donorID}/segments", api.GetDonorSegments)
	r.Get("/donors/{donorID}/behavior", api.AnalyzeDonorBehavior)
	r.Get("/behavioral-patterns", api.ListBehavioralPatternTypes)

	r.Route("/clusters", func(r chi.Router) {
		r.Get("/", api.ListClusters)
		r.Post("/", api.PerformClustering)
		r.Get("/{clusterID}", api.GetCluster)
	})

	r.Get("/alerts", api.GetAlerts)
	r.Get("/analytics", api.GetAnalytics)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func segmentID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "segmentID"))
	return id, err == nil
}

// ==========================================
// SEGMENT HANDLERS
// ==========================================

// ListSegments returns all segments.
func (api *SegmentationAPI) ListSegments(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.engine.GetSegments())
}

// CreateSegment creates a new segment from a definition.
func (api *SegmentationAPI) CreateSegment(w http.ResponseWriter, r *http.Request) {
	var def segmentation.Segment
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	seg, err := api.engine.CreateSegment(&def)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusCreated, seg)
}

// GetSegment returns one segment by id.
func (api *SegmentationAPI) GetSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentID(r)
	if !ok {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}
	seg := api.engine.GetSegment(id)
	if seg == nil {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, seg)
}

// UpdateSegment applies a partial update.
func (api *SegmentationAPI) UpdateSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentID(r)
	if !ok {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}

	var patch segmentation.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	seg, err := api.engine.UpdateSegment(id, patch)
	if err == segmentation.ErrSegmentNotFound {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, seg)
}

// DeleteSegment hard-deletes a segment and its memberships.
func (api *SegmentationAPI) DeleteSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentID(r)
	if !ok {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}
	if !api.engine.DeleteSegment(id) {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// GetSegmentMembers lists a segment's current memberships.
func (api *SegmentationAPI) GetSegmentMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentID(r)
	if !ok {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}
	if api.engine.GetSegment(id) == nil {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, api.engine.GetSegmentMembers(id))
}

// ReconcileSegment triggers an immediate reconciliation pass.
func (api *SegmentationAPI) ReconcileSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := segmentID(r)
	if !ok {
		http.Error(w, "invalid segment id", http.StatusBadRequest)
		return
	}

	updates, err := api.engine.Reconcile(r.Context(), id)
	if err == segmentation.ErrSegmentNotFound {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"updates": updates})
}

// ==========================================
// DONOR HANDLERS
// ==========================================

// GetDonorSegments returns all memberships held by a donor.
func (api *SegmentationAPI) GetDonorSegments(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "donorID")
	respondJSON(w, http.StatusOK, api.engine.GetDonorSegments(donorID))
}

// AnalyzeDonorBehavior computes behavioral patterns for one donor.
func (api *SegmentationAPI) AnalyzeDonorBehavior(w http.ResponseWriter, r *http.Request) {
	donorID := chi.URLParam(r, "donorID")
	patterns, err := api.engine.AnalyzeDonorBehavior(r.Context(), donorID)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, http.StatusOK, patterns)
}

// ListBehavioralPatternTypes returns the pattern ids segments can require.
func (api *SegmentationAPI) ListBehavioralPatternTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.engine.GetBehavioralPatternTypes())
}

// ==========================================
// CLUSTERING HANDLERS
// ==========================================

// PerformClustering runs a clustering pass over the current population.
func (api *SegmentationAPI) PerformClustering(w http.ResponseWriter, r *http.Request) {
	var cfg clustering.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	clusters, err := api.engine.PerformClustering(r.Context(), cfg)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusOK, clusters)
}

// ListClusters returns all clusters from current runs.
func (api *SegmentationAPI) ListClusters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.engine.GetClusters())
}

// GetCluster returns one cluster by id.
func (api *SegmentationAPI) GetCluster(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "clusterID"))
	if err != nil {
		http.Error(w, "invalid cluster id", http.StatusBadRequest)
		return
	}
	cluster := api.engine.GetCluster(id)
	if cluster == nil {
		http.Error(w, "cluster not found", http.StatusNotFound)
		return
	}
	respondJSON(w, http.StatusOK, cluster)
}

// ==========================================
// ALERTS & ANALYTICS
// ==========================================

// GetAlerts returns pending alerts; ?drain=true consumes them.
func (api *SegmentationAPI) GetAlerts(w http.ResponseWriter, r *http.Request) {
	drain := r.URL.Query().Get("drain") == "true"
	respondJSON(w, http.StatusOK, api.engine.GetAlerts(drain))
}

// GetAnalytics returns the aggregate segmentation view.
func (api *SegmentationAPI) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, api.engine.GetSegmentationAnalytics())
}
