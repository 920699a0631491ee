// Package clustering partitions donor populations into clusters over a
// normalized feature space. K-means is the implemented algorithm;
// hierarchical and density-based are named extension points that fail
// loudly until a real algorithm lands.
package clustering

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Algorithm identifies a clustering algorithm.
type Algorithm string

const (
	AlgorithmKMeans       Algorithm = "kmeans"
	AlgorithmHierarchical Algorithm = "hierarchical"
	AlgorithmDensityBased Algorithm = "density_based"
)

var (
	// ErrAlgorithmNotImplemented is returned for algorithms that are named
	// in the config enum but have no real implementation yet. They must
	// never be approximated with random assignment.
	ErrAlgorithmNotImplemented = errors.New("clustering algorithm not implemented")

	// ErrTooFewDonors is returned when the population is smaller than the
	// requested cluster count.
	ErrTooFewDonors = errors.New("fewer donors than requested clusters")

	// ErrDegenerateFeatures is returned when every donor maps to an
	// identical feature vector, which makes partitioning meaningless.
	ErrDegenerateFeatures = errors.New("degenerate feature space: all vectors identical")
)

// Config controls a clustering run.
type Config struct {
	Algorithm         Algorithm `json:"algorithm"`
	NumClusters       int       `json:"num_clusters"`
	Features          []string  `json:"features"`
	NormalizeFeatures bool      `json:"normalize_features"`
	MaxIterations     int       `json:"max_iterations,omitempty"`
	Tolerance         float64   `json:"tolerance,omitempty"`
	RandomSeed        *int64    `json:"random_seed,omitempty"`
}

// DonorCluster is one group produced by a clustering run.
type DonorCluster struct {
	ID        uuid.UUID `json:"id"`
	Algorithm Algorithm `json:"algorithm"`
	Features  []string  `json:"features"`
	Centroid  []float64 `json:"centroid"`
	Size      int       `json:"size"`

	AvgDonationAmount    float64 `json:"avg_donation_amount"`
	AvgDonationFrequency float64 `json:"avg_donation_frequency"`
	AvgEngagement        float64 `json:"avg_engagement"`

	Insights           []string  `json:"insights,omitempty"`
	RecommendedActions []string  `json:"recommended_actions,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Run is the complete output of one clustering pass. A new run replaces the
// prior cluster set for its algorithm; clusters are never patched in place.
type Run struct {
	Algorithm   Algorithm                `json:"algorithm"`
	RanAt       time.Time                `json:"ran_at"`
	Clusters    []*DonorCluster          `json:"clusters"`
	Assignments map[string]uuid.UUID     `json:"assignments"` // donorID -> clusterID
	Distances   map[string]float64       `json:"distances"`   // donorID -> normalized distance to its centroid
}
