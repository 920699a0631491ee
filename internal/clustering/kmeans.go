package clustering

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/audience-engine/internal/donor"
)

const (
	defaultMaxIterations = 100
	defaultTolerance     = 0.001
)

// Cluster partitions the donor population according to cfg and returns a
// complete Run. It fails visibly rather than returning partial or garbage
// clusters: too few donors, an unknown feature, or a degenerate feature
// space are all errors.
func Cluster(donors []*donor.Donor, cfg Config, now time.Time) (*Run, error) {
	switch cfg.Algorithm {
	case AlgorithmKMeans, "":
		// kmeans is the default
	case AlgorithmHierarchical, AlgorithmDensityBased:
		return nil, fmt.Errorf("%w: %s", ErrAlgorithmNotImplemented, cfg.Algorithm)
	default:
		return nil, fmt.Errorf("unknown clustering algorithm %q", cfg.Algorithm)
	}

	if cfg.NumClusters <= 0 {
		return nil, fmt.Errorf("num_clusters must be positive, got %d", cfg.NumClusters)
	}
	if len(cfg.Features) == 0 {
		return nil, fmt.Errorf("at least one feature is required")
	}
	if len(donors) < cfg.NumClusters {
		return nil, fmt.Errorf("%w: %d donors, %d clusters", ErrTooFewDonors, len(donors), cfg.NumClusters)
	}

	raw, err := ExtractFeatures(donors, cfg.Features, now)
	if err != nil {
		return nil, err
	}

	space := raw
	var mins, ranges []float64
	if cfg.NormalizeFeatures {
		space, mins, ranges = NormalizeMinMax(raw)
	}
	if allIdentical(space) {
		return nil, ErrDegenerateFeatures
	}

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}

	var seed int64
	if cfg.RandomSeed != nil {
		seed = *cfg.RandomSeed
	} else {
		seed = now.UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Initialization draws uniform-random points within the observed bounds
	// of the clustering space.
	lo, hi := bounds(space)
	centroids := make([][]float64, cfg.NumClusters)
	for i := range centroids {
		centroids[i] = randomPoint(rng, lo, hi)
	}

	dim := len(cfg.Features)
	assignment := make([]int, len(space))
	for iter := 0; iter < maxIter; iter++ {
		for i, vec := range space {
			assignment[i] = nearestCentroid(vec, centroids)
		}

		moved := 0.0
		for c := range centroids {
			sum := make([]float64, dim)
			count := 0
			for i, vec := range space {
				if assignment[i] != c {
					continue
				}
				for j, v := range vec {
					sum[j] += v
				}
				count++
			}
			if count == 0 {
				// Empty cluster: reseed instead of leaving it degenerate.
				centroids[c] = randomPoint(rng, lo, hi)
				moved = math.Inf(1)
				continue
			}
			next := make([]float64, dim)
			for j := range next {
				next[j] = sum[j] / float64(count)
			}
			if d := euclidean(centroids[c], next); d > moved {
				moved = d
			}
			centroids[c] = next
		}

		if moved < tolerance {
			break
		}
	}

	return buildRun(donors, cfg, now, space, mins, ranges, centroids, assignment), nil
}

func buildRun(donors []*donor.Donor, cfg Config, now time.Time,
	space [][]float64, mins, ranges []float64, centroids [][]float64, assignment []int) *Run {

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmKMeans
	}

	run := &Run{
		Algorithm:   algorithm,
		RanAt:       now,
		Assignments: make(map[string]uuid.UUID, len(donors)),
		Distances:   make(map[string]float64, len(donors)),
	}

	ids := make([]uuid.UUID, len(centroids))
	members := make([][]*donor.Donor, len(centroids))
	for c := range centroids {
		ids[c] = uuid.New()
	}
	for i, d := range donors {
		c := assignment[i]
		members[c] = append(members[c], d)
		run.Assignments[d.ID] = ids[c]
		run.Distances[d.ID] = normalizedDistance(space[i], centroids[c], len(cfg.Features))
	}

	for c, centroid := range centroids {
		cluster := &DonorCluster{
			ID:        ids[c],
			Algorithm: algorithm,
			Features:  cfg.Features,
			Centroid:  denormalize(centroid, mins, ranges),
			Size:      len(members[c]),
			CreatedAt: now,
		}
		summarize(cluster, members[c], len(donors), now)
		run.Clusters = append(run.Clusters, cluster)
	}
	return run
}

// summarize fills aggregate characteristics and human-readable insights.
func summarize(cluster *DonorCluster, members []*donor.Donor, population int, now time.Time) {
	if len(members) == 0 {
		cluster.Insights = []string{"empty cluster"}
		return
	}

	var amount, freq, engagement float64
	for _, d := range members {
		amount += d.AvgDonationAmount()
		freq += float64(d.DonationCount())
		engagement += d.EngagementScore(now)
	}
	n := float64(len(members))
	cluster.AvgDonationAmount = amount / n
	cluster.AvgDonationFrequency = freq / n
	cluster.AvgEngagement = engagement / n

	share := 100 * n / float64(population)
	cluster.Insights = []string{
		fmt.Sprintf("%.1f%% of donor base", share),
		fmt.Sprintf("average gift size $%.2f", cluster.AvgDonationAmount),
		fmt.Sprintf("average of %.1f lifetime gifts", cluster.AvgDonationFrequency),
	}

	switch {
	case cluster.AvgDonationAmount >= 500:
		cluster.RecommendedActions = append(cluster.RecommendedActions,
			"prioritize for major-gift outreach")
	case cluster.AvgEngagement >= 50 && cluster.AvgDonationFrequency < 2:
		cluster.RecommendedActions = append(cluster.RecommendedActions,
			"engaged non-donors: send a first-gift ask")
	case cluster.AvgEngagement < 10:
		cluster.RecommendedActions = append(cluster.RecommendedActions,
			"low engagement: run a re-activation series")
	default:
		cluster.RecommendedActions = append(cluster.RecommendedActions,
			"steady givers: maintain regular cadence")
	}
}

func allIdentical(vectors [][]float64) bool {
	for _, vec := range vectors[1:] {
		for j, v := range vec {
			if v != vectors[0][j] {
				return false
			}
		}
	}
	return true
}

func bounds(vectors [][]float64) (lo, hi []float64) {
	dim := len(vectors[0])
	lo = make([]float64, dim)
	hi = make([]float64, dim)
	copy(lo, vectors[0])
	copy(hi, vectors[0])
	for _, vec := range vectors[1:] {
		for j, v := range vec {
			if v < lo[j] {
				lo[j] = v
			}
			if v > hi[j] {
				hi[j] = v
			}
		}
	}
	return lo, hi
}

func randomPoint(rng *rand.Rand, lo, hi []float64) []float64 {
	p := make([]float64, len(lo))
	for j := range p {
		p[j] = lo[j] + rng.Float64()*(hi[j]-lo[j])
	}
	return p
}

func nearestCentroid(vec []float64, centroids [][]float64) int {
	best := 0
	bestDist := math.Inf(1)
	for c, centroid := range centroids {
		if d := euclidean(vec, centroid); d < bestDist {
			best = c
			bestDist = d
		}
	}
	return best
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for j := range a {
		diff := a[j] - b[j]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// normalizedDistance maps a donor's distance to its centroid into [0,1]
// by dividing by the diagonal of the unit hypercube. In an un-normalized
// space the raw distance is clamped instead.
func normalizedDistance(vec, centroid []float64, dim int) float64 {
	d := euclidean(vec, centroid) / math.Sqrt(float64(dim))
	if d > 1 {
		d = 1
	}
	return d
}

func denormalize(centroid []float64, mins, ranges []float64) []float64 {
	out := make([]float64, len(centroid))
	if mins == nil {
		copy(out, centroid)
		return out
	}
	for j, v := range centroid {
		out[j] = mins[j] + v*ranges[j]
	}
	return out
}
