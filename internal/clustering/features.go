package clustering

import (
	"fmt"
	"time"

	"github.com/ignite/audience-engine/internal/donor"
)

// FeatureFunc computes one named numeric feature for a donor.
type FeatureFunc func(d *donor.Donor, now time.Time) float64

// featureRegistry is the fixed set of features a clustering run can request.
var featureRegistry = map[string]FeatureFunc{
	"total_donated": func(d *donor.Donor, _ time.Time) float64 {
		return d.TotalDonated()
	},
	"donation_count": func(d *donor.Donor, _ time.Time) float64 {
		return float64(d.DonationCount())
	},
	"avg_donation_amount": func(d *donor.Donor, _ time.Time) float64 {
		return d.AvgDonationAmount()
	},
	"days_since_first_donation": func(d *donor.Donor, now time.Time) float64 {
		return d.DaysSinceFirstDonation(now)
	},
	"days_since_last_donation": func(d *donor.Donor, now time.Time) float64 {
		return d.DaysSinceLastDonation(now)
	},
	"engagement_score": func(d *donor.Donor, now time.Time) float64 {
		return d.EngagementScore(now)
	},
	"age": func(d *donor.Donor, _ time.Time) float64 {
		if d.Age == nil {
			return 0
		}
		return float64(*d.Age)
	},
}

// FeatureNames returns the names of all registered features.
func FeatureNames() []string {
	names := make([]string, 0, len(featureRegistry))
	for name := range featureRegistry {
		names = append(names, name)
	}
	return names
}

// ExtractFeatures builds one feature vector per donor, one component per
// requested feature name, in request order. Unknown feature names are a
// validation error.
func ExtractFeatures(donors []*donor.Donor, features []string, now time.Time) ([][]float64, error) {
	funcs := make([]FeatureFunc, len(features))
	for i, name := range features {
		fn, ok := featureRegistry[name]
		if !ok {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		funcs[i] = fn
	}

	vectors := make([][]float64, len(donors))
	for i, d := range donors {
		vec := make([]float64, len(funcs))
		for j, fn := range funcs {
			vec[j] = fn(d, now)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// NormalizeMinMax scales each feature column into [0,1] over the batch.
// A column with zero range is held constant at 0. The input is not
// modified; a scaled copy is returned along with per-column mins and ranges
// so callers can map centroids back to raw units.
func NormalizeMinMax(vectors [][]float64) (scaled [][]float64, mins, ranges []float64) {
	if len(vectors) == 0 {
		return nil, nil, nil
	}
	dim := len(vectors[0])
	mins = make([]float64, dim)
	maxs := make([]float64, dim)
	copy(mins, vectors[0])
	copy(maxs, vectors[0])
	for _, vec := range vectors[1:] {
		for j, v := range vec {
			if v < mins[j] {
				mins[j] = v
			}
			if v > maxs[j] {
				maxs[j] = v
			}
		}
	}

	ranges = make([]float64, dim)
	for j := range ranges {
		ranges[j] = maxs[j] - mins[j]
	}

	scaled = make([][]float64, len(vectors))
	for i, vec := range vectors {
		row := make([]float64, dim)
		for j, v := range vec {
			if ranges[j] > 0 {
				row[j] = (v - mins[j]) / ranges[j]
			}
		}
		scaled[i] = row
	}
	return scaled, mins, ranges
}
