package clustering

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store keeps the most recent clustering run per algorithm. A new run
// wholesale-replaces the prior cluster set for that algorithm; clusters
// are never patched incrementally.
type Store struct {
	mu   sync.RWMutex
	runs map[Algorithm]*Run
}

// NewStore creates an empty cluster store.
func NewStore() *Store {
	return &Store{runs: make(map[Algorithm]*Run)}
}

// Replace installs a run as the current result for its algorithm.
func (s *Store) Replace(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.Algorithm] = run
}

// Clusters returns all clusters across current runs, newest run first.
func (s *Store) Clusters() []*DonorCluster {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RanAt.After(runs[j].RanAt) })

	var out []*DonorCluster
	for _, run := range runs {
		out = append(out, run.Clusters...)
	}
	return out
}

// Cluster returns a cluster by id, or nil when no current run contains it.
func (s *Store) Cluster(id uuid.UUID) *DonorCluster {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		for _, c := range run.Clusters {
			if c.ID == id {
				return c
			}
		}
	}
	return nil
}

// Membership reports whether the donor is assigned to the given cluster in
// the run that produced it, along with the donor's normalized distance to
// the centroid (used for confidence scoring).
func (s *Store) Membership(donorID string, clusterID uuid.UUID) (distance float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		for _, c := range run.Clusters {
			if c.ID != clusterID {
				continue
			}
			if assigned, found := run.Assignments[donorID]; found && assigned == clusterID {
				return run.Distances[donorID], true
			}
			return 0, false
		}
	}
	return 0, false
}

// Runs returns the current runs, for state export.
func (s *Store) Runs() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Algorithm < out[j].Algorithm })
	return out
}

// Restore replaces the store contents from exported runs.
func (s *Store) Restore(runs []*Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = make(map[Algorithm]*Run, len(runs))
	for _, run := range runs {
		s.runs[run.Algorithm] = run
	}
}
