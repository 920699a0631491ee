package donor

import (
	"context"
	"sort"
	"sync"
)

// Repository supplies donor population snapshots to the engine.
//
// Snapshot must return an internally consistent batch: every donor in the
// slice reflects the same point in time. Callers treat the result as
// immutable and never write through the returned pointers.
type Repository interface {
	Snapshot(ctx context.Context) ([]*Donor, error)
	Get(ctx context.Context, id string) (*Donor, error)
}

// MemoryRepository is an in-memory Repository used in tests and dev mode.
type MemoryRepository struct {
	mu     sync.RWMutex
	donors map[string]*Donor
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{donors: make(map[string]*Donor)}
}

// Put inserts or replaces a donor record.
func (r *MemoryRepository) Put(d *Donor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.donors[d.ID] = d
}

// Remove deletes a donor record if present.
func (r *MemoryRepository) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.donors, id)
}

// Snapshot returns all donors sorted by id. The slice is freshly allocated
// on every call so concurrent reconciliation passes never share backing
// arrays.
func (r *MemoryRepository) Snapshot(_ context.Context) ([]*Donor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Donor, 0, len(r.donors))
	for _, d := range r.donors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns a single donor by id, or nil when absent.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Donor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.donors[id], nil
}
