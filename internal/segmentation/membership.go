package segmentation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/audience-engine/internal/behavior"
	"github.com/ignite/audience-engine/internal/clustering"
	"github.com/ignite/audience-engine/internal/donor"
)

// ErrSegmentDeleted signals that a segment vanished while its
// reconciliation pass was in flight. The pass's results are discarded at
// commit time; the scheduler logs this at info level and moves on.
var ErrSegmentDeleted = errors.New("segment deleted during reconciliation")

// MembershipStore is the authoritative (donor, segment) -> membership map,
// with a secondary donor index so per-donor lookup never scans all
// segments.
type MembershipStore struct {
	mu        sync.RWMutex
	bySegment map[uuid.UUID]map[string]*Membership
	byDonor   map[string]map[uuid.UUID]*Membership
}

// NewMembershipStore creates an empty membership store.
func NewMembershipStore() *MembershipStore {
	return &MembershipStore{
		bySegment: make(map[uuid.UUID]map[string]*Membership),
		byDonor:   make(map[string]map[uuid.UUID]*Membership),
	}
}

// ForSegment returns the segment's memberships sorted by donor id.
func (s *MembershipStore) ForSegment(segmentID uuid.UUID) []*Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Membership, 0, len(s.bySegment[segmentID]))
	for _, m := range s.bySegment[segmentID] {
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DonorID < out[j].DonorID })
	return out
}

// ForDonor returns all memberships held by a donor, sorted by segment id.
func (s *MembershipStore) ForDonor(donorID string) []*Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Membership, 0, len(s.byDonor[donorID]))
	for _, m := range s.byDonor[donorID] {
		c := *m
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SegmentID.String() < out[j].SegmentID.String()
	})
	return out
}

// Count returns the number of active memberships for a segment.
func (s *MembershipStore) Count(segmentID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySegment[segmentID])
}

// TotalCount returns memberships across all segments.
func (s *MembershipStore) TotalCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, members := range s.bySegment {
		total += len(members)
	}
	return total
}

// RemoveSegment cascades a segment deletion through both indexes.
func (s *MembershipStore) RemoveSegment(segmentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for donorID := range s.bySegment[segmentID] {
		delete(s.byDonor[donorID], segmentID)
		if len(s.byDonor[donorID]) == 0 {
			delete(s.byDonor, donorID)
		}
	}
	delete(s.bySegment, segmentID)
}

func (s *MembershipStore) put(m *Membership) {
	if s.bySegment[m.SegmentID] == nil {
		s.bySegment[m.SegmentID] = make(map[string]*Membership)
	}
	if s.byDonor[m.DonorID] == nil {
		s.byDonor[m.DonorID] = make(map[uuid.UUID]*Membership)
	}
	s.bySegment[m.SegmentID][m.DonorID] = m
	s.byDonor[m.DonorID][m.SegmentID] = m
}

func (s *MembershipStore) remove(segmentID uuid.UUID, donorID string) {
	delete(s.bySegment[segmentID], donorID)
	if len(s.bySegment[segmentID]) == 0 {
		delete(s.bySegment, segmentID)
	}
	delete(s.byDonor[donorID], segmentID)
	if len(s.byDonor[donorID]) == 0 {
		delete(s.byDonor, donorID)
	}
}

// Export returns all memberships for state serialization.
func (s *MembershipStore) Export() []*Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Membership
	for _, members := range s.bySegment {
		for _, m := range members {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SegmentID != out[j].SegmentID {
			return out[i].SegmentID.String() < out[j].SegmentID.String()
		}
		return out[i].DonorID < out[j].DonorID
	})
	return out
}

// Restore replaces the store contents from exported memberships.
func (s *MembershipStore) Restore(memberships []*Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bySegment = make(map[uuid.UUID]map[string]*Membership)
	s.byDonor = make(map[string]map[uuid.UUID]*Membership)
	for _, m := range memberships {
		c := *m
		s.put(&c)
	}
}

// ==========================================
// RECONCILIATION
// ==========================================

// Reconciler re-evaluates one segment's criteria against a donor snapshot
// and applies the membership diff. Callers must not run two passes for the
// same segment concurrently (the scheduler enforces single-writer per
// segment); different segments may reconcile in parallel.
type Reconciler struct {
	registry *Registry
	store    *MembershipStore
	eval     *Evaluator
	clusters *clustering.Store
	analyzer *behavior.Analyzer
	now      func() time.Time
}

// NewReconciler wires a reconciler over the engine's shared state.
func NewReconciler(registry *Registry, store *MembershipStore, eval *Evaluator,
	clusters *clustering.Store, analyzer *behavior.Analyzer, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		registry: registry,
		store:    store,
		eval:     eval,
		clusters: clusters,
		analyzer: analyzer,
		now:      now,
	}
}

// candidate is a donor that qualifies for the segment this pass.
type candidate struct {
	confidence float64
	source     MembershipSource
}

// Reconcile computes the full qualification set for the segment against the
// snapshot, diffs it against current membership, and commits the changes.
// Running it twice with an unchanged snapshot yields no updates the second
// time. After every pass segment.metadata.size equals the live membership
// count.
func (rc *Reconciler) Reconcile(segmentID uuid.UUID, donors []*donor.Donor) ([]Update, error) {
	seg := rc.registry.Get(segmentID)
	if seg == nil {
		return nil, ErrSegmentNotFound
	}

	desired := make(map[string]candidate)
	for _, d := range donors {
		if c, ok := rc.qualify(seg, d); ok {
			desired[d.ID] = c
		}
	}

	now := rc.now()

	rc.store.mu.Lock()
	// The segment may have been deleted while we were evaluating; results
	// from a stale definition are discarded rather than partially applied.
	if !rc.registry.Exists(segmentID) {
		rc.store.mu.Unlock()
		return nil, ErrSegmentDeleted
	}

	current := rc.store.bySegment[segmentID]

	var added, removed []string
	for donorID, c := range desired {
		if existing, ok := current[donorID]; ok {
			if seg.Config.DuplicateHandling == DuplicateRefresh {
				existing.Confidence = c.confidence
				existing.Source = c.source
			}
			continue
		}
		rc.store.put(&Membership{
			DonorID:    donorID,
			SegmentID:  segmentID,
			JoinedAt:   now,
			Confidence: c.confidence,
			Source:     c.source,
		})
		added = append(added, donorID)
	}
	for donorID := range current {
		if _, ok := desired[donorID]; !ok {
			removed = append(removed, donorID)
		}
	}
	for _, donorID := range removed {
		rc.store.remove(segmentID, donorID)
	}
	live := len(rc.store.bySegment[segmentID])
	rc.store.mu.Unlock()

	rc.registry.SetReconciled(segmentID, live, now)

	sort.Strings(added)
	sort.Strings(removed)

	var updates []Update
	if len(added) > 0 {
		updates = append(updates, Update{
			SegmentID:  segmentID,
			ChangeType: ChangeAdded,
			DonorIDs:   added,
			Reason:     "donor newly matches segment criteria",
			Timestamp:  now,
		})
	}
	if len(removed) > 0 {
		updates = append(updates, Update{
			SegmentID:  segmentID,
			ChangeType: ChangeRemoved,
			DonorIDs:   removed,
			Reason:     "donor no longer matches segment criteria",
			Timestamp:  now,
		})
	}
	return updates, nil
}

// qualify applies the segment's mechanisms in order: rules, then cluster
// gating, then behavioral-pattern gating. Source reflects the strongest
// mechanism in play: ml_clustering over prediction over rules.
func (rc *Reconciler) qualify(seg *Segment, d *donor.Donor) (candidate, bool) {
	if !rc.eval.Qualifies(d, seg.IncludeCriteria, seg.ExcludeCriteria) {
		return candidate{}, false
	}

	matchedWeight := -1.0
	if len(seg.BehavioralPatterns) > 0 {
		required := make(map[string]bool, len(seg.BehavioralPatterns))
		for _, id := range seg.BehavioralPatterns {
			required[id] = true
		}
		var sum float64
		matches := 0
		for _, p := range rc.analyzer.Analyze(d, rc.now()) {
			if required[p.ID] {
				sum += p.Weight
				matches++
			}
		}
		if matches == 0 {
			return candidate{}, false
		}
		matchedWeight = sum / float64(matches)
	}

	if seg.ClusterID != nil {
		distance, member := rc.clusters.Membership(d.ID, *seg.ClusterID)
		if !member {
			return candidate{}, false
		}
		return candidate{confidence: clusterConfidence(distance), source: SourceClustering}, true
	}

	if seg.Type == SegmentPredictive {
		return candidate{confidence: predictiveConfidence(matchedWeight), source: SourcePrediction}, true
	}

	return candidate{confidence: 0.8, source: SourceRules}, true
}

// clusterConfidence maps distance-to-centroid into [0.7, 0.9]: donors at
// the centroid score 0.9, donors at the edge of the space score 0.7.
func clusterConfidence(distance float64) float64 {
	c := 0.9 - 0.2*distance
	if c < 0.7 {
		c = 0.7
	}
	if c > 0.9 {
		c = 0.9
	}
	return c
}

// predictiveConfidence maps the mean weight of matched behavioral patterns
// into [0.6, 0.9]. Predictive segments without pattern requirements sit at
// the middle of the band.
func predictiveConfidence(matchedWeight float64) float64 {
	if matchedWeight < 0 {
		return 0.75
	}
	c := 0.6 + 0.3*matchedWeight
	if c > 0.9 {
		c = 0.9
	}
	return c
}
