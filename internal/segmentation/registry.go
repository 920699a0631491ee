package segmentation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSegmentNotFound is returned when an operation references a segment id
// that does not exist.
var ErrSegmentNotFound = errors.New("segment not found")

// Registry owns segment definitions and the dirty set. Any mutation to a
// segment's definition enqueues it for reconciliation; the dirty set is a
// set, so repeated enqueues of the same segment collapse into one pending
// drain.
type Registry struct {
	mu       sync.RWMutex
	segments map[uuid.UUID]*Segment
	dirty    map[uuid.UUID]struct{}
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		segments: make(map[uuid.UUID]*Segment),
		dirty:    make(map[uuid.UUID]struct{}),
		now:      now,
	}
}

// Create validates and stores a new segment, marking it dirty.
func (r *Registry) Create(def *Segment) (*Segment, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("segment name is required")
	}
	if err := ValidateRuleGroup(def.IncludeCriteria); err != nil {
		return nil, fmt.Errorf("include criteria: %w", err)
	}
	if err := ValidateRuleGroup(def.ExcludeCriteria); err != nil {
		return nil, fmt.Errorf("exclude criteria: %w", err)
	}
	if err := validateEnums(def); err != nil {
		return nil, err
	}

	seg := cloneSegment(def)
	seg.ID = uuid.New()
	if seg.Type == "" {
		seg.Type = SegmentDynamic
	}
	if seg.Status == "" {
		seg.Status = StatusActive
	}
	if seg.Config.UpdateFrequency == "" {
		seg.Config.UpdateFrequency = UpdateHourly
	}
	if seg.Config.DuplicateHandling == "" {
		seg.Config.DuplicateHandling = DuplicateSkip
	}
	now := r.now()
	seg.CreatedAt = now
	seg.UpdatedAt = now
	seg.Metadata.Size = 0
	seg.Metadata.LastUpdated = time.Time{}

	r.mu.Lock()
	r.segments[seg.ID] = seg
	r.dirty[seg.ID] = struct{}{}
	r.mu.Unlock()

	return cloneSegment(seg), nil
}

// Patch describes a partial segment update; nil fields are left unchanged.
type Patch struct {
	Name               *string             `json:"name,omitempty"`
	Description        *string             `json:"description,omitempty"`
	Type               *SegmentType        `json:"type,omitempty"`
	Status             *SegmentStatus      `json:"status,omitempty"`
	IncludeCriteria    *RuleGroup          `json:"include_criteria,omitempty"`
	ExcludeCriteria    *RuleGroup          `json:"exclude_criteria,omitempty"`
	ClusterID          *uuid.UUID          `json:"cluster_id,omitempty"`
	BehavioralPatterns []string            `json:"behavioral_patterns,omitempty"`
	Config             *SegmentConfig      `json:"config,omitempty"`
	Performance        *SegmentPerformance `json:"performance,omitempty"`
	Personalization    *Personalization    `json:"personalization,omitempty"`
	Tags               []string            `json:"tags,omitempty"`
	Priority           *int                `json:"priority,omitempty"`
}

// Update applies a patch to an existing segment and marks it dirty.
func (r *Registry) Update(id uuid.UUID, patch Patch) (*Segment, error) {
	if err := ValidateRuleGroup(patch.IncludeCriteria); err != nil {
		return nil, fmt.Errorf("include criteria: %w", err)
	}
	if err := ValidateRuleGroup(patch.ExcludeCriteria); err != nil {
		return nil, fmt.Errorf("exclude criteria: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seg, ok := r.segments[id]
	if !ok {
		return nil, ErrSegmentNotFound
	}

	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, fmt.Errorf("segment name is required")
		}
		seg.Name = *patch.Name
	}
	if patch.Description != nil {
		seg.Description = *patch.Description
	}
	if patch.Type != nil {
		seg.Type = *patch.Type
	}
	if patch.Status != nil {
		seg.Status = *patch.Status
	}
	if patch.IncludeCriteria != nil {
		seg.IncludeCriteria = cloneRuleGroup(patch.IncludeCriteria)
	}
	if patch.ExcludeCriteria != nil {
		seg.ExcludeCriteria = cloneRuleGroup(patch.ExcludeCriteria)
	}
	if patch.ClusterID != nil {
		cid := *patch.ClusterID
		seg.ClusterID = &cid
	}
	if patch.BehavioralPatterns != nil {
		seg.BehavioralPatterns = append([]string(nil), patch.BehavioralPatterns...)
	}
	if patch.Config != nil {
		seg.Config = *patch.Config
	}
	if patch.Performance != nil {
		seg.Performance = *patch.Performance
	}
	if patch.Personalization != nil {
		seg.Personalization = *patch.Personalization
	}
	if patch.Tags != nil {
		seg.Metadata.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.Priority != nil {
		seg.Metadata.Priority = *patch.Priority
	}
	if err := validateEnums(seg); err != nil {
		return nil, err
	}

	seg.UpdatedAt = r.now()
	r.dirty[id] = struct{}{}
	return cloneSegment(seg), nil
}

// Delete removes a segment and its dirty-set entry. The caller cascades
// membership cleanup. Returns false when the segment does not exist.
func (r *Registry) Delete(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.segments[id]; !ok {
		return false
	}
	delete(r.segments, id)
	delete(r.dirty, id)
	return true
}

// Get returns a copy of the segment, or nil when absent.
func (r *Registry) Get(id uuid.UUID) *Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seg, ok := r.segments[id]
	if !ok {
		return nil
	}
	return cloneSegment(seg)
}

// Exists reports whether the segment id is currently registered.
func (r *Registry) Exists(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.segments[id]
	return ok
}

// List returns copies of all segments sorted by creation time, then name.
func (r *Registry) List() []*Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Segment, 0, len(r.segments))
	for _, seg := range r.segments {
		out = append(out, cloneSegment(seg))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SetReconciled stamps the post-reconciliation size and timestamp.
func (r *Registry) SetReconciled(id uuid.UUID, size int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if seg, ok := r.segments[id]; ok {
		seg.Metadata.Size = size
		seg.Metadata.LastUpdated = at
	}
}

// ==========================================
// DIRTY SET
// ==========================================

// MarkDirty enqueues a segment for reconciliation.
func (r *Registry) MarkDirty(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.segments[id]; ok {
		r.dirty[id] = struct{}{}
	}
}

// DirtyIDs returns the currently dirty segment ids in stable order. Entries
// stay in the set until ClearDirty, so a failed reconciliation is retried
// on the next drain.
func (r *Registry) DirtyIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(r.dirty))
	for id := range r.dirty {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// ClearDirty removes a successfully processed id from the dirty set.
func (r *Registry) ClearDirty(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dirty, id)
}

// MarkAllAutoUpdating marks every active, auto-updating segment dirty and
// returns how many were marked. This is the full-refresh safety net against
// missed triggers.
func (r *Registry) MarkAllAutoUpdating() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := 0
	for id, seg := range r.segments {
		if seg.Status == StatusActive && seg.Config.AutoUpdate {
			r.dirty[id] = struct{}{}
			marked++
		}
	}
	return marked
}

// ==========================================
// STATE EXPORT
// ==========================================

// Export returns copies of all segments for state serialization.
func (r *Registry) Export() []*Segment {
	return r.List()
}

// Restore replaces the registry contents and marks every active
// auto-updating segment dirty so membership catches up after rehydration.
func (r *Registry) Restore(segments []*Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.segments = make(map[uuid.UUID]*Segment, len(segments))
	r.dirty = make(map[uuid.UUID]struct{})
	for _, seg := range segments {
		c := cloneSegment(seg)
		r.segments[c.ID] = c
		if c.Status == StatusActive && c.Config.AutoUpdate {
			r.dirty[c.ID] = struct{}{}
		}
	}
}

// ==========================================
// HELPERS
// ==========================================

func validateEnums(seg *Segment) error {
	switch seg.Type {
	case "", SegmentStatic, SegmentDynamic, SegmentPredictive:
	default:
		return fmt.Errorf("unknown segment type %q", seg.Type)
	}
	switch seg.Status {
	case "", StatusActive, StatusPaused, StatusArchived:
	default:
		return fmt.Errorf("unknown segment status %q", seg.Status)
	}
	return nil
}

func cloneSegment(seg *Segment) *Segment {
	c := *seg
	c.IncludeCriteria = cloneRuleGroup(seg.IncludeCriteria)
	c.ExcludeCriteria = cloneRuleGroup(seg.ExcludeCriteria)
	if seg.ClusterID != nil {
		cid := *seg.ClusterID
		c.ClusterID = &cid
	}
	c.BehavioralPatterns = append([]string(nil), seg.BehavioralPatterns...)
	c.Metadata.Tags = append([]string(nil), seg.Metadata.Tags...)
	return &c
}

func cloneRuleGroup(g *RuleGroup) *RuleGroup {
	if g == nil {
		return nil
	}
	c := RuleGroup{
		LogicalOperator: g.LogicalOperator,
		Rules:           append([]Rule(nil), g.Rules...),
	}
	return &c
}
