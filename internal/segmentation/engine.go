package segmentation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/audience-engine/internal/behavior"
	"github.com/ignite/audience-engine/internal/clustering"
	"github.com/ignite/audience-engine/internal/donor"
)

// TaskRunner executes heavyweight work on a bounded pool so ad hoc
// clustering runs never starve the scheduler's drain tick. A nil runner
// executes inline.
type TaskRunner interface {
	Do(ctx context.Context, fn func()) error
}

// Options configures an Engine.
type Options struct {
	Repository donor.Repository
	Behavior   behavior.Config

	AlertWarnRatio     float64
	AlertCriticalRatio float64

	Runner TaskRunner
	Now    func() time.Time
}

// Engine is the dynamic audience segmentation engine. Construct exactly one
// per process and pass it to collaborators explicitly; there is no global
// accessor.
type Engine struct {
	repo     donor.Repository
	registry *Registry
	store    *MembershipStore
	eval     *Evaluator
	clusters *clustering.Store
	analyzer *behavior.Analyzer
	emitter  *AlertEmitter
	rec      *Reconciler
	runner   TaskRunner
	now      func() time.Time

	histMu  sync.Mutex
	history map[uuid.UUID][]sizePoint
}

type sizePoint struct {
	At   time.Time `json:"at"`
	Size int       `json:"size"`
}

// maxHistoryPoints bounds the per-segment size history ring.
const maxHistoryPoints = 100

// NewEngine constructs the engine and all of its internal stores.
func NewEngine(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	registry := NewRegistry(now)
	store := NewMembershipStore()
	eval := NewEvaluatorAt(now)
	clusters := clustering.NewStore()
	analyzer := behavior.NewAnalyzer(opts.Behavior)

	return &Engine{
		repo:     opts.Repository,
		registry: registry,
		store:    store,
		eval:     eval,
		clusters: clusters,
		analyzer: analyzer,
		emitter:  NewAlertEmitter(opts.AlertWarnRatio, opts.AlertCriticalRatio, now),
		rec:      NewReconciler(registry, store, eval, clusters, analyzer, now),
		runner:   opts.Runner,
		now:      now,
		history:  make(map[uuid.UUID][]sizePoint),
	}
}

// ==========================================
// SEGMENT CRUD
// ==========================================

// CreateSegment validates and registers a new segment.
func (e *Engine) CreateSegment(def *Segment) (*Segment, error) {
	return e.registry.Create(def)
}

// UpdateSegment applies a patch and re-queues the segment for
// reconciliation.
func (e *Engine) UpdateSegment(id uuid.UUID, patch Patch) (*Segment, error) {
	return e.registry.Update(id, patch)
}

// DeleteSegment hard-deletes a segment, cascading membership and any
// pending dirty entry.
func (e *Engine) DeleteSegment(id uuid.UUID) bool {
	if !e.registry.Delete(id) {
		return false
	}
	e.store.RemoveSegment(id)

	e.histMu.Lock()
	delete(e.history, id)
	e.histMu.Unlock()
	return true
}

// GetSegment returns a segment by id, or nil.
func (e *Engine) GetSegment(id uuid.UUID) *Segment {
	return e.registry.Get(id)
}

// GetSegments lists all segments.
func (e *Engine) GetSegments() []*Segment {
	return e.registry.List()
}

// GetDonorSegments returns all memberships held by one donor.
func (e *Engine) GetDonorSegments(donorID string) []*Membership {
	return e.store.ForDonor(donorID)
}

// GetSegmentMembers returns a segment's current memberships.
func (e *Engine) GetSegmentMembers(id uuid.UUID) []*Membership {
	return e.store.ForSegment(id)
}

// ==========================================
// RECONCILIATION
// ==========================================

// DonorSnapshot fetches the current donor population from the repository.
// The scheduler fetches once per drain cycle and shares the batch across
// segments so every pass in a cycle sees the same population.
func (e *Engine) DonorSnapshot(ctx context.Context) ([]*donor.Donor, error) {
	return e.repo.Snapshot(ctx)
}

// ReconcileSnapshot runs one reconciliation pass for a segment against a
// pre-fetched snapshot, feeding the diff to the alert emitter and the size
// history.
func (e *Engine) ReconcileSnapshot(segmentID uuid.UUID, donors []*donor.Donor) ([]Update, error) {
	seg := e.registry.Get(segmentID)
	if seg == nil {
		return nil, ErrSegmentNotFound
	}
	previousSize := seg.Metadata.Size

	updates, err := e.rec.Reconcile(segmentID, donors)
	if err != nil {
		return nil, err
	}

	e.emitter.Observe(seg, updates, previousSize)
	e.recordSize(segmentID)
	return updates, nil
}

// Reconcile fetches a fresh snapshot and reconciles a single segment. Used
// for caller-triggered refreshes; the scheduler path shares snapshots.
func (e *Engine) Reconcile(ctx context.Context, segmentID uuid.UUID) ([]Update, error) {
	donors, err := e.DonorSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("donor snapshot: %w", err)
	}
	return e.ReconcileSnapshot(segmentID, donors)
}

// DirtyIDs exposes the pending dirty set to the scheduler.
func (e *Engine) DirtyIDs() []uuid.UUID { return e.registry.DirtyIDs() }

// ClearDirty removes a successfully drained id.
func (e *Engine) ClearDirty(id uuid.UUID) { e.registry.ClearDirty(id) }

// MarkDirty queues a segment for the next drain.
func (e *Engine) MarkDirty(id uuid.UUID) { e.registry.MarkDirty(id) }

// MarkAllAutoUpdating queues every active auto-updating segment.
func (e *Engine) MarkAllAutoUpdating() int { return e.registry.MarkAllAutoUpdating() }

func (e *Engine) recordSize(segmentID uuid.UUID) {
	seg := e.registry.Get(segmentID)
	if seg == nil {
		return
	}
	e.histMu.Lock()
	defer e.histMu.Unlock()

	points := append(e.history[segmentID], sizePoint{At: seg.Metadata.LastUpdated, Size: seg.Metadata.Size})
	if len(points) > maxHistoryPoints {
		points = points[len(points)-maxHistoryPoints:]
	}
	e.history[segmentID] = points
}

// ==========================================
// CLUSTERING
// ==========================================

// PerformClustering runs a synchronous clustering pass over the current
// population and installs the result as the active run for its algorithm.
// The work executes on the shared bounded pool so it cannot block the
// scheduler's drain tick.
func (e *Engine) PerformClustering(ctx context.Context, cfg clustering.Config) ([]*clustering.DonorCluster, error) {
	donors, err := e.DonorSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("donor snapshot: %w", err)
	}

	var run *clustering.Run
	var clusterErr error
	work := func() {
		run, clusterErr = clustering.Cluster(donors, cfg, e.now())
	}
	if e.runner != nil {
		if err := e.runner.Do(ctx, work); err != nil {
			return nil, err
		}
	} else {
		work()
	}
	if clusterErr != nil {
		return nil, clusterErr
	}

	e.clusters.Replace(run)

	// Cluster ids changed wholesale; any segment pinned to a cluster needs
	// a fresh pass.
	for _, seg := range e.registry.List() {
		if seg.ClusterID != nil {
			e.registry.MarkDirty(seg.ID)
		}
	}
	return run.Clusters, nil
}

// GetClusters returns all clusters from current runs.
func (e *Engine) GetClusters() []*clustering.DonorCluster {
	return e.clusters.Clusters()
}

// GetCluster returns one cluster by id, or nil.
func (e *Engine) GetCluster(id uuid.UUID) *clustering.DonorCluster {
	return e.clusters.Cluster(id)
}

// ==========================================
// BEHAVIOR
// ==========================================

// AnalyzeDonorBehavior computes behavioral patterns for one donor.
func (e *Engine) AnalyzeDonorBehavior(ctx context.Context, donorID string) ([]*behavior.Pattern, error) {
	d, err := e.repo.Get(ctx, donorID)
	if err != nil {
		return nil, fmt.Errorf("load donor %s: %w", donorID, err)
	}
	if d == nil {
		return nil, fmt.Errorf("donor %s not found", donorID)
	}
	return e.analyzer.Analyze(d, e.now()), nil
}

// GetBehavioralPatternTypes returns the pattern ids a segment definition
// can require.
func (e *Engine) GetBehavioralPatternTypes() []string {
	return []string{
		string(behavior.PatternDonationFrequency),
		string(behavior.PatternDonationAmount),
		string(behavior.PatternEngagementLevel),
		string(behavior.PatternChannelPreference),
		string(behavior.PatternCampaignResponse),
	}
}

// ==========================================
// ALERTS
// ==========================================

// GetAlerts returns pending alerts. When drain is true the queue is
// consumed; otherwise this is a peek.
func (e *Engine) GetAlerts(drain bool) []Alert {
	if drain {
		return e.emitter.Drain()
	}
	return e.emitter.Peek()
}
