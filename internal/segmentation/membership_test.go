package segmentation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/ignite/audience-engine/internal/behavior"
	"github.com/ignite/audience-engine/internal/clustering"
	"github.com/ignite/audience-engine/internal/donor"
)

type reconcilerFixture struct {
	registry *Registry
	store    *MembershipStore
	clusters *clustering.Store
	rec      *Reconciler
}

func newReconcilerFixture() *reconcilerFixture {
	registry := NewRegistry(fixedClock)
	store := NewMembershipStore()
	clusters := clustering.NewStore()
	rec := NewReconciler(registry, store, NewEvaluatorAt(fixedClock),
		clusters, behavior.NewAnalyzer(behavior.DefaultConfig()), fixedClock)
	return &reconcilerFixture{registry: registry, store: store, clusters: clusters, rec: rec}
}

func donorWithTotal(id string, total float64) *donor.Donor {
	return &donor.Donor{
		ID:    id,
		Email: id + "@example.org",
		Donations: []donor.Donation{
			{Amount: total, DonatedAt: testNow.AddDate(0, -1, 0)},
		},
	}
}

func majorDonorSegment(t *testing.T, registry *Registry) *Segment {
	t.Helper()
	seg, err := registry.Create(&Segment{
		Name: "Major Donors",
		IncludeCriteria: &RuleGroup{
			Rules:           []Rule{{Field: "total_donated", Operator: OpGreaterEqual, Value: 1000}},
			LogicalOperator: LogicAnd,
		},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return seg
}

func TestReconcileAddsQualifyingDonors(t *testing.T) {
	f := newReconcilerFixture()
	seg := majorDonorSegment(t, f.registry)

	donors := []*donor.Donor{
		donorWithTotal("big-1", 5000),
		donorWithTotal("big-2", 1000),
		donorWithTotal("small-1", 50),
	}

	updates, err := f.rec.Reconcile(seg.ID, donors)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if len(updates) != 1 {
		t.Fatalf("updates = %d, want 1 added batch", len(updates))
	}
	if updates[0].ChangeType != ChangeAdded {
		t.Errorf("change type = %q, want added", updates[0].ChangeType)
	}
	wantIDs := []string{"big-1", "big-2"}
	if len(updates[0].DonorIDs) != len(wantIDs) {
		t.Fatalf("added donors = %v, want %v", updates[0].DonorIDs, wantIDs)
	}
	for i, id := range wantIDs {
		if updates[0].DonorIDs[i] != id {
			t.Errorf("added[%d] = %q, want %q", i, updates[0].DonorIDs[i], id)
		}
	}

	// Size invariant: metadata matches live membership after the pass.
	if got := f.registry.Get(seg.ID).Metadata.Size; got != 2 {
		t.Errorf("metadata size = %d, want 2", got)
	}
	if got := f.store.Count(seg.ID); got != 2 {
		t.Errorf("store count = %d, want 2", got)
	}

	for _, m := range f.store.ForSegment(seg.ID) {
		if m.Source != SourceRules {
			t.Errorf("membership source = %q, want rules", m.Source)
		}
		if m.Confidence != 0.8 {
			t.Errorf("rule membership confidence = %v, want 0.8", m.Confidence)
		}
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newReconcilerFixture()
	seg := majorDonorSegment(t, f.registry)
	donors := []*donor.Donor{donorWithTotal("big-1", 5000)}

	if _, err := f.rec.Reconcile(seg.ID, donors); err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}
	updates, err := f.rec.Reconcile(seg.ID, donors)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("second pass against unchanged snapshot emitted %d updates, want 0", len(updates))
	}
	if got := f.store.Count(seg.ID); got != 1 {
		t.Errorf("membership count = %d, want 1", got)
	}
}

func TestReconcileRemovesDisqualifiedDonors(t *testing.T) {
	f := newReconcilerFixture()
	seg := majorDonorSegment(t, f.registry)

	if _, err := f.rec.Reconcile(seg.ID, []*donor.Donor{donorWithTotal("big-1", 5000)}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	// Same donor, now below the threshold.
	updates, err := f.rec.Reconcile(seg.ID, []*donor.Donor{donorWithTotal("big-1", 100)})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(updates) != 1 || updates[0].ChangeType != ChangeRemoved {
		t.Fatalf("updates = %+v, want one removed batch", updates)
	}
	if got := f.store.Count(seg.ID); got != 0 {
		t.Errorf("membership count = %d, want 0", got)
	}
	if got := f.registry.Get(seg.ID).Metadata.Size; got != 0 {
		t.Errorf("metadata size = %d, want 0", got)
	}
	if got := len(f.store.ForDonor("big-1")); got != 0 {
		t.Errorf("donor index should be clean, got %d memberships", got)
	}
}

func TestReconcileDuplicateHandling(t *testing.T) {
	f := newReconcilerFixture()

	seg, err := f.registry.Create(&Segment{
		Name:   "Refreshers",
		Type:   SegmentPredictive,
		Config: SegmentConfig{DuplicateHandling: DuplicateRefresh},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	donors := []*donor.Donor{donorWithTotal("d-1", 500)}
	if _, err := f.rec.Reconcile(seg.ID, donors); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	joined := f.store.ForSegment(seg.ID)[0].JoinedAt

	updates, err := f.rec.Reconcile(seg.ID, donors)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(updates) != 0 {
		t.Errorf("refresh of an existing membership should emit no updates, got %d", len(updates))
	}

	m := f.store.ForSegment(seg.ID)[0]
	if !m.JoinedAt.Equal(joined) {
		t.Error("refresh must not move joinedAt")
	}
	if m.Source != SourcePrediction {
		t.Errorf("source = %q, want prediction", m.Source)
	}
	if m.Confidence != 0.75 {
		t.Errorf("predictive confidence without patterns = %v, want 0.75", m.Confidence)
	}
}

func TestReconcileClusterGating(t *testing.T) {
	f := newReconcilerFixture()

	clusterID := uuid.New()
	f.clusters.Replace(&clustering.Run{
		Algorithm: clustering.AlgorithmKMeans,
		RanAt:     testNow,
		Clusters:  []*clustering.DonorCluster{{ID: clusterID}},
		Assignments: map[string]uuid.UUID{
			"in-cluster": clusterID,
		},
		Distances: map[string]float64{
			"in-cluster": 0.25,
		},
	})

	seg, err := f.registry.Create(&Segment{Name: "Cluster A", ClusterID: &clusterID})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	donors := []*donor.Donor{
		donorWithTotal("in-cluster", 100),
		donorWithTotal("out-of-cluster", 100),
	}
	if _, err := f.rec.Reconcile(seg.ID, donors); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	members := f.store.ForSegment(seg.ID)
	if len(members) != 1 || members[0].DonorID != "in-cluster" {
		t.Fatalf("members = %+v, want only the assigned donor", members)
	}
	if members[0].Source != SourceClustering {
		t.Errorf("source = %q, want ml_clustering", members[0].Source)
	}
	// 0.9 - 0.2*0.25
	if got := members[0].Confidence; got != 0.85 {
		t.Errorf("cluster confidence = %v, want 0.85", got)
	}
}

func TestReconcileBehavioralPatternGating(t *testing.T) {
	f := newReconcilerFixture()

	seg, err := f.registry.Create(&Segment{
		Name:               "Frequent Givers",
		BehavioralPatterns: []string{string(behavior.PatternDonationFrequency)},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	active := &donor.Donor{
		ID:    "active",
		Email: "active@example.org",
		Donations: []donor.Donation{
			{Amount: 25, DonatedAt: testNow.AddDate(0, 0, -10)},
			{Amount: 25, DonatedAt: testNow.AddDate(0, 0, -40)},
			{Amount: 25, DonatedAt: testNow.AddDate(0, 0, -70)},
			{Amount: 25, DonatedAt: testNow.AddDate(0, 0, -100)},
		},
	}
	quiet := donorWithTotal("quiet", 25)

	if _, err := f.rec.Reconcile(seg.ID, []*donor.Donor{active, quiet}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	members := f.store.ForSegment(seg.ID)
	if len(members) != 1 || members[0].DonorID != "active" {
		t.Fatalf("members = %+v, want only the behaviorally active donor", members)
	}
}

func TestReconcileMissingSegment(t *testing.T) {
	f := newReconcilerFixture()
	if _, err := f.rec.Reconcile(uuid.New(), nil); err != ErrSegmentNotFound {
		t.Errorf("Reconcile() error = %v, want ErrSegmentNotFound", err)
	}
}

func TestMembershipStoreDualIndex(t *testing.T) {
	s := NewMembershipStore()
	segA, segB := uuid.New(), uuid.New()

	s.Restore([]*Membership{
		{DonorID: "d-1", SegmentID: segA, Confidence: 0.8, Source: SourceRules},
		{DonorID: "d-1", SegmentID: segB, Confidence: 0.8, Source: SourceRules},
		{DonorID: "d-2", SegmentID: segA, Confidence: 0.8, Source: SourceRules},
	})

	if got := s.TotalCount(); got != 3 {
		t.Errorf("TotalCount() = %d, want 3", got)
	}
	if got := len(s.ForDonor("d-1")); got != 2 {
		t.Errorf("ForDonor(d-1) = %d memberships, want 2", got)
	}

	s.RemoveSegment(segA)
	if got := s.Count(segA); got != 0 {
		t.Errorf("Count after RemoveSegment = %d, want 0", got)
	}
	if got := len(s.ForDonor("d-2")); got != 0 {
		t.Errorf("d-2 should have no memberships left, got %d", got)
	}
	if got := len(s.ForDonor("d-1")); got != 1 {
		t.Errorf("d-1 should keep its segB membership, got %d", got)
	}
}
