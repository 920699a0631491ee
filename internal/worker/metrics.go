package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audience_reconciliations_total",
		Help: "Reconciliation passes by outcome.",
	}, []string{"result"})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audience_reconcile_duration_seconds",
		Help:    "Duration of single-segment reconciliation passes.",
		Buckets: prometheus.DefBuckets,
	})

	membershipChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audience_membership_changes_total",
		Help: "Membership additions and removals applied by reconciliation.",
	}, []string{"change"})

	dirtyDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audience_dirty_segments",
		Help: "Segments currently awaiting reconciliation.",
	})

	fullRefreshMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audience_full_refresh_marked_total",
		Help: "Segments marked dirty by the full-refresh tick.",
	})
)
