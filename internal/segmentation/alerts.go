package segmentation

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AlertEmitter observes reconciliation diffs and raises alerts when
// membership churn crosses thresholds. Alerts accumulate until an external
// consumer drains them; the engine never delivers notifications itself.
type AlertEmitter struct {
	mu            sync.Mutex
	alerts        []Alert
	warnRatio     float64
	criticalRatio float64
	now           func() time.Time
}

// NewAlertEmitter creates an emitter with the given churn thresholds.
func NewAlertEmitter(warnRatio, criticalRatio float64, now func() time.Time) *AlertEmitter {
	if warnRatio == 0 {
		warnRatio = 0.2
	}
	if criticalRatio == 0 {
		criticalRatio = 0.5
	}
	if now == nil {
		now = time.Now
	}
	return &AlertEmitter{
		warnRatio:     warnRatio,
		criticalRatio: criticalRatio,
		now:           now,
	}
}

// Observe inspects one reconciliation's diff. previousSize is the segment
// size before the pass; the denominator floors at 1 so brand-new segments
// don't divide by zero.
func (e *AlertEmitter) Observe(seg *Segment, updates []Update, previousSize int) {
	changed := 0
	added, removed := 0, 0
	for _, u := range updates {
		changed += len(u.DonorIDs)
		switch u.ChangeType {
		case ChangeAdded:
			added += len(u.DonorIDs)
		case ChangeRemoved:
			removed += len(u.DonorIDs)
		}
	}
	if changed == 0 {
		return
	}

	denom := previousSize
	if denom < 1 {
		denom = 1
	}
	changePercent := float64(changed) / float64(denom)
	if changePercent <= e.warnRatio {
		return
	}

	severity := SeverityMedium
	actionRequired := false
	if changePercent > e.criticalRatio {
		severity = SeverityHigh
		actionRequired = true
	}

	alert := Alert{
		ID:        uuid.New(),
		SegmentID: seg.ID,
		Type:      "size_change",
		Severity:  severity,
		Message: fmt.Sprintf("segment %q membership changed %.0f%% in one cycle (+%d/-%d)",
			seg.Name, changePercent*100, added, removed),
		Details: map[string]any{
			"change_percent": changePercent,
			"added":          added,
			"removed":        removed,
			"previous_size":  previousSize,
		},
		ActionRequired: actionRequired,
		CreatedAt:      e.now(),
	}

	e.mu.Lock()
	e.alerts = append(e.alerts, alert)
	e.mu.Unlock()
}

// Peek returns a copy of pending alerts without consuming them.
func (e *AlertEmitter) Peek() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Alert(nil), e.alerts...)
}

// Drain returns all pending alerts and clears the queue.
func (e *AlertEmitter) Drain() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.alerts
	e.alerts = nil
	return out
}
