package segmentation

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Analytics is the aggregate view the host dashboard consumes.
type Analytics struct {
	Overview              AnalyticsOverview  `json:"overview"`
	TopPerformingSegments []SegmentScore     `json:"top_performing_segments"`
	SegmentHealth         []SegmentHealth    `json:"segment_health"`
	Trends                []SegmentTrend     `json:"trends"`
	Predictions           []SegmentForecast  `json:"predictions"`
	GeneratedAt           time.Time          `json:"generated_at"`
}

// AnalyticsOverview summarizes the whole segment estate.
type AnalyticsOverview struct {
	TotalSegments    int     `json:"total_segments"`
	ActiveSegments   int     `json:"active_segments"`
	TotalMemberships int     `json:"total_memberships"`
	AvgSegmentSize   float64 `json:"avg_segment_size"`
	PendingAlerts    int     `json:"pending_alerts"`
}

// SegmentScore ranks a segment by blended performance.
type SegmentScore struct {
	SegmentID uuid.UUID `json:"segment_id"`
	Name      string    `json:"name"`
	Score     float64   `json:"score"`
	Size      int       `json:"size"`
}

// SegmentHealth flags segments needing attention.
type SegmentHealth struct {
	SegmentID uuid.UUID `json:"segment_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // healthy, empty, stale
	Detail    string    `json:"detail,omitempty"`
}

// SegmentTrend classifies recent membership movement.
type SegmentTrend struct {
	SegmentID uuid.UUID `json:"segment_id"`
	Name      string    `json:"name"`
	Direction string    `json:"direction"` // growing, declining, stable
	ChangePct float64   `json:"change_pct"`
}

// SegmentForecast is a naive linear projection of segment size.
type SegmentForecast struct {
	SegmentID     uuid.UUID `json:"segment_id"`
	Name          string    `json:"name"`
	CurrentSize   int       `json:"current_size"`
	ProjectedSize int       `json:"projected_size"`
	Confidence    float64   `json:"confidence"`
}

// staleAfter is how long an auto-updating segment may go without a
// successful reconciliation before its health flips to stale.
const staleAfter = 24 * time.Hour

// GetSegmentationAnalytics assembles the analytics view from live engine
// state.
func (e *Engine) GetSegmentationAnalytics() *Analytics {
	segments := e.registry.List()
	now := e.now()

	a := &Analytics{GeneratedAt: now}

	active := 0
	totalMembers := 0
	for _, seg := range segments {
		if seg.Status == StatusActive {
			active++
		}
		totalMembers += seg.Metadata.Size
	}
	a.Overview = AnalyticsOverview{
		TotalSegments:    len(segments),
		ActiveSegments:   active,
		TotalMemberships: totalMembers,
		PendingAlerts:    len(e.emitter.Peek()),
	}
	if len(segments) > 0 {
		a.Overview.AvgSegmentSize = float64(totalMembers) / float64(len(segments))
	}

	a.TopPerformingSegments = topSegments(segments, 5)
	a.SegmentHealth = segmentHealth(segments, now)
	a.Trends, a.Predictions = e.trendsAndForecasts(segments)
	return a
}

// performanceScore blends the externally supplied rates; revenue per member
// saturates at $100 so one outlier cannot dominate.
func performanceScore(p SegmentPerformance) float64 {
	revenue := p.RevenuePerMember / 100
	if revenue > 1 {
		revenue = 1
	}
	return 0.4*p.ConversionRate + 0.3*p.EngagementRate + 0.3*revenue
}

func topSegments(segments []*Segment, limit int) []SegmentScore {
	scores := make([]SegmentScore, 0, len(segments))
	for _, seg := range segments {
		if seg.Status != StatusActive {
			continue
		}
		scores = append(scores, SegmentScore{
			SegmentID: seg.ID,
			Name:      seg.Name,
			Score:     performanceScore(seg.Performance),
			Size:      seg.Metadata.Size,
		})
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Name < scores[j].Name
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

func segmentHealth(segments []*Segment, now time.Time) []SegmentHealth {
	out := make([]SegmentHealth, 0, len(segments))
	for _, seg := range segments {
		h := SegmentHealth{SegmentID: seg.ID, Name: seg.Name, Status: "healthy"}
		switch {
		case seg.Status == StatusActive && !seg.Metadata.LastUpdated.IsZero() && seg.Metadata.Size == 0:
			h.Status = "empty"
			h.Detail = "segment has no members after reconciliation"
		case seg.Status == StatusActive && seg.Config.AutoUpdate &&
			!seg.Metadata.LastUpdated.IsZero() && now.Sub(seg.Metadata.LastUpdated) > staleAfter:
			h.Status = "stale"
			h.Detail = "no successful reconciliation in over 24h"
		}
		out = append(out, h)
	}
	return out
}

func (e *Engine) trendsAndForecasts(segments []*Segment) ([]SegmentTrend, []SegmentForecast) {
	e.histMu.Lock()
	defer e.histMu.Unlock()

	var trends []SegmentTrend
	var forecasts []SegmentForecast
	for _, seg := range segments {
		points := e.history[seg.ID]
		if len(points) < 2 {
			continue
		}

		first := points[0].Size
		last := points[len(points)-1].Size
		changePct := 0.0
		if first > 0 {
			changePct = float64(last-first) / float64(first)
		} else if last > 0 {
			changePct = 1
		}
		direction := "stable"
		if changePct > 0.05 {
			direction = "growing"
		} else if changePct < -0.05 {
			direction = "declining"
		}
		trends = append(trends, SegmentTrend{
			SegmentID: seg.ID,
			Name:      seg.Name,
			Direction: direction,
			ChangePct: changePct,
		})

		// Linear extrapolation of the last observed step. Confidence grows
		// with history depth and caps well below certainty.
		prev := points[len(points)-2].Size
		projected := last + (last - prev)
		if projected < 0 {
			projected = 0
		}
		confidence := 0.3 + 0.05*float64(len(points))
		if confidence > 0.8 {
			confidence = 0.8
		}
		forecasts = append(forecasts, SegmentForecast{
			SegmentID:     seg.ID,
			Name:          seg.Name,
			CurrentSize:   last,
			ProjectedSize: projected,
			Confidence:    confidence,
		})
	}
	return trends, forecasts
}
