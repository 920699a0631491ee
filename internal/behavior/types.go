// Package behavior computes time-windowed behavioral patterns for donors:
// donation cadence, engagement, channel preference, and campaign response.
// Thresholds are calibrated against the donor's own history rather than
// fixed constants, so patterns stay meaningful across very different donors.
package behavior

import "time"

// PatternType identifies one behavioral signal family.
type PatternType string

const (
	PatternDonationFrequency PatternType = "donation_frequency"
	PatternDonationAmount    PatternType = "donation_amount"
	PatternEngagementLevel   PatternType = "engagement_level"
	PatternChannelPreference PatternType = "channel_preference"
	PatternCampaignResponse  PatternType = "campaign_response"
)

// Trend classifies the direction of a signal over the analysis window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Timeframe is the window a pattern was computed over.
type Timeframe struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	WindowDays int       `json:"window_days"`
}

// Metrics holds the statistical summary for one pattern. Fields that do not
// apply to a pattern type are left at their zero value.
type Metrics struct {
	Frequency   float64 `json:"frequency,omitempty"`   // events per 30-day month
	Recency     float64 `json:"recency,omitempty"`     // days since most recent event
	Monetary    float64 `json:"monetary,omitempty"`    // sum of amounts in window
	Trend       Trend   `json:"trend,omitempty"`
	Consistency float64 `json:"consistency,omitempty"` // 0..1, higher is steadier
}

// Thresholds are self-calibrated cut points derived from the donor's own
// observed frequency.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Low    float64 `json:"low"`
}

// Pattern is one scored behavioral signal for a donor. The ID equals the
// pattern type so segment definitions can require patterns by stable name.
type Pattern struct {
	ID         string      `json:"id"`
	Type       PatternType `json:"type"`
	Timeframe  Timeframe   `json:"timeframe"`
	Metrics    Metrics     `json:"metrics"`
	Thresholds Thresholds  `json:"thresholds"`
	Weight     float64     `json:"weight"` // (0,1]
}

// Config controls the analysis windows.
type Config struct {
	ShortWindowDays  int
	MediumWindowDays int
	LongWindowDays   int
	MinimumActivity  int
	WeightDecay      float64
}

// DefaultConfig returns the standard analysis windows.
func DefaultConfig() Config {
	return Config{
		ShortWindowDays:  30,
		MediumWindowDays: 90,
		LongWindowDays:   365,
		MinimumActivity:  3,
		WeightDecay:      0.9,
	}
}
