package behavior

import (
	"math"
	"sort"
	"time"

	"github.com/ignite/audience-engine/internal/donor"
)

// Pattern weights reflect how predictive each signal family is of future
// giving, ordered by the strength of the underlying evidence.
var patternWeights = map[PatternType]float64{
	PatternDonationFrequency: 0.9,
	PatternDonationAmount:    0.8,
	PatternEngagementLevel:   0.7,
	PatternCampaignResponse:  0.6,
	PatternChannelPreference: 0.5,
}

// Analyzer computes behavioral patterns over a donor's history.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer with the given windows.
func NewAnalyzer(cfg Config) *Analyzer {
	if cfg.LongWindowDays == 0 {
		cfg = DefaultConfig()
	}
	return &Analyzer{cfg: cfg}
}

// event is one dated observation with a magnitude.
type event struct {
	at    time.Time
	value float64
}

// Analyze returns every pattern that clears the minimum-activity bar.
// Donors with thin history produce fewer (possibly zero) patterns; that is
// a signal in itself, not an error.
func (a *Analyzer) Analyze(d *donor.Donor, now time.Time) []*Pattern {
	var patterns []*Pattern

	donationEvents := a.donationEvents(d, now)
	if p := a.score(PatternDonationFrequency, donationEvents, now); p != nil {
		patterns = append(patterns, p)
	}
	if p := a.score(PatternDonationAmount, donationEvents, now); p != nil {
		patterns = append(patterns, p)
	}
	if p := a.score(PatternEngagementLevel, a.engagementEvents(d, now), now); p != nil {
		patterns = append(patterns, p)
	}
	if p := a.score(PatternCampaignResponse, a.campaignEvents(d, now), now); p != nil {
		patterns = append(patterns, p)
	}
	if p := a.channelPattern(d, now); p != nil {
		patterns = append(patterns, p)
	}

	return patterns
}

// donationEvents returns gifts within the long window, amounts as values.
func (a *Analyzer) donationEvents(d *donor.Donor, now time.Time) []event {
	cutoff := now.AddDate(0, 0, -a.cfg.LongWindowDays)
	var events []event
	for _, don := range d.Donations {
		if don.DonatedAt.Before(cutoff) || don.DonatedAt.After(now) {
			continue
		}
		events = append(events, event{at: don.DonatedAt, value: don.Amount})
	}
	return events
}

// engagementEvents returns interactions within the long window. Values are
// decay-weighted so recent touches count more: a responded interaction is
// worth double, and the configured decay compounds per 30 days of age.
func (a *Analyzer) engagementEvents(d *donor.Donor, now time.Time) []event {
	cutoff := now.AddDate(0, 0, -a.cfg.LongWindowDays)
	var events []event
	for _, in := range d.Interactions {
		if in.OccurredAt.Before(cutoff) || in.OccurredAt.After(now) {
			continue
		}
		ageMonths := now.Sub(in.OccurredAt).Hours() / 24 / 30
		v := math.Pow(a.cfg.WeightDecay, ageMonths)
		if in.Responded {
			v *= 2
		}
		events = append(events, event{at: in.OccurredAt, value: v})
	}
	return events
}

// campaignEvents returns campaign-attributed responses within the window.
func (a *Analyzer) campaignEvents(d *donor.Donor, now time.Time) []event {
	cutoff := now.AddDate(0, 0, -a.cfg.LongWindowDays)
	var events []event
	for _, in := range d.Interactions {
		if in.CampaignID == "" || !in.Responded {
			continue
		}
		if in.OccurredAt.Before(cutoff) || in.OccurredAt.After(now) {
			continue
		}
		events = append(events, event{at: in.OccurredAt, value: 1})
	}
	return events
}

// score computes the shared metric set over a series of events. It returns
// nil when the series does not clear MinimumActivity.
func (a *Analyzer) score(pt PatternType, events []event, now time.Time) *Pattern {
	if len(events) < a.cfg.MinimumActivity {
		return nil
	}

	sort.Slice(events, func(i, j int) bool { return events[i].at.After(events[j].at) })

	oldest := events[len(events)-1].at
	newest := events[0].at

	spanDays := now.Sub(oldest).Hours() / 24
	if spanDays < 1 {
		spanDays = 1
	}
	frequency := float64(len(events)) / spanDays * 30
	recency := now.Sub(newest).Hours() / 24

	var monetary float64
	values := make([]float64, len(events))
	for i, ev := range events {
		monetary += ev.value
		values[i] = ev.value
	}

	return &Pattern{
		ID:   string(pt),
		Type: pt,
		Timeframe: Timeframe{
			Start:      now.AddDate(0, 0, -a.cfg.LongWindowDays),
			End:        now,
			WindowDays: a.cfg.LongWindowDays,
		},
		Metrics: Metrics{
			Frequency:   frequency,
			Recency:     recency,
			Monetary:    monetary,
			Trend:       classifyTrend(values),
			Consistency: consistency(values),
		},
		Thresholds: Thresholds{
			High:   frequency * 1.5,
			Medium: frequency,
			Low:    frequency * 0.5,
		},
		Weight: patternWeights[pt],
	}
}

// channelPattern summarizes the donor's dominant interaction channel. The
// consistency metric carries the channel's share of all interactions.
func (a *Analyzer) channelPattern(d *donor.Donor, now time.Time) *Pattern {
	preferred, share := d.PreferredChannel()
	if preferred == "" {
		return nil
	}

	cutoff := now.AddDate(0, 0, -a.cfg.LongWindowDays)
	var events []event
	for _, in := range d.Interactions {
		if in.Channel != preferred || in.OccurredAt.Before(cutoff) || in.OccurredAt.After(now) {
			continue
		}
		events = append(events, event{at: in.OccurredAt, value: 1})
	}
	p := a.score(PatternChannelPreference, events, now)
	if p == nil {
		return nil
	}
	p.Metrics.Consistency = share
	return p
}

// classifyTrend compares the recent half of a most-recent-first series to
// the older half. More than a 10% rise is increasing, more than a 10% drop
// is decreasing, anything between is stable.
func classifyTrend(values []float64) Trend {
	if len(values) < 2 {
		return TrendStable
	}
	half := len(values) / 2
	recentMean := mean(values[:half])
	olderMean := mean(values[half:])
	if olderMean == 0 {
		return TrendStable
	}
	switch {
	case recentMean > olderMean*1.10:
		return TrendIncreasing
	case recentMean < olderMean*0.90:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// consistency is 1 minus the coefficient of variation, floored at zero.
func consistency(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return 0
	}
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	sd := math.Sqrt(ss / float64(len(values)))
	return math.Max(0, 1-sd/m)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
