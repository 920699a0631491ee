package donor

import (
	"math"
	"time"
)

// StaleDonationSentinel is returned by DaysSinceLastDonation for donors with
// no donation history. It reads as "very stale" to rule comparisons rather
// than null, so recency rules exclude such donors instead of erroring.
const StaleDonationSentinel = 9999

// InteractionChannel enumerates the channels a donor can be reached on.
type InteractionChannel string

const (
	ChannelEmail  InteractionChannel = "email"
	ChannelSMS    InteractionChannel = "sms"
	ChannelPhone  InteractionChannel = "phone"
	ChannelMail   InteractionChannel = "mail"
	ChannelSocial InteractionChannel = "social"
)

// Donation is a single gift in a donor's giving history.
type Donation struct {
	Amount     float64   `json:"amount" db:"amount"`
	CampaignID string    `json:"campaign_id,omitempty" db:"campaign_id"`
	Channel    string    `json:"channel,omitempty" db:"channel"`
	DonatedAt  time.Time `json:"donated_at" db:"donated_at"`
}

// Interaction is a single touchpoint with a donor (open, click, call, reply).
type Interaction struct {
	Channel    InteractionChannel `json:"channel" db:"channel"`
	Type       string             `json:"type" db:"type"`
	CampaignID string             `json:"campaign_id,omitempty" db:"campaign_id"`
	Responded  bool               `json:"responded" db:"responded"`
	OccurredAt time.Time          `json:"occurred_at" db:"occurred_at"`
}

// Donor represents one constituent record as supplied by the external
// donor repository.
type Donor struct {
	ID           string         `json:"id" db:"id"`
	Email        string         `json:"email" db:"email"`
	FirstName    string         `json:"first_name,omitempty" db:"first_name"`
	LastName     string         `json:"last_name,omitempty" db:"last_name"`
	Age          *int           `json:"age,omitempty" db:"age"`
	Location     string         `json:"location,omitempty" db:"location"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`

	Donations    []Donation    `json:"donations,omitempty"`
	Interactions []Interaction `json:"interactions,omitempty"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TotalDonated returns the lifetime sum of the donor's gifts.
func (d *Donor) TotalDonated() float64 {
	var total float64
	for _, don := range d.Donations {
		total += don.Amount
	}
	return total
}

// DonationCount returns the number of gifts in the donor's history.
func (d *Donor) DonationCount() int {
	return len(d.Donations)
}

// AvgDonationAmount returns the mean gift size, or 0 for donors with no gifts.
func (d *Donor) AvgDonationAmount() float64 {
	if len(d.Donations) == 0 {
		return 0
	}
	return d.TotalDonated() / float64(len(d.Donations))
}

// FirstDonationAt returns the timestamp of the earliest gift, or zero time.
func (d *Donor) FirstDonationAt() time.Time {
	var first time.Time
	for _, don := range d.Donations {
		if first.IsZero() || don.DonatedAt.Before(first) {
			first = don.DonatedAt
		}
	}
	return first
}

// LastDonationAt returns the timestamp of the most recent gift, or zero time.
func (d *Donor) LastDonationAt() time.Time {
	var last time.Time
	for _, don := range d.Donations {
		if don.DonatedAt.After(last) {
			last = don.DonatedAt
		}
	}
	return last
}

// DaysSinceFirstDonation returns full days elapsed since the earliest gift,
// or StaleDonationSentinel when the donor has never given.
func (d *Donor) DaysSinceFirstDonation(now time.Time) float64 {
	first := d.FirstDonationAt()
	if first.IsZero() {
		return StaleDonationSentinel
	}
	return math.Max(0, now.Sub(first).Hours()/24)
}

// DaysSinceLastDonation returns full days elapsed since the most recent gift,
// or StaleDonationSentinel when the donor has never given.
func (d *Donor) DaysSinceLastDonation(now time.Time) float64 {
	last := d.LastDonationAt()
	if last.IsZero() {
		return StaleDonationSentinel
	}
	return math.Max(0, now.Sub(last).Hours()/24)
}

// EngagementScore returns a 0-100 recency-weighted interaction score.
// Each interaction within the trailing year contributes with a 90-day
// half-life decay; responded interactions count double. The raw sum is
// scaled by 10 and capped at 100 so a donor with ~5 recent responded
// touches saturates the scale.
func (d *Donor) EngagementScore(now time.Time) float64 {
	var sum float64
	for _, in := range d.Interactions {
		age := now.Sub(in.OccurredAt).Hours() / 24
		if age < 0 || age > 365 {
			continue
		}
		w := math.Pow(0.5, age/90)
		if in.Responded {
			w *= 2
		}
		sum += w
	}
	score := sum * 10
	if score > 100 {
		score = 100
	}
	return score
}

// PreferredChannel returns the donor's modal interaction channel and its
// share of all interactions. Donors with no interactions get ("", 0).
func (d *Donor) PreferredChannel() (InteractionChannel, float64) {
	if len(d.Interactions) == 0 {
		return "", 0
	}
	counts := make(map[InteractionChannel]int)
	for _, in := range d.Interactions {
		counts[in.Channel]++
	}
	var best InteractionChannel
	bestCount := 0
	for ch, n := range counts {
		if n > bestCount || (n == bestCount && ch < best) {
			best = ch
			bestCount = n
		}
	}
	return best, float64(bestCount) / float64(len(d.Interactions))
}
