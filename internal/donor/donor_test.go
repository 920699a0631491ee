package donor

import (
	"context"
	"math"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestDonationAggregates(t *testing.T) {
	d := &Donor{
		ID: "d-1",
		Donations: []Donation{
			{Amount: 500, DonatedAt: now.AddDate(0, -2, 0)},
			{Amount: 700, DonatedAt: now.AddDate(0, -1, 0)},
		},
	}

	if got := d.TotalDonated(); got != 1200 {
		t.Errorf("TotalDonated() = %v, want 1200", got)
	}
	if got := d.DonationCount(); got != 2 {
		t.Errorf("DonationCount() = %d, want 2", got)
	}
	if got := d.AvgDonationAmount(); got != 600 {
		t.Errorf("AvgDonationAmount() = %v, want 600", got)
	}
	if got := d.FirstDonationAt(); !got.Equal(now.AddDate(0, -2, 0)) {
		t.Errorf("FirstDonationAt() = %v", got)
	}
	if got := d.LastDonationAt(); !got.Equal(now.AddDate(0, -1, 0)) {
		t.Errorf("LastDonationAt() = %v", got)
	}
}

func TestRecencyUsesSentinelForEmptyHistory(t *testing.T) {
	d := &Donor{ID: "never"}

	if got := d.DaysSinceLastDonation(now); got != StaleDonationSentinel {
		t.Errorf("DaysSinceLastDonation() = %v, want sentinel %d", got, StaleDonationSentinel)
	}
	if got := d.DaysSinceFirstDonation(now); got != StaleDonationSentinel {
		t.Errorf("DaysSinceFirstDonation() = %v, want sentinel %d", got, StaleDonationSentinel)
	}
	if got := d.AvgDonationAmount(); got != 0 {
		t.Errorf("AvgDonationAmount() = %v, want 0", got)
	}
}

func TestDaysSinceLastDonation(t *testing.T) {
	d := &Donor{
		Donations: []Donation{{Amount: 10, DonatedAt: now.AddDate(0, 0, -45)}},
	}
	if got := d.DaysSinceLastDonation(now); math.Abs(got-45) > 1e-9 {
		t.Errorf("DaysSinceLastDonation() = %v, want 45", got)
	}
}

func TestEngagementScore(t *testing.T) {
	quiet := &Donor{ID: "quiet"}
	if got := quiet.EngagementScore(now); got != 0 {
		t.Errorf("EngagementScore() with no interactions = %v, want 0", got)
	}

	// An interaction from this morning carries full weight: 1 * 10.
	fresh := &Donor{Interactions: []Interaction{
		{Channel: ChannelEmail, Type: "open", OccurredAt: now.Add(-time.Hour)},
	}}
	if got := fresh.EngagementScore(now); math.Abs(got-10) > 0.1 {
		t.Errorf("fresh interaction score = %v, want ~10", got)
	}

	// Responded interactions count double.
	responded := &Donor{Interactions: []Interaction{
		{Channel: ChannelEmail, Type: "click", Responded: true, OccurredAt: now.Add(-time.Hour)},
	}}
	if got := responded.EngagementScore(now); math.Abs(got-20) > 0.1 {
		t.Errorf("responded interaction score = %v, want ~20", got)
	}

	// Interactions older than a year fall out entirely.
	stale := &Donor{Interactions: []Interaction{
		{Channel: ChannelEmail, Type: "open", OccurredAt: now.AddDate(-2, 0, 0)},
	}}
	if got := stale.EngagementScore(now); got != 0 {
		t.Errorf("stale interaction score = %v, want 0", got)
	}

	// The score saturates at 100.
	busy := &Donor{}
	for i := 0; i < 50; i++ {
		busy.Interactions = append(busy.Interactions, Interaction{
			Channel: ChannelEmail, Type: "open", Responded: true, OccurredAt: now.Add(-time.Hour),
		})
	}
	if got := busy.EngagementScore(now); got != 100 {
		t.Errorf("saturated score = %v, want 100", got)
	}
}

func TestPreferredChannel(t *testing.T) {
	none := &Donor{}
	if ch, share := none.PreferredChannel(); ch != "" || share != 0 {
		t.Errorf("PreferredChannel() with no interactions = (%q, %v), want empty", ch, share)
	}

	d := &Donor{Interactions: []Interaction{
		{Channel: ChannelSMS, OccurredAt: now},
		{Channel: ChannelSMS, OccurredAt: now},
		{Channel: ChannelSMS, OccurredAt: now},
		{Channel: ChannelEmail, OccurredAt: now},
	}}
	ch, share := d.PreferredChannel()
	if ch != ChannelSMS {
		t.Errorf("PreferredChannel() = %q, want sms", ch)
	}
	if math.Abs(share-0.75) > 1e-9 {
		t.Errorf("channel share = %v, want 0.75", share)
	}
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Put(&Donor{ID: "b", Email: "b@example.org"})
	repo.Put(&Donor{ID: "a", Email: "a@example.org"})

	snapshot, err := repo.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snapshot) != 2 || snapshot[0].ID != "a" || snapshot[1].ID != "b" {
		t.Errorf("Snapshot() order = %v, want sorted by id", []string{snapshot[0].ID, snapshot[1].ID})
	}

	d, err := repo.Get(context.Background(), "a")
	if err != nil || d == nil || d.ID != "a" {
		t.Errorf("Get(a) = (%v, %v), want donor a", d, err)
	}

	repo.Remove("a")
	if d, _ := repo.Get(context.Background(), "a"); d != nil {
		t.Errorf("Get() after Remove = %+v, want nil", d)
	}
}
