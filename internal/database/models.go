package database

import (
	"time"

	"github.com/goccy/go-json"
)

// RunSummary is the indexed metadata of one stored analysis run.
type RunSummary struct {
	ID          string    `json:"id"`
	Repository  string    `json:"repository"`
	GeneratedAt time.Time `json:"generated_at"`
	Records     int       `json:"records"`
	Skipped     int       `json:"skipped"`
	Duplicates  int       `json:"duplicates"`
	Real        int       `json:"real"`
	Fake        int       `json:"fake"`
	Clusters    int       `json:"clusters"`
	Spikes      int       `json:"spikes"`
	Warnings    int       `json:"warnings"`
}

// FakePct is the share of events classified FAKE.
func (s RunSummary) FakePct() float64 {
	total := s.Real + s.Fake
	if total == 0 {
		return 0
	}
	return 100 * float64(s.Fake) / float64(total)
}

// StoredRun is a run with its full JSON report as written.
type StoredRun struct {
	RunSummary
	Report json.RawMessage `json:"report"`
}

// StoredRollup is one persisted period bucket.
type StoredRollup struct {
	Name         string    `json:"name"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Total        int       `json:"total"`
	Real         int       `json:"real"`
	Fake         int       `json:"fake"`
	FakePct      float64   `json:"fake_pct"`
	DurationDays float64   `json:"duration_days"`
	AvgPerDay    *float64  `json:"avg_per_day"`
}

// StoredEvent is one persisted classified event.
type StoredEvent struct {
	Seq       int       `json:"seq"`
	AccountID string    `json:"account_id"`
	StarredAt time.Time `json:"starred_at"`
	Verdict   string    `json:"verdict"`
	Reasons   []string  `json:"reasons"`
}
