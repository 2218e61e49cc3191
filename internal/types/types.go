package types

// RawStarRecord is one enriched stargazer record as produced by the collectors
// (GitHub adapter, JSONL dumps, HTTP clients). Fields are kept in their wire
// form; parsing and validation happen in the normalizer.
type RawStarRecord struct {
	Username       string `json:"username"`
	StarredAt      string `json:"starred_at"`
	AccountCreated string `json:"account_created,omitempty"`
	Status         string `json:"status,omitempty"`
	PublicRepos    int    `json:"public_repos"`
	Followers      int    `json:"followers"`
	Following      int    `json:"following"`
	Bio            string `json:"bio,omitempty"`
	Company        string `json:"company,omitempty"`
	Location       string `json:"location,omitempty"`

	// Lifetime contribution counts. Nil means the collector could not observe them.
	Commits      *int `json:"commits,omitempty"`
	PullRequests *int `json:"pull_requests,omitempty"`
	Issues       *int `json:"issues,omitempty"`

	// Public events in the collector's trailing window, star included.
	RecentEvents *int `json:"recent_events,omitempty"`

	// Source locates the record for error reporting, e.g. "stars.jsonl:42".
	Source string `json:"-"`
}

// StatusDeleted marks a stargazer whose account no longer exists.
const StatusDeleted = "deleted"

// AnalyzeRequest represents the request structure for the analyze endpoint
type AnalyzeRequest struct {
	Repository string          `json:"repository"`
	Records    []RawStarRecord `json:"records" binding:"required"`
	Periods    []PeriodSpec    `json:"periods,omitempty"`
	// Phases are four ascending dates splitting the timeline into
	// pre_spike, spike and post_spike periods. Exclusive with Periods.
	Phases    []string   `json:"phases,omitempty"`
	Baseline  *RangeSpec `json:"baseline,omitempty"`
	Target    *RangeSpec `json:"target,omitempty"`
	Correlate *RangeSpec `json:"correlation,omitempty"`
}

// PeriodSpec is a named date range in wire form ("2006-01-02", end exclusive).
type PeriodSpec struct {
	Name  string `json:"name" mapstructure:"name" validate:"required"`
	Start string `json:"start" mapstructure:"start" validate:"required"`
	End   string `json:"end" mapstructure:"end" validate:"required"`
}

// RangeSpec is an unnamed range of calendar days in wire form ("2006-01-02", both ends inclusive).
// As a baseline, Saved selects the repository's last saved baseline instead of a range.
type RangeSpec struct {
	From  string `json:"from,omitempty" mapstructure:"from"`
	To    string `json:"to,omitempty" mapstructure:"to"`
	Saved bool   `json:"saved,omitempty" mapstructure:"saved"`
}

// IntPtr is a small helper for building records with known activity counts.
func IntPtr(v int) *int {
	return &v
}
