package analysis

import (
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Reason is one detection signal. Values are bit flags so a ReasonSet is a
// plain value that can be unioned without allocation.
type Reason uint8

const (
	ReasonNewAccount Reason = 1 << iota
	ReasonEmptyProfile
	ReasonZeroFollowers
	ReasonDeletedAccount
	ReasonTemporalCluster
	ReasonDormantReactivation
	ReasonLowActivityDiversity
)

// allReasons lists every reason in reporting order.
var allReasons = []Reason{
	ReasonNewAccount,
	ReasonEmptyProfile,
	ReasonZeroFollowers,
	ReasonDeletedAccount,
	ReasonTemporalCluster,
	ReasonDormantReactivation,
	ReasonLowActivityDiversity,
}

var reasonNames = map[Reason]string{
	ReasonNewAccount:           "new_account",
	ReasonEmptyProfile:         "empty_profile",
	ReasonZeroFollowers:        "zero_followers",
	ReasonDeletedAccount:       "deleted_account",
	ReasonTemporalCluster:      "temporal_cluster",
	ReasonDormantReactivation:  "dormant_reactivation",
	ReasonLowActivityDiversity: "low_activity_diversity",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// ParseReason maps a reason tag back to its Reason.
func ParseReason(name string) (Reason, bool) {
	for r, n := range reasonNames {
		if n == name {
			return r, true
		}
	}
	return 0, false
}

// ReasonSet is an immutable set of reasons.
type ReasonSet uint8

// NewReasonSet builds a set from individual reasons.
func NewReasonSet(reasons ...Reason) ReasonSet {
	var s ReasonSet
	for _, r := range reasons {
		s = s.With(r)
	}
	return s
}

// With returns a copy of s that also contains r.
func (s ReasonSet) With(r Reason) ReasonSet { return s | ReasonSet(r) }

// Union returns the union of both sets.
func (s ReasonSet) Union(o ReasonSet) ReasonSet { return s | o }

// Has reports whether r is in the set.
func (s ReasonSet) Has(r Reason) bool { return s&ReasonSet(r) != 0 }

// Empty reports whether no reason is set.
func (s ReasonSet) Empty() bool { return s == 0 }

// Reasons returns the members in reporting order.
func (s ReasonSet) Reasons() []Reason {
	out := make([]Reason, 0, len(allReasons))
	for _, r := range allReasons {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Strings returns the member tags in reporting order.
func (s ReasonSet) Strings() []string {
	out := make([]string, 0, len(allReasons))
	for _, r := range s.Reasons() {
		out = append(out, r.String())
	}
	return out
}

func (s ReasonSet) String() string {
	return strings.Join(s.Strings(), ",")
}

func (s ReasonSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *ReasonSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var out ReasonSet
	for _, n := range names {
		if r, ok := ParseReason(n); ok {
			out = out.With(r)
		}
	}
	*s = out
	return nil
}

// Label is the binary classification of a star event.
type Label string

const (
	LabelReal Label = "REAL"
	LabelFake Label = "FAKE"
)

// Verdict is the combined classification of one star event. Reasons is empty
// exactly when Label is REAL.
type Verdict struct {
	Label   Label     `json:"verdict"`
	Reasons ReasonSet `json:"reasons"`
}

// NewVerdict derives the label from the reason set.
func NewVerdict(reasons ReasonSet) Verdict {
	if reasons.Empty() {
		return Verdict{Label: LabelReal}
	}
	return Verdict{Label: LabelFake, Reasons: reasons}
}

// IsFake reports whether any layer flagged the event.
func (v Verdict) IsFake() bool { return v.Label == LabelFake }

// ActivityCounts are lifetime contribution totals. Known is false when the
// collector could not observe them.
type ActivityCounts struct {
	Commits      int  `json:"commits"`
	PullRequests int  `json:"pull_requests"`
	Issues       int  `json:"issues"`
	Known        bool `json:"known"`
}

// Total sums all contribution kinds.
func (a ActivityCounts) Total() int {
	return a.Commits + a.PullRequests + a.Issues
}

// RecentActivity counts public events in the collector's trailing window.
type RecentActivity struct {
	Events int  `json:"events"`
	Known  bool `json:"known"`
}

// Account is the metadata snapshot of a stargazer as observed at analysis time.
type Account struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	PublicRepos int            `json:"public_repos"`
	Followers   int            `json:"followers"`
	Following   int            `json:"following"`
	HasBio      bool           `json:"has_bio"`
	HasCompany  bool           `json:"has_company"`
	HasLocation bool           `json:"has_location"`
	Deleted     bool           `json:"deleted"`
	Activity    ActivityCounts `json:"activity"`
	Recent      RecentActivity `json:"recent"`
}

// HasSnapshot reports whether account metadata was observed. Deleted accounts
// usually have none.
func (a *Account) HasSnapshot() bool {
	return !a.CreatedAt.IsZero()
}

// AgeAt returns the account age at t.
func (a *Account) AgeAt(t time.Time) time.Duration {
	return t.Sub(a.CreatedAt)
}

// AgeDaysAt returns the account age at t in whole days, rounded down.
func (a *Account) AgeDaysAt(t time.Time) int {
	return int(math.Floor(float64(a.AgeAt(t)) / float64(day)))
}

// sameSnapshot compares two observations of the same account.
func (a *Account) sameSnapshot(b *Account) bool {
	return a.ID == b.ID &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.PublicRepos == b.PublicRepos &&
		a.Followers == b.Followers &&
		a.Following == b.Following &&
		a.HasBio == b.HasBio &&
		a.HasCompany == b.HasCompany &&
		a.HasLocation == b.HasLocation &&
		a.Deleted == b.Deleted &&
		a.Activity == b.Activity &&
		a.Recent == b.Recent
}

// StarEvent is one account starring the tracked repository. Seq is assigned in
// ingestion order and breaks ties between equal timestamps.
type StarEvent struct {
	Seq       int       `json:"seq"`
	Account   *Account  `json:"account"`
	StarredAt time.Time `json:"starred_at"`
}

// Dataset is the normalized, timestamp-sorted event set every detector reads.
// It is never mutated after normalization.
type Dataset struct {
	Events     []StarEvent `json:"events"`
	Skipped    int         `json:"skipped"`
	Duplicates int         `json:"duplicates"`
	SkipErrors []error     `json:"-"`
}

// Len returns the number of events.
func (d *Dataset) Len() int { return len(d.Events) }

// Classified is the per-event output record.
type Classified struct {
	Seq       int       `json:"seq"`
	AccountID string    `json:"account_id"`
	StarredAt time.Time `json:"starred_at"`
	Verdict
}

// Cluster is a maximal run of events inside one dense time span. Bounds are inclusive.
type Cluster struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	FirstSeq int       `json:"first_seq"`
	LastSeq  int       `json:"last_seq"`
	Size     int       `json:"size"`

	// first and last are positions in Dataset.Events.
	first, last int
}

// Duration returns the cluster's time span.
func (c Cluster) Duration() time.Duration { return c.End.Sub(c.Start) }
