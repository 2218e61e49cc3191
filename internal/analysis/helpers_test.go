package analysis

import (
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// organic returns a record no layer flags on its own.
func organic(user string, starredAt time.Time) types.RawStarRecord {
	return types.RawStarRecord{
		Username:       user,
		StarredAt:      starredAt.Format(time.RFC3339),
		AccountCreated: starredAt.AddDate(-3, 0, 0).Format(time.RFC3339),
		PublicRepos:    24,
		Followers:      80,
		Following:      30,
		Bio:            "gopher",
		Company:        "acme",
		Location:       "Lisbon",
		Commits:        types.IntPtr(400),
		PullRequests:   types.IntPtr(35),
		Issues:         types.IntPtr(12),
	}
}

// spread returns n organic records one per step starting at from.
func spread(prefix string, n int, from time.Time, step time.Duration) []types.RawStarRecord {
	out := make([]types.RawStarRecord, n)
	for i := range out {
		out[i] = organic(fmt.Sprintf("%s-%d", prefix, i), from.Add(time.Duration(i)*step))
	}
	return out
}

func mustNormalize(records []types.RawStarRecord) *Dataset {
	ds, err := NewNormalizer().Normalize(records)
	if err != nil {
		panic(err)
	}
	return ds
}

// eventsAt builds a dataset of organic accounts at the given offsets from epoch.
func eventsAt(offsets ...time.Duration) []StarEvent {
	records := make([]types.RawStarRecord, len(offsets))
	for i, off := range offsets {
		records[i] = organic(fmt.Sprintf("user-%d", i), epoch.Add(off))
	}
	return mustNormalize(records).Events
}

func classifiedAt(ts time.Time, fake bool) Classified {
	c := Classified{StarredAt: ts, Verdict: NewVerdict(0)}
	if fake {
		c.Verdict = NewVerdict(NewReasonSet(ReasonTemporalCluster))
	}
	return c
}

func date(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}
