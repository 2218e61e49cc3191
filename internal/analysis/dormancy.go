package analysis

import "time"

// IsDormantReactivation reports an old, near-empty account that suddenly stars.
// Age counts whole days only, so a partial day past the threshold does not
// make an account dormant. Age and repository count are required; recent activity only narrows the rule
// when the collector observed it.
func IsDormantReactivation(acc *Account, starredAt time.Time, cfg Config) bool {
	if acc.Deleted || !acc.HasSnapshot() {
		return false
	}
	if acc.AgeDaysAt(starredAt) <= cfg.dormantAgeDays() {
		return false
	}
	if acc.PublicRepos >= cfg.DormantMaxRepos {
		return false
	}
	if acc.Recent.Known && acc.Recent.Events > cfg.DormantMaxRecentEvents {
		return false
	}
	return true
}

func dormancyLayer(ds *Dataset, cfg Config) []ReasonSet {
	out := make([]ReasonSet, ds.Len())
	for i, ev := range ds.Events {
		if IsDormantReactivation(ev.Account, ev.StarredAt, cfg) {
			out[i] = NewReasonSet(ReasonDormantReactivation)
		}
	}
	return out
}
