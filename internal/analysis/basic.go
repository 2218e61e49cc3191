package analysis

import "time"

// ClassifyAccount applies the account-quality rules to one stargazer. It has no
// cross-event memory, so the result depends only on the snapshot and the star time.
func ClassifyAccount(acc *Account, starredAt time.Time, cfg Config) ReasonSet {
	var reasons ReasonSet

	if acc.Deleted {
		reasons = reasons.With(ReasonDeletedAccount)
	}

	// Deleted accounts usually come without metadata; zero values would
	// otherwise trip every rule below.
	if !acc.HasSnapshot() {
		return reasons
	}

	if acc.AgeAt(starredAt) < cfg.newAccountAge() {
		reasons = reasons.With(ReasonNewAccount)
	}
	if !acc.HasBio && !acc.HasCompany && !acc.HasLocation {
		reasons = reasons.With(ReasonEmptyProfile)
	}
	if acc.Followers == 0 {
		reasons = reasons.With(ReasonZeroFollowers)
	}

	return reasons
}

func basicLayer(ds *Dataset, cfg Config) []ReasonSet {
	out := make([]ReasonSet, ds.Len())
	for i, ev := range ds.Events {
		out[i] = ClassifyAccount(ev.Account, ev.StarredAt, cfg)
	}
	return out
}
