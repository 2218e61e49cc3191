package analysis

// IsLowActivityDiversity reports an account whose only observable activity is
// starring. With contribution counts available the rule is exact; without
// them it falls back to the profile proxy (no repositories, a handful of
// followers and followees).
func IsLowActivityDiversity(acc *Account, cfg Config) bool {
	if acc.Deleted || !acc.HasSnapshot() {
		return false
	}
	if acc.Activity.Known {
		return acc.Activity.Total() == 0
	}
	return acc.PublicRepos == 0 &&
		acc.Followers < cfg.DiversityMaxFollowers &&
		acc.Following < cfg.DiversityMaxFollowing
}

func diversityLayer(ds *Dataset, cfg Config) []ReasonSet {
	out := make([]ReasonSet, ds.Len())
	for i, ev := range ds.Events {
		// every event is itself a star, so "has starred at least once" holds here
		if IsLowActivityDiversity(ev.Account, cfg) {
			out[i] = NewReasonSet(ReasonLowActivityDiversity)
		}
	}
	return out
}
