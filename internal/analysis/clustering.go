package analysis

import "time"

// DetectClusters finds dense runs in events, which must be sorted by
// (StarredAt, Seq) as Normalize returns them. Reported clusters are maximal,
// sorted and disjoint: each one ends strictly before the next one starts.
func DetectClusters(events []StarEvent, window time.Duration, minAccounts int, mode ClusterMode) []Cluster {
	if minAccounts < 1 || len(events) < minAccounts {
		return nil
	}

	if mode == ClusterModeGap {
		return gapClusters(events, window, minAccounts)
	}
	return windowClusters(events, window, minAccounts)
}

// windowClusters sweeps a window of width w over the timestamps. Each right
// edge i pulls the left edge j forward until ts[i]-ts[j] <= w; a window with at
// least k events is a candidate and candidates that overlap or touch merge.
func windowClusters(events []StarEvent, w time.Duration, k int) []Cluster {
	var clusters []Cluster
	open := false
	var cur Cluster

	j := 0
	for i := range events {
		for events[i].StarredAt.Sub(events[j].StarredAt) > w {
			j++
		}
		if i-j+1 < k {
			continue
		}

		if open && !events[j].StarredAt.After(events[cur.last].StarredAt) {
			cur.last = i
			continue
		}
		if open {
			clusters = append(clusters, cur.finish(events))
		}
		cur = Cluster{first: j, last: i}
		open = true
	}
	if open {
		clusters = append(clusters, cur.finish(events))
	}

	return clusters
}

// gapClusters chains consecutive events whose gap is at most w and keeps chains
// of at least k events.
func gapClusters(events []StarEvent, w time.Duration, k int) []Cluster {
	var clusters []Cluster

	start := 0
	for i := 1; i <= len(events); i++ {
		if i < len(events) && events[i].StarredAt.Sub(events[i-1].StarredAt) <= w {
			continue
		}
		if i-start >= k {
			c := Cluster{first: start, last: i - 1}
			clusters = append(clusters, c.finish(events))
		}
		start = i
	}

	return clusters
}

func (c Cluster) finish(events []StarEvent) Cluster {
	c.Start = events[c.first].StarredAt
	c.End = events[c.last].StarredAt
	c.FirstSeq = events[c.first].Seq
	c.LastSeq = events[c.last].Seq
	c.Size = c.last - c.first + 1
	return c
}

func clusteringLayer(ds *Dataset, cfg Config) []ReasonSet {
	out := make([]ReasonSet, ds.Len())
	for _, c := range DetectClusters(ds.Events, cfg.ClusterWindow, cfg.ClusterMinAccounts, cfg.ClusterMode) {
		for i := c.first; i <= c.last; i++ {
			out[i] = out[i].With(ReasonTemporalCluster)
		}
	}
	return out
}
