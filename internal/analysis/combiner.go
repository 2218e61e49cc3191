package analysis

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Detector evaluates one layer over the whole dataset and returns one reason
// set per event, index-aligned with ds.Events. Detectors must not mutate ds.
type Detector func(ds *Dataset, cfg Config) []ReasonSet

var detectors = map[Layer]Detector{
	LayerBasic:      basicLayer,
	LayerClustering: clusteringLayer,
	LayerDormancy:   dormancyLayer,
	LayerDiversity:  diversityLayer,
}

// LayerResult holds the output of one detector.
type LayerResult struct {
	Layer   Layer
	Reasons []ReasonSet
}

// Flagged counts events this layer flags on its own.
func (r LayerResult) Flagged() int {
	n := 0
	for _, s := range r.Reasons {
		if !s.Empty() {
			n++
		}
	}
	return n
}

// RunLayers evaluates the configured layers concurrently. Results come back in
// activation order regardless of completion order.
func RunLayers(ctx context.Context, ds *Dataset, cfg Config) ([]LayerResult, error) {
	results := make([]LayerResult, len(cfg.Layers))

	g, ctx := errgroup.WithContext(ctx)
	for i, layer := range cfg.Layers {
		detect := detectors[layer]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = LayerResult{Layer: layer, Reasons: detect(ds, cfg)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Combine unions the reason sets of every layer per event. The union is
// commutative, so layer order does not change verdicts.
func Combine(n int, results []LayerResult) []Verdict {
	union := make([]ReasonSet, n)
	for _, r := range results {
		for i, s := range r.Reasons {
			union[i] = union[i].Union(s)
		}
	}

	verdicts := make([]Verdict, n)
	for i, s := range union {
		verdicts[i] = NewVerdict(s)
	}
	return verdicts
}

// Classify attaches verdicts to events, producing the per-event output records.
func Classify(ds *Dataset, verdicts []Verdict) []Classified {
	out := make([]Classified, ds.Len())
	for i, ev := range ds.Events {
		out[i] = Classified{
			Seq:       ev.Seq,
			AccountID: ev.Account.ID,
			StarredAt: ev.StarredAt,
			Verdict:   verdicts[i],
		}
	}
	return out
}

// BreakdownRow is one line of the detection-level table.
type BreakdownRow struct {
	Layer         Layer   `json:"layer"`
	Label         string  `json:"label"`
	Standalone    int     `json:"standalone"`
	Marginal      int     `json:"marginal"`
	Cumulative    int     `json:"cumulative"`
	MarginalPct   float64 `json:"marginal_pct"`
	CumulativePct float64 `json:"cumulative_pct"`
}

// Breakdown is the detection-level table in activation order.
type Breakdown struct {
	Total int            `json:"total"`
	Fake  int            `json:"fake"`
	Real  int            `json:"real"`
	Rows  []BreakdownRow `json:"rows"`
}

// LayerBreakdown re-runs the combiner with a growing prefix of layers enabled.
// An event flagged by several layers is claimed by the first one that flags it,
// so marginal counts sum to the final fake total.
func LayerBreakdown(n int, results []LayerResult) Breakdown {
	b := Breakdown{Total: n, Rows: make([]BreakdownRow, 0, len(results))}

	prev := 0
	for k, r := range results {
		cumulative := countFake(Combine(n, results[:k+1]))

		label := layerTitle(r.Layer)
		if k > 0 {
			label = "+" + label
		}

		b.Rows = append(b.Rows, BreakdownRow{
			Layer:         r.Layer,
			Label:         label,
			Standalone:    r.Flagged(),
			Marginal:      cumulative - prev,
			Cumulative:    cumulative,
			MarginalPct:   percent(cumulative-prev, n),
			CumulativePct: percent(cumulative, n),
		})
		prev = cumulative
	}

	b.Fake = prev
	b.Real = n - prev
	return b
}

func countFake(verdicts []Verdict) int {
	n := 0
	for _, v := range verdicts {
		if v.IsFake() {
			n++
		}
	}
	return n
}

func layerTitle(l Layer) string {
	switch l {
	case LayerBasic:
		return "Basic"
	case LayerClustering:
		return "Clustering"
	case LayerDormancy:
		return "Dormancy"
	case LayerDiversity:
		return "Diversity"
	default:
		return string(l)
	}
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(part) / float64(total)
}
