package analysis

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

func flags(n int, idx ...int) []ReasonSet {
	out := make([]ReasonSet, n)
	for _, i := range idx {
		out[i] = NewReasonSet(ReasonTemporalCluster)
	}
	return out
}

// mixedRecords builds a noisy batch where every layer has something to flag.
func mixedRecords(seed int64, n int) []types.RawStarRecord {
	rng := rand.New(rand.NewSource(seed))
	records := make([]types.RawStarRecord, 0, n)
	for i := 0; i < n; i++ {
		starred := epoch.Add(time.Duration(rng.Intn(14*24*60)) * time.Minute)
		r := organic(fmt.Sprintf("u%d", i), starred)
		switch rng.Intn(6) {
		case 0:
			r.AccountCreated = starred.Add(-24 * time.Hour).Format(time.RFC3339)
		case 1:
			r.Bio, r.Company, r.Location, r.Followers = "", "", "", 0
		case 2:
			r.PublicRepos = 1
		case 3:
			r.Commits, r.PullRequests, r.Issues = types.IntPtr(0), types.IntPtr(0), types.IntPtr(0)
		case 4:
			r = types.RawStarRecord{Username: r.Username, StarredAt: r.StarredAt, Status: types.StatusDeleted}
		}
		records = append(records, r)
	}
	// one dense burst for the clustering layer
	return append(records, spread("burst", 15, epoch.Add(36*time.Hour), time.Minute)...)
}

func mixedDataset(seed int64, n int) *Dataset {
	return mustNormalize(mixedRecords(seed, n))
}

func TestCombine_VerdictMatchesReasons(t *testing.T) {
	ds := mixedDataset(1, 400)
	results, err := RunLayers(context.Background(), ds, DefaultConfig())
	require.NoError(t, err)

	verdicts := Combine(ds.Len(), results)
	require.Len(t, verdicts, ds.Len())

	fake := 0
	for _, v := range verdicts {
		assert.Equal(t, v.Reasons.Empty(), v.Label == LabelReal)
		if v.IsFake() {
			fake++
		}
	}
	assert.Positive(t, fake)
	assert.Less(t, fake, ds.Len())
}

func TestCombine_OrderIndependent(t *testing.T) {
	ds := mixedDataset(2, 300)
	results, err := RunLayers(context.Background(), ds, DefaultConfig())
	require.NoError(t, err)

	reversed := make([]LayerResult, len(results))
	for i, r := range results {
		reversed[len(results)-1-i] = r
	}

	assert.Equal(t, Combine(ds.Len(), results), Combine(ds.Len(), reversed))
}

func TestRunLayers(t *testing.T) {
	ds := mixedDataset(3, 50)

	t.Run("results follow activation order", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Layers = []Layer{LayerDiversity, LayerBasic}

		results, err := RunLayers(context.Background(), ds, cfg)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, LayerDiversity, results[0].Layer)
		assert.Equal(t, LayerBasic, results[1].Layer)
		for _, r := range results {
			assert.Len(t, r.Reasons, ds.Len())
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := RunLayers(ctx, ds, DefaultConfig())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLayerBreakdown(t *testing.T) {
	const n = 5
	results := []LayerResult{
		{Layer: LayerBasic, Reasons: flags(n, 0, 1)},
		{Layer: LayerClustering, Reasons: flags(n, 1, 2)},
		{Layer: LayerDormancy, Reasons: flags(n, 3)},
		{Layer: LayerDiversity, Reasons: flags(n, 0, 3)},
	}

	b := LayerBreakdown(n, results)

	assert.Equal(t, n, b.Total)
	assert.Equal(t, 4, b.Fake)
	assert.Equal(t, 1, b.Real)

	tests := []struct {
		label      string
		standalone int
		marginal   int
		cumulative int
		pct        float64
	}{
		{"Basic", 2, 2, 2, 40},
		{"+Clustering", 2, 1, 3, 20},
		{"+Dormancy", 1, 1, 4, 20},
		{"+Diversity", 2, 0, 4, 0},
	}
	require.Len(t, b.Rows, len(tests))
	for i, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			row := b.Rows[i]
			assert.Equal(t, tt.label, row.Label)
			assert.Equal(t, tt.standalone, row.Standalone)
			assert.Equal(t, tt.marginal, row.Marginal)
			assert.Equal(t, tt.cumulative, row.Cumulative)
			assert.InDelta(t, tt.pct, row.MarginalPct, 1e-9)
		})
	}
}

func TestLayerBreakdown_Monotone(t *testing.T) {
	for seed := int64(10); seed < 15; seed++ {
		ds := mixedDataset(seed, 250)
		results, err := RunLayers(context.Background(), ds, DefaultConfig())
		require.NoError(t, err)

		b := LayerBreakdown(ds.Len(), results)
		sum, prev := 0, 0
		for _, row := range b.Rows {
			assert.GreaterOrEqual(t, row.Cumulative, prev)
			assert.GreaterOrEqual(t, row.Marginal, 0)
			sum += row.Marginal
			prev = row.Cumulative
		}
		assert.Equal(t, b.Fake, sum)
		assert.Equal(t, countFake(Combine(ds.Len(), results)), b.Fake)
	}
}
