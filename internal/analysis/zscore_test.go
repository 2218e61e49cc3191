package analysis

import (
	"math"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

func dailyTotals(from string, totals ...int) []DailyPoint {
	start := date(from)
	out := make([]DailyPoint, len(totals))
	for i, n := range totals {
		out[i] = DailyPoint{Date: start.AddDate(0, 0, i), Real: n, Total: n}
	}
	return out
}

func TestZScore(t *testing.T) {
	tests := []struct {
		name       string
		total      float64
		mean       float64
		sd         float64
		expected   float64
		degenerate bool
	}{
		// (223 - 7.5) / 5.2
		{"day far above baseline", 223, 7.5, 5.2, 41.4423, false},
		{"at the mean", 7.5, 7.5, 5.2, 0, false},
		{"below the mean", 2.3, 7.5, 5.2, -1, false},
		{"flat baseline above", 4, 3, 0, math.Inf(1), true},
		{"flat baseline below", 2, 3, 0, math.Inf(-1), true},
		{"flat baseline at mean", 3, 3, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, degenerate := ZScore(tt.total, tt.mean, tt.sd)
			assert.Equal(t, tt.degenerate, degenerate)
			if math.IsInf(tt.expected, 0) {
				assert.Equal(t, tt.expected, z)
				return
			}
			assert.InDelta(t, tt.expected, z, 1e-3)
		})
	}
}

func TestComputeBaseline(t *testing.T) {
	daily := dailyTotals("2024-01-01", 2, 4, 4, 4, 5, 5, 7, 9, 100)

	b, err := ComputeBaseline(daily, DayRange{From: date("2024-01-01"), To: date("2024-01-08")})
	require.NoError(t, err)

	assert.Equal(t, 8, b.Days)
	assert.InDelta(t, 5.0, b.Mean, 1e-9)
	assert.InDelta(t, 2.0, b.StdDev, 1e-9)
	assert.Len(t, b.Sample, 8)

	_, err = ComputeBaseline(daily, DayRange{From: date("2025-01-01"), To: date("2025-01-08")})
	assert.Error(t, err)
}

func TestComputeBaseline_QuietDaysOutsideSeries(t *testing.T) {
	// stars only on Jan 5 and Jan 6; the range reaches four quiet days back and two forward
	daily := dailyTotals("2024-01-05", 4, 4)

	b, err := ComputeBaseline(daily, DayRange{From: date("2024-01-01"), To: date("2024-01-08")})
	require.NoError(t, err)

	assert.Equal(t, 8, b.Days)
	assert.Equal(t, []float64{0, 0, 0, 0, 4, 4, 0, 0}, b.Sample)
	assert.InDelta(t, 1.0, b.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(3), b.StdDev, 1e-9)
}

func TestScoreDays(t *testing.T) {
	daily := dailyTotals("2024-01-01", 2, 4, 4, 4, 5, 5, 7, 9, 30, 40, 6, 1, 25)
	b, err := ComputeBaseline(daily, DayRange{From: date("2024-01-01"), To: date("2024-01-08")})
	require.NoError(t, err)

	scores, warnings := ScoreDays(daily, b, DayRange{From: date("2024-01-09"), To: date("2024-01-13")}, 3)
	assert.Empty(t, warnings)
	require.Len(t, scores, 5)

	anomalous := make([]bool, len(scores))
	for i, s := range scores {
		anomalous[i] = s.Anomalous
	}
	// z: 12.5, 17.5, 0.5, -2, 10
	assert.Equal(t, []bool{true, true, false, false, true}, anomalous)
	assert.InDelta(t, 12.5, scores[0].Z, 1e-9)
	assert.Greater(t, scores[1].RobustZ, scores[0].RobustZ)

	spikes := SpikeRanges(scores)
	require.Len(t, spikes, 2)
	assert.Equal(t, date("2024-01-09"), spikes[0].Start)
	assert.Equal(t, date("2024-01-10"), spikes[0].End)
	assert.Equal(t, 2, spikes[0].Days)
	assert.Equal(t, 70, spikes[0].Total)
	assert.Equal(t, date("2024-01-10"), spikes[0].Peak)
	assert.Equal(t, date("2024-01-13"), spikes[1].Start)
}

func TestScoreDays_FlatBaseline(t *testing.T) {
	daily := dailyTotals("2024-01-01", 3, 3, 3, 3, 9, 1)
	b, err := ComputeBaseline(daily, DayRange{From: date("2024-01-01"), To: date("2024-01-04")})
	require.NoError(t, err)

	scores, warnings := ScoreDays(daily, b, DayRange{From: date("2024-01-05"), To: date("2024-01-06")}, 3)
	require.Len(t, warnings, 1)
	assert.True(t, apperrors.IsDegenerate(warnings[0]))

	require.Len(t, scores, 2)
	assert.True(t, math.IsInf(scores[0].Z, 1))
	assert.True(t, scores[0].Degenerate)
	assert.False(t, math.IsInf(scores[0].RobustZ, 0))

	// dips are anomalous but never spikes
	assert.True(t, scores[1].Anomalous)
	assert.Len(t, SpikeRanges(scores), 1)

	data, err := json.Marshal(scores[0])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "z")
	assert.Nil(t, decoded["z"])
	assert.Equal(t, true, decoded["degenerate"])
	assert.EqualValues(t, 9, decoded["total"])
}

func TestRobustZ(t *testing.T) {
	sample := []float64{1, 2, 3, 4, 5}

	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"median value", 3, 0},
		{"below median", 1, math.Asinh(-2 / 1.4826)},
		{"above median", 5, math.Asinh(2 / 1.4826)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, RobustZ(tt.value, sample), 1e-9)
		})
	}

	assert.Zero(t, RobustZ(10, nil))
}
