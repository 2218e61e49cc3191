package analysis

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

func weekSeries(from string, realCounts, fakeCounts []int) []WeekPoint {
	start := weekStart(date(from))
	out := make([]WeekPoint, len(realCounts))
	for i := range realCounts {
		ws := start.AddDate(0, 0, 7*i)
		year, week := ws.ISOWeek()
		out[i] = WeekPoint{
			Week:  fmt.Sprintf("%d-W%02d", year, week),
			Start: ws,
			Real:  realCounts[i],
			Fake:  fakeCounts[i],
			Total: realCounts[i] + fakeCounts[i],
		}
	}
	return out
}

func TestPearson(t *testing.T) {
	tests := []struct {
		name     string
		xs, ys   []float64
		expected float64
		defined  bool
	}{
		{"perfect negative", []float64{1, 2, 3, 4}, []float64{8, 6, 4, 2}, -1, true},
		{"perfect positive", []float64{1, 2, 3}, []float64{10, 20, 30}, 1, true},
		{"too few points", []float64{1, 2}, []float64{2, 1}, 0, false},
		{"zero variance", []float64{5, 5, 5}, []float64{1, 2, 3}, 0, false},
		{"length mismatch", []float64{1, 2, 3}, []float64{1, 2}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Pearson(tt.xs, tt.ys)
			assert.Equal(t, tt.defined, ok)
			assert.InDelta(t, tt.expected, r, 1e-9)
		})
	}
}

func TestInverseWeeks(t *testing.T) {
	weeks := weekSeries("2024-01-01",
		[]int{10, 5, 8, 8, 20},
		[]int{0, 6, 3, 3, 3},
	)

	inverse, same := InverseWeeks(weeks)
	assert.Equal(t, 2, inverse)
	assert.Equal(t, 1, same)
}

func TestCompensatoryWeeks(t *testing.T) {
	weeks := weekSeries("2024-01-01",
		[]int{20, 20, 20, 20, 10, 22},
		[]int{0, 0, 0, 0, 15, 0},
	)

	out := CompensatoryWeeks(weeks, 4, 5, 10)
	require.Len(t, out, 1)
	assert.Equal(t, "2024-W05", out[0].Week)
	assert.InDelta(t, 20.0, out[0].RealMA, 1e-9)
	assert.InDelta(t, -10.0, out[0].RealDev, 1e-9)
	assert.InDelta(t, 15.0, out[0].FakeDev, 1e-9)

	assert.Nil(t, CompensatoryWeeks(weeks, 0, 5, 10))
}

func TestAnalyzeCorrelation(t *testing.T) {
	cfg := DefaultConfig()
	weeks := weekSeries("2023-11-27",
		[]int{5, 6, 7, 8, 30, 12, 28, 10, 26},
		[]int{1, 1, 2, 2, 3, 25, 4, 22, 5},
	)

	t.Run("whole series", func(t *testing.T) {
		c, warnings := AnalyzeCorrelation(weeks, nil, cfg)
		assert.Empty(t, warnings)
		require.NotNil(t, c.Pearson)
		assert.Equal(t, c.Pearson, c.FocusPearson)
		assert.Equal(t, 9, c.FocusWeeks)
		assert.Equal(t, 8, c.Transitions)
		assert.InDelta(t, 100*float64(c.InverseWeeks)/8, c.InversePct, 1e-9)
	})

	t.Run("focus narrows the analysis", func(t *testing.T) {
		focus, err := ParseDayRange("2024-01-01", "2024-12-31")
		require.NoError(t, err)

		c, _ := AnalyzeCorrelation(weeks, &focus, cfg)
		assert.Equal(t, 9, c.Weeks)
		assert.Equal(t, 4, c.FocusWeeks)
		require.NotNil(t, c.FocusPearson)
		assert.Less(t, *c.FocusPearson, 0.0)
		assert.Equal(t, 3, c.InverseWeeks)
	})

	t.Run("too short for a coefficient", func(t *testing.T) {
		c, warnings := AnalyzeCorrelation(weeks[:2], nil, cfg)
		assert.Nil(t, c.Pearson)
		require.Len(t, warnings, 1)
		assert.True(t, apperrors.IsDegenerate(warnings[0]))
	})
}
