package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

// DayRange is an inclusive range of UTC calendar days.
type DayRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// ParseDayRange builds a DayRange from "2006-01-02" bounds.
func ParseDayRange(from, to string) (DayRange, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return DayRange{}, apperrors.NewValidationError(fmt.Sprintf("invalid range start %q", from))
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return DayRange{}, apperrors.NewValidationError(fmt.Sprintf("invalid range end %q", to))
	}
	r := DayRange{From: f, To: t}
	if r.To.Before(r.From) {
		return DayRange{}, apperrors.NewValidationError(fmt.Sprintf("range %s..%s ends before it starts", from, to))
	}
	return r, nil
}

// Contains reports whether the day of t lies in the range.
func (r DayRange) Contains(t time.Time) bool {
	d := truncateDay(t)
	return !d.Before(truncateDay(r.From)) && !d.After(truncateDay(r.To))
}

func (r DayRange) String() string {
	return r.From.Format(DateLayout) + ".." + r.To.Format(DateLayout)
}

// Baseline summarizes the daily totals of a reference range.
type Baseline struct {
	Range  DayRange  `json:"range"`
	Days   int       `json:"days"`
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"stddev"`
	Sample []float64 `json:"sample,omitempty"`
}

// ComputeBaseline takes the mean and population standard deviation of the
// daily totals over every day of r. Days without events count as zero, including
// quiet days before the first star or after the last. A range that does not
// overlap the series at all is rejected.
func ComputeBaseline(daily []DailyPoint, r DayRange) (*Baseline, error) {
	totals := make(map[time.Time]int, len(daily))
	overlaps := false
	for _, p := range daily {
		if r.Contains(p.Date) {
			totals[truncateDay(p.Date)] = p.Total
			overlaps = true
		}
	}
	if !overlaps {
		return nil, apperrors.NewValidationError(fmt.Sprintf("baseline range %s holds no days of data", r))
	}

	var sample []float64
	for d := truncateDay(r.From); !d.After(truncateDay(r.To)); d = d.Add(day) {
		sample = append(sample, float64(totals[d]))
	}

	return &Baseline{
		Range:  r,
		Days:   len(sample),
		Mean:   mean(sample),
		StdDev: stddev(sample),
		Sample: sample,
	}, nil
}

// ZScore standardizes total against the baseline. A zero standard deviation
// yields ±Inf (0 when total equals the mean) with degenerate set.
func ZScore(total, mean, sd float64) (z float64, degenerate bool) {
	if sd == 0 {
		switch {
		case total > mean:
			return math.Inf(1), true
		case total < mean:
			return math.Inf(-1), true
		default:
			return 0, true
		}
	}
	return (total - mean) / sd, false
}

// DayScore is the z-score of one day in the target range.
type DayScore struct {
	Date       time.Time `json:"date"`
	Real       int       `json:"real"`
	Fake       int       `json:"fake"`
	Total      int       `json:"total"`
	Z          float64   `json:"z"`
	RobustZ    float64   `json:"robust_z"`
	Anomalous  bool      `json:"anomalous"`
	Degenerate bool      `json:"degenerate,omitempty"`
}

// MarshalJSON writes non-finite scores as null.
func (s DayScore) MarshalJSON() ([]byte, error) {
	type alias DayScore
	return json.Marshal(struct {
		alias
		Z *float64 `json:"z"`
	}{alias: alias(s), Z: finite(s.Z)})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// ScoreDays scores every day of target against the baseline. Days whose |z|
// exceeds threshold are anomalous. A flat baseline produces one
// DegenerateStatisticsWarning for the whole range.
func ScoreDays(daily []DailyPoint, b *Baseline, target DayRange, threshold float64) ([]DayScore, []error) {
	var (
		scores   []DayScore
		warnings []error
	)

	for _, p := range daily {
		if !target.Contains(p.Date) {
			continue
		}
		z, degenerate := ZScore(float64(p.Total), b.Mean, b.StdDev)
		scores = append(scores, DayScore{
			Date:       p.Date,
			Real:       p.Real,
			Fake:       p.Fake,
			Total:      p.Total,
			Z:          z,
			RobustZ:    RobustZ(float64(p.Total), b.Sample),
			Anomalous:  math.Abs(z) > threshold,
			Degenerate: degenerate,
		})
	}

	if b.StdDev == 0 {
		warnings = append(warnings, apperrors.NewDegenerateStatisticsWarning(
			"baseline "+b.Range.String(), "standard deviation is zero, z-scores are infinite sentinels"))
	}
	return scores, warnings
}

// Spike is a run of consecutive anomalous days.
type Spike struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  int       `json:"days"`
	Total int       `json:"total"`
	Fake  int       `json:"fake"`
	PeakZ float64   `json:"peak_z"`
	Peak  time.Time `json:"peak"`
}

// MarshalJSON writes a non-finite peak as null.
func (s Spike) MarshalJSON() ([]byte, error) {
	type alias Spike
	return json.Marshal(struct {
		alias
		PeakZ *float64 `json:"peak_z"`
	}{alias: alias(s), PeakZ: finite(s.PeakZ)})
}

// SpikeRanges groups consecutive days anomalous above the baseline into spike
// boundaries. Anomalous dips are not spikes. Scores must be in date order, as
// ScoreDays returns them.
func SpikeRanges(scores []DayScore) []Spike {
	var spikes []Spike
	var cur *Spike

	for _, s := range scores {
		if !s.Anomalous || s.Z < 0 {
			cur = nil
			continue
		}
		if cur != nil && s.Date.Sub(cur.End) == day {
			cur.End = s.Date
			cur.Days++
			cur.Total += s.Total
			cur.Fake += s.Fake
			if s.Z > cur.PeakZ {
				cur.PeakZ, cur.Peak = s.Z, s.Date
			}
			continue
		}
		spikes = append(spikes, Spike{
			Start: s.Date, End: s.Date, Days: 1,
			Total: s.Total, Fake: s.Fake,
			PeakZ: s.Z, Peak: s.Date,
		})
		cur = &spikes[len(spikes)-1]
	}

	return spikes
}
