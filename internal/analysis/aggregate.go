package analysis

import (
	"fmt"
	"sort"
	"time"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

const day = 24 * time.Hour

// DateLayout is the wire format of period and range bounds.
const DateLayout = "2006-01-02"

// Period is a named half-open range [Start, End).
type Period struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DurationDays returns the period length in days.
func (p Period) DurationDays() float64 {
	return p.End.Sub(p.Start).Hours() / 24
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// ParsePeriod builds a Period from "2006-01-02" bounds.
func ParsePeriod(name, start, end string) (Period, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return Period{}, apperrors.NewValidationError(fmt.Sprintf("period %q: invalid start %q", name, start))
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return Period{}, apperrors.NewValidationError(fmt.Sprintf("period %q: invalid end %q", name, end))
	}
	return Period{Name: name, Start: s, End: e}, nil
}

// PeriodsFromCutovers builds contiguous periods from len(names)+1 ascending
// bounds, e.g. pre-spike/spike/post-spike from four dates.
func PeriodsFromCutovers(names []string, bounds ...time.Time) ([]Period, error) {
	if len(bounds) != len(names)+1 {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("need %d bounds for %d periods, got %d", len(names)+1, len(names), len(bounds)))
	}

	periods := make([]Period, len(names))
	for i, name := range names {
		periods[i] = Period{Name: name, Start: bounds[i], End: bounds[i+1]}
	}
	if err := ValidatePeriods(periods); err != nil {
		return nil, err
	}
	return periods, nil
}

// ValidatePeriods checks names, bound order and that no two periods overlap.
func ValidatePeriods(periods []Period) error {
	sorted := append([]Period(nil), periods...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	for i, p := range sorted {
		if p.Name == "" {
			return apperrors.NewValidationError("period name is required")
		}
		if p.End.Before(p.Start) {
			return apperrors.NewValidationError(fmt.Sprintf("period %q ends before it starts", p.Name))
		}
		if i > 0 && p.Start.Before(sorted[i-1].End) {
			return apperrors.NewValidationError(
				fmt.Sprintf("periods %q and %q overlap", sorted[i-1].Name, p.Name))
		}
	}
	return nil
}

// PeriodBucket is one row of the period rollup table.
type PeriodBucket struct {
	Name         string    `json:"name"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	DurationDays float64   `json:"duration_days"`
	Total        int       `json:"total"`
	Real         int       `json:"real"`
	Fake         int       `json:"fake"`
	FakePct      float64   `json:"fake_pct"`
	AvgPerDay    float64   `json:"avg_per_day"`
}

// RollupPeriods sums verdicts per period. A zero-length period reports
// AvgPerDay 0 and a DegenerateStatisticsWarning.
func RollupPeriods(events []Classified, periods []Period) ([]PeriodBucket, []error, error) {
	if err := ValidatePeriods(periods); err != nil {
		return nil, nil, err
	}

	var warnings []error
	buckets := make([]PeriodBucket, len(periods))
	for i, p := range periods {
		b := PeriodBucket{Name: p.Name, Start: p.Start, End: p.End, DurationDays: p.DurationDays()}
		for _, ev := range events {
			if !p.Contains(ev.StarredAt) {
				continue
			}
			b.Total++
			if ev.IsFake() {
				b.Fake++
			} else {
				b.Real++
			}
		}

		b.FakePct = percent(b.Fake, b.Total)
		if b.DurationDays > 0 {
			b.AvgPerDay = float64(b.Total) / b.DurationDays
		} else {
			warnings = append(warnings, apperrors.NewDegenerateStatisticsWarning(
				"period "+p.Name, "zero duration, average per day reported as 0"))
		}
		buckets[i] = b
	}

	return buckets, warnings, nil
}

// DailyPoint is one calendar day (UTC) of the verdict time series.
type DailyPoint struct {
	Date           time.Time `json:"date"`
	Real           int       `json:"real"`
	Fake           int       `json:"fake"`
	Total          int       `json:"total"`
	CumulativeReal int       `json:"cumulative_real"`
	CumulativeFake int       `json:"cumulative_fake"`
}

// DailySeries returns one point per UTC day from the first to the last event,
// zero-filled for quiet days.
func DailySeries(events []Classified) []DailyPoint {
	if len(events) == 0 {
		return nil
	}

	first, last := events[0].StarredAt, events[0].StarredAt
	for _, ev := range events[1:] {
		if ev.StarredAt.Before(first) {
			first = ev.StarredAt
		}
		if ev.StarredAt.After(last) {
			last = ev.StarredAt
		}
	}

	start := truncateDay(first)
	n := int(truncateDay(last).Sub(start)/day) + 1
	points := make([]DailyPoint, n)
	for i := range points {
		points[i].Date = start.Add(time.Duration(i) * day)
	}

	for _, ev := range events {
		p := &points[int(truncateDay(ev.StarredAt).Sub(start)/day)]
		p.Total++
		if ev.IsFake() {
			p.Fake++
		} else {
			p.Real++
		}
	}

	realSum, fakeSum := 0, 0
	for i := range points {
		realSum += points[i].Real
		fakeSum += points[i].Fake
		points[i].CumulativeReal = realSum
		points[i].CumulativeFake = fakeSum
	}

	return points
}

// WeekPoint is one ISO week of the verdict time series.
type WeekPoint struct {
	Week  string    `json:"week"`
	Start time.Time `json:"start"`
	Real  int       `json:"real"`
	Fake  int       `json:"fake"`
	Total int       `json:"total"`
}

// WeeklySeries folds a daily series into zero-filled ISO weeks.
func WeeklySeries(daily []DailyPoint) []WeekPoint {
	if len(daily) == 0 {
		return nil
	}

	start := weekStart(daily[0].Date)
	n := int(weekStart(daily[len(daily)-1].Date).Sub(start)/(7*day)) + 1
	weeks := make([]WeekPoint, n)
	for i := range weeks {
		ws := start.Add(time.Duration(i) * 7 * day)
		year, week := ws.ISOWeek()
		weeks[i] = WeekPoint{Week: fmt.Sprintf("%d-W%02d", year, week), Start: ws}
	}

	for _, d := range daily {
		w := &weeks[int(weekStart(d.Date).Sub(start)/(7*day))]
		w.Real += d.Real
		w.Fake += d.Fake
		w.Total += d.Total
	}

	return weeks
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// weekStart returns the Monday of t's ISO week.
func weekStart(t time.Time) time.Time {
	d := truncateDay(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.Add(-time.Duration(offset) * day)
}
