package analysis

import (
	"fmt"
	"math"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

// minCorrelationWeeks is the smallest series Pearson is reported for.
const minCorrelationWeeks = 3

// sameDirectionMinChange is the week-over-week change below which a
// non-inverse week is treated as flat rather than moving together.
const sameDirectionMinChange = 5

// CompensatoryWeek is a week where real stars fell below their moving average
// while fake stars rose above theirs.
type CompensatoryWeek struct {
	Week    string  `json:"week"`
	Real    int     `json:"real"`
	RealMA  float64 `json:"real_ma"`
	Fake    int     `json:"fake"`
	FakeMA  float64 `json:"fake_ma"`
	RealDev float64 `json:"real_dev"`
	FakeDev float64 `json:"fake_dev"`
}

// Correlation relates weekly real and fake star counts. Undefined
// coefficients are nil.
type Correlation struct {
	Weeks   int      `json:"weeks"`
	Pearson *float64 `json:"pearson"`

	// Focus is the sub-range the week-over-week and moving-average analysis
	// ran on; the whole series when no range was requested.
	Focus         *DayRange          `json:"focus,omitempty"`
	FocusWeeks    int                `json:"focus_weeks"`
	FocusPearson  *float64           `json:"focus_pearson"`
	Transitions   int                `json:"transitions"`
	InverseWeeks  int                `json:"inverse_weeks"`
	InversePct    float64            `json:"inverse_pct"`
	SameDirection int                `json:"same_direction_weeks"`
	Compensatory  []CompensatoryWeek `json:"compensatory,omitempty"`
}

// Pearson returns the correlation coefficient of xs and ys, or false when it
// is undefined (too few points or zero variance).
func Pearson(xs, ys []float64) (float64, bool) {
	if len(xs) != len(ys) || len(xs) < minCorrelationWeeks {
		return 0, false
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), true
}

// InverseWeeks counts week-over-week transitions where real and fake move in
// opposite directions, and non-inverse transitions where either moves by more
// than sameDirectionMinChange.
func InverseWeeks(weeks []WeekPoint) (inverse, sameDirection int) {
	for i := 1; i < len(weeks); i++ {
		dr := weeks[i].Real - weeks[i-1].Real
		df := weeks[i].Fake - weeks[i-1].Fake
		switch {
		case (dr < 0 && df > 0) || (dr > 0 && df < 0):
			inverse++
		case abs(dr) > sameDirectionMinChange || abs(df) > sameDirectionMinChange:
			sameDirection++
		}
	}
	return inverse, sameDirection
}

// CompensatoryWeeks compares each week with the mean of the window weeks
// before it and reports weeks where real dropped by more than realDrop while
// fake rose by more than fakeRise.
func CompensatoryWeeks(weeks []WeekPoint, window int, realDrop, fakeRise float64) []CompensatoryWeek {
	if window < 1 {
		return nil
	}

	var out []CompensatoryWeek
	for i := window; i < len(weeks); i++ {
		var realSum, fakeSum float64
		for _, w := range weeks[i-window : i] {
			realSum += float64(w.Real)
			fakeSum += float64(w.Fake)
		}
		realMA := realSum / float64(window)
		fakeMA := fakeSum / float64(window)

		realDev := float64(weeks[i].Real) - realMA
		fakeDev := float64(weeks[i].Fake) - fakeMA
		if realDev < -realDrop && fakeDev > fakeRise {
			out = append(out, CompensatoryWeek{
				Week:    weeks[i].Week,
				Real:    weeks[i].Real,
				RealMA:  realMA,
				Fake:    weeks[i].Fake,
				FakeMA:  fakeMA,
				RealDev: realDev,
				FakeDev: fakeDev,
			})
		}
	}
	return out
}

// AnalyzeCorrelation runs the weekly correlation analysis. focus narrows the
// week-over-week and moving-average analysis to weeks starting inside it.
func AnalyzeCorrelation(weeks []WeekPoint, focus *DayRange, cfg Config) (*Correlation, []error) {
	var warnings []error
	c := &Correlation{Weeks: len(weeks), Focus: focus}

	if r, ok := pearsonWeeks(weeks); ok {
		c.Pearson = &r
	} else {
		warnings = append(warnings, apperrors.NewDegenerateStatisticsWarning(
			"weekly correlation", fmt.Sprintf("undefined over %d weeks", len(weeks))))
	}

	focused := weeks
	if focus != nil {
		focused = nil
		for _, w := range weeks {
			if focus.Contains(w.Start) {
				focused = append(focused, w)
			}
		}
		if r, ok := pearsonWeeks(focused); ok {
			c.FocusPearson = &r
		} else {
			warnings = append(warnings, apperrors.NewDegenerateStatisticsWarning(
				"weekly correlation "+focus.String(), fmt.Sprintf("undefined over %d weeks", len(focused))))
		}
	} else {
		c.FocusPearson = c.Pearson
	}

	c.FocusWeeks = len(focused)
	if len(focused) > 1 {
		c.Transitions = len(focused) - 1
	}
	c.InverseWeeks, c.SameDirection = InverseWeeks(focused)
	c.InversePct = percent(c.InverseWeeks, c.Transitions)
	c.Compensatory = CompensatoryWeeks(focused, cfg.MovingAverageWindow,
		cfg.CompensatoryRealDrop, cfg.CompensatoryFakeRise)

	return c, warnings
}

func pearsonWeeks(weeks []WeekPoint) (float64, bool) {
	xs := make([]float64, len(weeks))
	ys := make([]float64, len(weeks))
	for i, w := range weeks {
		xs[i] = float64(w.Real)
		ys[i] = float64(w.Fake)
	}
	return Pearson(xs, ys)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
