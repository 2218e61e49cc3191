package analysis

import (
	"time"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

// PhaseNames label the periods built from request phases.
var PhaseNames = []string{"pre_spike", "spike", "post_spike"}

// PeriodsFromSpecs parses and validates wire-form periods.
func PeriodsFromSpecs(specs []types.PeriodSpec) ([]Period, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	periods := make([]Period, 0, len(specs))
	for _, s := range specs {
		p, err := ParsePeriod(s.Name, s.Start, s.End)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	if err := ValidatePeriods(periods); err != nil {
		return nil, err
	}
	return periods, nil
}

// PeriodsFromPhases parses len(PhaseNames)+1 ascending dates into contiguous
// pre_spike/spike/post_spike periods.
func PeriodsFromPhases(phases []string) ([]Period, error) {
	if len(phases) == 0 {
		return nil, nil
	}
	bounds := make([]time.Time, len(phases))
	for i, raw := range phases {
		t, err := time.Parse(DateLayout, raw)
		if err != nil {
			return nil, apperrors.NewValidationError("invalid phase bound", raw)
		}
		bounds[i] = t
	}
	return PeriodsFromCutovers(PhaseNames, bounds...)
}

// RangeFromSpec parses an optional wire-form day range.
func RangeFromSpec(spec *types.RangeSpec) (*DayRange, error) {
	if spec == nil || (spec.From == "" && spec.To == "") {
		return nil, nil
	}
	r, err := ParseDayRange(spec.From, spec.To)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// NewRequest converts an HTTP or CLI request into a pipeline Request.
// Records are passed through untouched; the normalizer validates them.
func NewRequest(in types.AnalyzeRequest) (Request, error) {
	req := Request{Repository: in.Repository, Records: in.Records}

	if len(in.Periods) > 0 && len(in.Phases) > 0 {
		return Request{}, apperrors.NewValidationError("periods and phases are mutually exclusive")
	}

	var err error
	if req.Periods, err = PeriodsFromSpecs(in.Periods); err != nil {
		return Request{}, err
	}
	if len(in.Phases) > 0 {
		if req.Periods, err = PeriodsFromPhases(in.Phases); err != nil {
			return Request{}, err
		}
	}
	if in.Baseline != nil && in.Baseline.Saved {
		if in.Baseline.From != "" || in.Baseline.To != "" {
			return Request{}, apperrors.NewValidationError("baseline takes either a range or saved, not both")
		}
		if in.Repository == "" {
			return Request{}, apperrors.NewValidationError("a saved baseline needs a repository")
		}
		req.SavedBaseline = true
	} else if req.Baseline, err = RangeFromSpec(in.Baseline); err != nil {
		return Request{}, err
	}
	if req.Target, err = RangeFromSpec(in.Target); err != nil {
		return Request{}, err
	}
	if req.Focus, err = RangeFromSpec(in.Correlate); err != nil {
		return Request{}, err
	}
	return req, nil
}
