package analysis

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

// Report.BaselineSource values.
const (
	BaselineFromRequest = "request"
	BaselineFromStore   = "saved"
)

// Metrics receives pipeline counters. monitoring.PipelineMetrics satisfies it.
type Metrics interface {
	RecordRecords(total, skipped int)
	RecordVerdicts(realCount, fakeCount int)
	RecordLayerFlags(layer string, flagged int)
	ObservePipeline(duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordRecords(int, int)        {}
func (noopMetrics) RecordVerdicts(int, int)       {}
func (noopMetrics) RecordLayerFlags(string, int)  {}
func (noopMetrics) ObservePipeline(time.Duration) {}

// Request describes one analysis run.
type Request struct {
	Repository string
	Records    []types.RawStarRecord
	// Rejected holds records the loader could not even decode; they count as skipped.
	Rejected []error
	Periods  []Period
	Baseline *DayRange
	// SavedBaseline scores against the repository's saved baseline. Exclusive with Baseline.
	SavedBaseline bool
	Target        *DayRange
	Focus         *DayRange
}

// Warnings are non-fatal findings, encoded as their messages.
type Warnings []error

func (w Warnings) MarshalJSON() ([]byte, error) {
	msgs := make([]string, len(w))
	for i, err := range w {
		msgs[i] = err.Error()
	}
	return json.Marshal(msgs)
}

// Report is the full output of one run.
type Report struct {
	RunID       string    `json:"run_id"`
	Repository  string    `json:"repository,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Config      Config    `json:"config"`

	Records    int      `json:"records"`
	Skipped    int      `json:"skipped"`
	Duplicates int      `json:"duplicates"`
	Warnings   Warnings `json:"warnings"`

	Events    []Classified   `json:"events"`
	Clusters  []Cluster      `json:"clusters"`
	Periods   []PeriodBucket `json:"periods,omitempty"`
	Daily     []DailyPoint   `json:"daily"`
	Weekly    []WeekPoint    `json:"weekly"`
	Breakdown Breakdown      `json:"breakdown"`
	Baseline  *Baseline      `json:"baseline,omitempty"`
	// BaselineSource is "request" or "saved" when a baseline was used.
	BaselineSource string       `json:"baseline_source,omitempty"`
	Scores         []DayScore   `json:"scores,omitempty"`
	Spikes         []Spike      `json:"spikes,omitempty"`
	Correlation    *Correlation `json:"correlation,omitempty"`
}

// Fake returns the number of events classified FAKE.
func (r *Report) Fake() int { return r.Breakdown.Fake }

// Real returns the number of events classified REAL.
func (r *Report) Real() int { return r.Breakdown.Real }

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger; the default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithBaselineStore enables loading and saving per-repository baselines.
func WithBaselineStore(s *BaselineStore) Option {
	return func(a *Analyzer) { a.baselines = s }
}

// Analyzer orchestrates the full analysis pipeline
type Analyzer struct {
	cfg        Config
	normalizer *Normalizer
	baselines  *BaselineStore
	logger     *slog.Logger
	metrics    Metrics
}

// NewAnalyzer creates an analyzer with a validated configuration.
func NewAnalyzer(cfg Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Analyzer{
		cfg:        cfg,
		normalizer: NewNormalizer(),
		logger:     slog.New(slog.DiscardHandler),
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Config returns the analyzer's configuration.
func (a *Analyzer) Config() Config { return a.cfg }

// Run normalizes, classifies and aggregates one batch of records. A
// DataIntegrityError aborts the run; malformed records and degenerate
// statistics only show up as counts and warnings.
func (a *Analyzer) Run(ctx context.Context, req Request) (*Report, error) {
	started := time.Now()
	log := a.logger.With("repository", req.Repository)

	ds, err := a.normalizer.Normalize(req.Records)
	if err != nil {
		log.Error("Normalization failed", "error", err)
		return nil, err
	}

	report := &Report{
		RunID:       uuid.NewString(),
		Repository:  req.Repository,
		GeneratedAt: started.UTC(),
		Config:      a.cfg,
		Records:     len(req.Records) + len(req.Rejected),
		Skipped:     ds.Skipped + len(req.Rejected),
		Duplicates:  ds.Duplicates,
	}
	for _, skipErr := range append(append([]error(nil), req.Rejected...), ds.SkipErrors...) {
		log.Debug("Record skipped", "error", skipErr)
	}
	a.metrics.RecordRecords(report.Records, report.Skipped)

	results, err := RunLayers(ctx, ds, a.cfg)
	if err != nil {
		return nil, err
	}
	verdicts := Combine(ds.Len(), results)
	report.Events = Classify(ds, verdicts)
	report.Breakdown = LayerBreakdown(ds.Len(), results)
	for _, r := range results {
		a.metrics.RecordLayerFlags(string(r.Layer), r.Flagged())
		log.Debug("Layer evaluated", "layer", r.Layer, "flagged", r.Flagged())
	}
	a.metrics.RecordVerdicts(report.Breakdown.Real, report.Breakdown.Fake)

	if a.cfg.layerEnabled(LayerClustering) {
		report.Clusters = DetectClusters(ds.Events, a.cfg.ClusterWindow, a.cfg.ClusterMinAccounts, a.cfg.ClusterMode)
	}

	if err := a.aggregate(report, req); err != nil {
		return nil, err
	}

	for _, w := range report.Warnings {
		log.Warn("Degenerate statistics", "warning", w.Error())
	}

	elapsed := time.Since(started)
	a.metrics.ObservePipeline(elapsed)
	log.Info("Analysis completed",
		"run_id", report.RunID,
		"records", report.Records,
		"events", len(report.Events),
		"skipped", report.Skipped,
		"fake", report.Fake(),
		"real", report.Real(),
		"clusters", len(report.Clusters),
		"duration_ms", elapsed.Milliseconds(),
	)

	return report, nil
}

func (a *Analyzer) aggregate(report *Report, req Request) error {
	if len(req.Periods) > 0 {
		buckets, warnings, err := RollupPeriods(report.Events, req.Periods)
		if err != nil {
			return err
		}
		report.Periods = buckets
		report.Warnings = append(report.Warnings, warnings...)
	}

	report.Daily = DailySeries(report.Events)
	report.Weekly = WeeklySeries(report.Daily)
	if len(report.Daily) == 0 {
		return nil
	}

	baseline, source, err := a.resolveBaseline(report, req)
	if err != nil {
		return err
	}
	if baseline != nil {
		target := DayRange{From: report.Daily[0].Date, To: report.Daily[len(report.Daily)-1].Date}
		if req.Target != nil {
			target = *req.Target
		}
		scores, warnings := ScoreDays(report.Daily, baseline, target, a.cfg.ZScoreThreshold)
		report.Baseline = baseline
		report.BaselineSource = source
		report.Scores = scores
		report.Spikes = SpikeRanges(scores)
		report.Warnings = append(report.Warnings, warnings...)
	}

	corr, warnings := AnalyzeCorrelation(report.Weekly, req.Focus, a.cfg)
	report.Correlation = corr
	report.Warnings = append(report.Warnings, warnings...)
	return nil
}

// resolveBaseline computes the requested baseline and saves it, or loads the
// repository's saved one when the request asks for it. A request naming no
// baseline gets none, so its report depends only on its own inputs.
func (a *Analyzer) resolveBaseline(report *Report, req Request) (*Baseline, string, error) {
	repo := strings.TrimSpace(req.Repository)

	switch {
	case req.Baseline != nil:
		b, err := ComputeBaseline(report.Daily, *req.Baseline)
		if err != nil {
			return nil, "", err
		}
		if a.baselines != nil && repo != "" {
			if err := a.baselines.Save(repo, b); err != nil {
				a.logger.Warn("Failed to save baseline", "repository", repo, "error", err)
			}
		}
		return b, BaselineFromRequest, nil

	case req.SavedBaseline:
		if a.baselines == nil {
			return nil, "", apperrors.NewConfigurationError("saved baselines are not available", nil)
		}
		b, err := a.baselines.Load(repo)
		if err != nil {
			return nil, "", apperrors.NewInternalError("failed to load saved baseline", err)
		}
		if b == nil {
			return nil, "", apperrors.NewValidationError("no saved baseline for repository", repo)
		}
		return b, BaselineFromStore, nil
	}
	return nil, "", nil
}
