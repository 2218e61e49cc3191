package database

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/star-forensics/internal/analysis"
	"github.com/ZanzyTHEbar/star-forensics/internal/monitoring"
)

// RunService runs analyses and records each report in the run sink.
type RunService struct {
	analyzer *analysis.Analyzer
	repo     *Repository
	logger   *monitoring.Logger
}

// NewRunService creates a run service. repo may be nil to skip persistence.
func NewRunService(analyzer *analysis.Analyzer, repo *Repository, logger *monitoring.Logger) *RunService {
	if logger == nil {
		logger = monitoring.NewNopLogger()
	}
	return &RunService{analyzer: analyzer, repo: repo, logger: logger}
}

// Analyze runs the pipeline and stores the report. A storage failure is logged
// and does not fail the run.
func (s *RunService) Analyze(ctx context.Context, req analysis.Request) (*analysis.Report, error) {
	started := time.Now()
	report, err := s.analyzer.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	s.logger.PipelineLogger(report.RunID, report.Repository, report.Records, report.Skipped,
		report.Fake(), report.Real(), time.Since(started))
	for _, row := range report.Breakdown.Rows {
		s.logger.LayerLogger(string(row.Layer), row.Standalone, row.Marginal)
	}

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, report); err != nil {
			s.logger.Error("Failed to store run", "run_id", report.RunID, "error", err)
		}
	}
	return report, nil
}

// Repository returns the run repository, or nil when persistence is off.
func (s *RunService) Repository() *Repository { return s.repo }
