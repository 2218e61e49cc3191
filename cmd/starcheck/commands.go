package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/star-forensics/internal/adapters"
	"github.com/ZanzyTHEbar/star-forensics/internal/analysis"
	"github.com/ZanzyTHEbar/star-forensics/internal/config"
	"github.com/ZanzyTHEbar/star-forensics/internal/database"
	"github.com/ZanzyTHEbar/star-forensics/internal/dataset"
	"github.com/ZanzyTHEbar/star-forensics/internal/encoding"
	"github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/monitoring"
	"github.com/ZanzyTHEbar/star-forensics/internal/privacy"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

// Exit codes: 1 for runtime failures, 2 for bad input or configuration,
// 3 when the records violate data integrity.
const (
	exitFailure   = 1
	exitUsage     = 2
	exitIntegrity = 3
)

func exitCode(err error) int {
	if coder, ok := err.(cli.ExitCoder); ok {
		return coder.ExitCode()
	}
	category, ok := errors.CategoryOf(err)
	if !ok {
		return exitFailure
	}
	switch category {
	case errors.CategoryDataIntegrity:
		return exitIntegrity
	case errors.CategoryValidation, errors.CategoryConfiguration:
		return exitUsage
	default:
		return exitFailure
	}
}

// env is what every command needs: configuration and a logger on stderr.
type env struct {
	conf   *config.Config
	logger *monitoring.Logger
}

func setup(c *cli.Context) (*env, error) {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	level := conf.Logger.Level
	if l := c.String("log-level"); l != "" {
		level = l
	}
	logger := monitoring.NewLogger(monitoring.LoggerOptions{
		Level:  level,
		Format: conf.Logger.Format,
		Output: c.App.ErrWriter,
	})
	return &env{conf: conf, logger: logger}, nil
}

func (e *env) baselines() *analysis.BaselineStore {
	return analysis.NewBaselineStore(filepath.Join(e.conf.Storage.DataDir, "baselines"))
}

// openRepository opens the run database, or returns nil when storage is off.
func (e *env) openRepository() (*database.DB, *database.Repository, error) {
	path := e.conf.Storage.DatabasePath
	switch path {
	case "off":
		return nil, nil, nil
	case "":
		path = filepath.Join(e.conf.Storage.DataDir, database.DefaultFileName)
	}
	db, err := database.NewDB(path)
	if err != nil {
		return nil, nil, err
	}
	return db, database.NewRepository(db), nil
}

func runAnalyze(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	req, err := analyzeRequest(c)
	if err != nil {
		return err
	}
	e.conf.ApplyDefaults(&req)

	batch, err := dataset.ReadFile(c.String("input"))
	if err != nil {
		return err
	}
	req.Records = batch.Records

	areq, err := analysis.NewRequest(req)
	if err != nil {
		return err
	}
	areq.Rejected = batch.Rejected

	cfg, err := e.conf.Analysis()
	if err != nil {
		return errors.NewConfigurationError("invalid analysis settings", err)
	}
	analyzer, err := analysis.NewAnalyzer(cfg,
		analysis.WithLogger(e.logger.With("component", "analyzer").Logger),
		analysis.WithBaselineStore(e.baselines()),
	)
	if err != nil {
		return err
	}

	var repo *database.Repository
	if !c.Bool("no-store") {
		db, r, err := e.openRepository()
		if err != nil {
			e.logger.Warn("Run database unavailable, continuing without it", "error", err)
		} else if db != nil {
			defer errors.SafeClose(db, "database")
			repo = r
		}
	}

	report, err := database.NewRunService(analyzer, repo, e.logger).Analyze(c.Context, areq)
	if err != nil {
		return err
	}

	if err := writeReport(c.String("output"), report, c.Bool("pretty"), c.App.Writer); err != nil {
		return err
	}
	if path := c.String("classified"); path != "" {
		w, closeFn, err := dataset.CreateFile(path)
		if err != nil {
			return err
		}
		if err := dataset.WriteClassified(w, report.Events); err != nil {
			_ = closeFn()
			return err
		}
		if err := closeFn(); err != nil {
			return err
		}
	}

	for _, w := range report.Warnings {
		e.logger.Warn("Analysis warning", "run_id", report.RunID, "warning", w.Error())
	}
	return nil
}

func writeReport(path string, report *analysis.Report, pretty bool, stdout io.Writer) error {
	if path == "" || path == "-" {
		return encoding.WriteJSON(stdout, report, pretty)
	}
	w, closeFn, err := dataset.CreateFile(path)
	if err != nil {
		return err
	}
	if err := encoding.WriteJSON(w, report, pretty); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

// analyzeRequest builds the wire request from the command flags.
func analyzeRequest(c *cli.Context) (types.AnalyzeRequest, error) {
	req := types.AnalyzeRequest{Repository: strings.TrimSpace(c.String("repository"))}

	for _, raw := range c.StringSlice("period") {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return req, errors.NewValidationError("period must be name:start:end", raw)
		}
		req.Periods = append(req.Periods, types.PeriodSpec{Name: parts[0], Start: parts[1], End: parts[2]})
	}

	if raw := c.String("phases"); raw != "" {
		req.Phases = strings.Split(raw, ":")
	}

	var err error
	if req.Baseline, err = rangeFlag(c, "baseline"); err != nil {
		return req, err
	}
	if c.Bool("saved-baseline") {
		if req.Baseline != nil {
			return req, errors.NewValidationError("--baseline and --saved-baseline are mutually exclusive")
		}
		req.Baseline = &types.RangeSpec{Saved: true}
	}
	if req.Target, err = rangeFlag(c, "target"); err != nil {
		return req, err
	}
	if req.Correlate, err = rangeFlag(c, "correlate"); err != nil {
		return req, err
	}
	return req, nil
}

func rangeFlag(c *cli.Context, name string) (*types.RangeSpec, error) {
	raw := c.String(name)
	if raw == "" {
		return nil, nil
	}
	from, to, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, errors.NewValidationError(name+" must be from:to", raw)
	}
	return &types.RangeSpec{From: from, To: to}, nil
}

func runFetch(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("fetch needs exactly one owner/name argument", exitUsage)
	}
	e, err := setup(c)
	if err != nil {
		return err
	}

	gh := e.conf.GitHub
	cfg := adapters.GitHubConfig{
		BaseURL:           gh.BaseURL,
		Token:             gh.Token,
		RequestsPerSecond: gh.RequestsPerSecond,
		Timeout:           gh.Timeout,
		MaxRetries:        gh.MaxRetries,
		PerPage:           gh.PerPage,
		MaxStargazers:     gh.MaxStargazers,
		Concurrency:       gh.Concurrency,
		FetchActivity:     gh.FetchActivity || c.Bool("activity"),
	}
	if c.IsSet("token") {
		cfg.Token = c.String("token")
	}
	if c.IsSet("max-stargazers") {
		cfg.MaxStargazers = c.Int("max-stargazers")
	}
	if c.IsSet("concurrency") {
		cfg.Concurrency = c.Int("concurrency")
	}

	adapter := adapters.NewGitHubAdapter(cfg, nil, e.logger.With("component", "github"))
	records, err := adapter.FetchRepository(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	out := c.String("output")
	if out == "" || out == "-" {
		return dataset.WriteRecords(c.App.Writer, records)
	}
	w, closeFn, err := dataset.CreateFile(out)
	if err != nil {
		return err
	}
	if err := dataset.WriteRecords(w, records); err != nil {
		_ = closeFn()
		return err
	}
	e.logger.Info("Records written", "path", out, "records", len(records))
	return closeFn()
}

// withRepository runs fn against the run database and fails when storage is off.
func withRepository(c *cli.Context, fn func(ctx context.Context, e *env, repo *database.Repository) error) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	db, repo, err := e.openRepository()
	if err != nil {
		return err
	}
	if db == nil {
		return cli.Exit("run storage is disabled (storage.database_path is off)", exitUsage)
	}
	defer errors.SafeClose(db, "database")
	return fn(c.Context, e, repo)
}

func runList(c *cli.Context) error {
	return withRepository(c, func(ctx context.Context, _ *env, repo *database.Repository) error {
		runs, err := repo.ListRuns(ctx, c.String("repository"), c.Int("limit"))
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tREPOSITORY\tGENERATED\tRECORDS\tFAKE\tFAKE%\tSPIKES")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%.1f\t%d\n",
				r.ID, r.Repository, r.GeneratedAt.Format(time.RFC3339), r.Real+r.Fake, r.Fake, r.FakePct(), r.Spikes)
		}
		return tw.Flush()
	})
}

func runShow(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("show needs exactly one run id", exitUsage)
	}
	return withRepository(c, func(ctx context.Context, _ *env, repo *database.Repository) error {
		run, err := repo.GetRun(ctx, c.Args().First())
		if err != nil {
			return err
		}
		rollups, err := repo.GetRollups(ctx, run.ID)
		if err != nil {
			return err
		}
		return encoding.WriteJSON(c.App.Writer, struct {
			database.RunSummary
			FakePct float64                 `json:"fake_pct"`
			Periods []database.StoredRollup `json:"periods"`
		}{run.RunSummary, run.FakePct(), rollups}, true)
	})
}

func runDelete(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("delete needs exactly one owner/name argument", exitUsage)
	}
	repository := strings.TrimSpace(c.Args().First())
	return withRepository(c, func(ctx context.Context, e *env, repo *database.Repository) error {
		svc := privacy.NewService(repo, e.conf.Storage.RetentionDays, e.logger, privacy.WithBaselineStore(e.baselines()))
		deleted, err := svc.DeleteRepositoryData(ctx, repository)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "deleted %d runs and the saved baseline of %s\n", deleted, repository)
		return nil
	})
}

func runPrune(c *cli.Context) error {
	return withRepository(c, func(ctx context.Context, e *env, repo *database.Repository) error {
		days := e.conf.Storage.RetentionDays
		if c.IsSet("days") {
			days = c.Int("days")
		}
		svc := privacy.NewService(repo, days, e.logger, privacy.WithBaselineStore(e.baselines()))
		if !svc.Enabled() {
			return cli.Exit("no retention window configured; pass --days", exitUsage)
		}
		deleted, err := svc.CleanupExpired(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "deleted %d runs older than %d days\n", deleted, days)
		return nil
	})
}
