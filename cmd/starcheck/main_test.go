package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/star-forensics/internal/database"
	"github.com/ZanzyTHEbar/star-forensics/internal/dataset"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// writeSample writes 4 organic stars followed by a 12-account burst of fresh accounts.
func writeSample(t *testing.T, dir string) string {
	t.Helper()

	var records []types.RawStarRecord
	for i := 0; i < 4; i++ {
		ts := epoch.AddDate(0, 0, i)
		records = append(records, types.RawStarRecord{
			Username:       fmt.Sprintf("organic-%d", i),
			StarredAt:      ts.Format(time.RFC3339),
			AccountCreated: ts.AddDate(-4, 0, 0).Format(time.RFC3339),
			PublicRepos:    30, Followers: 50, Following: 20,
			Bio: "gopher", Company: "acme", Location: "Berlin",
			Commits: types.IntPtr(500), PullRequests: types.IntPtr(20), Issues: types.IntPtr(4),
		})
	}
	for i := 0; i < 12; i++ {
		ts := epoch.AddDate(0, 0, 5).Add(time.Duration(i) * time.Minute)
		records = append(records, types.RawStarRecord{
			Username:       fmt.Sprintf("burst-%d", i),
			StarredAt:      ts.Format(time.RFC3339),
			AccountCreated: ts.Add(-24 * time.Hour).Format(time.RFC3339),
		})
	}

	path := filepath.Join(dir, "stars.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, dataset.WriteRecords(f, records))
	return path
}

// run executes the CLI and returns what it wrote to stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"starcheck", "--log-level", "error"}, args...))
	return out.String(), err
}

func useDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STARCHECK_STORAGE_DATA_DIR", dir)
	return dir
}

type reportSummary struct {
	RunID     string `json:"run_id"`
	Records   int    `json:"records"`
	Breakdown struct {
		Total int `json:"total"`
		Fake  int `json:"fake"`
		Real  int `json:"real"`
	} `json:"breakdown"`
	Periods []struct {
		Name  string `json:"name"`
		Total int    `json:"total"`
		Fake  int    `json:"fake"`
	} `json:"periods"`
}

func TestAnalyze_WritesReportToStdout(t *testing.T) {
	dir := useDataDir(t)
	input := writeSample(t, dir)

	out, err := run(t, "analyze", "--input", input, "--repository", "acme/widget")
	require.NoError(t, err)

	var report reportSummary
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 16, report.Records)
	assert.Equal(t, 16, report.Breakdown.Total)
	assert.Equal(t, 12, report.Breakdown.Fake)
	assert.Equal(t, 4, report.Breakdown.Real)
}

func TestAnalyze_FilesAndPeriods(t *testing.T) {
	dir := useDataDir(t)
	input := writeSample(t, dir)
	reportPath := filepath.Join(dir, "out", "report.json")
	classifiedPath := filepath.Join(dir, "out", "classified.jsonl")

	out, err := run(t, "analyze",
		"--input", input,
		"--output", reportPath,
		"--classified", classifiedPath,
		"--pretty",
		"--period", "organic:2024-03-01:2024-03-05",
		"--period", "launch:2024-03-06:2024-03-07",
		"--no-store",
	)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"run_id\"")

	var report reportSummary
	require.NoError(t, json.Unmarshal(data, &report))
	require.Len(t, report.Periods, 2)
	assert.Equal(t, "organic", report.Periods[0].Name)
	assert.Equal(t, 4, report.Periods[0].Total)
	assert.Equal(t, 0, report.Periods[0].Fake)
	assert.Equal(t, "launch", report.Periods[1].Name)
	assert.Equal(t, 12, report.Periods[1].Fake)

	f, err := os.Open(classifiedPath)
	require.NoError(t, err)
	defer f.Close()

	verdicts := map[string]int{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev struct {
			AccountID string `json:"account_id"`
			Verdict   string `json:"verdict"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		verdicts[ev.Verdict]++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, map[string]int{"FAKE": 12, "REAL": 4}, verdicts)

	_, err = os.Stat(filepath.Join(dir, database.DefaultFileName))
	assert.True(t, os.IsNotExist(err), "--no-store must not create the run database")
}

func TestAnalyze_Phases(t *testing.T) {
	dir := useDataDir(t)
	input := writeSample(t, dir)

	out, err := run(t, "analyze", "--input", input, "--no-store",
		"--phases", "2024-03-01:2024-03-06:2024-03-07:2024-03-10")
	require.NoError(t, err)

	var report reportSummary
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Periods, 3)
	assert.Equal(t, "pre_spike", report.Periods[0].Name)
	assert.Equal(t, 4, report.Periods[0].Total)
	assert.Equal(t, "spike", report.Periods[1].Name)
	assert.Equal(t, 12, report.Periods[1].Fake)
	assert.Equal(t, "post_spike", report.Periods[2].Name)
	assert.Equal(t, 0, report.Periods[2].Total)
}

func TestAnalyze_Errors(t *testing.T) {
	dir := useDataDir(t)
	input := writeSample(t, dir)

	future := filepath.Join(dir, "future.jsonl")
	require.NoError(t, os.WriteFile(future, []byte(
		`{"username":"timetraveler","starred_at":"2024-03-01T12:00:00Z","account_created":"2024-06-01T00:00:00Z"}`+"\n"), 0o644))

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"malformed period flag", []string{"analyze", "--input", input, "--period", "launch"}, exitUsage},
		{"malformed range flag", []string{"analyze", "--input", input, "--baseline", "2024-03-01"}, exitUsage},
		{"overlapping periods", []string{"analyze", "--input", input,
			"--period", "a:2024-03-01:2024-03-05", "--period", "b:2024-03-04:2024-03-08"}, exitUsage},
		{"periods with phases", []string{"analyze", "--input", input,
			"--period", "a:2024-03-01:2024-03-05", "--phases", "2024-03-01:2024-03-06:2024-03-07:2024-03-10"}, exitUsage},
		{"baseline with saved baseline", []string{"analyze", "--input", input, "--repository", "acme/widget",
			"--baseline", "2024-03-01:2024-03-04", "--saved-baseline"}, exitUsage},
		{"saved baseline never saved", []string{"analyze", "--input", input, "--repository", "acme/widget",
			"--saved-baseline", "--no-store"}, exitUsage},
		{"missing input file", []string{"analyze", "--input", filepath.Join(dir, "nope.jsonl")}, exitUsage},
		{"account created after star", []string{"analyze", "--input", future, "--no-store"}, exitIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.code, exitCode(err))
		})
	}
}

func TestAnalyze_SavedBaseline(t *testing.T) {
	dir := useDataDir(t)
	input := writeSample(t, dir)

	type scored struct {
		Baseline       *struct{ Mean float64 } `json:"baseline"`
		BaselineSource string                  `json:"baseline_source"`
	}

	out, err := run(t, "analyze", "--input", input, "--repository", "acme/widget", "--no-store",
		"--baseline", "2024-03-01:2024-03-04")
	require.NoError(t, err)
	var first scored
	require.NoError(t, json.Unmarshal([]byte(out), &first))
	assert.Equal(t, "request", first.BaselineSource)

	out, err = run(t, "analyze", "--input", input, "--repository", "acme/widget", "--no-store")
	require.NoError(t, err)
	var plain scored
	require.NoError(t, json.Unmarshal([]byte(out), &plain))
	assert.Nil(t, plain.Baseline)

	out, err = run(t, "analyze", "--input", input, "--repository", "acme/widget", "--no-store", "--saved-baseline")
	require.NoError(t, err)
	var reused scored
	require.NoError(t, json.Unmarshal([]byte(out), &reused))
	require.NotNil(t, reused.Baseline)
	assert.Equal(t, "saved", reused.BaselineSource)
	assert.InDelta(t, 1.0, reused.Baseline.Mean, 1e-9)

	out, err = run(t, "runs", "delete", "acme/widget")
	require.NoError(t, err)
	assert.Equal(t, "deleted 0 runs and the saved baseline of acme/widget\n", out)
	assert.NoFileExists(t, filepath.Join(dir, "baselines", "acme__widget.json"))

	_, err = run(t, "analyze", "--input", input, "--repository", "acme/widget", "--no-store", "--saved-baseline")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestRuns_ListShowPrune(t *testing.T) {
	dir := useDataDir(t)
	input := writeSample(t, dir)

	out, err := run(t, "analyze", "--input", input, "--repository", "acme/widget",
		"--period", "all:2024-03-01:2024-03-10")
	require.NoError(t, err)
	var report reportSummary
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	out, err = run(t, "runs", "list", "--repository", "acme/widget")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], report.RunID)
	assert.Contains(t, lines[1], "75.0")

	out, err = run(t, "runs", "show", report.RunID)
	require.NoError(t, err)
	var shown struct {
		ID      string  `json:"id"`
		FakePct float64 `json:"fake_pct"`
		Periods []struct {
			Name  string `json:"name"`
			Total int    `json:"total"`
		} `json:"periods"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, report.RunID, shown.ID)
	assert.InDelta(t, 75.0, shown.FakePct, 1e-9)
	require.Len(t, shown.Periods, 1)
	assert.Equal(t, 16, shown.Periods[0].Total)

	// the run was generated just now, so a one-day window keeps it
	out, err = run(t, "runs", "prune", "--days", "1")
	require.NoError(t, err)
	assert.Equal(t, "deleted 0 runs older than 1 days\n", out)
}

func TestRuns_StorageDisabled(t *testing.T) {
	useDataDir(t)
	t.Setenv("STARCHECK_STORAGE_DATABASE_PATH", "off")

	_, err := run(t, "runs", "list")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}

func TestFetch_RequiresRepository(t *testing.T) {
	useDataDir(t)

	_, err := run(t, "fetch")
	require.Error(t, err)
	assert.Equal(t, exitUsage, exitCode(err))
}
