package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ZanzyTHEbar/star-forensics/internal/analysis"
	"github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = stderrors.New("run not found")

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveRun stores a report, its classified events and period rollups in one
// transaction.
func (r *Repository) SaveRun(ctx context.Context, report *analysis.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	configJSON, err := json.Marshal(report.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	insertRun, err := r.db.GetPreparedStatement("insert_run")
	if err != nil {
		return err
	}
	insertEvent, err := r.db.GetPreparedStatement("insert_event")
	if err != nil {
		return err
	}
	insertRollup, err := r.db.GetPreparedStatement("insert_rollup")
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.StmtContext(ctx, insertRun).ExecContext(ctx,
		report.RunID, report.Repository, report.GeneratedAt.UTC(), report.Records, report.Skipped,
		report.Duplicates, report.Real(), report.Fake(), len(report.Clusters), len(report.Spikes),
		len(report.Warnings), string(configJSON), r.db.codec.compress(reportJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	eventStmt := tx.StmtContext(ctx, insertEvent)
	for _, ev := range report.Events {
		_, err := eventStmt.ExecContext(ctx, report.RunID, ev.Seq, ev.AccountID, ev.StarredAt.UTC(),
			string(ev.Label), strings.Join(ev.Reasons.Strings(), ","))
		if err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.Seq, err)
		}
	}

	rollupStmt := tx.StmtContext(ctx, insertRollup)
	for _, b := range report.Periods {
		var avg *float64
		if b.DurationDays > 0 {
			avg = &b.AvgPerDay
		}
		_, err := rollupStmt.ExecContext(ctx, report.RunID, b.Name, b.Start.UTC(), b.End.UTC(),
			b.Total, b.Real, b.Fake, b.FakePct, b.DurationDays, avg)
		if err != nil {
			return fmt.Errorf("failed to insert rollup %q: %w", b.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun loads a stored run with its report.
func (r *Repository) GetRun(ctx context.Context, id string) (*StoredRun, error) {
	stmt, err := r.db.GetPreparedStatement("get_run")
	if err != nil {
		return nil, err
	}

	var run StoredRun
	var report []byte
	err = stmt.QueryRowContext(ctx, id).Scan(
		&run.ID, &run.Repository, &run.GeneratedAt, &run.Records, &run.Skipped, &run.Duplicates,
		&run.Real, &run.Fake, &run.Clusters, &run.Spikes, &run.Warnings, &report,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	if run.Report, err = r.db.codec.decompress(report); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the newest runs first, optionally for one repository.
func (r *Repository) ListRuns(ctx context.Context, repository string, limit int) ([]RunSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT id, repository, generated_at, records, skipped, duplicates,
		real_count, fake_count, clusters, spikes, warnings
		FROM runs`
	args := []any{}
	if repository != "" {
		query += ` WHERE repository = ?`
		args = append(args, repository)
	}
	query += ` ORDER BY generated_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer errors.SafeClose(rows, "runs rows")

	var runs []RunSummary
	for rows.Next() {
		var s RunSummary
		if err := rows.Scan(&s.ID, &s.Repository, &s.GeneratedAt, &s.Records, &s.Skipped, &s.Duplicates,
			&s.Real, &s.Fake, &s.Clusters, &s.Spikes, &s.Warnings); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, s)
	}
	return runs, rows.Err()
}

// GetRollups returns the period table of a run ordered by start.
func (r *Repository) GetRollups(ctx context.Context, runID string) ([]StoredRollup, error) {
	stmt, err := r.db.GetPreparedStatement("get_rollups")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer errors.SafeClose(rows, "rollup rows")

	var out []StoredRollup
	for rows.Next() {
		var b StoredRollup
		var avg sql.NullFloat64
		if err := rows.Scan(&b.Name, &b.Start, &b.End, &b.Total, &b.Real, &b.Fake, &b.FakePct, &b.DurationDays, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		if avg.Valid {
			b.AvgPerDay = &avg.Float64
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetFakeEvents returns the FAKE events of a run in sequence order.
func (r *Repository) GetFakeEvents(ctx context.Context, runID string) ([]StoredEvent, error) {
	stmt, err := r.db.GetPreparedStatement("get_fake_events")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer errors.SafeClose(rows, "event rows")

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var reasons string
		if err := rows.Scan(&ev.Seq, &ev.AccountID, &ev.StarredAt, &ev.Verdict, &reasons); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if reasons != "" {
			ev.Reasons = strings.Split(reasons, ",")
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteRunsBefore removes runs generated before cutoff and returns how many went.
func (r *Repository) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE generated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return res.RowsAffected()
}

// DeleteRepositoryRuns removes every stored run of one repository.
func (r *Repository) DeleteRepositoryRuns(ctx context.Context, repository string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM runs WHERE repository = ?`, repository)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs for %s: %w", repository, err)
	}
	return res.RowsAffected()
}
