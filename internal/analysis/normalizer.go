package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

// timestampLayouts are tried in order when parsing upstream timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalizer turns raw upstream records into a deduplicated, sorted Dataset
type Normalizer struct{}

// NewNormalizer creates a new normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize parses every record. Unparsable records are skipped and counted;
// integrity violations abort with a DataIntegrityError.
func (n *Normalizer) Normalize(records []types.RawStarRecord) (*Dataset, error) {
	ds := &Dataset{Events: make([]StarEvent, 0, len(records))}
	accounts := make(map[string]*Account, len(records))
	starredAt := make(map[string]time.Time, len(records))

	for i, rec := range records {
		acc, ts, err := parseRecord(i, rec)
		if err != nil {
			ds.Skipped++
			ds.SkipErrors = append(ds.SkipErrors, err)
			continue
		}

		if prev, ok := accounts[acc.ID]; ok {
			if !prev.sameSnapshot(acc) {
				return nil, apperrors.NewDataIntegrityError(acc.ID, "conflicting metadata snapshots")
			}
			if starredAt[acc.ID].Equal(ts) {
				ds.Duplicates++
				continue
			}
			return nil, apperrors.NewDataIntegrityError(acc.ID,
				fmt.Sprintf("starred more than once (%s and %s)",
					starredAt[acc.ID].Format(time.RFC3339), ts.Format(time.RFC3339)))
		}

		if acc.HasSnapshot() && acc.CreatedAt.After(ts) {
			return nil, apperrors.NewDataIntegrityError(acc.ID,
				fmt.Sprintf("starred at %s before the account was created at %s",
					ts.Format(time.RFC3339), acc.CreatedAt.Format(time.RFC3339)))
		}

		accounts[acc.ID] = acc
		starredAt[acc.ID] = ts
		ds.Events = append(ds.Events, StarEvent{
			Seq:       len(ds.Events),
			Account:   acc,
			StarredAt: ts,
		})
	}

	sort.SliceStable(ds.Events, func(i, j int) bool {
		a, b := ds.Events[i], ds.Events[j]
		if a.StarredAt.Equal(b.StarredAt) {
			return a.Seq < b.Seq
		}
		return a.StarredAt.Before(b.StarredAt)
	})

	return ds, nil
}

func parseRecord(index int, rec types.RawStarRecord) (*Account, time.Time, error) {
	source := rec.Source
	if source == "" {
		source = fmt.Sprintf("#%d", index)
	}

	id := strings.TrimSpace(rec.Username)
	if id == "" {
		return nil, time.Time{}, apperrors.NewMalformedRecordError(source, "username", nil)
	}

	ts, err := parseTimestamp(rec.StarredAt)
	if err != nil {
		return nil, time.Time{}, apperrors.NewMalformedRecordError(source, "starred_at", err)
	}

	deleted := strings.EqualFold(strings.TrimSpace(rec.Status), types.StatusDeleted)

	var created time.Time
	if strings.TrimSpace(rec.AccountCreated) != "" || !deleted {
		created, err = parseTimestamp(rec.AccountCreated)
		if err != nil {
			return nil, time.Time{}, apperrors.NewMalformedRecordError(source, "account_created", err)
		}
	}

	if rec.PublicRepos < 0 || rec.Followers < 0 || rec.Following < 0 {
		return nil, time.Time{}, apperrors.NewMalformedRecordError(source, "counts", fmt.Errorf("negative count"))
	}

	acc := &Account{
		ID:          id,
		CreatedAt:   created,
		PublicRepos: rec.PublicRepos,
		Followers:   rec.Followers,
		Following:   rec.Following,
		HasBio:      strings.TrimSpace(rec.Bio) != "",
		HasCompany:  strings.TrimSpace(rec.Company) != "",
		HasLocation: strings.TrimSpace(rec.Location) != "",
		Deleted:     deleted,
	}

	if rec.Commits != nil || rec.PullRequests != nil || rec.Issues != nil {
		acc.Activity = ActivityCounts{
			Commits:      deref(rec.Commits),
			PullRequests: deref(rec.PullRequests),
			Issues:       deref(rec.Issues),
			Known:        true,
		}
		if acc.Activity.Commits < 0 || acc.Activity.PullRequests < 0 || acc.Activity.Issues < 0 {
			return nil, time.Time{}, apperrors.NewMalformedRecordError(source, "activity", fmt.Errorf("negative count"))
		}
	}

	if rec.RecentEvents != nil {
		if *rec.RecentEvents < 0 {
			return nil, time.Time{}, apperrors.NewMalformedRecordError(source, "recent_events", fmt.Errorf("negative count"))
		}
		acc.Recent = RecentActivity{Events: *rec.RecentEvents, Known: true}
	}

	return acc, ts, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}

	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.Parse(layout, raw)
		if err == nil {
			return ts.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
