package privacy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ZanzyTHEbar/star-forensics/internal/monitoring"
)

// RunStore is the part of the run sink the privacy service needs.
type RunStore interface {
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteRepositoryRuns(ctx context.Context, repository string) (int64, error)
}

// BaselineStore is the part of the saved-baseline store the privacy service needs.
type BaselineStore interface {
	Delete(repository string) (bool, error)
	List() ([]string, error)
}

// Option configures a PrivacyService.
type Option func(*PrivacyService)

// WithBaselineStore makes repository deletion also remove the saved baseline.
func WithBaselineStore(store BaselineStore) Option {
	return func(ps *PrivacyService) { ps.baselines = store }
}

// PrivacyService enforces retention of stored runs. Runs hold account logins,
// so they are not kept longer than the configured retention.
type PrivacyService struct {
	store         RunStore
	baselines     BaselineStore
	retentionDays int
	logger        *monitoring.Logger
	now           func() time.Time
}

// NewService creates a new privacy service. retentionDays <= 0 keeps runs forever.
func NewService(store RunStore, retentionDays int, logger *monitoring.Logger, opts ...Option) *PrivacyService {
	if logger == nil {
		logger = monitoring.NewNopLogger()
	}
	ps := &PrivacyService{
		store:         store,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(ps)
	}
	return ps
}

// AnonymizeData returns a stable hash of an identifier for logging.
func AnonymizeData(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Enabled reports whether a retention window is set.
func (ps *PrivacyService) Enabled() bool {
	return ps.store != nil && ps.retentionDays > 0
}

// DeleteRepositoryData removes every stored run of one repository and its
// saved baseline. It returns the number of runs deleted.
func (ps *PrivacyService) DeleteRepositoryData(ctx context.Context, repository string) (int64, error) {
	deleted, err := ps.store.DeleteRepositoryRuns(ctx, repository)
	if err != nil {
		return 0, err
	}

	baselineDeleted := false
	if ps.baselines != nil {
		if baselineDeleted, err = ps.baselines.Delete(repository); err != nil {
			return deleted, err
		}
	}

	ps.logger.Info("Repository data deleted",
		"repository_hash", AnonymizeData(repository)[:8]+"...",
		"runs_deleted", deleted,
		"baseline_deleted", baselineDeleted,
	)
	return deleted, nil
}

// CleanupExpired deletes runs older than the retention window.
func (ps *PrivacyService) CleanupExpired(ctx context.Context) (int64, error) {
	if !ps.Enabled() {
		return 0, nil
	}

	cutoff := ps.now().AddDate(0, 0, -ps.retentionDays)
	deleted, err := ps.store.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	ps.logger.Info("Data cleanup completed", "cutoff_date", cutoff, "runs_deleted", deleted)
	return deleted, nil
}

// ScheduleDataCleanup runs CleanupExpired now and then every interval until
// ctx is done.
func (ps *PrivacyService) ScheduleDataCleanup(ctx context.Context, interval time.Duration) {
	if !ps.Enabled() {
		return
	}
	ps.logger.Info("Scheduling data cleanup", "retention_days", ps.retentionDays, "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := ps.CleanupExpired(ctx); err != nil {
			ps.logger.Error("Failed to clean up expired runs", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// GetDataRetentionInfo describes the retention policy.
func (ps *PrivacyService) GetDataRetentionInfo() map[string]interface{} {
	info := map[string]interface{}{
		"retention_enabled": ps.Enabled(),
		"retention_days":    ps.retentionDays,
		"stored_data":       []string{"run summaries", "classified events", "period rollups"},
	}
	if ps.baselines == nil {
		return info
	}

	info["stored_data"] = []string{"run summaries", "classified events", "period rollups", "saved baselines"}
	repos, err := ps.baselines.List()
	if err != nil {
		ps.logger.Warn("Failed to list saved baselines", "error", err)
		return info
	}
	// saved baselines are kept until their repository's data is deleted
	info["saved_baselines"] = repos
	return info
}
