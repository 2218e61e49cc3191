package analysis

import (
	"fmt"
	"time"
)

// Layer names one detection layer. The order of DefaultLayers is the
// activation order used by the breakdown table.
type Layer string

const (
	LayerBasic      Layer = "basic"
	LayerClustering Layer = "clustering"
	LayerDormancy   Layer = "dormancy"
	LayerDiversity  Layer = "diversity"
)

// DefaultLayers is the activation order {Basic, +Clustering, +Dormancy, +Diversity}.
var DefaultLayers = []Layer{LayerBasic, LayerClustering, LayerDormancy, LayerDiversity}

// ClusterMode selects how temporal clusters are found.
type ClusterMode string

const (
	// ClusterModeWindow flags any sliding window of width W holding at least K events.
	ClusterModeWindow ClusterMode = "window"
	// ClusterModeGap chains consecutive events whose gap is at most W.
	ClusterModeGap ClusterMode = "gap"
)

// Config holds every detection and statistics threshold.
type Config struct {
	NewAccountDays int `json:"new_account_days"`

	ClusterWindow      time.Duration `json:"cluster_window"`
	ClusterMinAccounts int           `json:"cluster_min_accounts"`
	ClusterMode        ClusterMode   `json:"cluster_mode"`

	DormantAgeYears        int `json:"dormant_age_years"`
	DormantMaxRepos        int `json:"dormant_max_repos"`
	DormantMaxRecentEvents int `json:"dormant_max_recent_events"`

	DiversityMaxFollowers int `json:"diversity_max_followers"`
	DiversityMaxFollowing int `json:"diversity_max_following"`

	ZScoreThreshold float64 `json:"z_score_threshold"`

	// Moving-average deviation analysis over weekly series.
	MovingAverageWindow  int     `json:"ma_window"`
	CompensatoryRealDrop float64 `json:"compensatory_real_drop"`
	CompensatoryFakeRise float64 `json:"compensatory_fake_rise"`

	Layers []Layer `json:"layers"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		NewAccountDays:         7,
		ClusterWindow:          60 * time.Minute,
		ClusterMinAccounts:     10,
		ClusterMode:            ClusterModeWindow,
		DormantAgeYears:        1,
		DormantMaxRepos:        3,
		DormantMaxRecentEvents: 1,
		DiversityMaxFollowers:  5,
		DiversityMaxFollowing:  10,
		ZScoreThreshold:        3.0,
		MovingAverageWindow:    4,
		CompensatoryRealDrop:   5,
		CompensatoryFakeRise:   10,
		Layers:                 append([]Layer(nil), DefaultLayers...),
	}
}

// Validate checks that thresholds are usable.
func (c Config) Validate() error {
	if c.NewAccountDays < 0 {
		return fmt.Errorf("new_account_days must be >= 0, got %d", c.NewAccountDays)
	}
	if c.ClusterWindow < 0 {
		return fmt.Errorf("cluster window must be >= 0, got %s", c.ClusterWindow)
	}
	if c.ClusterMinAccounts < 1 {
		return fmt.Errorf("cluster_min_accounts must be >= 1, got %d", c.ClusterMinAccounts)
	}
	switch c.ClusterMode {
	case ClusterModeWindow, ClusterModeGap:
	default:
		return fmt.Errorf("unknown cluster mode %q", c.ClusterMode)
	}
	if c.DormantAgeYears < 0 || c.DormantMaxRepos < 0 || c.DormantMaxRecentEvents < 0 {
		return fmt.Errorf("dormancy thresholds must be >= 0")
	}
	if c.ZScoreThreshold <= 0 {
		return fmt.Errorf("z_score_threshold must be > 0, got %v", c.ZScoreThreshold)
	}
	if c.MovingAverageWindow < 1 {
		return fmt.Errorf("moving average window must be >= 1, got %d", c.MovingAverageWindow)
	}
	seen := make(map[Layer]bool, len(c.Layers))
	for _, l := range c.Layers {
		if _, ok := detectors[l]; !ok {
			return fmt.Errorf("unknown layer %q", l)
		}
		if seen[l] {
			return fmt.Errorf("layer %q listed twice", l)
		}
		seen[l] = true
	}
	return nil
}

func (c Config) newAccountAge() time.Duration {
	return time.Duration(c.NewAccountDays) * 24 * time.Hour
}

func (c Config) dormantAgeDays() int {
	return c.DormantAgeYears * 365
}

func (c Config) layerEnabled(l Layer) bool {
	for _, enabled := range c.Layers {
		if enabled == l {
			return true
		}
	}
	return false
}
