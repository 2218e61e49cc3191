package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/star-forensics/internal/analysis"
	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

// EnvPrefix prefixes every environment override, e.g. STARCHECK_SERVER_PORT.
const EnvPrefix = "STARCHECK"

// Config is the full application configuration.
type Config struct {
	Detection  DetectionConfig  `mapstructure:"detection"`
	Statistics StatisticsConfig `mapstructure:"statistics"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Server     ServerConfig     `mapstructure:"server"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`

	Path string `mapstructure:"-"`
}

type DetectionConfig struct {
	NewAccountDays         int      `mapstructure:"new_account_days" validate:"gte=0"`
	ClusterWindowMinutes   int      `mapstructure:"cluster_window_minutes" validate:"gte=0"`
	ClusterMinAccounts     int      `mapstructure:"cluster_min_accounts" validate:"gte=1"`
	ClusterMode            string   `mapstructure:"cluster_mode" validate:"oneof=window gap"`
	DormantAgeYears        int      `mapstructure:"dormant_age_years" validate:"gte=0"`
	DormantMaxRepos        int      `mapstructure:"dormant_max_repos" validate:"gte=0"`
	DormantMaxRecentEvents int      `mapstructure:"dormant_max_recent_events" validate:"gte=0"`
	DiversityMaxFollowers  int      `mapstructure:"diversity_max_followers" validate:"gte=0"`
	DiversityMaxFollowing  int      `mapstructure:"diversity_max_following" validate:"gte=0"`
	Layers                 []string `mapstructure:"layers" validate:"dive,oneof=basic clustering dormancy diversity"`
}

type StatisticsConfig struct {
	ZScoreThreshold      float64            `mapstructure:"z_score_threshold" validate:"gt=0"`
	MAWindow             int                `mapstructure:"ma_window" validate:"gte=1"`
	CompensatoryRealDrop float64            `mapstructure:"compensatory_real_drop" validate:"gte=0"`
	CompensatoryFakeRise float64            `mapstructure:"compensatory_fake_rise" validate:"gte=0"`
	Baseline             *types.RangeSpec   `mapstructure:"baseline"`
	Target               *types.RangeSpec   `mapstructure:"target"`
	Correlation          *types.RangeSpec   `mapstructure:"correlation"`
	Periods              []types.PeriodSpec `mapstructure:"periods" validate:"dive"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" validate:"gte=1,lte=65535"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	CacheSize      int           `mapstructure:"cache_size" validate:"gte=0"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst" validate:"gte=0"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" validate:"gte=0"`
}

type GitHubConfig struct {
	Token             string        `mapstructure:"token"`
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	PerPage           int           `mapstructure:"per_page" validate:"gte=1,lte=100"`
	MaxStargazers     int           `mapstructure:"max_stargazers" validate:"gte=0"`
	Concurrency       int           `mapstructure:"concurrency" validate:"gte=1"`
	FetchActivity     bool          `mapstructure:"fetch_activity"`
}

type StorageConfig struct {
	DataDir       string `mapstructure:"data_dir" validate:"required"`
	DatabasePath  string `mapstructure:"database_path"`
	RetentionDays int    `mapstructure:"retention_days" validate:"gte=0"` // 0 keeps runs forever
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	d := analysis.DefaultConfig()

	v.SetDefault("detection.new_account_days", d.NewAccountDays)
	v.SetDefault("detection.cluster_window_minutes", int(d.ClusterWindow/time.Minute))
	v.SetDefault("detection.cluster_min_accounts", d.ClusterMinAccounts)
	v.SetDefault("detection.cluster_mode", string(d.ClusterMode))
	v.SetDefault("detection.dormant_age_years", d.DormantAgeYears)
	v.SetDefault("detection.dormant_max_repos", d.DormantMaxRepos)
	v.SetDefault("detection.dormant_max_recent_events", d.DormantMaxRecentEvents)
	v.SetDefault("detection.diversity_max_followers", d.DiversityMaxFollowers)
	v.SetDefault("detection.diversity_max_following", d.DiversityMaxFollowing)
	layers := make([]string, len(d.Layers))
	for i, l := range d.Layers {
		layers[i] = string(l)
	}
	v.SetDefault("detection.layers", layers)

	v.SetDefault("statistics.z_score_threshold", d.ZScoreThreshold)
	v.SetDefault("statistics.ma_window", d.MovingAverageWindow)
	v.SetDefault("statistics.compensatory_real_drop", d.CompensatoryRealDrop)
	v.SetDefault("statistics.compensatory_fake_rise", d.CompensatoryFakeRise)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_ttl", 10*time.Minute)
	v.SetDefault("server.cache_size", 256)
	v.SetDefault("server.rate_limit_rps", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", int64(64<<20))

	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.requests_per_second", 1.0)
	v.SetDefault("github.timeout", 30*time.Second)
	v.SetDefault("github.max_retries", 3)
	v.SetDefault("github.per_page", 100)
	v.SetDefault("github.max_stargazers", 0)
	v.SetDefault("github.concurrency", 4)
	v.SetDefault("github.fetch_activity", false)

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.database_path", "")
	v.SetDefault("storage.retention_days", 0)

	v.SetDefault("metrics.enabled", true)
}

// Load reads the YAML file at path (optional), applies STARCHECK_* environment
// overrides on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN")

	if path != "" {
		filename := filepath.Base(path)
		v.AddConfigPath(filepath.Dir(path))
		v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("unable to read config %s", path), err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, apperrors.NewConfigurationError("unable to decode into config struct", err)
	}
	conf.Path = path

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks struct constraints and the derived analysis settings.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return apperrors.NewConfigurationError(describe(err), err)
	}
	if _, err := c.Analysis(); err != nil {
		return apperrors.NewConfigurationError("invalid detection settings", err)
	}
	if _, err := analysis.PeriodsFromSpecs(c.Statistics.Periods); err != nil {
		return apperrors.NewConfigurationError("invalid statistics.periods", err)
	}
	for name, r := range map[string]*types.RangeSpec{
		"baseline":    c.Statistics.Baseline,
		"target":      c.Statistics.Target,
		"correlation": c.Statistics.Correlation,
	} {
		if _, err := analysis.RangeFromSpec(r); err != nil {
			return apperrors.NewConfigurationError("invalid statistics."+name, err)
		}
	}
	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Analysis maps the detection and statistics sections to analysis.Config.
func (c *Config) Analysis() (analysis.Config, error) {
	d, s := c.Detection, c.Statistics
	cfg := analysis.Config{
		NewAccountDays:         d.NewAccountDays,
		ClusterWindow:          time.Duration(d.ClusterWindowMinutes) * time.Minute,
		ClusterMinAccounts:     d.ClusterMinAccounts,
		ClusterMode:            analysis.ClusterMode(d.ClusterMode),
		DormantAgeYears:        d.DormantAgeYears,
		DormantMaxRepos:        d.DormantMaxRepos,
		DormantMaxRecentEvents: d.DormantMaxRecentEvents,
		DiversityMaxFollowers:  d.DiversityMaxFollowers,
		DiversityMaxFollowing:  d.DiversityMaxFollowing,
		ZScoreThreshold:        s.ZScoreThreshold,
		MovingAverageWindow:    s.MAWindow,
		CompensatoryRealDrop:   s.CompensatoryRealDrop,
		CompensatoryFakeRise:   s.CompensatoryFakeRise,
	}
	for _, l := range d.Layers {
		cfg.Layers = append(cfg.Layers, analysis.Layer(l))
	}
	return cfg, cfg.Validate()
}

// ApplyDefaults fills the request's unset statistics ranges from the configuration.
func (c *Config) ApplyDefaults(req *types.AnalyzeRequest) {
	s := c.Statistics
	if len(req.Periods) == 0 && len(req.Phases) == 0 {
		req.Periods = s.Periods
	}
	if req.Baseline == nil {
		req.Baseline = s.Baseline
	}
	if req.Target == nil {
		req.Target = s.Target
	}
	if req.Correlate == nil {
		req.Correlate = s.Correlation
	}
}

// Address returns the server listen address.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
