package main

import (
	stderrors "errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZanzyTHEbar/star-forensics/internal/analysis"
	"github.com/ZanzyTHEbar/star-forensics/internal/cache"
	"github.com/ZanzyTHEbar/star-forensics/internal/config"
	"github.com/ZanzyTHEbar/star-forensics/internal/database"
	"github.com/ZanzyTHEbar/star-forensics/internal/encoding"
	"github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/middleware"
	"github.com/ZanzyTHEbar/star-forensics/internal/monitoring"
	"github.com/ZanzyTHEbar/star-forensics/internal/privacy"
	"github.com/ZanzyTHEbar/star-forensics/internal/ratelimit"
	"github.com/ZanzyTHEbar/star-forensics/internal/security"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

// server holds everything the HTTP handlers share.
type server struct {
	conf        *config.Config
	logger      *monitoring.Logger
	metrics     monitoring.MetricsRecorder
	registry    *prometheus.Registry
	db          *database.DB
	runs        *database.RunService
	cache       *cache.Cache
	limiter     *ratelimit.RateLimiter
	privacy     *privacy.PrivacyService
	compression *middleware.CompressionMiddleware
	started     time.Time
}

// newServer wires the analyzer, run sink and HTTP helpers from conf. The
// database is skipped when storage.database_path is "off".
func newServer(conf *config.Config, logger *monitoring.Logger) (*server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(conf.Metrics.Enabled, registry)

	cfg, err := conf.Analysis()
	if err != nil {
		return nil, errors.NewConfigurationError("invalid analysis settings", err)
	}
	baselines := analysis.NewBaselineStore(filepath.Join(conf.Storage.DataDir, "baselines"))
	analyzer, err := analysis.NewAnalyzer(cfg,
		analysis.WithLogger(logger.With("component", "analyzer").Logger),
		analysis.WithMetrics(metrics),
		analysis.WithBaselineStore(baselines),
	)
	if err != nil {
		return nil, err
	}

	var db *database.DB
	var repo *database.Repository
	if dbPath := databasePath(conf); dbPath != "" {
		db, err = database.NewDB(dbPath)
		if err != nil {
			return nil, err
		}
		repo = database.NewRepository(db)
	}

	s := &server{
		conf:        conf,
		logger:      logger,
		metrics:     metrics,
		registry:    registry,
		db:          db,
		runs:        database.NewRunService(analyzer, repo, logger.With("component", "runs")),
		cache:       cache.NewCache(conf.Server.CacheTTL, conf.Server.CacheSize),
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
		limiter: ratelimit.NewRateLimiter(ratelimit.Config{
			RequestsPerSecond: conf.Server.RateLimitRPS,
			Burst:             conf.Server.RateLimitBurst,
		}),
		started: time.Now(),
	}
	if repo != nil {
		s.privacy = privacy.NewService(repo, conf.Storage.RetentionDays, logger.With("component", "privacy"),
			privacy.WithBaselineStore(baselines))
	}
	return s, nil
}

func databasePath(conf *config.Config) string {
	switch conf.Storage.DatabasePath {
	case "off":
		return ""
	case "":
		return filepath.Join(conf.Storage.DataDir, database.DefaultFileName)
	default:
		return conf.Storage.DatabasePath
	}
}

// Close releases the cache sweeper, limiter and database.
func (s *server) Close() {
	s.cache.Close()
	s.limiter.Close()
	if s.db != nil {
		errors.SafeClose(s.db, "database")
	}
}

// setupRouter builds the gin engine with the middleware chain and routes.
func (s *server) setupRouter() *gin.Engine {
	r := gin.New()

	sec := security.NewSecurityMiddleware(security.SecurityConfig{
		MaxBodyBytes:   s.conf.Server.MaxBodyBytes,
		RequestTimeout: s.conf.Server.WriteTimeout,
	})

	corsConfig := cors.DefaultConfig()
	if len(s.conf.Server.AllowedOrigins) == 0 || containsString(s.conf.Server.AllowedOrigins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.conf.Server.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	corsConfig.ExposeHeaders = []string{"X-Cache", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}

	r.Use(errors.RecoveryHandler())
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(cors.New(corsConfig))
	r.Use(s.compression.Handler())
	r.Use(errors.ErrorHandler())
	r.Use(sec.Handlers()...)

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})))

	r.POST("/analyze",
		s.limiter.IPRateLimitMiddleware(s.metrics),
		s.cache.Middleware(s.metrics, s.logger),
		s.analyze,
	)

	runs := r.Group("/runs")
	runs.GET("", s.listRuns)
	runs.GET("/:id", s.getRun)
	runs.GET("/:id/rollups", s.getRollups)
	runs.GET("/:id/fake-events", s.getFakeEvents)

	r.DELETE("/repositories/:owner/:name/runs", s.deleteRepositoryRuns)

	return r
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *server) analyze(c *gin.Context) {
	var req types.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bindError(err))
		return
	}
	req.Repository = strings.TrimSpace(req.Repository)
	s.conf.ApplyDefaults(&req)

	areq, err := analysis.NewRequest(req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	report, err := s.runs.Analyze(c.Request.Context(), areq)
	if err != nil {
		_ = c.Error(err)
		return
	}
	// a newly saved baseline outdates cached saved-baseline reports
	if report.BaselineSource == analysis.BaselineFromRequest && areq.Repository != "" {
		s.cache.Clear()
	}

	encoding.JSON(c, http.StatusOK, report)
}

func bindError(err error) *errors.AppError {
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return errors.ToAppError(err)
	}
	return errors.NewValidationError("invalid request body", err.Error())
}

// repository returns the run repository or aborts with 503 when storage is off.
func (s *server) repository(c *gin.Context) *database.Repository {
	repo := s.runs.Repository()
	if repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run storage disabled"})
		return nil
	}
	return repo
}

func (s *server) listRuns(c *gin.Context) {
	repo := s.repository(c)
	if repo == nil {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = c.Error(errors.NewValidationError("limit must be a non-negative integer", raw))
			return
		}
		limit = n
	}

	summaries, err := repo.ListRuns(c.Request.Context(), c.Query("repository"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	type runItem struct {
		database.RunSummary
		FakePct float64 `json:"fake_pct"`
	}
	items := make([]runItem, len(summaries))
	for i, sum := range summaries {
		items[i] = runItem{RunSummary: sum, FakePct: sum.FakePct()}
	}
	encoding.JSON(c, http.StatusOK, gin.H{"runs": items, "count": len(items)})
}

func (s *server) getRun(c *gin.Context) {
	repo := s.repository(c)
	if repo == nil {
		return
	}

	run, err := repo.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.runError(c, err)
		return
	}
	encoding.JSON(c, http.StatusOK, run)
}

func (s *server) getRollups(c *gin.Context) {
	repo := s.repository(c)
	if repo == nil {
		return
	}

	id := c.Param("id")
	if _, err := repo.GetRun(c.Request.Context(), id); err != nil {
		s.runError(c, err)
		return
	}
	rollups, err := repo.GetRollups(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	encoding.JSON(c, http.StatusOK, gin.H{"run_id": id, "periods": rollups})
}

func (s *server) getFakeEvents(c *gin.Context) {
	repo := s.repository(c)
	if repo == nil {
		return
	}

	id := c.Param("id")
	if _, err := repo.GetRun(c.Request.Context(), id); err != nil {
		s.runError(c, err)
		return
	}
	events, err := repo.GetFakeEvents(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	encoding.JSON(c, http.StatusOK, gin.H{"run_id": id, "events": events, "count": len(events)})
}

func (s *server) runError(c *gin.Context, err error) {
	if stderrors.Is(err, database.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found", "id": c.Param("id")})
		return
	}
	_ = c.Error(err)
}

func (s *server) deleteRepositoryRuns(c *gin.Context) {
	if s.privacy == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run storage disabled"})
		return
	}

	repository := c.Param("owner") + "/" + c.Param("name")
	deleted, err := s.privacy.DeleteRepositoryData(c.Request.Context(), repository)
	if err != nil {
		_ = c.Error(err)
		return
	}
	// cached reports may still name the repository
	s.cache.Clear()

	c.JSON(http.StatusOK, gin.H{"repository": repository, "runs_deleted": deleted})
}

func (s *server) health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK

	response := gin.H{
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"cache":       s.cache.Stats(),
		"rate_limit":  s.limiter.GetStats(),
		"compression": s.compression.GetStats(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}

	if s.db != nil {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			response["database_error"] = err.Error()
		}
		response["database"] = s.db.GetPoolStats()
	}
	if s.privacy != nil {
		response["retention"] = s.privacy.GetDataRetentionInfo()
	}

	response["status"] = status
	c.JSON(code, response)
}
