package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRecorder collects pipeline, HTTP, cache and upstream metrics. The
// pipeline methods satisfy analysis.Metrics.
type MetricsRecorder interface {
	RecordRecords(total, skipped int)
	RecordVerdicts(realCount, fakeCount int)
	RecordLayerFlags(layer string, flagged int)
	ObservePipeline(duration time.Duration)

	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)

	IncCacheHits()
	IncCacheMisses()

	RecordExternalAPIRequest(apiName string, success bool)
	SetCircuitState(name string, state int)

	IncRateLimited(scope string)
}

// Metrics is the prometheus-backed MetricsRecorder.
type Metrics struct {
	recordsTotal     prometheus.Counter
	recordsSkipped   prometheus.Counter
	verdictsTotal    *prometheus.CounterVec
	layerFlagsTotal  *prometheus.CounterVec
	pipelineDuration prometheus.Histogram

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	externalRequests *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec

	rateLimited *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. When disabled it returns a
// recorder that drops everything.
func NewMetrics(enabled bool, reg prometheus.Registerer) MetricsRecorder {
	if !enabled {
		return noopMetrics{}
	}

	f := promauto.With(reg)
	return &Metrics{
		recordsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "starcheck_records_total",
			Help: "Raw star records received for analysis",
		}),
		recordsSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "starcheck_records_skipped_total",
			Help: "Raw star records skipped as malformed",
		}),
		verdictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "starcheck_verdicts_total",
			Help: "Classified star events by verdict",
		}, []string{"verdict"}),
		layerFlagsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "starcheck_layer_flags_total",
			Help: "Events flagged by each detection layer on its own",
		}, []string{"layer"}),
		pipelineDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "starcheck_pipeline_duration_seconds",
			Help:    "Duration of one analysis run",
			Buckets: prometheus.DefBuckets,
		}),

		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "starcheck_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "starcheck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "starcheck_cache_hits_total",
			Help: "Report cache hits",
		}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "starcheck_cache_misses_total",
			Help: "Report cache misses",
		}),

		externalRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "starcheck_external_api_requests_total",
			Help: "Upstream API requests by outcome",
		}, []string{"api", "outcome"}),
		circuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "starcheck_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),

		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "starcheck_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"scope"}),
	}
}

func (m *Metrics) RecordRecords(total, skipped int) {
	m.recordsTotal.Add(float64(total))
	m.recordsSkipped.Add(float64(skipped))
}

func (m *Metrics) RecordVerdicts(realCount, fakeCount int) {
	m.verdictsTotal.WithLabelValues("REAL").Add(float64(realCount))
	m.verdictsTotal.WithLabelValues("FAKE").Add(float64(fakeCount))
}

func (m *Metrics) RecordLayerFlags(layer string, flagged int) {
	m.layerFlagsTotal.WithLabelValues(layer).Add(float64(flagged))
}

func (m *Metrics) ObservePipeline(duration time.Duration) {
	m.pipelineDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *Metrics) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *Metrics) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *Metrics) RecordExternalAPIRequest(apiName string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.externalRequests.WithLabelValues(apiName, outcome).Inc()
}

func (m *Metrics) SetCircuitState(name string, state int) {
	m.circuitState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) IncRateLimited(scope string) {
	m.rateLimited.WithLabelValues(scope).Inc()
}

func httpStatusBucket(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}

// noopMetrics is used when metrics are disabled.
type noopMetrics struct{}

func (noopMetrics) RecordRecords(int, int)                       {}
func (noopMetrics) RecordVerdicts(int, int)                      {}
func (noopMetrics) RecordLayerFlags(string, int)                 {}
func (noopMetrics) ObservePipeline(time.Duration)                {}
func (noopMetrics) IncRequestsTotal(string, int)                 {}
func (noopMetrics) ObserveRequestDuration(string, time.Duration) {}
func (noopMetrics) IncCacheHits()                                {}
func (noopMetrics) IncCacheMisses()                              {}
func (noopMetrics) RecordExternalAPIRequest(string, bool)        {}
func (noopMetrics) SetCircuitState(string, int)                  {}
func (noopMetrics) IncRateLimited(string)                        {}
