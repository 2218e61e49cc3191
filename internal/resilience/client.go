package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/monitoring"
)

// ErrNotFound is returned for 404 responses. It is neither retried nor
// counted against the circuit breaker.
var ErrNotFound = stderrors.New("resource not found")

// Recorder receives upstream call outcomes and breaker transitions.
type Recorder interface {
	RecordExternalAPIRequest(apiName string, success bool)
	SetCircuitState(name string, state int)
}

// ClientConfig configures a rate-limited upstream client.
type ClientConfig struct {
	Name              string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxIdleConns      int
	IdleTimeout       time.Duration
	Headers           map[string]string
	Retry             RetryConfig
	Breaker           CircuitBreakerConfig
}

// Client wraps one pooled http.Client with a token bucket limiter, a circuit
// breaker and retry with backoff.
type Client struct {
	name    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *CircuitBreaker
	retry   RetryConfig
	headers map[string]string
	metrics Recorder
	logger  *monitoring.Logger
}

// NewClient builds a client. metrics and logger may be nil.
func NewClient(cfg ClientConfig, metrics Recorder, logger *monitoring.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "upstream"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 90 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = monitoring.NewNopLogger()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c := &Client{
		name:    cfg.Name,
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		retry:   cfg.Retry,
		headers: cfg.Headers,
		metrics: metrics,
		logger:  logger,
	}

	breakerCfg := cfg.Breaker
	userHook := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to CircuitBreakerState) {
		c.logger.Warn("Circuit breaker state changed", "api_name", c.name, "from", from.String(), "to", to.String())
		if c.metrics != nil {
			c.metrics.SetCircuitState(c.name, int(to))
		}
		if userHook != nil {
			userHook(from, to)
		}
	}
	c.breaker = NewCircuitBreaker(breakerCfg)
	return c
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

// RequestOption adjusts a single request.
type RequestOption func(*http.Request)

// WithAccept overrides the Accept header, e.g. for a custom media type.
func WithAccept(mediaType string) RequestOption {
	return func(r *http.Request) { r.Header.Set("Accept", mediaType) }
}

// GetJSON fetches url and decodes the JSON body into out. It returns the
// response headers of the successful attempt.
func (c *Client) GetJSON(ctx context.Context, url string, out any, opts ...RequestOption) (http.Header, error) {
	var header http.Header
	err := Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.breaker.Call(func() error {
			h, err := c.do(ctx, url, out, opts)
			header = h
			return err
		}, breakerCountable)
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// breakerCountable reports upstream faults. Rate limiting and client errors
// leave the breaker alone.
func breakerCountable(err error) bool {
	category, ok := errors.CategoryOf(err)
	if !ok {
		return false
	}
	switch category {
	case errors.CategoryNetwork, errors.CategoryTimeout, errors.CategoryExternalAPI:
		return true
	default:
		return false
	}
}

func (c *Client) do(ctx context.Context, url string, out any, opts []RequestOption) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for _, opt := range opts {
		opt(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.observe(url, 0, duration, false)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewNetworkError(fmt.Sprintf("%s request failed", c.name), err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		errors.SafeClose(resp.Body, c.name+" response body")
	}()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.observe(url, resp.StatusCode, duration, ok)
	if !ok {
		return nil, c.statusError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, errors.NewExternalAPIError(c.name, resp.StatusCode, fmt.Errorf("decoding body: %w", err))
		}
	}
	return resp.Header, nil
}

func (c *Client) observe(url string, status int, duration time.Duration, success bool) {
	if c.metrics != nil {
		c.metrics.RecordExternalAPIRequest(c.name, success)
	}
	c.logger.ExternalAPILogger(c.name, http.MethodGet, url, status, duration, success)
}

func (c *Client) statusError(resp *http.Response) error {
	status := resp.StatusCode

	if wait, limited := rateLimitWait(resp); limited {
		return errors.NewRateLimitError(wait)
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", c.name, resp.Request.URL.Path, ErrNotFound)
	}
	if isRetryableHTTPStatus(status) {
		return errors.NewExternalAPIError(c.name, status, NewHTTPError(status, resp.Status))
	}
	return NewHTTPError(status, resp.Status)
}

// rateLimitWait reads Retry-After or the X-RateLimit-* headers of a 403/429.
func rateLimitWait(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			wait := time.Until(time.Unix(reset, 0))
			if wait < 0 {
				wait = 0
			}
			return wait, true
		}
		return time.Minute, true
	}
	return 0, resp.StatusCode == http.StatusTooManyRequests
}

// HTTPError is a non-retryable upstream status.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return "unexpected status " + e.Status
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, status string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Status: status}
}
