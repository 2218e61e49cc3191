package resilience

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

type recorder struct {
	mu       sync.Mutex
	success  int
	failure  int
	circuits map[string]int
}

func (r *recorder) RecordExternalAPIRequest(_ string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.success++
	} else {
		r.failure++
	}
}

func (r *recorder) SetCircuitState(name string, state int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.circuits == nil {
		r.circuits = map[string]int{}
	}
	r.circuits[name] = state
}

func testClient(rec *recorder, breaker CircuitBreakerConfig) *Client {
	return NewClient(ClientConfig{
		Name:    "github",
		Timeout: 2 * time.Second,
		Headers: map[string]string{"Authorization": "Bearer secret"},
		Retry:   fastRetry(3),
		Breaker: breaker,
	}, rec, nil)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Link", `<https://example.test/next>; rel="next"`)
		_, _ = w.Write([]byte(`{"login":"octocat","followers":3}`))
	}))
	defer srv.Close()

	rec := &recorder{}
	var out struct {
		Login     string `json:"login"`
		Followers int    `json:"followers"`
	}
	header, err := testClient(rec, CircuitBreakerConfig{}).GetJSON(t.Context(), srv.URL+"/users/octocat", &out)
	require.NoError(t, err)

	assert.Equal(t, "octocat", out.Login)
	assert.Equal(t, 3, out.Followers)
	assert.Contains(t, header.Get("Link"), `rel="next"`)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 1, rec.success)
	assert.Equal(t, 2, rec.failure)
}

func TestClient_NotFoundIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	c := testClient(&recorder{}, CircuitBreakerConfig{FailureThreshold: 1})
	_, err := c.GetJSON(t.Context(), srv.URL+"/users/ghost", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, StateClosed, c.Breaker().State())
}

func TestClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(&recorder{}, CircuitBreakerConfig{}).GetJSON(t.Context(), srv.URL, nil)
	require.Error(t, err)
	category, ok := errors.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.CategoryRateLimit, category)
	assert.Greater(t, errors.RetryAfter(err), 50*time.Minute)
}

func TestClient_BreakerOpensAndReports(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := &recorder{}
	c := testClient(rec, CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})

	_, err := c.GetJSON(t.Context(), srv.URL, nil)
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, StateOpen, c.Breaker().State())
	assert.Equal(t, int(StateOpen), rec.circuits["github"])
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(&recorder{}, CircuitBreakerConfig{}).GetJSON(t.Context(), srv.URL, nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.EqualValues(t, 1, calls.Load())
}
