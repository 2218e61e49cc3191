package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	scopes map[string]int
}

func (r *countingRecorder) IncRateLimited(scope string) {
	if r.scopes == nil {
		r.scopes = make(map[string]int)
	}
	r.scopes[scope]++
}

func frozenLimiter(t *testing.T, cfg Config) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Close)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Burst(t *testing.T) {
	rl, now := frozenLimiter(t, Config{RequestsPerSecond: 1, Burst: 3, IdleTTL: time.Minute})

	for i := 0; i < 3; i++ {
		res := rl.Allow("10.0.0.1")
		require.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	blocked := rl.Allow("10.0.0.1")
	assert.False(t, blocked.Allowed)
	assert.Equal(t, time.Second, blocked.RetryAfter)

	*now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1").Allowed)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := frozenLimiter(t, Config{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})

	assert.True(t, rl.Allow("a").Allowed)
	assert.False(t, rl.Allow("a").Allowed)
	assert.True(t, rl.Allow("b").Allowed)
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := frozenLimiter(t, Config{RequestsPerSecond: 0, Burst: 1})

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("a").Allowed)
	}
	assert.False(t, rl.Enabled())
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl, now := frozenLimiter(t, Config{RequestsPerSecond: 1, Burst: 1, IdleTTL: time.Minute})

	rl.Allow("old")
	*now = now.Add(45 * time.Second)
	rl.Allow("fresh")
	*now = now.Add(30 * time.Second)

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.GetStats()["tracked_keys"])
}

func TestIPRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl, _ := frozenLimiter(t, Config{RequestsPerSecond: 1, Burst: 2, IdleTTL: time.Minute})
	rec := &countingRecorder{}

	r := gin.New()
	r.Use(rl.IPRateLimitMiddleware(rec))
	r.POST("/analyze", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name           string
		expectedStatus int
		remaining      string
	}{
		{"first request", http.StatusOK, "1"},
		{"second request", http.StatusOK, "0"},
		{"over the limit", http.StatusTooManyRequests, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
			req.RemoteAddr = "192.0.2.10:5555"
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, tt.remaining, w.Header().Get("X-RateLimit-Remaining"))
			if tt.expectedStatus == http.StatusTooManyRequests {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
				assert.Contains(t, w.Body.String(), `"category":"rate_limit"`)
			}
		})
	}

	assert.Equal(t, 1, rec.scopes["ip"])
}
