package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration
type Config struct {
	RequestsPerSecond float64       // sustained rate per key
	Burst             int           // bucket capacity per key
	IdleTTL           time.Duration // keys unused for this long are dropped
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5,
		Burst:             10,
		IdleTTL:           10 * time.Minute,
	}
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key, typically a client IP.
type RateLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*entry

	stop chan struct{}
	once sync.Once
}

// NewRateLimiter creates a rate limiter and starts its idle-key sweeper.
func NewRateLimiter(config Config) *RateLimiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultConfig().IdleTTL
	}

	rl := &RateLimiter{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Enabled reports whether limiting is active. A zero rate disables it.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.config.RequestsPerSecond > 0
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) Result {
	if !rl.Enabled() {
		return Result{Allowed: true, Limit: -1, Remaining: -1}
	}

	now := rl.now()
	rl.mu.Lock()
	e, ok := rl.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.buckets[key] = e
	}
	e.lastSeen = now
	rl.mu.Unlock()

	res := Result{Limit: rl.config.Burst}
	if e.limiter.AllowN(now, 1) {
		res.Allowed = true
		res.Remaining = int(math.Max(0, math.Floor(e.limiter.TokensAt(now))))
		return res
	}

	// time until one token is back
	deficit := 1 - e.limiter.TokensAt(now)
	res.RetryAfter = time.Duration(deficit / rl.config.RequestsPerSecond * float64(time.Second))
	return res
}

// Sweep drops buckets that have been idle longer than IdleTTL.
func (rl *RateLimiter) Sweep() int {
	cutoff := rl.now().Add(-rl.config.IdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, e := range rl.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.IdleTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Sweep()
		case <-rl.stop:
			return
		}
	}
}

// Close stops the sweeper.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	keys := len(rl.buckets)
	rl.mu.Unlock()

	return map[string]interface{}{
		"enabled":             rl.Enabled(),
		"tracked_keys":        keys,
		"requests_per_second": rl.config.RequestsPerSecond,
		"burst":               rl.config.Burst,
	}
}
