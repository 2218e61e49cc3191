package ratelimit

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ZanzyTHEbar/star-forensics/internal/errors"
)

// Recorder counts rejected requests.
type Recorder interface {
	IncRateLimited(scope string)
}

// IPRateLimitMiddleware creates middleware for IP-based rate limiting
func (rl *RateLimiter) IPRateLimitMiddleware(metrics Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Enabled() {
			c.Next()
			return
		}

		result := rl.Allow(c.ClientIP())

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			if metrics != nil {
				metrics.IncRateLimited("ip")
			}

			seconds := int(math.Ceil(result.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))

			appErr := apperrors.NewRateLimitError(time.Duration(seconds) * time.Second)
			apperrors.LogError(c, appErr)
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"error":       appErr.Error(),
				"category":    appErr.Category,
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}
