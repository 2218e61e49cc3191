package monitoring

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// MonitoringMiddleware creates Gin middleware for request monitoring
func MonitoringMiddleware(metrics MetricsRecorder, logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ip := c.ClientIP()
		method := c.Request.Method
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		// route template keeps label cardinality bounded
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncRequestsTotal(endpoint, statusCode)
		metrics.ObserveRequestDuration(endpoint, duration)

		logger.RequestLogger(method, path, ip, c.GetHeader("User-Agent"), statusCode, duration)
		for _, err := range c.Errors {
			logger.APIErrorLogger(err.Err, method, path, ip, statusCode)
		}

		if statusCode >= http.StatusInternalServerError {
			logger.SystemLogger("server_error", method+" "+path)
		}
	}
}
