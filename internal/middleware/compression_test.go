package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressionRouter(cm *CompressionMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(cm.Handler())

	big := strings.Repeat(`{"account_id":"octocat","verdict":"FAKE"},`, 100)
	r.GET("/big", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(big))
	})
	r.GET("/small", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain", []byte(big))
	})
	r.GET("/empty", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestCompressionMiddleware(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := compressionRouter(cm)

	tests := []struct {
		name           string
		path           string
		acceptEncoding string
		expectedStatus int
		compressed     bool
	}{
		{"large JSON is compressed", "/big", "gzip, deflate", http.StatusOK, true},
		{"client without gzip", "/big", "", http.StatusOK, false},
		{"small body stays plain", "/small", "gzip", http.StatusOK, false},
		{"excluded path", "/metrics", "gzip", http.StatusOK, false},
		{"no content", "/empty", "gzip", http.StatusNoContent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.acceptEncoding != "" {
				req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if !tt.compressed {
				assert.Empty(t, w.Header().Get("Content-Encoding"))
				return
			}

			assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
			gz, err := gzip.NewReader(w.Body)
			require.NoError(t, err)
			body, err := io.ReadAll(gz)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(body), `{"account_id":"octocat"`))
			assert.Len(t, body, 100*len(`{"account_id":"octocat","verdict":"FAKE"},`))
		})
	}

	stats := cm.GetStats()
	assert.Equal(t, int64(1), stats["compressed_requests"])
	assert.Less(t, stats["compression_ratio"].(float64), 1.0)
}

func TestCompressionMiddleware_SmallJSONBody(t *testing.T) {
	r := compressionRouter(NewCompressionMiddleware(DefaultCompressionConfig()))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	r.ServeHTTP(w, req)

	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))
}
