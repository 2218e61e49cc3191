package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // Minimum response size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9, 9 is best compression)
	ContentTypes     []string // Content types to compress
	ExcludedPaths    []string // Routes that handle their own encoding
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: gzip.DefaultCompression,
		ContentTypes: []string{
			"application/json",
			"application/x-ndjson",
			"text/plain",
		},
		ExcludedPaths: []string{"/metrics"},
	}
}

// CompressionMiddleware provides gzip compression for HTTP responses
type CompressionMiddleware struct {
	config CompressionConfig
	stats  CompressionStats
	pool   sync.Pool
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	level := config.CompressionLevel
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	cm := &CompressionMiddleware{config: config}
	cm.pool.New = func() interface{} {
		gz, _ := gzip.NewWriterLevel(io.Discard, level)
		return gz
	}
	return cm
}

// Handler returns a Gin middleware function for response compression.
// Responses are buffered up to MinSize; smaller bodies go out unchanged.
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cm.clientAcceptsGzip(c.Request) || cm.excluded(c.Request.URL.Path) {
			c.Next()
			return
		}

		gzw := &gzipResponseWriter{ResponseWriter: c.Writer, cm: cm}
		c.Writer = gzw
		c.Header("Vary", "Accept-Encoding")

		c.Next()

		gzw.finish()
	}
}

func (cm *CompressionMiddleware) clientAcceptsGzip(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

func (cm *CompressionMiddleware) excluded(path string) bool {
	for _, p := range cm.config.ExcludedPaths {
		if path == p {
			return true
		}
	}
	return false
}

func (cm *CompressionMiddleware) shouldCompress(contentType string) bool {
	for _, ct := range cm.config.ContentTypes {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}

// gzipResponseWriter decides on the first MinSize bytes whether to compress.
type gzipResponseWriter struct {
	gin.ResponseWriter
	cm *CompressionMiddleware

	status  int
	buf     []byte
	gz      *gzip.Writer
	decided bool
	raw     int64
	out     countingWriter
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	w.status = code
}

func (w *gzipResponseWriter) WriteHeaderNow() {
	w.decide(true)
}

func (w *gzipResponseWriter) Status() int {
	if w.status != 0 && !w.decided {
		return w.status
	}
	return w.ResponseWriter.Status()
}

func (w *gzipResponseWriter) Written() bool {
	return w.decided || len(w.buf) > 0 || w.ResponseWriter.Written()
}

func (w *gzipResponseWriter) Size() int {
	if !w.decided {
		return len(w.buf)
	}
	return w.ResponseWriter.Size()
}

func (w *gzipResponseWriter) Write(data []byte) (int, error) {
	w.raw += int64(len(data))
	if !w.decided {
		w.buf = append(w.buf, data...)
		if len(w.buf) < w.cm.config.MinSize {
			return len(data), nil
		}
		if err := w.decide(false); err != nil {
			return 0, err
		}
		return len(data), nil
	}
	if w.gz != nil {
		return w.gz.Write(data)
	}
	return w.ResponseWriter.Write(data)
}

func (w *gzipResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// decide commits the headers and flushes the buffered prefix. final means no
// more data will follow, so a short buffer is sent uncompressed.
func (w *gzipResponseWriter) decide(final bool) error {
	if w.decided {
		return nil
	}
	w.decided = true

	h := w.Header()
	compress := len(w.buf) >= w.cm.config.MinSize &&
		h.Get("Content-Encoding") == "" &&
		w.cm.shouldCompress(h.Get("Content-Type")) &&
		w.status != http.StatusNoContent && w.status != http.StatusNotModified
	if final && len(w.buf) < w.cm.config.MinSize {
		compress = false
	}

	if compress {
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		w.out = countingWriter{w: w.ResponseWriter}
		w.gz = w.cm.pool.Get().(*gzip.Writer)
		w.gz.Reset(&w.out)
	}

	if w.status != 0 {
		w.ResponseWriter.WriteHeader(w.status)
	}
	w.ResponseWriter.WriteHeaderNow()

	buf := w.buf
	w.buf = nil
	if len(buf) == 0 {
		return nil
	}
	var err error
	if w.gz != nil {
		_, err = w.gz.Write(buf)
	} else {
		_, err = w.ResponseWriter.Write(buf)
	}
	return err
}

func (w *gzipResponseWriter) Flush() {
	_ = w.decide(false)
	if w.gz != nil {
		_ = w.gz.Flush()
	}
	w.ResponseWriter.Flush()
}

func (w *gzipResponseWriter) finish() {
	if !w.decided {
		if len(w.buf) == 0 && w.status == 0 {
			return
		}
		_ = w.decide(true)
	}
	if w.gz != nil {
		_ = w.gz.Close()
		w.cm.pool.Put(w.gz)
		w.cm.stats.record(w.raw, w.out.n, true)
		w.gz = nil
		return
	}
	w.cm.stats.record(w.raw, w.raw, false)
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	TotalRequests      atomic.Int64
	CompressedRequests atomic.Int64
	TotalBytes         atomic.Int64
	CompressedBytes    atomic.Int64
}

func (cs *CompressionStats) record(originalSize, compressedSize int64, compressed bool) {
	cs.TotalRequests.Add(1)
	cs.TotalBytes.Add(originalSize)
	if compressed {
		cs.CompressedRequests.Add(1)
		cs.CompressedBytes.Add(compressedSize)
	}
}

// GetStats returns compression statistics
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	total := cm.stats.TotalBytes.Load()
	compressed := cm.stats.CompressedBytes.Load()

	ratio := float64(0)
	if total > 0 {
		ratio = float64(compressed) / float64(total)
	}

	return map[string]interface{}{
		"total_requests":      cm.stats.TotalRequests.Load(),
		"compressed_requests": cm.stats.CompressedRequests.Load(),
		"total_bytes":         total,
		"compressed_bytes":    compressed,
		"compression_ratio":   ratio,
	}
}
