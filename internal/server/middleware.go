package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/docstage/docstage/internal/metrics"
)

// generateRequestID generates a 16-character hexadecimal request ID using
// crypto/rand.
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// Fallback: should never happen with crypto/rand, but if it does,
		// use a timestamp-based value rather than panicking.
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// commonHeaders is HTTP middleware that injects common response headers on
// every response: X-Request-Id and Server.
func commonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-Id", generateRequestID())
		w.Header().Set("Server", "docstage")
		next.ServeHTTP(w, r)
	})
}

// responseRecorder wraps http.ResponseWriter to capture the HTTP status code
// and the number of bytes written. This is used by the metrics middleware.
type responseRecorder struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
	wroteHeader  bool
}

// WriteHeader captures the status code and delegates to the wrapped ResponseWriter.
func (rr *responseRecorder) WriteHeader(code int) {
	if !rr.wroteHeader {
		rr.statusCode = code
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(code)
}

// Write captures the number of bytes written and delegates to the wrapped ResponseWriter.
func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.statusCode = http.StatusOK
		rr.wroteHeader = true
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytesWritten += n
	return n, err
}

// Flush implements the http.Flusher interface if the underlying ResponseWriter supports it.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// metricsMiddleware records Prometheus metrics for each request:
// request count, duration, and request size.
// The /metrics endpoint is excluded from self-instrumentation to avoid recursion.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Exclude /metrics from self-instrumentation.
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		normalizedPath := metrics.NormalizePath(r.URL.Path)
		method := r.Method
		status := strconv.Itoa(rec.statusCode)

		metrics.HTTPRequestsTotal.WithLabelValues(method, normalizedPath, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, normalizedPath).Observe(duration)

		if r.ContentLength > 0 {
			metrics.HTTPRequestSize.WithLabelValues(method, normalizedPath).Observe(float64(r.ContentLength))
		}
	})
}
