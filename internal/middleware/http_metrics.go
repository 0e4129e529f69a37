package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// routePatterns maps request paths onto route templates so that metrics and
// span names do not carry user or dispute IDs. "*" matches one segment.
var routePatterns = []string{
	"/v1/sellers/*/fulfillments",
	"/v1/sellers/*/endorsements",
	"/v1/sellers/*/disputes",
	"/v1/disputes/*/resolve",
	"/v1/trust/*/history",
	"/v1/trust/*/live",
	"/v1/trust/events",
	"/v1/trust/*",
	"/v1/trust",
	"/v1/search/listings",
	"/v1/listings/*",
	"/v1/listings",
	"/health",
	"/ready",
	"/metrics",
}

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion, e.g. /v1/trust/u-123 becomes /v1/trust/{id}.
// Unknown paths collapse to "other".
func normalizePath(path string) string {
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	segments := strings.Split(path, "/")

	for _, pattern := range routePatterns {
		parts := strings.Split(pattern, "/")
		if len(parts) != len(segments) {
			continue
		}
		matched := true
		for i, p := range parts {
			if p == "*" {
				if segments[i] == "" {
					matched = false
					break
				}
				continue
			}
			if p != segments[i] {
				matched = false
				break
			}
		}
		if matched {
			return strings.ReplaceAll(pattern, "*", "{id}")
		}
	}
	if path == "/" {
		return "/"
	}
	return "other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Hijack lets websocket upgrades pass through the wrapper.
func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := mrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	mrw.statusCode = http.StatusSwitchingProtocols
	mrw.wroteHeader = true
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// Health and metrics endpoints are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if r.ContentLength > 0 {
				requestSize = r.ContentLength
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
