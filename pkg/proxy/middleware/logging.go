package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tanranv5/grok2api/pkg/reqlog"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer so SSE streaming keeps
// working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging logs each request with structured fields and, when a
// recorder is provided, persists a request-log record for the admin
// API. Handlers fill in model and credential data through the
// RequestMeta stored in the context.
func Logging(recorder *reqlog.Recorder) func(http.Handler) http.Handler {
	logger := slog.Default().With("component", "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			meta := &RequestMeta{}
			ctx := context.WithValue(r.Context(), RequestMetaKey, meta)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r.WithContext(ctx))

			duration := time.Since(start)
			model, suffix, attempts, errText := meta.Snapshot()

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"latency_ms", duration.Milliseconds(),
				"request_id", GetRequestID(ctx),
			}
			if model != "" {
				attrs = append(attrs, "model", model)
			}
			if suffix != "" {
				attrs = append(attrs, "credential", suffix)
			}

			switch {
			case rw.statusCode >= 500:
				logger.Error("request completed", attrs...)
			case rw.statusCode >= 400:
				logger.Warn("request completed", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}

			if recorder != nil {
				recorder.Record(reqlog.Record{
					ID:               GetRequestID(ctx),
					Time:             start,
					RemoteAddr:       remoteHost(r),
					Method:           r.Method,
					Path:             r.URL.Path,
					Model:            model,
					StatusCode:       rw.statusCode,
					Attempts:         attempts,
					CredentialSuffix: suffix,
					Duration:         duration,
					Error:            errText,
				})
			}
		})
	}
}

func remoteHost(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
