// Package middleware provides the HTTP middleware chain.
package middleware

import (
	"net/http"
	"time"

	"github.com/ellachat/ella/pkg/logger"
)

// Logger attaches a request-scoped logger to the context and logs each
// request once it completes. Server errors log at error level.
func Logger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With("request_id", GetRequestID(r.Context()))
			ctx := reqLog.WithContext(r.Context())

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"size", rec.size,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			}
			if rec.status >= http.StatusInternalServerError {
				reqLog.ErrorContext(ctx, "HTTP request", args...)
				return
			}
			reqLog.InfoContext(ctx, "HTTP request", args...)
		})
	}
}
