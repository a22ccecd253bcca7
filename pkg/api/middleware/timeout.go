package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ellachat/ella/pkg/api/response"
)

// Timeout bounds the request context. Handlers run on the calling goroutine;
// if the deadline passes before anything was written, a 504 is sent.
// Paths with one of the skip prefixes (long-lived streams) are left alone.
func Timeout(timeout time.Duration, skipPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if timeout <= 0 || hasAnyPrefix(r.URL.Path, skipPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(ctx))

			if !rec.written && ctx.Err() == context.DeadlineExceeded {
				response.Error(rec, http.StatusGatewayTimeout, response.ErrCodeGatewayTimeout,
					"Request timeout", GetRequestID(r.Context()))
			}
		})
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
