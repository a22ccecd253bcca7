package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/ellachat/ella/pkg/api/response"
	"github.com/ellachat/ella/pkg/logger"
)

// Recovery turns a handler panic into a 500. The panic value is logged, never
// returned to the client.
func Recovery(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					requestID := GetRequestID(r.Context())
					log.ErrorContext(r.Context(), "Panic recovered",
						"error", err,
						"request_id", requestID,
						"path", r.URL.Path,
						"method", r.Method,
						"stack", string(debug.Stack()),
					)
					response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer,
						"Internal server error", requestID)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
