package handlers

import (
	"net/http"

	"github.com/ellachat/ella/pkg/api/response"
)

// Readiness reports whether the server should receive traffic.
type Readiness interface {
	IsReady() bool
}

// HealthHandler serves the probe endpoints.
type HealthHandler struct {
	ready Readiness
}

// NewHealthHandler creates a health handler. A nil Readiness is always ready.
func NewHealthHandler(ready Readiness) *HealthHandler {
	return &HealthHandler{ready: ready}
}

// Health handles /health by redirecting to /system/health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/system/health", http.StatusTemporaryRedirect)
}

// Ready handles the /ready endpoint (readiness probe).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.ready == nil || h.ready.IsReady() {
		response.JSON(w, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	response.JSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
}
