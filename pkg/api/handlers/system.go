package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ellachat/ella/pkg/api/response"
	"github.com/ellachat/ella/pkg/companion"
	"github.com/ellachat/ella/pkg/composer"
	"github.com/ellachat/ella/pkg/logger"
)

// Batch operations.
const (
	BatchUpdate  = "update"
	BatchRefresh = "refresh"
	BatchDelete  = "delete"
	BatchExport  = "export"
)

// MemoryUsage summarises cache sizes.
type MemoryUsage struct {
	TotalUsers       int `json:"total_users"`
	CachedEmbeddings int `json:"cached_embeddings"`
	CachedResponses  int `json:"cached_responses"`
	PendingWrites    int `json:"pending_writes"`
}

// SystemHealth is returned by GET /system/health.
type SystemHealth struct {
	Status       string      `json:"status"`
	Version      string      `json:"version,omitempty"`
	Model        string      `json:"model,omitempty"`
	Uptime       float64     `json:"uptime"`
	RequestCount int64       `json:"request_count"`
	MemoryUsage  MemoryUsage `json:"memory_usage"`
}

// SystemMetrics is the service-wide part of GET /system/analytics.
type SystemMetrics struct {
	TotalRequests         int64       `json:"total_requests"`
	TotalCost             float64     `json:"total_cost"`
	AverageResponseTimeMS float64     `json:"average_response_time_ms"`
	UptimeSeconds         float64     `json:"uptime_seconds"`
	MemoryUsage           MemoryUsage `json:"memory_usage"`
}

// UserMetrics is the per-user part of GET /system/analytics.
type UserMetrics struct {
	UserID     string     `json:"user_id"`
	Known      bool       `json:"known"`
	TurnCount  int        `json:"turn_count"`
	FirstSeen  *time.Time `json:"first_seen,omitempty"`
	LastActive *time.Time `json:"last_active,omitempty"`
	Likes      int        `json:"likes"`
	Dislikes   int        `json:"dislikes"`
}

// AnalyticsResponse is returned by GET /system/analytics.
type AnalyticsResponse struct {
	Metrics     SystemMetrics `json:"metrics"`
	UserMetrics *UserMetrics  `json:"user_metrics,omitempty"`
}

// ConfigRequest is the body of POST /system/config. Omitted fields are kept.
type ConfigRequest struct {
	Temperature *float64 `json:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int     `json:"max_tokens" validate:"omitempty,gte=1,lte=4096"`
	ModelName   *string  `json:"model_name" validate:"omitempty,min=1,max=128"`
}

// GenerationSettings are the runtime-tunable generation parameters.
type GenerationSettings struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	ModelName   string  `json:"model_name,omitempty"`
}

// ConfigResponse is returned by POST /system/config.
type ConfigResponse struct {
	Message  string             `json:"message"`
	Settings GenerationSettings `json:"settings"`
}

// BatchRequest is the body of POST /system/batch.
type BatchRequest struct {
	UserIDs   []string `json:"user_ids" validate:"required,min=1,max=100,dive,required,max=256"`
	Operation string   `json:"operation" validate:"required,oneof=update refresh delete export"`
}

// BatchItem is the outcome for one user of a batch.
type BatchItem struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// BatchResponse is returned by POST /system/batch.
type BatchResponse struct {
	Operation string      `json:"operation"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []BatchItem `json:"results"`
}

// SystemHandler serves service-wide endpoints.
type SystemHandler struct {
	svc     Companion
	log     logger.Logger
	version string
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(svc Companion, log logger.Logger, version string) *SystemHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &SystemHandler{svc: svc, log: log, version: version}
}

// Health handles GET /system/health
// @Summary Service health and counters
// @Tags system
// @Produce json
// @Success 200 {object} SystemHealth
// @Router /system/health [get]
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Stats()
	response.JSON(w, http.StatusOK, SystemHealth{
		Status:       "healthy",
		Version:      h.version,
		Model:        h.svc.Model(),
		Uptime:       st.Uptime.Seconds(),
		RequestCount: st.RequestCount,
		MemoryUsage:  memoryUsage(st),
	})
}

// Analytics handles GET /system/analytics
// @Summary Usage analytics
// @Tags system
// @Produce json
// @Param user_id query string false "Include metrics for this user"
// @Success 200 {object} AnalyticsResponse
// @Router /system/analytics [get]
func (h *SystemHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Stats()
	resp := AnalyticsResponse{Metrics: SystemMetrics{
		TotalRequests:         st.RequestCount,
		TotalCost:             st.TotalCost,
		AverageResponseTimeMS: float64(st.AverageResponseTime) / float64(time.Millisecond),
		UptimeSeconds:         st.Uptime.Seconds(),
		MemoryUsage:           memoryUsage(st),
	}}

	if userID := strings.TrimSpace(r.URL.Query().Get("user_id")); userID != "" {
		export, err := h.svc.ExportUser(r.Context(), userID)
		if err != nil {
			h.log.Error("user analytics", "user_id", userID, "request_id", requestID(r), "error", err)
			writeServiceError(w, r, err, "analytics")
			return
		}
		um := &UserMetrics{
			UserID:    userID,
			Known:     export.Known,
			TurnCount: len(export.Turns),
			Likes:     len(export.Profile.Likes),
			Dislikes:  len(export.Profile.Dislikes),
		}
		if n := len(export.Turns); n > 0 {
			first, last := export.Turns[0].Timestamp, export.Turns[n-1].Timestamp
			um.FirstSeen, um.LastActive = &first, &last
		}
		resp.UserMetrics = um
	}

	response.JSON(w, http.StatusOK, resp)
}

// UpdateConfig handles POST /system/config
// @Summary Change generation settings
// @Tags system
// @Accept json
// @Produce json
// @Param request body ConfigRequest true "Settings"
// @Success 200 {object} ConfigResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /system/config [post]
func (h *SystemHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	settings, err := h.svc.UpdateSettings(r.Context(), companion.SettingsUpdate{
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Model:       req.ModelName,
	})
	if err != nil {
		h.log.Warn("update settings rejected", "request_id", requestID(r), "error", err)
		msg := err.Error()
		if errors.Is(err, companion.ErrModelNotSwappable) {
			msg = "model cannot be changed for this generator"
		}
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, msg, requestID(r))
		return
	}

	response.JSON(w, http.StatusOK, ConfigResponse{
		Message:  "Configuration updated",
		Settings: h.generationSettings(settings),
	})
}

// Batch handles POST /system/batch
// @Summary Run an operation for many users
// @Description update and refresh reload profiles from stored turns
// @Tags system
// @Accept json
// @Produce json
// @Param request body BatchRequest true "Batch"
// @Success 200 {object} BatchResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /system/batch [post]
func (h *SystemHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp := BatchResponse{Operation: req.Operation, Results: make([]BatchItem, 0, len(req.UserIDs))}
	for _, userID := range req.UserIDs {
		item := BatchItem{UserID: userID, Status: "ok"}
		var err error
		switch req.Operation {
		case BatchUpdate, BatchRefresh:
			item.Data, err = h.svc.RefreshUser(r.Context(), userID)
		case BatchDelete:
			var n int
			n, err = h.svc.ResetUser(r.Context(), userID)
			item.Data = map[string]int{"deleted_entries": n}
		case BatchExport:
			item.Data, err = h.svc.ExportUser(r.Context(), userID)
		}
		if err != nil {
			item.Status, item.Error, item.Data = "error", err.Error(), nil
			resp.Failed++
		} else {
			resp.Succeeded++
		}
		resp.Results = append(resp.Results, item)
	}

	h.log.Info("batch finished", "operation", req.Operation,
		"succeeded", resp.Succeeded, "failed", resp.Failed, "request_id", requestID(r))
	response.JSON(w, http.StatusOK, resp)
}

// ResetStats handles POST /system/reset
// @Summary Reset request counters
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Router /system/reset [post]
func (h *SystemHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.svc.ResetStats()
	response.JSON(w, http.StatusOK, map[string]string{"message": "Statistics reset"})
}

func (h *SystemHandler) generationSettings(s composer.Settings) GenerationSettings {
	return GenerationSettings{
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		ModelName:   h.svc.Model(),
	}
}

func memoryUsage(st companion.Stats) MemoryUsage {
	return MemoryUsage{
		TotalUsers:       st.TotalUsers,
		CachedEmbeddings: st.CachedEmbeddings,
		CachedResponses:  st.CachedResponses,
		PendingWrites:    st.PendingWrites,
	}
}
