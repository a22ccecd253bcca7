package handlers

import (
	"net/http"
	"strings"

	"github.com/ellachat/ella/pkg/api/response"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/ellachat/ella/pkg/memory"
	"github.com/go-chi/chi/v5"
)

// ProfileResponse is returned by GET /users/{userID}/profile.
type ProfileResponse struct {
	UserID  string             `json:"user_id"`
	Known   bool               `json:"known"`
	Profile memory.UserProfile `json:"profile"`
}

// DeleteUserResponse is returned by DELETE /users/{userID}.
type DeleteUserResponse struct {
	UserID         string `json:"user_id"`
	DeletedEntries int    `json:"deleted_entries"`
	Message        string `json:"message"`
}

// SearchRequest is the body of POST /users/search.
type SearchRequest struct {
	Query  string `json:"query" validate:"required,max=256"`
	Limit  int    `json:"limit" validate:"gte=0,lte=100"`
	Offset int    `json:"offset" validate:"gte=0"`
}

// UpdateProfileRequest is the body of PATCH /users/{userID}/profile. At
// least one fact must be present.
type UpdateProfileRequest struct {
	Name     string   `json:"name" validate:"required_without_all=Likes Dislikes,max=100"`
	Likes    []string `json:"likes" validate:"max=50,dive,max=100"`
	Dislikes []string `json:"dislikes" validate:"max=50,dive,max=100"`
}

// UserHandler serves per-user memory endpoints.
type UserHandler struct {
	svc Companion
	log logger.Logger
}

// NewUserHandler creates a user handler.
func NewUserHandler(svc Companion, log logger.Logger) *UserHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &UserHandler{svc: svc, log: log}
}

// Profile handles GET /users/{userID}/profile
// @Summary Get a user profile
// @Tags users
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} ProfileResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /users/{userID}/profile [get]
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	profile, known, err := h.svc.Profile(r.Context(), userID)
	if err != nil {
		h.log.Error("load profile", "user_id", userID, "request_id", requestID(r), "error", err)
		writeServiceError(w, r, err, "profile lookup")
		return
	}
	response.JSON(w, http.StatusOK, ProfileResponse{UserID: userID, Known: known, Profile: profile})
}

// UpdateProfile handles PATCH /users/{userID}/profile
// @Summary Tell Ella facts about a user
// @Description Merges a name, likes and dislikes into the profile. Existing facts are kept.
// @Tags users
// @Accept json
// @Produce json
// @Param userID path string true "User ID"
// @Param request body UpdateProfileRequest true "Facts"
// @Success 200 {object} ProfileResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /users/{userID}/profile [patch]
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := userIDParam(r)
	profile, err := h.svc.UpdateProfile(r.Context(), userID, memory.ProfileUpdate{
		Name:     req.Name,
		Likes:    req.Likes,
		Dislikes: req.Dislikes,
	})
	if err != nil {
		h.log.Error("update profile", "user_id", userID, "request_id", requestID(r), "error", err)
		writeServiceError(w, r, err, "profile update")
		return
	}
	response.JSON(w, http.StatusOK, ProfileResponse{UserID: userID, Known: true, Profile: profile})
}

// Export handles GET /users/{userID}/export
// @Summary Export everything remembered about a user
// @Tags users
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} companion.UserExport
// @Router /users/{userID}/export [get]
func (h *UserHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	export, err := h.svc.ExportUser(r.Context(), userID)
	if err != nil {
		h.log.Error("export user", "user_id", userID, "request_id", requestID(r), "error", err)
		writeServiceError(w, r, err, "export")
		return
	}
	response.JSON(w, http.StatusOK, export)
}

// Delete handles DELETE /users/{userID}
// @Summary Forget a user
// @Description Clears the session profile and every stored turn of the user
// @Tags users
// @Produce json
// @Param userID path string true "User ID"
// @Success 200 {object} DeleteUserResponse
// @Router /users/{userID} [delete]
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := userIDParam(r)
	n, err := h.svc.ResetUser(r.Context(), userID)
	if err != nil {
		h.log.Error("reset user", "user_id", userID, "request_id", requestID(r), "error", err)
		writeServiceError(w, r, err, "delete")
		return
	}
	h.log.Info("user forgotten", "user_id", userID, "deleted_entries", n)
	response.JSON(w, http.StatusOK, DeleteUserResponse{
		UserID:         userID,
		DeletedEntries: n,
		Message:        "User memory cleared",
	})
}

// Search handles POST /users/search
// @Summary Search remembered users
// @Description Case-insensitive match on name, likes and dislikes
// @Tags users
// @Accept json
// @Produce json
// @Param request body SearchRequest true "Query"
// @Success 200 {object} companion.SearchResult
// @Failure 400 {object} response.ErrorResponse
// @Router /users/search [post]
func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	response.JSON(w, http.StatusOK, h.svc.SearchUsers(r.Context(), req.Query, req.Offset, req.Limit))
}

func userIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "userID"))
}
