// Package handlers implements the HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/ellachat/ella/pkg/api/middleware"
	"github.com/ellachat/ella/pkg/api/response"
	"github.com/ellachat/ella/pkg/companion"
	"github.com/ellachat/ella/pkg/composer"
	"github.com/ellachat/ella/pkg/memory"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// Companion is the part of companion.Service the handlers use.
type Companion interface {
	GenerateReply(ctx context.Context, userKey, message string) (companion.Result, error)
	Profile(ctx context.Context, userKey string) (memory.UserProfile, bool, error)
	ExportUser(ctx context.Context, userKey string) (companion.UserExport, error)
	RefreshUser(ctx context.Context, userKey string) (memory.UserProfile, error)
	ResetUser(ctx context.Context, userKey string) (int, error)
	UpdateProfile(ctx context.Context, userKey string, u memory.ProfileUpdate) (memory.UserProfile, error)
	SearchUsers(ctx context.Context, query string, offset, limit int) companion.SearchResult
	Stats() companion.Stats
	ResetStats()
	Settings() composer.Settings
	Model() string
	UpdateSettings(ctx context.Context, u companion.SettingsUpdate) (composer.Settings, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON reads a bounded JSON body into dst and validates it. On failure
// the error response is already written and false is returned.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	requestID := middleware.GetRequestID(r.Context())

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "Invalid request body"
		if errors.Is(err, io.EOF) {
			msg = "Request body is required"
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			msg = fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit)
		}
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, msg, requestID)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		writeValidationError(w, err, requestID)
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error, requestID string) {
	details := map[string]any{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = validationMessage(fe)
		}
	}
	response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeValidationFailed,
		"Request validation failed", details, requestID)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without_all":
		return "is required when no other field is set"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	default:
		return "is invalid"
	}
}

// writeServiceError maps companion errors onto statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, what string) {
	requestID := middleware.GetRequestID(r.Context())
	switch {
	case errors.Is(err, companion.ErrInvalidUserKey):
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "user_id is required", requestID)
	case errors.Is(err, memory.ErrNoHistory):
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, what+": memory store unavailable", requestID)
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(w, http.StatusGatewayTimeout, response.ErrCodeGatewayTimeout, what+": timed out", requestID)
	default:
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, what+" failed", requestID)
	}
}
