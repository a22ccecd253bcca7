package handlers

import (
	"net/http"

	"github.com/ellachat/ella/pkg/api/middleware"
	"github.com/ellachat/ella/pkg/api/response"
	"github.com/ellachat/ella/pkg/logger"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	UserID  string `json:"user_id" validate:"required,max=256"`
	Message string `json:"message" validate:"max=8000"`
}

// ChatHandler serves single-message chat over HTTP.
type ChatHandler struct {
	svc Companion
	log logger.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(svc Companion, log logger.Logger) *ChatHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ChatHandler{svc: svc, log: log}
}

// Chat handles POST /chat
// @Summary Send a message
// @Description Generates a reply for the user and remembers the exchange
// @Tags chat
// @Accept json
// @Produce json
// @Param request body ChatRequest true "Message"
// @Success 200 {object} companion.Result
// @Failure 400 {object} response.ErrorResponse
// @Router /chat [post]
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.GenerateReply(r.Context(), req.UserID, req.Message)
	if err != nil {
		h.log.Warn("chat failed", "user_id", req.UserID, "request_id", requestID(r), "error", err)
		writeServiceError(w, r, err, "chat")
		return
	}

	response.JSON(w, http.StatusOK, result)
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}
