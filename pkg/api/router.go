// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/ellachat/ella/config"
	"github.com/ellachat/ella/pkg/api/handlers"
	"github.com/ellachat/ella/pkg/api/middleware"
	"github.com/ellachat/ella/pkg/api/response"
	"github.com/ellachat/ella/pkg/logger"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/ellachat/ella/docs/swagger" // registers the OpenAPI document
)

// websocketPrefix is exempt from the request timeout.
const websocketPrefix = "/ws/"

// Handlers holds all HTTP handlers.
type Handlers struct {
	Chat   *handlers.ChatHandler
	Socket *handlers.ChatSocketHandler
	Users  *handlers.UserHandler
	System *handlers.SystemHandler
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewHandlers builds every handler around one companion service. Health is
// left for NewHTTPServer, which owns readiness.
func NewHandlers(cfg *config.Config, log logger.Logger, svc handlers.Companion, gauge handlers.SocketGauge) *Handlers {
	return &Handlers{
		Chat: handlers.NewChatHandler(svc, log),
		Socket: handlers.NewChatSocketHandler(svc, log, handlers.WebSocketConfig{
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
			MaxConnections: cfg.Server.HTTP.MaxWebSocketConnections,
			Gauge:          gauge,
		}),
		Users:  handlers.NewUserHandler(svc, log),
		System: handlers.NewSystemHandler(svc, log, cfg.App.Version),
	}
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))
	r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout, websocketPrefix))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "Route not found", middleware.GetRequestID(r.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, response.ErrCodeMethodNotAllowed, "Method not allowed", middleware.GetRequestID(r.Context()))
	})

	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes registers all API routes. Nil handlers leave their routes
// unregistered.
func RegisterRoutes(r chi.Router, h *Handlers) {
	if h.Chat != nil {
		r.Post("/chat", h.Chat.Chat)
	}
	if h.Socket != nil {
		r.Get(websocketPrefix+"chat", h.Socket.ServeHTTP)
	}

	if h.Users != nil {
		r.Route("/users", func(r chi.Router) {
			r.Post("/search", h.Users.Search)
			r.Route("/{userID}", func(r chi.Router) {
				r.Get("/profile", h.Users.Profile)
				r.Patch("/profile", h.Users.UpdateProfile)
				r.Get("/export", h.Users.Export)
				r.Delete("/", h.Users.Delete)
			})
		})
	}

	if h.System != nil {
		r.Route("/system", func(r chi.Router) {
			r.Get("/health", h.System.Health)
			r.Get("/analytics", h.System.Analytics)
			r.Post("/config", h.System.UpdateConfig)
			r.Post("/batch", h.System.Batch)
			r.Post("/reset", h.System.ResetStats)
		})
	}

	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
	}

	r.Get("/swagger/*", httpSwagger.WrapHandler)
}
