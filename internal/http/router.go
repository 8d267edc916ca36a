package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/synerchat/server/internal/auth"
	"github.com/synerchat/server/internal/http/handlers"
	"github.com/synerchat/server/internal/middleware"
	"github.com/synerchat/server/internal/observability"
	"github.com/synerchat/server/internal/repo"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	ChatHandler *handlers.ChatHandler
	WSHandler   *handlers.WSHandler
	JWTService  *auth.JWTService
	UserRepo    repo.UserRepo
	Metrics     *observability.Metrics

	// RequestLimiter guards chat request creation per user; WSLimiter guards
	// websocket upgrades per IP. Nil disables the limit.
	RequestLimiter *middleware.RateLimiter
	WSLimiter      *middleware.RateLimiter
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.MetricsMiddleware(d.Metrics))

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	authenticated := middleware.AuthMiddleware(d.JWTService, d.UserRepo)

	r.Group(func(r chi.Router) {
		r.Use(limitBy(d.WSLimiter, middleware.GetIPKey))
		r.Use(authenticated)
		r.Get("/ws", d.WSHandler.ServeHTTP)
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(authenticated)
		r.Get("/me", handlers.HandleMe)

		r.Route("/chat", func(r chi.Router) {
			r.Post("/search-users", d.ChatHandler.HandleSearchUsers)
			r.With(limitBy(d.RequestLimiter, middleware.GetUserKey)).
				Post("/request", d.ChatHandler.HandleCreateRequest)
			r.Get("/requests", d.ChatHandler.HandlePendingRequests)
			r.Post("/accept", d.ChatHandler.HandleAcceptRequest)
			r.Post("/reject", d.ChatHandler.HandleRejectRequest)
			r.Get("/active", d.ChatHandler.HandleActiveChats)
			r.Get("/messages/{chatID}", d.ChatHandler.HandleMessages)
			r.Post("/verify", d.ChatHandler.HandleVerify)
			r.Post("/clear/{chatID}", d.ChatHandler.HandleClear)
			r.Post("/delete/{chatID}", d.ChatHandler.HandleDelete)
		})
	})

	return r
}

func limitBy(limiter *middleware.RateLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimitMiddleware(limiter, key)
}
