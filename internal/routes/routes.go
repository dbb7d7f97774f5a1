package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/AnshRaj112/circles-backend/internal/handlers"
	"github.com/AnshRaj112/circles-backend/internal/middleware"
	"github.com/AnshRaj112/circles-backend/pkg/log"
)

// Deps is everything the router mounts. Nil middleware is skipped.
type Deps struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	Production     bool

	RateLimiter     *middleware.RedisRateLimiter
	AuthRateLimiter *middleware.AuthRateLimiter
	// Gatherer serves /metrics when non-nil.
	Gatherer prometheus.Gatherer

	Auth    *handlers.AuthHandler
	Users   *handlers.UsersHandler
	History *handlers.ChatHistoryHandler
	Chat    *handlers.ChatWSHandler
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(log.HTTPMiddleware(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(d.Production))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	// WebSocket gateway for the realtime chat protocol.
	r.Get("/ws", d.Chat.ServeWS)

	r.Route("/api", func(r chi.Router) {
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if d.AuthRateLimiter != nil {
					r.Use(d.AuthRateLimiter.Middleware)
				}
				r.Post("/register", d.Auth.Register)
				r.Post("/login", d.Auth.Login)
			})
			r.Get("/me", d.Auth.Me)
			r.Post("/logout", d.Auth.Logout)
		})

		r.Get("/users", d.Users.List)
		r.Get("/users/{id}/last-messages", d.Users.LastMessages)
		r.Get("/messages/{a}/{b}", d.History.History)
	})

	return r
}
