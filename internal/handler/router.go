// Package handler serves the development backend over HTTP.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/conthunt/streamcore/internal/middleware"
	"github.com/conthunt/streamcore/internal/service"
	"github.com/conthunt/streamcore/pkg/logger"
)

// Deps are the collaborators of the router.
type Deps struct {
	Searches  *service.SearchService
	Chats     *service.ChatService
	Logger    *logger.Logger
	JWTSecret string

	// Telemetry is reported by /ready when set.
	Telemetry Pinger
	Provider  string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) http.Handler {
	searchHandler := NewSearchHandler(d.Searches, d.Logger)
	chatHandler := NewChatHandler(d.Chats, d.Logger)
	healthHandler := NewHealthHandler(d.Telemetry, d.Provider)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Logging(d.Logger))
	if d.RateLimitRequests > 0 {
		r.Use(middleware.RateLimit(d.RateLimitRequests, d.RateLimitWindow))
	}

	// Health endpoints (no auth)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(d.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope("search"))

			r.Post("/search", searchHandler.Start)
			r.Get("/search/{id}/stream", searchHandler.Stream)
			r.Post("/search/{id}/more", searchHandler.More)
			r.Get("/search/{id}/more/stream", searchHandler.MoreStream)
			r.Get("/searches/{id}", searchHandler.Snapshot)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireScope("chat"))

			r.Post("/chats/{id}/send", chatHandler.Send)
			r.Get("/chats/{id}/stream", chatHandler.Stream)
		})
	})

	return r
}
