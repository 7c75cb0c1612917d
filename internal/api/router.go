package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatroom/internal/api/middleware"
	"github.com/eldtechnologies/chatroom/internal/handlers"
)

// NewRouter creates and configures the HTTP router. limiter may be nil,
// which disables rate limiting.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, limiter *middleware.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(16 * 1024)) // 16KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if limiter != nil {
		r.Use(limiter.Middleware)
	}

	// CORS - allow all origins (browser and CLI clients call from anywhere)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api", h.Root) // JSON API info
	r.Get("/health", h.Health)

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", h.CreateRoom)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", h.GetRoom)
			r.Get("/messages", h.GetRoomMessages)
			r.Post("/messages", h.PostMessage)
			r.Get("/ws", h.RoomStream)
		})
	})

	return r
}
