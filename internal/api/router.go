package api

import (
	"net/http"

	"github.com/feedpulse/feedpulse/internal/auth"
)

// SetupRoutes configures all API routes. Read endpoints are public; sync and
// catalog reload mutate state and require a bearer token.
func SetupRoutes(mux *http.ServeMux, handler *Handler, authConfig auth.Config) {
	authHandler := NewAuthHandler(authConfig, handler.logger)
	authMiddleware := auth.Middleware(authConfig)

	// Authentication routes (public)
	mux.HandleFunc("/api/auth/login", authHandler.Login)

	// Aggregation routes (public)
	mux.HandleFunc("/api/aggregate", handler.AggregateHandler)
	mux.HandleFunc("/api/submit-url", handler.SubmitURLHandler)
	mux.HandleFunc("/api/track", handler.TrackHandler)
	mux.HandleFunc("/api/status", handler.StatusHandler)

	// Admin routes (auth required)
	mux.HandleFunc("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		authMiddleware(http.HandlerFunc(handler.SyncHandler)).ServeHTTP(w, r)
	})
	mux.HandleFunc("/api/config/reload", func(w http.ResponseWriter, r *http.Request) {
		authMiddleware(http.HandlerFunc(handler.ReloadHandler)).ServeHTTP(w, r)
	})

	mux.HandleFunc("/health", handler.HealthHandler)
}
