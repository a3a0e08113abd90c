/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/events/*             Gateway presence events
  /api/members/*            Member stats, limit, timezone, team
  /api/leaderboard          Member leaderboard
  /api/teams/*              Team standings
  /api/admin/*              Forced resets and recovery
  /api/scheduler/*          Scheduler observability

SECURITY NOTE:
  No authentication middleware currently. The gateway process is
  expected to be the only client.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Gateway presence events
		r.Route("/events", func(r chi.Router) {
			r.Post("/join", h.JoinEvent)
			r.Post("/leave", h.LeaveEvent)
		})

		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.Get("/{id}/stats", h.GetMemberStats)
			r.Get("/{id}/limit", h.GetDailyLimit)
			r.Get("/{id}/timezone", h.GetTimezone)
			r.Put("/{id}/timezone", h.SetTimezone)
			r.Post("/{id}/team", h.AssignTeam)
		})

		// Leaderboards
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/teams/leaderboard", h.GetTeamLeaderboard)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reset/daily", h.ForceDailyReset)
			r.Post("/reset/monthly", h.ForceMonthlyReset)
			r.Post("/recovery", h.RunRecovery)
		})

		// Scheduler observability
		r.Get("/scheduler/status", h.GetSchedulerStatus)
	})

	return r
}
