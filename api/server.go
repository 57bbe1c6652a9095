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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/sessions/*       Schedule management and rosters
  /api/availability     Conflict pre-check
  /api/reservations/*   Booking lifecycle
  /api/clients/*        Per-client views
  /api/entitlements     Grants
  /api/catalog/*        Activity types, rooms, instructors, plans
  /api/admin/*          Sweep trigger
  /api/health           Liveness probe

SECURITY NOTE:
  No authentication middleware. Identity arrives in X-Client-ID and
  X-Actor-ID headers; a fronting proxy is expected to verify them.

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Client-ID", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		// Session routes
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.CreateSession)
			r.Get("/{id}", h.GetSession)
			r.Post("/{id}/reschedule", h.RescheduleSession)
			r.Post("/{id}/status", h.SetSessionStatus)
			r.Get("/{id}/reservations", h.SessionReservations)
		})
		r.Post("/availability", h.CheckAvailability)

		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.Reserve)
			r.Get("/{id}", h.GetReservation)
			r.Post("/{id}/cancel", h.CancelReservation)
			r.Get("/{id}/can-cancel", h.CanCancelReservation)
			r.Post("/{id}/visit", h.RecordVisit)
		})

		// Client routes
		r.Route("/clients/{id}", func(r chi.Router) {
			r.Get("/reservations", h.ClientReservations)
			r.Get("/entitlements", h.ClientEntitlements)
		})

		// Entitlement routes
		r.Post("/entitlements", h.GrantEntitlement)

		// Catalog routes
		r.Route("/catalog", func(r chi.Router) {
			r.Get("/activity-types", h.ListActivityTypes)
			r.Post("/activity-types", h.CreateActivityType)
			r.Get("/rooms", h.ListRooms)
			r.Post("/rooms", h.CreateRoom)
			r.Get("/instructors", h.ListInstructors)
			r.Post("/instructors", h.CreateInstructor)
			r.Get("/plans", h.ListPlans)
			r.Post("/plans", h.CreatePlan)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweeps", h.RunSweeps)
		})
	})

	return r
}
