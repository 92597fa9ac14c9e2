/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

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
  /api/accounts/*   Credit accounts, lifecycle, movements, ledger reads
  /api/listings/*   Marketplace
  /api/audit        Audit log
  /api/scenarios/*  Demo scenarios
  /health           Liveness
  /metrics          Prometheus metrics

SECURITY NOTE:
  No authentication middleware currently. Actor identity comes from the
  request body and is trusted. Production deployments put this behind
  an authenticating gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/marketplace"
)

// Server holds the handler dependencies.
type Server struct {
	credits   *credit.Service
	market    *marketplace.Service
	audit     ledger.AuditLog
	scenarios *ScenarioLoader
}

// NewServer creates a Server with all dependencies wired.
func NewServer(credits *credit.Service, market *marketplace.Service, audit ledger.AuditLog, scenarios *ScenarioLoader) *Server {
	return &Server{
		credits:   credits,
		market:    market,
		audit:     audit,
		scenarios: scenarios,
	}
}

// NewRouter creates a new router with all routes configured.
func NewRouter(s *Server) *chi.Mux {
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
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Post("/", s.handleRegister)
			r.Get("/{id}", s.handleGetAccount)

			// Certification lifecycle
			r.Post("/{id}/review", s.handleStartReview)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/reject", s.handleReject)
			r.Post("/{id}/resubmit", s.handleResubmit)
			r.Post("/{id}/issue", s.handleIssue)

			// Movements
			r.Post("/{id}/transfer", s.handleTransfer)
			r.Post("/{id}/retire", s.handleRetire)

			// Ledger reads
			r.Get("/{id}/entries", s.handleEntries)
			r.Get("/{id}/transactions", s.handleTransactions)
			r.Get("/{id}/trail", s.handleTrail)
			r.Get("/{id}/audit", s.handleAccountAudit)
		})

		// Marketplace routes
		r.Route("/listings", func(r chi.Router) {
			r.Get("/", s.handleListListings)
			r.Post("/", s.handleCreateListing)
			r.Get("/{id}", s.handleGetListing)
			r.Post("/{id}/cancel", s.handleCancelListing)
			r.Post("/{id}/purchase", s.handlePurchase)
		})

		// Audit routes
		r.Get("/audit", s.handleAudit)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", s.handleListScenarios)
			r.Post("/load", s.handleLoadScenario)
		})
	})

	// Operational endpoints
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
