package core

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes defines the top-level routing hierarchy: the global middleware
// chain, the /v1 API group, public routes (webhooks), and the health check.
//
// Middleware ordering rationale:
//  1. Recoverer      - outermost, catches all panics.
//  2. ContextTimeout - soft deadline before any store call runs.
//  3. RequestID      - correlation ID for tracing.
//  4. RequestLogger  - structured logging with redacted headers.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	// Public routes: provider webhooks live outside /v1 and outside any
	// auth middleware; their security is the provider signature.
	for _, registrar := range s.PublicRegistrars {
		registrar(s.router)
	}

	s.router.Route("/v1", func(r chi.Router) {
		for _, registrar := range s.PublicAPIRegistrars {
			registrar(r)
		}

		r.Group(func(pr chi.Router) {
			pr.Use(s.AuthMiddleware)
			for _, registrar := range s.RouteRegistrars {
				registrar(pr)
			}
		})
	})

	s.router.Get("/health", s.HandleHealth)
}
