// Package core provides the API chassis for the pro-learn platform. It
// creates the chi router and enforces cross-cutting concerns -- recovery,
// request IDs, logging, timeouts, and error formatting -- before requests
// reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ammrshmbng/pro-learn/internal/config"
)

// Server encapsulates the shared dependencies of the HTTP API, allowing for
// injection during testing and distinct configuration per environment.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// Authenticator resolves bearer tokens for the /v1 surface. Nil
	// disables authentication (chassis tests).
	Authenticator Authenticator

	// HealthProbes are checked concurrently by the /health endpoint.
	HealthProbes []HealthProbe

	// RouteRegistrars are populated by the application entry point and
	// mounted under /v1 behind AuthMiddleware. This indirection avoids
	// import cycles between core and handler packages.
	RouteRegistrars []func(chi.Router)

	// PublicAPIRegistrars are mounted under /v1 without auth (login).
	PublicAPIRegistrars []func(chi.Router)

	// PublicRegistrars are mounted at the router root, outside /v1 and
	// outside the auth-sensitive surface (webhooks, health).
	PublicRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes the server chassis. The caller is responsible for
// appending route registrars and calling MountRoutes afterwards; this
// separation lets tests customize route registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server-owned resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")
	s.Logger.Info("server shutdown complete")
	return nil
}

// requestTimeout returns the configured soft request deadline.
func (s *Server) requestTimeout() time.Duration {
	if s.Config.Server.RequestTimeout > 0 {
		return s.Config.Server.RequestTimeout
	}
	return 29 * time.Second
}
