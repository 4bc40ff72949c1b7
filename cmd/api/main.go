// Package main is the entry point for the pro-learn API server.
//
// It loads configuration, opens the PostgreSQL pool, wires the repositories,
// the payment provider client, and the HTTP handlers onto the core chassis,
// then serves until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ammrshmbng/pro-learn/internal/api/handlers"
	"github.com/ammrshmbng/pro-learn/internal/auth"
	"github.com/ammrshmbng/pro-learn/internal/billing"
	"github.com/ammrshmbng/pro-learn/internal/config"
	"github.com/ammrshmbng/pro-learn/internal/core"
	"github.com/ammrshmbng/pro-learn/internal/db"
	"github.com/ammrshmbng/pro-learn/internal/external"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("pro-learn API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.NewPool(ctx, cfg.Database)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	userRepo := db.NewUserRepository(pool)
	courseRepo := db.NewCourseRepository(pool)
	purchaseRepo := db.NewPurchaseRepository(pool, logger)
	subRepo := db.NewSubscriptionRepository(pool, logger)
	sessionRepo := db.NewSessionRepository(pool)

	// Payment provider client.
	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: 30 * time.Second},
		userRepo,
		external.NewStripeClientConfig(cfg.Billing, logger),
	)

	// Auth service.
	authService := auth.NewService(auth.ServiceConfig{
		Users:           userRepo,
		Sessions:        sessionRepo,
		SessionDuration: cfg.Auth.SessionDuration,
		Logger:          logger,
	})

	// Server chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = authService
	srv.HealthProbes = append(srv.HealthProbes, &db.HealthProbe{Pool: pool})

	// Billing policy shared by the webhook pipeline and the access checks.
	statusPolicy := billing.StatusPolicy{PersistCanceled: cfg.Billing.PersistCanceled}

	// Webhook handler (public; secured by provider signature).
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		userRepo,
		purchaseRepo,
		subRepo,
		billing.NewPeriodDefaulter(nil),
		statusPolicy,
		cfg.Billing.StripeWebhookSecret.Unmask(),
		logger,
	)
	srv.PublicRegistrars = append(srv.PublicRegistrars, webhookHandler.RegisterRoutes)

	// Authenticated API handlers.
	authHandler := handlers.NewAuthHandler(authService, logger)
	srv.PublicAPIRegistrars = append(srv.PublicAPIRegistrars, authHandler.RegisterPublicRoutes)
	srv.RouteRegistrars = append(srv.RouteRegistrars, authHandler.RegisterRoutes)

	billingHandler := handlers.NewBillingHandler(
		stripeClient,
		courseRepo,
		subRepo,
		cfg.Server.DashboardURL,
		logger,
	)
	srv.RouteRegistrars = append(srv.RouteRegistrars, billingHandler.RegisterRoutes)

	coursesHandler := handlers.NewCoursesHandler(
		courseRepo,
		purchaseRepo,
		subRepo,
		statusPolicy,
		nil,
		logger,
	)
	srv.RouteRegistrars = append(srv.RouteRegistrars, coursesHandler.RegisterRoutes)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the HTTP listener with graceful shutdown on
// SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a JSON slog.Logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
