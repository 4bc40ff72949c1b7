// Package config defines the global configuration structure for the
// pro-learn platform. Configuration is loaded once at process startup and is
// immutable thereafter, following 12-Factor principles.
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public dashboard URL used to build checkout redirect URLs server-side
	// (no trailing slash). Building these from config rather than request
	// bodies avoids open-redirect issues.
	DashboardURL   string        `envconfig:"DASHBOARD_URL" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// BillingConfig holds Stripe integration credentials and webhook policy.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// Stripe Price IDs for the recurring plan intervals.
	MonthlyPriceID string `envconfig:"STRIPE_PRICE_MONTHLY" validate:"required"`
	YearlyPriceID  string `envconfig:"STRIPE_PRICE_YEARLY" validate:"required"`

	// PersistCanceled controls whether a subscription event with a
	// non-accepted terminal status (e.g. "canceled") overwrites the stored
	// record instead of being skipped. The historical behavior is to skip,
	// which leaves stale "active" data in place; this flag lets operators
	// opt into overwriting.
	PersistCanceled bool `envconfig:"BILLING_PERSIST_CANCELED" default:"false"`
}

// AuthConfig holds session management settings.
type AuthConfig struct {
	SessionDuration time.Duration `envconfig:"SESSION_DURATION" default:"168h"`
}
