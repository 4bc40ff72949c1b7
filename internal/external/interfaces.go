// Package external provides the anti-corruption layer between pro-learn
// domain logic and the payment provider's API. All outbound HTTP calls are
// routed through the BaseClient, which enforces consistent resilience
// patterns: circuit breaking, retries with exponential backoff, and error
// mapping.
package external

import (
	"context"

	"github.com/ammrshmbng/pro-learn/internal/types"
)

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature
	// header and signing secret. Verification is performed over the exact
	// raw bytes; any mismatch, missing header, or malformed signature
	// format returns an error (fail closed).
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventSubCreated        = "customer.subscription.created"
	EventSubUpdated        = "customer.subscription.updated"
)

// CheckoutModePayment marks a one-time checkout; CheckoutModeSubscription
// marks a recurring-plan checkout, which the purchase path must skip.
const (
	CheckoutModePayment      = "payment"
	CheckoutModeSubscription = "subscription"
)

// BillingService abstracts interactions with the payment provider.
type BillingService interface {
	// EnsureCustomer checks if the user has a Stripe customer ID, creating
	// one idempotently if not. Required before any checkout.
	EnsureCustomer(ctx context.Context, user *types.User) (customerID string, err error)

	// CreateCourseCheckoutSession generates a one-time payment Checkout URL
	// for the given course. The course ID travels in session metadata so
	// the completion webhook can credit the purchase.
	CreateCourseCheckoutSession(ctx context.Context, user *types.User, course *types.Course, urls RedirectURLs) (checkoutURL string, sessionID string, err error)

	// CreateSubscriptionCheckoutSession generates a recurring-plan Checkout
	// URL for the given interval.
	CreateSubscriptionCheckoutSession(ctx context.Context, user *types.User, interval types.PlanInterval, urls RedirectURLs) (checkoutURL string, sessionID string, err error)
}

// RedirectURLs holds the server-constructed success and cancel URLs for a
// Checkout session.
type RedirectURLs struct {
	Success string
	Cancel  string
}
