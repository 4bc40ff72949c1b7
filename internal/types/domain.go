// Package types defines the shared domain model and error taxonomy for the
// pro-learn platform: users, courses, one-time course purchases, and
// recurring subscriptions synchronized from the payment provider.
package types

import "time"

// SubscriptionStatus enumerates the billing states a subscription can be in.
// The values mirror the payment provider's status strings so that webhook
// payloads map onto them without translation tables.
type SubscriptionStatus string

const (
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
	SubStatusPaused            SubscriptionStatus = "paused"
)

// PlanInterval is the billing cadence of a recurring plan.
type PlanInterval string

const (
	IntervalMonth PlanInterval = "month"
	IntervalYear  PlanInterval = "year"
)

// User is the internal representation of a paying user. Exactly one Stripe
// customer ID maps to a user; the users table enforces this with a unique
// index on stripe_customer_id.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	PasswordHash     string     `json:"-"`
	StripeCustomerID string     `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"-"`
}

// Course is a purchasable course. PriceCents is the one-time purchase price
// in the smallest currency unit.
type Course struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	PriceCents  int64     `json:"price_cents"`
	CreatedAt   time.Time `json:"created_at"`
}

// Purchase records a single completed one-time course payment.
//
// StripePaymentID (the checkout session ID) is the idempotency key: it is
// unique across all purchases, so redelivery of the same completion event
// never creates a second record. Purchases are created exactly once and
// never mutated.
type Purchase struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	CourseID        string    `json:"course_id"`
	AmountCents     int64     `json:"amount_cents"`
	StripePaymentID string    `json:"stripe_payment_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Subscription is the current billing state of one user's recurring plan.
//
// At most one row exists per user. Each accepted webhook event fully
// replaces the stored snapshot (no partial-field updates); the row reflects
// the latest processed event, last write by processing order wins.
// LastEventAt carries the provider's event creation time for operator
// visibility into out-of-order processing; it does not gate writes.
type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"user_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	Status               SubscriptionStatus `json:"status"`
	PlanInterval         PlanInterval       `json:"plan_interval"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	LastEventAt          time.Time          `json:"-"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Session is a first-party dashboard session. The random session ID is the
// bearer credential; it is stored server-side with an expiry.
type Session struct {
	ID             string
	UserID         string
	IPAddress      string
	UserAgent      string
	ExpiresAt      time.Time
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }
