// Package handlers contains the HTTP handler implementations for the
// pro-learn API.
//
// This file implements the Stripe webhook endpoint: signature-verified
// ingestion of provider events, dispatch by event kind, idempotent purchase
// recording, and subscription-state upsert with status filtering.
//
// The handler is NOT behind auth middleware -- it is called directly by
// Stripe. Security is provided by verifying the Stripe-Signature header.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ammrshmbng/pro-learn/internal/billing"
	"github.com/ammrshmbng/pro-learn/internal/external"
	"github.com/ammrshmbng/pro-learn/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook
// payload (64 KB). Stripe payloads are small; the limit protects against
// abuse.
const maxWebhookBodySize = 64 * 1024

// ---------------------------------------------------------------------------
// Interfaces for webhook handler dependencies
// ---------------------------------------------------------------------------

// IdentityResolver maps an external Stripe customer ID to the internal user.
// This is the subset of UserRepository the webhook handler needs.
type IdentityResolver interface {
	// GetByStripeCustomerID returns the user owning the customer ID, or an
	// AppError with code not_found_user when no mapping exists.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*types.User, error)
}

// PurchaseRecorder writes idempotent purchase records.
type PurchaseRecorder interface {
	// Record inserts the purchase unless one with the same external payment
	// ID already exists. Returns created=false on replay.
	Record(ctx context.Context, p *types.Purchase) (created bool, err error)
}

// SubscriptionUpserter replaces the user's subscription snapshot in place.
type SubscriptionUpserter interface {
	Upsert(ctx context.Context, s *types.Subscription) error
}

// ---------------------------------------------------------------------------
// Stripe Webhook Handler
// ---------------------------------------------------------------------------

// StripeWebhookHandler handles asynchronous events from Stripe. Each
// delivery is an independent, stateless unit of work: the handler holds no
// per-request state and relies on the store's constraints (unique payment
// ID, one subscription row per user) for safety under concurrent and
// replayed deliveries.
type StripeWebhookHandler struct {
	verifier  external.WebhookVerifier
	users     IdentityResolver
	purchases PurchaseRecorder
	subs      SubscriptionUpserter
	periods   billing.PeriodDefaulter
	policy    billing.StatusPolicy
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	users IdentityResolver,
	purchases PurchaseRecorder,
	subs SubscriptionUpserter,
	periods billing.PeriodDefaulter,
	policy billing.StatusPolicy,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		users:     users,
		purchases: purchases,
		subs:      subs,
		periods:   periods,
		policy:    policy,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Kept separate from the
// authenticated API surface because webhook routes are public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes an incoming Stripe webhook delivery.
//
//  1. Reads the raw body (exact bytes are required for verification).
//  2. Verifies the Stripe-Signature header against the signing secret.
//  3. Parses the event envelope and routes by event type.
//  4. Responds 200 with an empty body on success, including intentional
//     no-ops (unhandled kinds, subscription-mode checkouts, rejected
//     statuses) so the provider stops redelivering.
//  5. Responds 400 with a short plaintext reason on signature failure or
//     any handler error, so the provider redelivers later. Internal error
//     detail is never echoed to the caller.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error_kind", string(types.ErrCodeWebhookSignatureInvalid),
			"error", err,
		)
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.WarnContext(r.Context(), "failed to parse webhook event JSON",
			"error_kind", string(types.ErrCodeWebhookEventMalformed),
			"error", err,
		)
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error_kind", errorKind(err),
			"error", err,
		)
		// Non-2xx triggers provider-side redelivery; that is the only
		// retry mechanism this system relies on.
		http.Error(w, "event processing failed", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// routeEvent dispatches the event to exactly one handler based on its type.
// Unrecognized kinds are a logged no-op, not an error: the provider emits
// more event kinds than this core cares about.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case external.EventSubCreated, external.EventSubUpdated:
		return h.handleSubscriptionUpsert(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted processes checkout.session.completed events by
// recording an idempotent purchase for the paying user.
//
// Checkouts flagged as subscription-mode are skipped: subscription state is
// established by the customer.subscription.* lifecycle events, not by the
// checkout event, to avoid double-sourcing it.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	session, err := event.checkoutSession()
	if err != nil {
		return types.NewAppError(types.ErrCodeWebhookEventMalformed, "undecodable checkout session object", err)
	}

	if session.Mode == external.CheckoutModeSubscription {
		h.logger.InfoContext(ctx, "skipping subscription-mode checkout",
			"event_id", event.ID,
			"session_id", session.ID,
		)
		return nil
	}

	courseID := session.Metadata["course_id"]
	if courseID == "" || session.Customer == "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodeWebhookEventMalformed,
			"checkout session missing course_id or customer",
			nil,
			map[string]any{"event_id": event.ID},
		)
	}

	user, err := h.users.GetByStripeCustomerID(ctx, session.Customer)
	if err != nil {
		if isNotFoundUser(err) {
			// Fatal for this event: a purchase cannot be credited without
			// a payer. Escalated so the provider redelivers; the identity
			// linkage usually exists by then.
			return types.NewAppError(
				types.ErrCodeWebhookIdentityNotFound,
				"no user for checkout customer",
				err,
			)
		}
		return err
	}

	purchase := &types.Purchase{
		ID:              "pur_" + uuid.New().String(),
		UserID:          user.ID,
		CourseID:        courseID,
		AmountCents:     session.AmountTotal,
		StripePaymentID: session.ID,
	}

	created, err := h.purchases.Record(ctx, purchase)
	if err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "checkout completed",
		"event_id", event.ID,
		"user_id", user.ID,
		"course_id", courseID,
		"stripe_payment_id", session.ID,
		"created", created,
	)
	return nil
}

// handleSubscriptionUpsert processes customer.subscription.created and
// customer.subscription.updated events. Every accepted event fully replaces
// the user's stored subscription snapshot.
func (h *StripeWebhookHandler) handleSubscriptionUpsert(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscription()
	if err != nil {
		return types.NewAppError(types.ErrCodeWebhookEventMalformed, "undecodable subscription object", err)
	}

	status := types.SubscriptionStatus(sub.Status)
	if !h.policy.Accepts(status) {
		h.logger.WarnContext(ctx, "subscription status rejected",
			"event_id", event.ID,
			"stripe_subscription_id", sub.ID,
			"rejected_status", sub.Status,
		)
		return nil
	}

	user, err := h.users.GetByStripeCustomerID(ctx, sub.Customer)
	if err != nil {
		if isNotFoundUser(err) {
			// Absorbed, not escalated: a subscription event may arrive
			// before the identity's checkout linkage has propagated.
			// Crash-looping the endpoint over a transient gap helps nobody.
			h.logger.WarnContext(ctx, "no user for subscription customer",
				"event_id", event.ID,
				"stripe_customer_id", sub.Customer,
			)
			return nil
		}
		return err
	}

	start, end := h.periods.Bounds(sub.CurrentPeriodStart, sub.CurrentPeriodEnd)

	record := &types.Subscription{
		ID:                   "sub_" + uuid.New().String(),
		UserID:               user.ID,
		StripeSubscriptionID: sub.ID,
		Status:               status,
		PlanInterval:         billing.NormalizeInterval(sub.planInterval()),
		CurrentPeriodStart:   start,
		CurrentPeriodEnd:     end,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		LastEventAt:          event.timestamp(),
	}

	if err := h.subs.Upsert(ctx, record); err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "subscription upserted",
		"event_id", event.ID,
		"event_type", event.Type,
		"user_id", user.ID,
		"stripe_subscription_id", sub.ID,
		"status", sub.Status,
	)
	return nil
}

// isNotFoundUser reports whether the error chain carries the not_found_user
// code.
func isNotFoundUser(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser
}

// errorKind extracts the error code from an AppError chain for diagnostics.
func errorKind(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return string(appErr.Code)
	}
	return string(types.ErrCodeInternalUnexpected)
}

// ---------------------------------------------------------------------------
// Stripe Event Parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to extract the fields needed for routing and processing. We avoid
// the full stripe.Event type to keep the handler decoupled from the
// stripe-go object model and to make testing straightforward.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

// stripeEventData wraps the event data object.
type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeCheckoutSessionObj holds the minimal fields of a
// checkout.session.completed event's data object.
type stripeCheckoutSessionObj struct {
	ID          string            `json:"id"`
	Mode        string            `json:"mode"`
	Customer    string            `json:"customer"`
	AmountTotal int64             `json:"amount_total"`
	Metadata    map[string]string `json:"metadata"`
}

// stripeSubscriptionObj holds the minimal fields of a
// customer.subscription.* event's data object.
type stripeSubscriptionObj struct {
	ID                 string         `json:"id"`
	Customer           string         `json:"customer"`
	Status             string         `json:"status"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	CurrentPeriodStart int64          `json:"current_period_start"`
	CurrentPeriodEnd   int64          `json:"current_period_end"`
	Items              stripeSubItems `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Plan stripeSubPlan `json:"plan"`
}

type stripeSubPlan struct {
	Interval string `json:"interval"`
}

// timestamp returns the event's created time.
func (e *stripeWebhookEvent) timestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// checkoutSession decodes the event data object as a checkout session.
func (e *stripeWebhookEvent) checkoutSession() (*stripeCheckoutSessionObj, error) {
	var session stripeCheckoutSessionObj
	if err := json.Unmarshal(e.Data.Object, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// subscription decodes the event data object as a subscription.
func (e *stripeWebhookEvent) subscription() (*stripeSubscriptionObj, error) {
	var sub stripeSubscriptionObj
	if err := json.Unmarshal(e.Data.Object, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// planInterval returns the first item's plan interval, or empty when the
// payload carries no items.
func (s *stripeSubscriptionObj) planInterval() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Plan.Interval
}
