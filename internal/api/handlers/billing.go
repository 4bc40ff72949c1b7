package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ammrshmbng/pro-learn/internal/core"
	"github.com/ammrshmbng/pro-learn/internal/external"
	"github.com/ammrshmbng/pro-learn/internal/types"
)

// CourseStore is the course lookup surface the billing handler needs.
type CourseStore interface {
	GetByID(ctx context.Context, id string) (*types.Course, error)
}

// SubscriptionReader fetches the stored subscription snapshot for a user.
type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID string) (*types.Subscription, error)
}

// BillingHandler exposes checkout-session creation and subscription state.
type BillingHandler struct {
	billing      external.BillingService
	courses      CourseStore
	subs         SubscriptionReader
	dashboardURL string
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(
	billing external.BillingService,
	courses CourseStore,
	subs SubscriptionReader,
	dashboardURL string,
	logger *slog.Logger,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		billing:      billing,
		courses:      courses,
		subs:         subs,
		dashboardURL: dashboardURL,
		logger:       logger,
	}
}

// RegisterRoutes mounts the billing endpoints under the authenticated group.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout-session", h.HandleCreateCheckoutSession)
	r.Post("/billing/subscription-session", h.HandleCreateSubscriptionSession)
	r.Get("/billing/subscription", h.HandleGetSubscription)
}

type checkoutSessionRequest struct {
	CourseID string `json:"course_id"`
}

type subscriptionSessionRequest struct {
	Interval string `json:"interval"`
}

type checkoutSessionResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// HandleCreateCheckoutSession starts a one-time course purchase. The user's
// provider customer is created lazily on first checkout; the course ID is
// embedded in session metadata so the completion webhook can credit the
// purchase.
func (h *BillingHandler) HandleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	user, ok := types.GetUser(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "no authenticated user", nil))
		return
	}

	var req checkoutSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.CourseID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "course_id is required", nil))
		return
	}

	course, err := h.courses.GetByID(r.Context(), req.CourseID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	customerID, err := h.billing.EnsureCustomer(r.Context(), user)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	user.StripeCustomerID = customerID

	checkoutURL, sessionID, err := h.billing.CreateCourseCheckoutSession(r.Context(), user, course, h.redirectURLs())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "course checkout session created",
		"user_id", user.ID,
		"course_id", course.ID,
		"session_id", sessionID,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: checkoutSessionResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
	}})
}

// HandleCreateSubscriptionSession starts a recurring-plan checkout for the
// requested interval ("month" or "year").
func (h *BillingHandler) HandleCreateSubscriptionSession(w http.ResponseWriter, r *http.Request) {
	user, ok := types.GetUser(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "no authenticated user", nil))
		return
	}

	var req subscriptionSessionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	var interval types.PlanInterval
	switch req.Interval {
	case string(types.IntervalMonth):
		interval = types.IntervalMonth
	case string(types.IntervalYear):
		interval = types.IntervalYear
	default:
		core.Error(w, r, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMissingField,
			"interval must be \"month\" or \"year\"",
			nil,
			map[string]any{"interval": req.Interval},
		))
		return
	}

	customerID, err := h.billing.EnsureCustomer(r.Context(), user)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	user.StripeCustomerID = customerID

	checkoutURL, sessionID, err := h.billing.CreateSubscriptionCheckoutSession(r.Context(), user, interval, h.redirectURLs())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "subscription checkout session created",
		"user_id", user.ID,
		"interval", string(interval),
		"session_id", sessionID,
	)

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: checkoutSessionResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
	}})
}

// HandleGetSubscription returns the user's stored subscription snapshot, as
// last synchronized by the webhook pipeline.
func (h *BillingHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	user, ok := types.GetUser(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "no authenticated user", nil))
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), user.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: sub})
}

// redirectURLs builds the provider redirect targets from the configured
// dashboard origin.
func (h *BillingHandler) redirectURLs() external.RedirectURLs {
	return external.RedirectURLs{
		Success: h.dashboardURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		Cancel:  h.dashboardURL + "/billing/canceled",
	}
}
