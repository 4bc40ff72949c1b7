package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ammrshmbng/pro-learn/internal/billing"
	"github.com/ammrshmbng/pro-learn/internal/core"
	"github.com/ammrshmbng/pro-learn/internal/types"
)

// PurchaseAccessStore answers whether a user has bought a specific course.
type PurchaseAccessStore interface {
	HasAccess(ctx context.Context, userID, courseID string) (bool, error)
}

// CoursesHandler exposes course metadata and access checks.
type CoursesHandler struct {
	courses   CourseStore
	purchases PurchaseAccessStore
	subs      SubscriptionReader
	policy    billing.StatusPolicy
	clock     types.Clock
	logger    *slog.Logger
}

// NewCoursesHandler creates a CoursesHandler. A nil clock falls back to real
// UTC time.
func NewCoursesHandler(
	courses CourseStore,
	purchases PurchaseAccessStore,
	subs SubscriptionReader,
	policy billing.StatusPolicy,
	clock types.Clock,
	logger *slog.Logger,
) *CoursesHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CoursesHandler{
		courses:   courses,
		purchases: purchases,
		subs:      subs,
		policy:    policy,
		clock:     clock,
		logger:    logger,
	}
}

// RegisterRoutes mounts the course endpoints under the authenticated group.
func (h *CoursesHandler) RegisterRoutes(r chi.Router) {
	r.Get("/courses/{courseID}", h.HandleGetCourse)
	r.Get("/courses/{courseID}/access", h.HandleGetAccess)
}

type accessResponse struct {
	HasAccess bool   `json:"has_access"`
	Source    string `json:"source,omitempty"`
}

// HandleGetCourse returns the course metadata.
func (h *CoursesHandler) HandleGetCourse(w http.ResponseWriter, r *http.Request) {
	course, err := h.courses.GetByID(r.Context(), chi.URLParam(r, "courseID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: course})
}

// HandleGetAccess reports whether the authenticated user can view the
// course. Access comes from either a recorded one-time purchase of that
// course or a live subscription, which unlocks the full catalog. A
// subscription counts while its status is in the accepted set and its
// current period has not lapsed.
func (h *CoursesHandler) HandleGetAccess(w http.ResponseWriter, r *http.Request) {
	user, ok := types.GetUser(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "no authenticated user", nil))
		return
	}

	courseID := chi.URLParam(r, "courseID")
	if _, err := h.courses.GetByID(r.Context(), courseID); err != nil {
		core.Error(w, r, err)
		return
	}

	purchased, err := h.purchases.HasAccess(r.Context(), user.ID, courseID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if purchased {
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: accessResponse{HasAccess: true, Source: "purchase"}})
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), user.ID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundSubscription {
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: accessResponse{HasAccess: false}})
			return
		}
		core.Error(w, r, err)
		return
	}

	if h.policy.Accepts(sub.Status) && sub.Status != types.SubStatusCanceled && h.clock.Now().Before(sub.CurrentPeriodEnd) {
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: accessResponse{HasAccess: true, Source: "subscription"}})
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: accessResponse{HasAccess: false}})
}
