package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/examforge/examforge/internal/billing"
	"github.com/examforge/examforge/internal/quota"
	"github.com/examforge/examforge/internal/subscription"
)

type createCheckoutRequest struct {
	Plan string `json:"plan"`
}

func (h *handlers) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if err := decodeJSON(r, &req); err != nil || req.Plan == "" {
		writeError(w, http.StatusBadRequest, "plan is required")
		return
	}

	userID := userIDFrom(r.Context())
	user, err := h.deps.Auth.ByID(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	url, err := h.deps.Billing.CreateCheckout(r.Context(), userID, user.Email, user.Name, req.Plan)
	if err != nil {
		if errors.Is(err, subscription.ErrPlanNotFound) {
			writeError(w, http.StatusBadRequest, "unknown plan")
			return
		}
		h.deps.Log.ErrorContext(r.Context(), "checkout creation failed",
			"user_id", userID, "plan", req.Plan, "error", err)
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type confirmCheckoutRequest struct {
	SessionID string `json:"session_id"`
}

type confirmCheckoutResponse struct {
	Status    string     `json:"status"`
	PlanID    int64      `json:"plan_id"`
	PeriodEnd *time.Time `json:"period_end,omitempty"`
}

func (h *handlers) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	var req confirmCheckoutRequest
	if err := decodeJSON(r, &req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	userID := userIDFrom(r.Context())
	sub, err := h.deps.Reconciler.ConfirmCheckout(r.Context(), userID, req.SessionID)
	if err != nil {
		h.deps.Log.WarnContext(r.Context(), "checkout confirmation rejected",
			"user_id", userID, "session_id", req.SessionID, "error", err)
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmCheckoutResponse{
		Status:    string(sub.Status),
		PlanID:    sub.PlanID,
		PeriodEnd: sub.PeriodEnd,
	})
}

func (h *handlers) billingPortal(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	url, err := h.deps.Billing.PortalLink(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, subscription.ErrNoBillingCustomer) {
			h.deps.Log.ErrorContext(r.Context(), "portal link failed", "user_id", userID, "error", err)
		}
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// webhook receives signed processor deliveries. Signature failures get
// 400 with no ledger mutation. Processing failures get 500 so the
// processor redelivers; idempotent upserts make the retry safe.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}
	defer r.Body.Close()

	event, err := h.deps.Provider.ParseWebhook(r.Context(), body, r.Header.Get("Paddle-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrSignatureVerification) || errors.Is(err, billing.ErrMalformedPayload) {
			h.deps.Log.WarnContext(r.Context(), "webhook rejected", "error", err)
			writeError(w, http.StatusBadRequest, "invalid webhook payload")
			return
		}
		h.deps.Log.ErrorContext(r.Context(), "webhook parsing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.deps.Reconciler.HandleEvent(r.Context(), event); err != nil {
		h.deps.Log.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type subscriptionView struct {
	Plan        string     `json:"plan"`
	PlanName    string     `json:"plan_name"`
	Status      string     `json:"status"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
}

type usageView struct {
	Month string `json:"month"`
	Used  int64  `json:"used"`
	Limit int64  `json:"limit"`
}

type meResponse struct {
	User         userResponse      `json:"user"`
	Subscription *subscriptionView `json:"subscription"`
	Usage        *usageView        `json:"usage"`
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	user, err := h.deps.Auth.ByID(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := meResponse{User: userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
	}}

	sub, plan, err := h.deps.Billing.ActiveSubscription(r.Context(), userID)
	switch {
	case err == nil:
		resp.Subscription = &subscriptionView{
			Plan:        plan.Key,
			PlanName:    plan.Name,
			Status:      string(sub.Status),
			PeriodStart: sub.PeriodStart,
			PeriodEnd:   sub.PeriodEnd,
		}
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		// No qualifying subscription is a normal profile state.
	default:
		respondError(w, err)
		return
	}

	used, limit, err := h.deps.Tracker.Usage(r.Context(), userID)
	switch {
	case err == nil:
		resp.Usage = &usageView{
			Month: h.deps.Tracker.CurrentMonthKey(),
			Used:  used,
			Limit: limit,
		}
	case errors.Is(err, quota.ErrNoActiveSubscription):
	default:
		respondError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
