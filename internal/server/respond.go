package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/examforge/examforge/internal/auth"
	"github.com/examforge/examforge/internal/billing"
	"github.com/examforge/examforge/internal/exam"
	"github.com/examforge/examforge/internal/quota"
	"github.com/examforge/examforge/internal/subscription"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps domain errors to HTTP statuses. Business denials get
// client statuses; anything unrecognized is a server fault.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "email is already registered"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid email or password"
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, "user not found"

	case errors.Is(err, subscription.ErrSessionOwnershipMismatch):
		return http.StatusForbidden, "checkout session belongs to another user"
	case errors.Is(err, subscription.ErrPaymentNotConfirmed):
		return http.StatusConflict, "payment is not confirmed yet"
	case errors.Is(err, subscription.ErrPlanNotFound):
		return http.StatusNotFound, "plan not found"
	case errors.Is(err, subscription.ErrNoBillingCustomer),
		errors.Is(err, subscription.ErrSubscriptionNotFound):
		return http.StatusNotFound, "no subscription found"
	case errors.Is(err, billing.ErrCheckoutNotFound):
		return http.StatusNotFound, "checkout session not found"

	case errors.Is(err, quota.ErrNoActiveSubscription):
		return http.StatusForbidden, "no active subscription"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusForbidden, "monthly exam quota exceeded"

	case errors.Is(err, exam.ErrExamNotFound):
		return http.StatusNotFound, "exam not found"
	case errors.Is(err, exam.ErrAttemptNotFound):
		return http.StatusNotFound, "attempt not found"
	}
	return http.StatusInternalServerError, "internal server error"
}

func respondError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	writeError(w, status, message)
}
