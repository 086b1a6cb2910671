// Package server exposes the HTTP API: auth, checkout and billing
// portal flows, the payment webhook endpoint, and the quota-gated exam
// surface.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/examforge/examforge/internal/auth"
	"github.com/examforge/examforge/internal/billing"
	"github.com/examforge/examforge/internal/exam"
	"github.com/examforge/examforge/internal/quota"
	"github.com/examforge/examforge/internal/subscription"
	"github.com/examforge/examforge/pkg/jwt"
)

// Deps carries the wired services the router serves.
type Deps struct {
	Log        *slog.Logger
	Tokens     *jwt.Service
	Auth       *auth.Service
	Reconciler *subscription.Reconciler
	Billing    *subscription.BillingService
	Provider   billing.Provider
	Tracker    *quota.Tracker
	Exams      *exam.Service
	DBHealth   func(context.Context) error
}

// NewRouter builds the chi router with the full route table.
func NewRouter(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = slog.New(slog.DiscardHandler)
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.health)

	// Webhook deliveries authenticate by payload signature, not session.
	r.Post("/webhooks/paddle", h.webhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(jwt.Middleware(deps.Tokens))
			r.Use(requireUser)

			r.Post("/checkout", h.createCheckout)
			r.Post("/checkout/confirm", h.confirmCheckout)
			r.Post("/billing-portal", h.billingPortal)

			r.Get("/exams", h.listExams)
			r.Get("/exams/{id}", h.getExam)
			r.Post("/exams/{id}/submit", h.submitExam)
			r.Get("/attempts/{id}", h.attemptDetails)

			r.Get("/me", h.me)
		})
	})

	return r
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.deps.DBHealth != nil {
		if err := h.deps.DBHealth(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userIDKey struct{}

// requireUser lifts the authenticated user id out of the token claims.
// Tokens without a usable uid claim are rejected.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := jwt.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing session")
			return
		}
		userID := auth.UserIDFromClaims(claims)
		if userID == 0 {
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey{}).(int64)
	return id
}
