// Package subscription keeps the internal billing ledger consistent with
// the payment processor's asynchronous event stream and the synchronous
// checkout confirmation flow. The ledger is the source of truth for which
// plan a user is on and until when.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/examforge/examforge/internal/billing"
)

// DefaultAccessWindow is the access period granted by a one-off checkout
// transaction that carries no recurring subscription period of its own.
const DefaultAccessWindow = 30 * 24 * time.Hour

// UserDirectory checks that the user a billing event resolves to exists.
type UserDirectory interface {
	Exists(ctx context.Context, userID int64) (bool, error)
}

// CheckoutSource re-fetches checkout sessions for the synchronous
// confirmation path.
type CheckoutSource interface {
	GetCheckout(ctx context.Context, sessionID string) (*billing.CheckoutState, error)
}

// Reconciler applies billing events to the ledger under transactional,
// idempotent, at-most-one-active-plan semantics. Webhook deliveries and
// client confirmation calls converge on the same store operations, so
// both paths are safe to run concurrently for the same external id.
type Reconciler struct {
	store     Store
	identity  *IdentityResolver
	plans     *PlanResolver
	checkouts CheckoutSource
	users     UserDirectory
	log       *slog.Logger

	now          func() time.Time
	accessWindow time.Duration
}

// ReconcilerOption configures optional Reconciler settings.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithAccessWindow overrides the one-off checkout access period.
func WithAccessWindow(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.accessWindow = d
		}
	}
}

// NewReconciler creates the reconciler. Panics on nil required
// dependencies to fail fast during initialization.
func NewReconciler(store Store, identity *IdentityResolver, plans *PlanResolver, checkouts CheckoutSource, users UserDirectory, log *slog.Logger, opts ...ReconcilerOption) *Reconciler {
	if store == nil {
		panic("subscription: ledger store is required")
	}
	if identity == nil {
		panic("subscription: identity resolver is required")
	}
	if plans == nil {
		panic("subscription: plan resolver is required")
	}
	if checkouts == nil {
		panic("subscription: checkout source is required")
	}
	if users == nil {
		panic("subscription: user directory is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	r := &Reconciler{
		store:        store,
		identity:     identity,
		plans:        plans,
		checkouts:    checkouts,
		users:        users,
		log:          log,
		now:          time.Now,
		accessWindow: DefaultAccessWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleEvent applies one verified billing event to the ledger. A nil
// event (an unconsumed kind) is a no-op. Returned errors signal the
// delivery mechanism to retry later; idempotent upserts make redelivery
// safe.
func (r *Reconciler) HandleEvent(ctx context.Context, event billing.Event) error {
	switch e := event.(type) {
	case nil:
		return nil

	case billing.CheckoutCompleted:
		return r.applyCheckout(ctx, checkoutStateFromEvent(e))

	case billing.PaymentSucceeded:
		return r.flipStatus(ctx, e.SubscriptionID, StatusActive, e.OccurredAt)

	case billing.PaymentFailed:
		return r.flipStatus(ctx, e.SubscriptionID, StatusPastDue, e.OccurredAt)

	case billing.SubscriptionUpdated:
		applied, err := r.store.SyncProviderState(ctx, SyncProviderStateParams{
			ProviderSubscriptionID: e.SubscriptionID,
			Status:                 mirrorStatus(e.Status),
			PeriodStart:            e.PeriodStart,
			PeriodEnd:              e.PeriodEnd,
			OccurredAt:             e.OccurredAt,
		})
		if err != nil {
			return err
		}
		if !applied {
			r.log.InfoContext(ctx, "subscription update skipped",
				"provider_subscription_id", e.SubscriptionID, "occurred_at", e.OccurredAt)
		}
		return nil

	case billing.SubscriptionCanceled:
		return r.flipStatus(ctx, e.SubscriptionID, StatusCanceled, e.OccurredAt)

	default:
		r.log.WarnContext(ctx, "unhandled billing event", "event", fmt.Sprintf("%T", event))
		return nil
	}
}

// ConfirmCheckout is the synchronous path invoked by the authenticated
// client right after redirect-back, so webhook latency never blocks the
// success screen. It re-fetches the session, verifies ownership and
// payment, and runs the same cancel-then-upsert as the async path.
func (r *Reconciler) ConfirmCheckout(ctx context.Context, callerUserID int64, sessionID string) (*Subscription, error) {
	state, err := r.checkouts.GetCheckout(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// The session must carry the caller's identity tag. Customer-record
	// lookup is deliberately excluded here: only checkout-time tags prove
	// the session was created for this user.
	sessionUserID := parsePositiveInt(state.Identity.UserIDTag)
	if sessionUserID == 0 {
		sessionUserID = parsePositiveInt(state.Identity.ClientRef)
	}
	if sessionUserID == 0 || sessionUserID != callerUserID {
		return nil, ErrSessionOwnershipMismatch
	}

	if !state.Paid {
		return nil, ErrPaymentNotConfirmed
	}

	planID, err := r.plans.ResolvePlanID(ctx, state.Plan)
	if err != nil {
		return nil, err
	}

	sub, err := r.activate(ctx, callerUserID, planID, state, StatusActive)
	if err != nil {
		return nil, err
	}

	r.log.InfoContext(ctx, "checkout confirmed",
		"user_id", callerUserID, "plan_id", planID,
		"provider_subscription_id", sub.ProviderSubscriptionID)
	return sub, nil
}

// applyCheckout handles the async checkout-completed event: resolve
// identity and plan, verify the user exists, then cancel-and-upsert.
func (r *Reconciler) applyCheckout(ctx context.Context, state *billing.CheckoutState) error {
	userID, err := r.identity.ResolveUserID(ctx, state.Identity)
	if err != nil {
		return err
	}

	planID, err := r.plans.ResolvePlanID(ctx, state.Plan)
	if err != nil {
		return err
	}

	exists, err := r.users.Exists(ctx, userID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: user %d", ErrUserNotFound, userID)
	}

	status := StatusActive
	if !state.Paid {
		status = StatusPending
	}

	sub, err := r.activate(ctx, userID, planID, state, status)
	if err != nil {
		return err
	}

	r.log.InfoContext(ctx, "checkout reconciled",
		"user_id", userID, "plan_id", planID, "status", status,
		"provider_subscription_id", sub.ProviderSubscriptionID)
	return nil
}

func (r *Reconciler) activate(ctx context.Context, userID, planID int64, state *billing.CheckoutState, status Status) (*Subscription, error) {
	// Recurring checkouts are keyed by the provider subscription id so
	// later subscription.* events land on the same row; one-off
	// transactions fall back to the transaction id.
	externalID := state.SubscriptionID
	if externalID == "" {
		externalID = state.SessionID
	}

	periodStart := state.CreatedAt
	if periodStart.IsZero() {
		periodStart = r.now().UTC()
	}

	return r.store.ActivateCheckout(ctx, ActivateCheckoutParams{
		UserID:                 userID,
		PlanID:                 planID,
		ProviderSubscriptionID: externalID,
		ProviderCustomerID:     state.CustomerID,
		Status:                 status,
		PeriodStart:            periodStart,
		PeriodEnd:              periodStart.Add(r.accessWindow),
		OccurredAt:             periodStart,
	})
}

// flipStatus applies a direct status transition keyed by the provider
// subscription id. A missing row is logged, not failed: retrying the
// delivery cannot create the row, and the checkout event that will is on
// its own delivery schedule.
func (r *Reconciler) flipStatus(ctx context.Context, providerSubID string, status Status, occurredAt time.Time) error {
	updated, err := r.store.SetStatusByProviderID(ctx, providerSubID, status, occurredAt)
	if err != nil {
		return err
	}
	if !updated {
		r.log.WarnContext(ctx, "status event for unknown subscription",
			"provider_subscription_id", providerSubID, "status", status)
		return nil
	}

	r.log.InfoContext(ctx, "subscription status updated",
		"provider_subscription_id", providerSubID, "status", status)
	return nil
}

// mirrorStatus maps a processor-reported status onto the ledger's status
// set, defaulting unknown values to canceled to fail closed.
func mirrorStatus(providerStatus string) Status {
	switch Status(providerStatus) {
	case StatusActive, StatusTrialing, StatusPastDue, StatusPending, StatusCanceled:
		return Status(providerStatus)
	}
	switch providerStatus {
	case "cancelled":
		return StatusCanceled
	case "paused":
		return StatusPastDue
	}
	return StatusCanceled
}

func checkoutStateFromEvent(e billing.CheckoutCompleted) *billing.CheckoutState {
	return &billing.CheckoutState{
		SessionID:      e.TransactionID,
		SubscriptionID: e.SubscriptionID,
		CustomerID:     e.CustomerID,
		Paid:           e.Paid,
		CreatedAt:      e.OccurredAt,
		Identity:       e.Identity,
		Plan:           e.Plan,
	}
}
