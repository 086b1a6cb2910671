package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/examforge/examforge/internal/billing"
)

// BillingService drives the processor-facing user flows: checkout
// creation and the customer billing portal. It reuses the ledger's
// recorded customer id so one user never accumulates multiple processor
// customers.
type BillingService struct {
	provider billing.Provider
	store    Store
	registry Registry
	log      *slog.Logger

	successURL string
	cancelURL  string
}

// NewBillingService creates the billing flow service.
func NewBillingService(provider billing.Provider, store Store, registry Registry, successURL, cancelURL string, log *slog.Logger) *BillingService {
	if provider == nil {
		panic("subscription: billing provider is required")
	}
	if store == nil {
		panic("subscription: ledger store is required")
	}
	if registry == nil {
		panic("subscription: plan registry is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &BillingService{
		provider:   provider,
		store:      store,
		registry:   registry,
		log:        log,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// CreateCheckout returns the hosted checkout URL for the plan, embedding
// the internal user id and resolved plan id as custom data so webhook and
// confirmation events correlate back without guesswork.
func (s *BillingService) CreateCheckout(ctx context.Context, userID int64, email, name, planKey string) (string, error) {
	plan, err := s.registry.ByKey(ctx, planKey)
	if err != nil {
		return "", err
	}

	customerID, err := s.store.LatestCustomerID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNoBillingCustomer) {
			return "", err
		}
		customerID, err = s.provider.EnsureCustomer(ctx, billing.CustomerRequest{
			UserID: userID,
			Email:  email,
			Name:   name,
		})
		if err != nil {
			return "", fmt.Errorf("failed to create billing customer: %w", err)
		}
		s.log.InfoContext(ctx, "billing customer created", "user_id", userID, "customer_id", customerID)
	}

	session, err := s.provider.CreateCheckout(ctx, billing.CheckoutRequest{
		PriceID:    plan.PriceID,
		CustomerID: customerID,
		UserID:     userID,
		PlanDBID:   plan.ID,
		PlanKey:    plan.Key,
		Email:      email,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		return "", err
	}

	s.log.InfoContext(ctx, "checkout session created",
		"user_id", userID, "plan", plan.Key, "session_id", session.SessionID)
	return session.URL, nil
}

// PortalLink returns a pre-authenticated billing portal URL for the
// user's recorded processor customer.
func (s *BillingService) PortalLink(ctx context.Context, userID int64) (string, error) {
	customerID, err := s.store.LatestCustomerID(ctx, userID)
	if err != nil {
		return "", err
	}

	var subscriptionIDs []string
	if sub, err := s.store.ActiveForUser(ctx, userID); err == nil && sub.ProviderSubscriptionID != "" {
		subscriptionIDs = append(subscriptionIDs, sub.ProviderSubscriptionID)
	}

	return s.provider.CreatePortalLink(ctx, customerID, subscriptionIDs)
}

// ActiveSubscription returns the user's qualifying ledger row joined to
// its plan, for profile and dashboard views.
func (s *BillingService) ActiveSubscription(ctx context.Context, userID int64) (*Subscription, *Plan, error) {
	sub, err := s.store.ActiveForUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	plan, err := s.registry.ByID(ctx, sub.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return sub, plan, nil
}
