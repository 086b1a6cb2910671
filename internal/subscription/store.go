package subscription

import (
	"context"
	"time"
)

// Store defines ledger persistence. All multi-statement mutations run in
// a single transaction; the unique provider subscription id is the
// serialization point for concurrent writers.
type Store interface {
	// ActivateCheckout transactionally cancels the user's current
	// active/trialing rows (excluding the one being upserted) and upserts
	// a ledger row keyed by the provider subscription id. Re-delivery of
	// the same external id updates the same row, never inserts a second.
	ActivateCheckout(ctx context.Context, params ActivateCheckoutParams) (*Subscription, error)

	// SetStatusByProviderID flips the status of the row owning the
	// provider subscription id. Returns false when no row exists.
	SetStatusByProviderID(ctx context.Context, providerSubID string, status Status, occurredAt time.Time) (bool, error)

	// SyncProviderState mirrors the processor's status and period bounds
	// onto the ledger row, refusing to regress state already written by a
	// newer event. Returns false when no row matched or the event was stale.
	SyncProviderState(ctx context.Context, params SyncProviderStateParams) (bool, error)

	// ActiveForUser returns the user's single active-or-trialing row, or
	// ErrSubscriptionNotFound.
	ActiveForUser(ctx context.Context, userID int64) (*Subscription, error)

	// LatestCustomerID returns the most recently updated provider customer
	// id recorded for the user, or ErrNoBillingCustomer.
	LatestCustomerID(ctx context.Context, userID int64) (string, error)
}

// ActivateCheckoutParams describes the cancel-then-upsert transaction.
type ActivateCheckoutParams struct {
	UserID                 int64
	PlanID                 int64
	ProviderSubscriptionID string
	ProviderCustomerID     string
	Status                 Status
	PeriodStart            time.Time
	PeriodEnd              time.Time
	OccurredAt             time.Time
}

// Validate rejects parameter sets that would break ledger invariants.
func (p ActivateCheckoutParams) Validate() error {
	if p.PeriodEnd.Before(p.PeriodStart) {
		return ErrInvalidPeriod
	}
	return nil
}

// SyncProviderStateParams mirrors a subscription-updated event.
type SyncProviderStateParams struct {
	ProviderSubscriptionID string
	Status                 Status
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	OccurredAt             time.Time
}
