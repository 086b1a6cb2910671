// Package billing abstracts the external payment processor behind a
// provider interface: hosted checkout, customer portal, and a normalized
// webhook event stream.
package billing

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrMalformedPayload      = errors.New("malformed webhook payload")
	ErrMissingPriceID        = errors.New("price ID is required")
	ErrMissingCustomerID     = errors.New("customer ID is required")
	ErrNoCheckoutURL         = errors.New("no checkout URL returned from provider")
	ErrNoPortalURL           = errors.New("no portal URL returned from provider")
	ErrCheckoutNotFound      = errors.New("checkout session not found")
)

// Provider is the minimal payment-processor surface the platform needs.
// Implementations use the official provider SDK and keep provider-specific
// quirks internal.
type Provider interface {
	// CreateCheckout creates a hosted checkout session with the internal
	// user and plan identifiers attached as custom data for later correlation.
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)

	// GetCheckout re-fetches a checkout session by id for the synchronous
	// confirmation path.
	GetCheckout(ctx context.Context, sessionID string) (*CheckoutState, error)

	// EnsureCustomer returns an existing or newly created processor
	// customer id for the given user.
	EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error)

	// CustomerUserIDTag fetches the internal-user-id tag stored on the
	// processor's customer record, if any. Costs one external call.
	CustomerUserIDTag(ctx context.Context, customerID string) (string, error)

	// TransactionPriceIDs re-fetches the line items of a checkout
	// transaction and returns their price ids.
	TransactionPriceIDs(ctx context.Context, transactionID string) ([]string, error)

	// CreatePortalLink returns a pre-authenticated customer portal URL.
	CreatePortalLink(ctx context.Context, customerID string, subscriptionIDs []string) (string, error)

	// ParseWebhook verifies the payload signature and normalizes it into
	// an Event. A nil Event with nil error means the kind is not consumed.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, error)
}

// CheckoutRequest contains data needed to create a checkout session.
type CheckoutRequest struct {
	PriceID    string
	CustomerID string // processor customer id, if already known
	UserID     int64  // internal user id, embedded as custom data
	PlanDBID   int64  // internal plan id, embedded as custom data
	PlanKey    string
	Email      string
	SuccessURL string
	CancelURL  string
}

// CheckoutSession represents a created hosted checkout.
type CheckoutSession struct {
	URL       string
	SessionID string
	ExpiresAt time.Time
}

// CheckoutState is the re-fetched state of a checkout session used by the
// synchronous confirmation path.
type CheckoutState struct {
	SessionID      string
	SubscriptionID string // empty for one-off checkouts
	CustomerID     string
	Paid           bool
	CreatedAt      time.Time
	Identity       IdentitySignals
	Plan           PlanSignals
}

// CustomerRequest identifies the user a processor customer is created for.
type CustomerRequest struct {
	UserID int64
	Email  string
	Name   string
}
