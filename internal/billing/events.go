package billing

import "time"

// Event is the closed set of billing events the reconciler consumes.
// Each variant carries only the fields its handler needs; payloads are
// validated at the provider boundary before an Event is produced.
type Event interface {
	// OccurredTime reports when the event happened at the processor,
	// used to guard against out-of-order overwrites.
	OccurredTime() time.Time

	isEvent()
}

// IdentitySignals are the user-identity hints a checkout event may carry,
// in resolution priority order.
type IdentitySignals struct {
	UserIDTag  string // internal user id embedded in checkout custom data
	ClientRef  string // client-supplied reference id
	CustomerID string // processor customer whose metadata may name the user
}

// PlanSignals are the plan hints a checkout event may carry.
type PlanSignals struct {
	PlanDBIDTag   string // internal plan id embedded in checkout custom data
	PlanKey       string // plan key (e.g. "pleno") embedded in custom data
	PriceID       string // processor price id from the first line item
	TransactionID string // for re-fetching line items as a last resort
}

// CheckoutCompleted signals that a hosted checkout finished.
// Paid distinguishes confirmed payment from a still-pending one.
type CheckoutCompleted struct {
	TransactionID  string
	SubscriptionID string // empty for one-off checkout transactions
	CustomerID     string
	Paid           bool
	OccurredAt     time.Time
	Identity       IdentitySignals
	Plan           PlanSignals
}

// PaymentSucceeded signals a successful recurring payment.
type PaymentSucceeded struct {
	SubscriptionID string
	OccurredAt     time.Time
}

// PaymentFailed signals a failed payment attempt.
type PaymentFailed struct {
	SubscriptionID string
	OccurredAt     time.Time
}

// SubscriptionUpdated mirrors the processor's subscription state.
type SubscriptionUpdated struct {
	SubscriptionID string
	Status         string
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	OccurredAt     time.Time
}

// SubscriptionCanceled signals a terminal cancellation at the processor.
type SubscriptionCanceled struct {
	SubscriptionID string
	OccurredAt     time.Time
}

func (e CheckoutCompleted) OccurredTime() time.Time    { return e.OccurredAt }
func (e PaymentSucceeded) OccurredTime() time.Time     { return e.OccurredAt }
func (e PaymentFailed) OccurredTime() time.Time        { return e.OccurredAt }
func (e SubscriptionUpdated) OccurredTime() time.Time  { return e.OccurredAt }
func (e SubscriptionCanceled) OccurredTime() time.Time { return e.OccurredAt }

func (CheckoutCompleted) isEvent()    {}
func (PaymentSucceeded) isEvent()     {}
func (PaymentFailed) isEvent()        {}
func (SubscriptionUpdated) isEvent()  {}
func (SubscriptionCanceled) isEvent() {}
