package subscription

import "time"

// Status represents the current state of a ledger row.
type Status string

const (
	StatusActive   Status = "active"
	StatusTrialing Status = "trialing"
	StatusPastDue  Status = "past_due"
	StatusPending  Status = "pending"
	StatusCanceled Status = "canceled"
)

// Entitles reports whether the status grants plan access.
func (s Status) Entitles() bool {
	return s == StatusActive || s == StatusTrialing
}

// Subscription is a row of the ledger, the source of truth for which plan
// a user is on and until when. Rows are never deleted, only
// status-transitioned to canceled.
type Subscription struct {
	ID                     int64
	UserID                 int64
	PlanID                 int64
	ProviderSubscriptionID string // globally unique; idempotency key for upserts
	ProviderCustomerID     string
	Status                 Status
	PeriodStart            *time.Time
	PeriodEnd              *time.Time
	LastEventAt            *time.Time // processor-side timestamp of the last applied event
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsActive returns true if the subscription is active (paid).
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsCanceled returns true if the subscription reached its terminal state.
func (s *Subscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// ExpiredAt reports whether the access period has ended at the given time.
// A nil period end never expires.
func (s *Subscription) ExpiredAt(now time.Time) bool {
	if s.PeriodEnd == nil {
		return false
	}
	return now.After(*s.PeriodEnd)
}

// Plan describes a subscription plan: the registry maps its key and the
// processor's price id to a monthly exam allowance.
type Plan struct {
	ID            int64
	Key           string // stable machine key ("junior", "pleno", "senior")
	Name          string // display name, may carry accents ("Júnior")
	PriceID       string // processor price reference; self-healed on drift
	ExamsPerMonth int64
	PriceAmount   int64 // smallest currency unit
	Currency      string
}
