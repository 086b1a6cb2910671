// Package quota enforces the monthly exam allowance tied to a user's
// active subscription plan. Every decision re-reads current ledger truth;
// nothing is cached across requests.
package quota

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoActiveSubscription denies access when the user has no
	// qualifying active-or-trialing subscription. Expected business
	// denial, not a system error.
	ErrNoActiveSubscription = errors.New("no active subscription")

	// ErrQuotaExceeded denies access when monthly usage reached the
	// plan's allowance.
	ErrQuotaExceeded = errors.New("monthly exam quota exceeded")
)

// Store reads plan allowance and usage counters.
type Store interface {
	// ActivePlanLimit returns the exam allowance of the user's
	// active-or-trialing subscription's plan, or ErrNoActiveSubscription.
	ActivePlanLimit(ctx context.Context, userID int64) (int64, error)

	// Usage returns the exams taken by the user in the given month,
	// defaulting to zero when no counter row exists.
	Usage(ctx context.Context, userID int64, monthKey string) (int64, error)

	// Increment atomically bumps the user's counter for the month,
	// creating it at 1 when absent. Never decrements.
	Increment(ctx context.Context, userID int64, monthKey string) error
}

// Tracker gates exam access against the subscription ledger and the
// monthly usage counter.
type Tracker struct {
	store Store
	now   func() time.Time
}

// Option configures optional Tracker settings.
type Option func(*Tracker)

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a quota tracker over the given store.
func NewTracker(store Store, opts ...Option) *Tracker {
	if store == nil {
		panic("quota: store is required")
	}
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MonthKey formats a time as the usage counter's month bucket.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// CurrentMonthKey returns the bucket for the tracker's current wall clock.
func (t *Tracker) CurrentMonthKey() string {
	return MonthKey(t.now())
}

// CanTakeExam allows the exam when the user holds a qualifying
// subscription and has allowance remaining this month. Denials come back
// as ErrNoActiveSubscription or ErrQuotaExceeded.
func (t *Tracker) CanTakeExam(ctx context.Context, userID int64) error {
	limit, err := t.store.ActivePlanLimit(ctx, userID)
	if err != nil {
		return err
	}

	used, err := t.store.Usage(ctx, userID, t.CurrentMonthKey())
	if err != nil {
		return err
	}

	if used >= limit {
		return ErrQuotaExceeded
	}
	return nil
}

// Usage returns the user's current-month usage and plan allowance.
func (t *Tracker) Usage(ctx context.Context, userID int64) (used, limit int64, err error) {
	limit, err = t.store.ActivePlanLimit(ctx, userID)
	if err != nil {
		return 0, 0, err
	}

	used, err = t.store.Usage(ctx, userID, t.CurrentMonthKey())
	if err != nil {
		return 0, 0, err
	}
	return used, limit, nil
}

// IncrementUsage records one taken exam for the user in the given month.
// Called by the exam collaborator on successful submission.
func (t *Tracker) IncrementUsage(ctx context.Context, userID int64, monthKey string) error {
	if monthKey == "" {
		monthKey = t.CurrentMonthKey()
	}
	return t.store.Increment(ctx, userID, monthKey)
}
