package subscription

import "errors"

var (
	ErrPlanNotFound         = errors.New("subscription plan not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUserNotFound         = errors.New("user not found for billing event")

	ErrIdentityUnresolved = errors.New("could not resolve user identity from billing event")
	ErrPlanUnresolved     = errors.New("could not resolve plan from billing event")

	ErrPaymentNotConfirmed      = errors.New("checkout payment not confirmed yet")
	ErrSessionOwnershipMismatch = errors.New("checkout session does not belong to this user")
	ErrNoBillingCustomer        = errors.New("no billing customer recorded for user")

	ErrInvalidPeriod = errors.New("subscription period end precedes period start")
)
