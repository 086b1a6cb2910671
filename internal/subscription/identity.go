package subscription

import (
	"context"
	"errors"
	"strconv"

	"github.com/examforge/examforge/internal/billing"
)

// CustomerDirectory looks up the internal-user-id tag stored on a
// processor customer record. Costs one external call.
type CustomerDirectory interface {
	CustomerUserIDTag(ctx context.Context, customerID string) (string, error)
}

// IdentityResolver maps a billing event's identity signals to an internal
// user id. Signals are tried in priority order; the first well-formed
// positive integer wins.
type IdentityResolver struct {
	customers CustomerDirectory
}

func NewIdentityResolver(customers CustomerDirectory) *IdentityResolver {
	if customers == nil {
		panic("subscription: customer directory is required")
	}
	return &IdentityResolver{customers: customers}
}

// ResolveUserID resolves the user an event belongs to, or
// ErrIdentityUnresolved when every signal is exhausted. The error is
// fatal for the event; the delivery mechanism's own retry applies.
func (r *IdentityResolver) ResolveUserID(ctx context.Context, signals billing.IdentitySignals) (int64, error) {
	if id := parsePositiveInt(signals.UserIDTag); id > 0 {
		return id, nil
	}
	if id := parsePositiveInt(signals.ClientRef); id > 0 {
		return id, nil
	}
	if signals.CustomerID != "" {
		tag, err := r.customers.CustomerUserIDTag(ctx, signals.CustomerID)
		if err != nil {
			return 0, errors.Join(ErrIdentityUnresolved, err)
		}
		if id := parsePositiveInt(tag); id > 0 {
			return id, nil
		}
	}
	return 0, ErrIdentityUnresolved
}

// parsePositiveInt returns the value as a positive int64, or 0 for
// anything malformed, zero, or negative.
func parsePositiveInt(raw string) int64 {
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}
