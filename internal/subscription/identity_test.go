package subscription_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/examforge/examforge/internal/billing"
	"github.com/examforge/examforge/internal/subscription"
)

type mockCustomers struct {
	mock.Mock
}

func (m *mockCustomers) CustomerUserIDTag(ctx context.Context, customerID string) (string, error) {
	args := m.Called(ctx, customerID)
	return args.String(0), args.Error(1)
}

func TestIdentityResolverTagWinsWithoutLookup(t *testing.T) {
	t.Parallel()

	customers := new(mockCustomers)
	resolver := subscription.NewIdentityResolver(customers)

	id, err := resolver.ResolveUserID(context.Background(), billing.IdentitySignals{
		UserIDTag:  "42",
		ClientRef:  "7",
		CustomerID: "ctm_1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	customers.AssertNotCalled(t, "CustomerUserIDTag", mock.Anything, mock.Anything)
}

func TestIdentityResolverClientRefSecond(t *testing.T) {
	t.Parallel()

	customers := new(mockCustomers)
	resolver := subscription.NewIdentityResolver(customers)

	id, err := resolver.ResolveUserID(context.Background(), billing.IdentitySignals{
		UserIDTag: "not-a-number",
		ClientRef: "7",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

func TestIdentityResolverCustomerLookupLast(t *testing.T) {
	t.Parallel()

	customers := new(mockCustomers)
	customers.On("CustomerUserIDTag", mock.Anything, "ctm_1").Return("42", nil)
	resolver := subscription.NewIdentityResolver(customers)

	id, err := resolver.ResolveUserID(context.Background(), billing.IdentitySignals{
		CustomerID: "ctm_1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	customers.AssertExpectations(t)
}

func TestIdentityResolverExhausted(t *testing.T) {
	t.Parallel()

	customers := new(mockCustomers)
	customers.On("CustomerUserIDTag", mock.Anything, "ctm_1").Return("", nil)
	resolver := subscription.NewIdentityResolver(customers)

	_, err := resolver.ResolveUserID(context.Background(), billing.IdentitySignals{
		UserIDTag:  "-3",
		ClientRef:  "0",
		CustomerID: "ctm_1",
	})
	assert.ErrorIs(t, err, subscription.ErrIdentityUnresolved)
}

func TestIdentityResolverLookupFailure(t *testing.T) {
	t.Parallel()

	customers := new(mockCustomers)
	customers.On("CustomerUserIDTag", mock.Anything, "ctm_1").
		Return("", errors.New("paddle unavailable"))
	resolver := subscription.NewIdentityResolver(customers)

	_, err := resolver.ResolveUserID(context.Background(), billing.IdentitySignals{
		CustomerID: "ctm_1",
	})
	assert.ErrorIs(t, err, subscription.ErrIdentityUnresolved)
}
