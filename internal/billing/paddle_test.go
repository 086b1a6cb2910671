package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPaddleEventTransactionCompleted(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_type": "transaction.completed",
		"occurred_at": "2025-06-10T12:00:00Z",
		"data": {
			"id": "txn_1",
			"subscription_id": "sub_1",
			"customer_id": "ctm_1",
			"status": "completed",
			"custom_data": {"user_id": "42", "plan_db_id": 7, "plan_key": "pleno"},
			"items": [{"price": {"id": "pri_pleno"}}]
		}
	}`)

	event, err := mapPaddleEvent(payload)
	require.NoError(t, err)

	checkout, ok := event.(CheckoutCompleted)
	require.True(t, ok)
	assert.Equal(t, "txn_1", checkout.TransactionID)
	assert.Equal(t, "sub_1", checkout.SubscriptionID)
	assert.True(t, checkout.Paid)
	assert.Equal(t, "42", checkout.Identity.UserIDTag)
	// Numeric custom data values normalize to their decimal string form.
	assert.Equal(t, "7", checkout.Plan.PlanDBIDTag)
	assert.Equal(t, "pleno", checkout.Plan.PlanKey)
	assert.Equal(t, "pri_pleno", checkout.Plan.PriceID)
	assert.Equal(t, time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC), checkout.OccurredAt)
}

func TestMapPaddleEventUnpaidTransaction(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_type": "transaction.completed",
		"occurred_at": "2025-06-10T12:00:00Z",
		"data": {"id": "txn_1", "status": "billed"}
	}`)

	event, err := mapPaddleEvent(payload)
	require.NoError(t, err)

	checkout, ok := event.(CheckoutCompleted)
	require.True(t, ok)
	assert.False(t, checkout.Paid)
}

func TestMapPaddleEventPaymentWithoutSubscriptionIsDropped(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_type": "transaction.payment_succeeded",
		"occurred_at": "2025-06-10T12:00:00Z",
		"data": {"id": "txn_1"}
	}`)

	event, err := mapPaddleEvent(payload)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestMapPaddleEventPaymentFailed(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_type": "transaction.payment_failed",
		"occurred_at": "2025-06-10T12:00:00Z",
		"data": {"id": "txn_1", "subscription_id": "sub_1"}
	}`)

	event, err := mapPaddleEvent(payload)
	require.NoError(t, err)

	failed, ok := event.(PaymentFailed)
	require.True(t, ok)
	assert.Equal(t, "sub_1", failed.SubscriptionID)
}

func TestMapPaddleEventSubscriptionUpdated(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_type": "subscription.updated",
		"occurred_at": "2025-06-10T12:00:00Z",
		"data": {
			"id": "sub_1",
			"status": "past_due",
			"current_billing_period": {
				"starts_at": "2025-06-01T00:00:00Z",
				"ends_at": "2025-07-01T00:00:00Z"
			}
		}
	}`)

	event, err := mapPaddleEvent(payload)
	require.NoError(t, err)

	updated, ok := event.(SubscriptionUpdated)
	require.True(t, ok)
	assert.Equal(t, "sub_1", updated.SubscriptionID)
	assert.Equal(t, "past_due", updated.Status)
	require.NotNil(t, updated.PeriodStart)
	require.NotNil(t, updated.PeriodEnd)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), *updated.PeriodEnd)
}

func TestMapPaddleEventSubscriptionCanceled(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_type": "subscription.canceled",
		"occurred_at": "2025-06-10T12:00:00Z",
		"data": {"id": "sub_1"}
	}`)

	event, err := mapPaddleEvent(payload)
	require.NoError(t, err)

	canceled, ok := event.(SubscriptionCanceled)
	require.True(t, ok)
	assert.Equal(t, "sub_1", canceled.SubscriptionID)
}

func TestMapPaddleEventUnconsumedKind(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"event_type": "address.created",
		"occurred_at": "2025-06-10T12:00:00Z",
		"data": {"id": "add_1"}
	}`)

	event, err := mapPaddleEvent(payload)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestMapPaddleEventMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string][]byte{
		"not json":       []byte(`{`),
		"missing type":   []byte(`{"data": {"id": "x"}}`),
		"missing data":   []byte(`{"event_type": "transaction.completed"}`),
		"missing txn id": []byte(`{"event_type": "transaction.completed", "data": {"status": "completed"}}`),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := mapPaddleEvent(payload)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}
