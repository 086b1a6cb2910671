package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examforge/examforge/pkg/pg"
)

const subscriptionColumns = `id, user_id, plan_id, provider_subscription_id,
	COALESCE(provider_customer_id, ''), status, period_start, period_end,
	last_event_at, created_at, updated_at`

// PgStore is the PostgreSQL-backed ledger.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a ledger store on the given connection pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	if pool == nil {
		panic("subscription: pgx pool is required")
	}
	return &PgStore{pool: pool}
}

// ActivateCheckout runs the cancel-then-upsert inside one transaction so a
// failure at any point leaves the ledger untouched. The cancel excludes
// the row being upserted to avoid self-cancellation when the same external
// id is already the user's active subscription.
func (s *PgStore) ActivateCheckout(ctx context.Context, params ActivateCheckoutParams) (*Subscription, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var sub *Subscription
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE user_subscriptions
			   SET status = 'canceled', updated_at = now()
			 WHERE user_id = $1
			   AND status IN ('active', 'trialing')
			   AND provider_subscription_id <> $2`,
			params.UserID, params.ProviderSubscriptionID,
		); err != nil {
			return fmt.Errorf("failed to cancel current subscriptions: %w", err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO user_subscriptions (
				user_id, plan_id, provider_subscription_id, provider_customer_id,
				status, period_start, period_end, last_event_at, created_at, updated_at
			) VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, now(), now())
			ON CONFLICT (provider_subscription_id) DO UPDATE SET
				user_id              = EXCLUDED.user_id,
				plan_id              = EXCLUDED.plan_id,
				provider_customer_id = COALESCE(EXCLUDED.provider_customer_id, user_subscriptions.provider_customer_id),
				status               = EXCLUDED.status,
				period_start         = EXCLUDED.period_start,
				period_end           = EXCLUDED.period_end,
				last_event_at        = EXCLUDED.last_event_at,
				updated_at           = now()
			RETURNING `+subscriptionColumns,
			params.UserID, params.PlanID, params.ProviderSubscriptionID, params.ProviderCustomerID,
			params.Status, params.PeriodStart, params.PeriodEnd, params.OccurredAt,
		)

		var err error
		sub, err = scanSubscription(row)
		if err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SetStatusByProviderID flips the status of the ledger row keyed by the
// provider subscription id.
func (s *PgStore) SetStatusByProviderID(ctx context.Context, providerSubID string, status Status, occurredAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_subscriptions
		   SET status = $2, last_event_at = $3, updated_at = now()
		 WHERE provider_subscription_id = $1`,
		providerSubID, status, occurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set subscription status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SyncProviderState mirrors the processor's state onto the ledger row.
// The last_event_at guard keeps a late-arriving older event from
// regressing state written by a newer one.
func (s *PgStore) SyncProviderState(ctx context.Context, params SyncProviderStateParams) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE user_subscriptions
		   SET status        = $2,
		       period_start  = COALESCE($3, period_start),
		       period_end    = COALESCE($4, period_end),
		       last_event_at = $5,
		       updated_at    = now()
		 WHERE provider_subscription_id = $1
		   AND (last_event_at IS NULL OR last_event_at <= $5)`,
		params.ProviderSubscriptionID, params.Status,
		params.PeriodStart, params.PeriodEnd, params.OccurredAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to sync subscription state: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ActiveForUser returns the user's qualifying subscription: active or
// trialing status with an unexpired or open-ended period.
func (s *PgStore) ActiveForUser(ctx context.Context, userID int64) (*Subscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		  FROM user_subscriptions
		 WHERE user_id = $1
		   AND status IN ('active', 'trialing')
		   AND (period_end IS NULL OR period_end > now())
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		userID,
	)

	sub, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to query active subscription: %w", err)
	}
	return sub, nil
}

// LatestCustomerID returns the provider customer id from the user's most
// recently updated ledger row.
func (s *PgStore) LatestCustomerID(ctx context.Context, userID int64) (string, error) {
	var customerID string
	err := s.pool.QueryRow(ctx, `
		SELECT provider_customer_id
		  FROM user_subscriptions
		 WHERE user_id = $1
		   AND provider_customer_id IS NOT NULL
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&customerID)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", ErrNoBillingCustomer
		}
		return "", fmt.Errorf("failed to query billing customer: %w", err)
	}
	return customerID, nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	if err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.ProviderSubscriptionID,
		&sub.ProviderCustomerID, &sub.Status, &sub.PeriodStart, &sub.PeriodEnd,
		&sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &sub, nil
}
