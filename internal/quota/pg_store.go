package quota

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examforge/examforge/pkg/pg"
)

// PgStore reads allowance from the ledger join and maintains the
// monthly_exam_usage counter table.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	if pool == nil {
		panic("quota: pgx pool is required")
	}
	return &PgStore{pool: pool}
}

// ActivePlanLimit joins the user's qualifying ledger row to its plan's
// exam allowance.
func (s *PgStore) ActivePlanLimit(ctx context.Context, userID int64) (int64, error) {
	var limit int64
	err := s.pool.QueryRow(ctx, `
		SELECT sp.exams_per_month
		  FROM user_subscriptions us
		  JOIN subscription_plans sp ON sp.id = us.plan_id
		 WHERE us.user_id = $1
		   AND us.status IN ('active', 'trialing')
		   AND (us.period_end IS NULL OR us.period_end > now())
		 ORDER BY us.updated_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&limit)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return 0, ErrNoActiveSubscription
		}
		return 0, fmt.Errorf("failed to query plan allowance: %w", err)
	}
	return limit, nil
}

// Usage reads the month's counter, defaulting to zero when absent.
func (s *PgStore) Usage(ctx context.Context, userID int64, monthKey string) (int64, error) {
	var used int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(
			(SELECT exams_taken FROM monthly_exam_usage WHERE user_id = $1 AND month_year = $2),
			0)`,
		userID, monthKey,
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("failed to query monthly usage: %w", err)
	}
	return used, nil
}

// Increment is a single atomic upsert-increment; the statement's own
// atomicity is the only transaction needed.
func (s *PgStore) Increment(ctx context.Context, userID int64, monthKey string) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO monthly_exam_usage (user_id, month_year, exams_taken, created_at, updated_at)
		VALUES ($1, $2, 1, now(), now())
		ON CONFLICT (user_id, month_year)
		DO UPDATE SET exams_taken = monthly_exam_usage.exams_taken + 1, updated_at = now()`,
		userID, monthKey,
	); err != nil {
		return fmt.Errorf("failed to increment monthly usage: %w", err)
	}
	return nil
}
