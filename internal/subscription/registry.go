package subscription

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/examforge/examforge/pkg/pg"
)

// Registry is the static plan reference data: plan key and processor
// price id mapped to a monthly exam allowance. Self-healing may rewrite
// a row's price id, never its id or allowance.
type Registry interface {
	ByID(ctx context.Context, id int64) (*Plan, error)
	ByKey(ctx context.Context, key string) (*Plan, error)
	ByPriceID(ctx context.Context, priceID string) (*Plan, error)
	// ByNameCandidates returns the first plan whose display name matches
	// any of the candidates, in candidate order.
	ByNameCandidates(ctx context.Context, names []string) (*Plan, error)
	// HealPriceID rewrites a plan's processor price reference after a
	// trustworthy alternate match confirmed the configured one drifted.
	HealPriceID(ctx context.Context, planID int64, priceID string) error
	All(ctx context.Context) ([]Plan, error)
}

const planColumns = `id, key, name, price_id, exams_per_month, price_amount, currency`

// PgRegistry is the subscription_plans-backed Registry.
type PgRegistry struct {
	pool *pgxpool.Pool
}

func NewPgRegistry(pool *pgxpool.Pool) *PgRegistry {
	if pool == nil {
		panic("subscription: pgx pool is required")
	}
	return &PgRegistry{pool: pool}
}

func (r *PgRegistry) ByID(ctx context.Context, id int64) (*Plan, error) {
	return r.one(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1`, id)
}

func (r *PgRegistry) ByKey(ctx context.Context, key string) (*Plan, error) {
	return r.one(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE key = $1`, key)
}

func (r *PgRegistry) ByPriceID(ctx context.Context, priceID string) (*Plan, error) {
	return r.one(ctx, `SELECT `+planColumns+` FROM subscription_plans WHERE price_id = $1`, priceID)
}

func (r *PgRegistry) ByNameCandidates(ctx context.Context, names []string) (*Plan, error) {
	if len(names) == 0 {
		return nil, ErrPlanNotFound
	}
	// array_position keeps candidate priority order stable in SQL.
	return r.one(ctx, `
		SELECT `+planColumns+`
		  FROM subscription_plans
		 WHERE name = ANY($1)
		 ORDER BY array_position($1, name)
		 LIMIT 1`, names)
}

func (r *PgRegistry) HealPriceID(ctx context.Context, planID int64, priceID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE subscription_plans SET price_id = $2, updated_at = now() WHERE id = $1`,
		planID, priceID,
	)
	if err != nil {
		return fmt.Errorf("failed to heal plan price reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}

func (r *PgRegistry) All(ctx context.Context) ([]Plan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Key, &p.Name, &p.PriceID, &p.ExamsPerMonth, &p.PriceAmount, &p.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (r *PgRegistry) one(ctx context.Context, query string, args ...any) (*Plan, error) {
	var p Plan
	err := r.pool.QueryRow(ctx, query, args...).
		Scan(&p.ID, &p.Key, &p.Name, &p.PriceID, &p.ExamsPerMonth, &p.PriceAmount, &p.Currency)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to query plan: %w", err)
	}
	return &p, nil
}

// planSeed is one entry of the plans.yaml seed file.
type planSeed struct {
	Key           string `yaml:"key"`
	Name          string `yaml:"name"`
	PriceID       string `yaml:"price_id"`
	ExamsPerMonth int64  `yaml:"exams_per_month"`
	PriceAmount   int64  `yaml:"price_amount"`
	Currency      string `yaml:"currency"`
}

// SeedPlans loads the plan seed file and inserts any plans missing from
// the registry. Existing rows are left untouched so self-healed price
// references survive restarts.
func SeedPlans(ctx context.Context, pool *pgxpool.Pool, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read plan seed file %s: %w", path, err)
	}

	var seeds []planSeed
	if err := yaml.Unmarshal(raw, &seeds); err != nil {
		return fmt.Errorf("failed to parse plan seed file %s: %w", path, err)
	}

	for _, seed := range seeds {
		if seed.Key == "" || seed.Name == "" || seed.ExamsPerMonth <= 0 {
			return fmt.Errorf("invalid plan seed entry %q", seed.Key)
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO subscription_plans (key, name, price_id, exams_per_month, price_amount, currency, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			ON CONFLICT (key) DO NOTHING`,
			seed.Key, seed.Name, seed.PriceID, seed.ExamsPerMonth, seed.PriceAmount, seed.Currency,
		); err != nil {
			return fmt.Errorf("failed to seed plan %q: %w", seed.Key, err)
		}
	}
	return nil
}
