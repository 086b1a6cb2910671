package subscription

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store mirroring the SQL semantics of
// PgStore, including the unique provider-subscription-id upsert and the
// single-writer cancel-then-upsert transaction. Used in tests.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*Subscription // keyed by provider subscription id
}

// NewMemoryStore returns an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Subscription)}
}

func (s *MemoryStore) ActivateCheckout(ctx context.Context, params ActivateCheckoutParams) (*Subscription, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for extID, row := range s.rows {
		if row.UserID == params.UserID && row.Status.Entitles() && extID != params.ProviderSubscriptionID {
			row.Status = StatusCanceled
			row.UpdatedAt = now
		}
	}

	occurredAt := params.OccurredAt
	periodStart := params.PeriodStart
	periodEnd := params.PeriodEnd

	row, exists := s.rows[params.ProviderSubscriptionID]
	if !exists {
		s.nextID++
		row = &Subscription{
			ID:                     s.nextID,
			ProviderSubscriptionID: params.ProviderSubscriptionID,
			CreatedAt:              now,
		}
		s.rows[params.ProviderSubscriptionID] = row
	}

	row.UserID = params.UserID
	row.PlanID = params.PlanID
	if params.ProviderCustomerID != "" {
		row.ProviderCustomerID = params.ProviderCustomerID
	}
	row.Status = params.Status
	row.PeriodStart = &periodStart
	row.PeriodEnd = &periodEnd
	row.LastEventAt = &occurredAt
	row.UpdatedAt = now

	copied := *row
	return &copied, nil
}

func (s *MemoryStore) SetStatusByProviderID(ctx context.Context, providerSubID string, status Status, occurredAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[providerSubID]
	if !ok {
		return false, nil
	}
	row.Status = status
	row.LastEventAt = &occurredAt
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) SyncProviderState(ctx context.Context, params SyncProviderStateParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[params.ProviderSubscriptionID]
	if !ok {
		return false, nil
	}
	if row.LastEventAt != nil && row.LastEventAt.After(params.OccurredAt) {
		return false, nil
	}

	occurredAt := params.OccurredAt
	row.Status = params.Status
	if params.PeriodStart != nil {
		start := *params.PeriodStart
		row.PeriodStart = &start
	}
	if params.PeriodEnd != nil {
		end := *params.PeriodEnd
		row.PeriodEnd = &end
	}
	row.LastEventAt = &occurredAt
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ActiveForUser(ctx context.Context, userID int64) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var latest *Subscription
	for _, row := range s.rows {
		if row.UserID != userID || !row.Status.Entitles() || row.ExpiredAt(now) {
			continue
		}
		if latest == nil || row.UpdatedAt.After(latest.UpdatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, ErrSubscriptionNotFound
	}
	copied := *latest
	return &copied, nil
}

func (s *MemoryStore) LatestCustomerID(ctx context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *Subscription
	for _, row := range s.rows {
		if row.UserID != userID || row.ProviderCustomerID == "" {
			continue
		}
		if latest == nil || row.UpdatedAt.After(latest.UpdatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return "", ErrNoBillingCustomer
	}
	return latest.ProviderCustomerID, nil
}

// EntitledCount reports how many of the user's rows are active or
// trialing, regardless of period expiry. Test helper for the
// at-most-one-active invariant.
func (s *MemoryStore) EntitledCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, row := range s.rows {
		if row.UserID == userID && row.Status.Entitles() {
			count++
		}
	}
	return count
}

// RowCount reports the total number of ledger rows. Test helper for
// upsert idempotency.
func (s *MemoryStore) RowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}
