package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examforge/examforge/internal/auth"
	"github.com/examforge/examforge/internal/billing"
	"github.com/examforge/examforge/internal/exam"
	"github.com/examforge/examforge/internal/quota"
	"github.com/examforge/examforge/internal/server"
	"github.com/examforge/examforge/internal/subscription"
	"github.com/examforge/examforge/pkg/jwt"
)

type fakeProvider struct {
	sessions map[string]*billing.CheckoutState
	events   map[string]billing.Event
}

func (p *fakeProvider) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{
		URL:       "https://checkout.example/" + req.PlanKey,
		SessionID: "txn_test",
	}, nil
}

func (p *fakeProvider) GetCheckout(_ context.Context, sessionID string) (*billing.CheckoutState, error) {
	state, ok := p.sessions[sessionID]
	if !ok {
		return nil, billing.ErrCheckoutNotFound
	}
	return state, nil
}

func (p *fakeProvider) EnsureCustomer(_ context.Context, req billing.CustomerRequest) (string, error) {
	return fmt.Sprintf("ctm_%d", req.UserID), nil
}

func (p *fakeProvider) CustomerUserIDTag(context.Context, string) (string, error) {
	return "", nil
}

func (p *fakeProvider) TransactionPriceIDs(context.Context, string) ([]string, error) {
	return nil, nil
}

func (p *fakeProvider) CreatePortalLink(_ context.Context, customerID string, _ []string) (string, error) {
	return "https://portal.example/" + customerID, nil
}

func (p *fakeProvider) ParseWebhook(_ context.Context, payload []byte, signature string) (billing.Event, error) {
	if signature != "valid" {
		return nil, billing.ErrSignatureVerification
	}
	event, ok := p.events[string(payload)]
	if !ok {
		return nil, billing.ErrMalformedPayload
	}
	return event, nil
}

type fakeUserStore struct {
	nextID int64
	byID   map[int64]*auth.User
	hashes map[string]string
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: make(map[int64]*auth.User), hashes: make(map[string]string)}
}

func (s *fakeUserStore) Create(_ context.Context, email, name, passwordHash string) (*auth.User, error) {
	if _, taken := s.hashes[email]; taken {
		return nil, auth.ErrEmailTaken
	}
	s.nextID++
	user := &auth.User{ID: s.nextID, Email: email, Name: name, CreatedAt: time.Now()}
	s.byID[user.ID] = user
	s.hashes[email] = passwordHash
	return user, nil
}

func (s *fakeUserStore) ByEmail(_ context.Context, email string) (*auth.User, string, error) {
	for _, user := range s.byID {
		if user.Email == email {
			return user, s.hashes[email], nil
		}
	}
	return nil, "", auth.ErrUserNotFound
}

func (s *fakeUserStore) ByID(_ context.Context, id int64) (*auth.User, error) {
	user, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return user, nil
}

func (s *fakeUserStore) Exists(_ context.Context, id int64) (bool, error) {
	_, ok := s.byID[id]
	return ok, nil
}

type fakeQuotaStore struct {
	limits map[int64]int64
	usage  map[string]int64
}

func (s *fakeQuotaStore) ActivePlanLimit(_ context.Context, userID int64) (int64, error) {
	limit, ok := s.limits[userID]
	if !ok {
		return 0, quota.ErrNoActiveSubscription
	}
	return limit, nil
}

func (s *fakeQuotaStore) Usage(_ context.Context, userID int64, monthKey string) (int64, error) {
	return s.usage[fmt.Sprintf("%d/%s", userID, monthKey)], nil
}

func (s *fakeQuotaStore) Increment(_ context.Context, userID int64, monthKey string) error {
	s.usage[fmt.Sprintf("%d/%s", userID, monthKey)]++
	return nil
}

type fixture struct {
	handler  http.Handler
	provider *fakeProvider
	users    *fakeUserStore
	quotas   *fakeQuotaStore
	store    *subscription.MemoryStore
	tokens   *jwt.Service
	authSvc  *auth.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tokens, err := jwt.NewFromString("test-signing-key-of-adequate-size")
	require.NoError(t, err)

	provider := &fakeProvider{
		sessions: make(map[string]*billing.CheckoutState),
		events:   make(map[string]billing.Event),
	}
	users := newFakeUserStore()
	quotas := &fakeQuotaStore{limits: make(map[int64]int64), usage: make(map[string]int64)}
	store := subscription.NewMemoryStore()
	registry := &fakeRegistry{plans: []subscription.Plan{
		{ID: 2, Key: "pleno", Name: "Pleno", PriceID: "pri_pleno", ExamsPerMonth: 5},
	}}

	authSvc := auth.NewService(users, tokens, time.Hour)
	reconciler := subscription.NewReconciler(
		store,
		subscription.NewIdentityResolver(provider),
		subscription.NewPlanResolver(registry, provider, nil),
		provider,
		authSvc,
		nil,
	)
	billingSvc := subscription.NewBillingService(
		provider, store, registry,
		"https://app.example/success", "https://app.example/cancel", nil,
	)
	tracker := quota.NewTracker(quotas)

	examStore := &fakeExamStore{exams: map[int64]*exam.Exam{
		1: {
			ID:    1,
			Title: "Go Basics",
			Questions: []exam.Question{
				{Number: 1, Question: "Q1", Options: []string{"a", "b"}, Answer: "a"},
				{Number: 2, Question: "Q2", Options: []string{"a", "b"}, Answer: "b"},
			},
			TotalQuestions: 2,
		},
	}}

	handler := server.NewRouter(server.Deps{
		Tokens:     tokens,
		Auth:       authSvc,
		Reconciler: reconciler,
		Billing:    billingSvc,
		Provider:   provider,
		Tracker:    tracker,
		Exams:      exam.NewService(examStore, tracker, nil),
	})

	return &fixture{
		handler:  handler,
		provider: provider,
		users:    users,
		quotas:   quotas,
		store:    store,
		tokens:   tokens,
		authSvc:  authSvc,
	}
}

type fakeRegistry struct {
	plans []subscription.Plan
}

func (r *fakeRegistry) ByID(_ context.Context, id int64) (*subscription.Plan, error) {
	for i := range r.plans {
		if r.plans[i].ID == id {
			p := r.plans[i]
			return &p, nil
		}
	}
	return nil, subscription.ErrPlanNotFound
}

func (r *fakeRegistry) ByKey(_ context.Context, key string) (*subscription.Plan, error) {
	for i := range r.plans {
		if r.plans[i].Key == key {
			p := r.plans[i]
			return &p, nil
		}
	}
	return nil, subscription.ErrPlanNotFound
}

func (r *fakeRegistry) ByPriceID(_ context.Context, priceID string) (*subscription.Plan, error) {
	for i := range r.plans {
		if r.plans[i].PriceID == priceID {
			p := r.plans[i]
			return &p, nil
		}
	}
	return nil, subscription.ErrPlanNotFound
}

func (r *fakeRegistry) ByNameCandidates(_ context.Context, names []string) (*subscription.Plan, error) {
	return nil, subscription.ErrPlanNotFound
}

func (r *fakeRegistry) HealPriceID(_ context.Context, planID int64, priceID string) error {
	return nil
}

func (r *fakeRegistry) All(_ context.Context) ([]subscription.Plan, error) {
	return r.plans, nil
}

type fakeExamStore struct {
	exams map[int64]*exam.Exam
}

func (s *fakeExamStore) ListExams(context.Context) ([]exam.Summary, error) {
	var out []exam.Summary
	for _, ex := range s.exams {
		out = append(out, exam.Summary{ID: ex.ID, Title: ex.Title, TotalQuestions: ex.TotalQuestions})
	}
	return out, nil
}

func (s *fakeExamStore) GetExam(_ context.Context, examID int64) (*exam.Exam, error) {
	ex, ok := s.exams[examID]
	if !ok {
		return nil, exam.ErrExamNotFound
	}
	return ex, nil
}

func (s *fakeExamStore) SaveAttempt(_ context.Context, attempt *exam.Attempt, _ []exam.AnswerDetail) (int64, error) {
	return 1, nil
}

func (s *fakeExamStore) AttemptDetails(context.Context, int64, int64) ([]exam.AnswerDetail, error) {
	return nil, exam.ErrAttemptNotFound
}

func (f *fixture) register(t *testing.T, email string) (int64, string) {
	t.Helper()

	user, err := f.authSvc.Register(context.Background(), email, "Test User", "password123")
	require.NoError(t, err)
	token, _, err := f.authSvc.Login(context.Background(), email, "password123")
	require.NoError(t, err)
	return user.ID, token
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "dev@example.com", "name": "Dev", "password": "password123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "dev@example.com", "name": "Dev", "password": "password123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "dev@example.com", "password": "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)

	rec = f.do(http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "dev@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "password123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "dev@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthenticatedRoutesRequireToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, path := range []string{"/api/exams", "/api/me"} {
		rec := f.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestWebhookSignatureFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", strings.NewReader(`{}`))
	req.Header.Set("Paddle-Signature", "bogus")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, f.store.RowCount())
}

func TestWebhookProcessesCheckout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID, _ := f.register(t, "dev@example.com")

	payload := `{"event": "checkout"}`
	f.provider.events[payload] = billing.CheckoutCompleted{
		TransactionID:  "txn_1",
		SubscriptionID: "sub_1",
		Paid:           true,
		OccurredAt:     time.Now(),
		Identity:       billing.IdentitySignals{UserIDTag: fmt.Sprintf("%d", userID)},
		Plan:           billing.PlanSignals{PlanDBIDTag: "2"},
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", strings.NewReader(payload))
	req.Header.Set("Paddle-Signature", "valid")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":true`)
	assert.Equal(t, 1, f.store.EntitledCount(userID))
}

func TestConfirmCheckoutStatusMapping(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID, token := f.register(t, "dev@example.com")
	_, otherToken := f.register(t, "other@example.com")

	f.provider.sessions["txn_1"] = &billing.CheckoutState{
		SessionID:      "txn_1",
		SubscriptionID: "sub_1",
		Paid:           false,
		CreatedAt:      time.Now(),
		Identity:       billing.IdentitySignals{UserIDTag: fmt.Sprintf("%d", userID)},
		Plan:           billing.PlanSignals{PlanDBIDTag: "2"},
	}

	body := map[string]string{"session_id": "txn_1"}

	rec := f.do(http.MethodPost, "/api/checkout/confirm", otherToken, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/checkout/confirm", token, body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.provider.sessions["txn_1"].Paid = true
	rec = f.do(http.MethodPost, "/api/checkout/confirm", token, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"active"`)
}

func TestCreateCheckoutUnknownPlan(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, token := f.register(t, "dev@example.com")

	rec := f.do(http.MethodPost, "/api/checkout", token, map[string]string{"plan": "enterprise"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCheckoutReturnsURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, token := f.register(t, "dev@example.com")

	rec := f.do(http.MethodPost, "/api/checkout", token, map[string]string{"plan": "pleno"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://checkout.example/pleno")
}

func TestBillingPortalWithoutCustomer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, token := f.register(t, "dev@example.com")

	rec := f.do(http.MethodPost, "/api/billing-portal", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExamAccessDeniedWithoutSubscription(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, token := f.register(t, "dev@example.com")

	rec := f.do(http.MethodGet, "/api/exams/1", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "no active subscription")
}

func TestExamAccessDeniedOverQuota(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID, token := f.register(t, "dev@example.com")
	f.quotas.limits[userID] = 1
	f.quotas.usage[fmt.Sprintf("%d/%s", userID, quota.MonthKey(time.Now()))] = 1

	rec := f.do(http.MethodGet, "/api/exams/1", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota exceeded")
}

func TestExamViewHidesAnswers(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID, token := f.register(t, "dev@example.com")
	f.quotas.limits[userID] = 5

	rec := f.do(http.MethodGet, "/api/exams/1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"answer"`)
	assert.Contains(t, rec.Body.String(), `"options"`)
}

func TestSubmitExamReturnsScore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID, token := f.register(t, "dev@example.com")
	f.quotas.limits[userID] = 5

	rec := f.do(http.MethodPost, "/api/exams/1/submit", token, map[string]any{
		"answers": []string{"a", "a"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"score":1`)
}

func TestMeReportsSubscriptionAndUsage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID, token := f.register(t, "dev@example.com")

	rec := f.do(http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"subscription":null`)

	// Activate a plan through the webhook path, then the profile reflects it.
	payload := `{"event": "checkout"}`
	f.provider.events[payload] = billing.CheckoutCompleted{
		TransactionID:  "txn_1",
		SubscriptionID: "sub_1",
		Paid:           true,
		OccurredAt:     time.Now(),
		Identity:       billing.IdentitySignals{UserIDTag: fmt.Sprintf("%d", userID)},
		Plan:           billing.PlanSignals{PlanDBIDTag: "2"},
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paddle", strings.NewReader(payload))
	req.Header.Set("Paddle-Signature", "valid")
	f.handler.ServeHTTP(httptest.NewRecorder(), req)

	f.quotas.limits[userID] = 5
	rec = f.do(http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plan":"pleno"`)
	assert.Contains(t, rec.Body.String(), `"limit":5`)
}
