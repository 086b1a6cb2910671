package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	config   PaddleConfig
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if config.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", config.Environment)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
		config:   config,
	}, nil
}

// CreateCheckout creates a hosted checkout transaction in Paddle with the
// internal user and plan ids attached as custom data.
func (p *PaddleProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, ErrMissingPriceID
	}
	if req.UserID <= 0 {
		return nil, errors.New("internal user ID is required")
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	transactionReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"user_id":    fmt.Sprintf("%d", req.UserID),
			"plan_db_id": fmt.Sprintf("%d", req.PlanDBID),
			"plan_key":   req.PlanKey,
		},
	}

	if req.CustomerID != "" {
		transactionReq.CustomerID = paddle.PtrTo(req.CustomerID)
	}
	if req.Email != "" {
		transactionReq.CustomData["email"] = req.Email
	}
	if req.SuccessURL != "" {
		transactionReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	transaction, err := p.client.TransactionsClient.CreateTransaction(ctx, transactionReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle transaction: %w", err)
	}

	if transaction.Checkout == nil || transaction.Checkout.URL == nil {
		return nil, ErrNoCheckoutURL
	}

	return &CheckoutSession{
		URL:       *transaction.Checkout.URL,
		SessionID: transaction.ID,
		// Paddle checkout links typically expire in 24 hours.
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// GetCheckout re-fetches a checkout transaction for the synchronous
// confirmation path.
func (p *PaddleProvider) GetCheckout(ctx context.Context, sessionID string) (*CheckoutState, error) {
	if sessionID == "" {
		return nil, ErrCheckoutNotFound
	}

	transaction, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paddle transaction %s: %w", sessionID, err)
	}

	state := &CheckoutState{
		SessionID: transaction.ID,
		Paid:      isPaidStatus(string(transaction.Status)),
		CreatedAt: parsePaddleTime(transaction.CreatedAt),
	}
	if transaction.SubscriptionID != nil {
		state.SubscriptionID = *transaction.SubscriptionID
	}
	if transaction.CustomerID != nil {
		state.CustomerID = *transaction.CustomerID
	}

	custom := customDataMap(transaction.CustomData)
	state.Identity = IdentitySignals{
		UserIDTag:  customString(custom, "user_id"),
		ClientRef:  customString(custom, "client_reference_id"),
		CustomerID: state.CustomerID,
	}
	state.Plan = PlanSignals{
		PlanDBIDTag:   customString(custom, "plan_db_id"),
		PlanKey:       customString(custom, "plan_key"),
		TransactionID: transaction.ID,
	}
	for _, item := range transaction.Items {
		if item.Price.ID != "" {
			state.Plan.PriceID = item.Price.ID
			break
		}
	}

	return state, nil
}

// EnsureCustomer creates a Paddle customer tagged with the internal user id.
// Callers are expected to reuse a stored customer id before calling this.
func (p *PaddleProvider) EnsureCustomer(ctx context.Context, req CustomerRequest) (string, error) {
	customer, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email: req.Email,
		Name:  paddle.PtrTo(req.Name),
		CustomData: paddle.CustomData{
			"user_id": fmt.Sprintf("%d", req.UserID),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer: %w", err)
	}
	return customer.ID, nil
}

// CustomerUserIDTag reads the internal-user-id tag from the Paddle
// customer record's custom data.
func (p *PaddleProvider) CustomerUserIDTag(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", ErrMissingCustomerID
	}

	customer, err := p.client.CustomersClient.GetCustomer(ctx, &paddle.GetCustomerRequest{
		CustomerID: customerID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch paddle customer %s: %w", customerID, err)
	}

	return customString(customDataMap(customer.CustomData), "user_id"), nil
}

// TransactionPriceIDs re-fetches a transaction's line items and returns
// their price ids, used as the plan resolver's last resort.
func (p *PaddleProvider) TransactionPriceIDs(ctx context.Context, transactionID string) ([]string, error) {
	transaction, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: transactionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paddle transaction %s: %w", transactionID, err)
	}

	var priceIDs []string
	for _, item := range transaction.Items {
		if item.Price.ID != "" {
			priceIDs = append(priceIDs, item.Price.ID)
		}
	}
	return priceIDs, nil
}

// CreatePortalLink returns a pre-authenticated Paddle customer portal URL.
func (p *PaddleProvider) CreatePortalLink(ctx context.Context, customerID string, subscriptionIDs []string) (string, error) {
	if customerID == "" {
		return "", ErrMissingCustomerID
	}

	portalSession, err := p.client.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, &paddle.CreateCustomerPortalSessionRequest{
		CustomerID:      customerID,
		SubscriptionIDs: subscriptionIDs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create paddle customer portal session: %w", err)
	}

	if portalSession.URLs.General.Overview == "" {
		return "", ErrNoPortalURL
	}
	return portalSession.URLs.General.Overview, nil
}

// ParseWebhook verifies the Paddle signature and normalizes the payload
// into an Event. Unverifiable payloads fail before any field is read.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureVerification, err)
	}
	if !valid {
		return nil, ErrSignatureVerification
	}

	return mapPaddleEvent(payload)
}

// mapPaddleEvent converts a verified Paddle webhook payload into the
// normalized event union. Returns (nil, nil) for event kinds the
// reconciler does not consume.
func mapPaddleEvent(payload []byte) (Event, error) {
	var paddleEvent struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}

	if err := json.Unmarshal(payload, &paddleEvent); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if paddleEvent.EventType == "" || paddleEvent.Data == nil {
		return nil, ErrMalformedPayload
	}

	occurredAt := parsePaddleTime(paddleEvent.OccurredAt)
	data := paddleEvent.Data

	switch paddleEvent.EventType {
	case "transaction.completed":
		custom, _ := data["custom_data"].(map[string]any)
		event := CheckoutCompleted{
			TransactionID: stringField(data, "id"),
			CustomerID:    stringField(data, "customer_id"),
			Paid:          isPaidStatus(stringField(data, "status")),
			OccurredAt:    occurredAt,
		}
		if event.TransactionID == "" {
			return nil, ErrMalformedPayload
		}
		event.SubscriptionID = stringField(data, "subscription_id")
		event.Identity = IdentitySignals{
			UserIDTag:  customString(custom, "user_id"),
			ClientRef:  customString(custom, "client_reference_id"),
			CustomerID: event.CustomerID,
		}
		event.Plan = PlanSignals{
			PlanDBIDTag:   customString(custom, "plan_db_id"),
			PlanKey:       customString(custom, "plan_key"),
			PriceID:       firstItemPriceID(data),
			TransactionID: event.TransactionID,
		}
		return event, nil

	case "transaction.payment_succeeded":
		subID := stringField(data, "subscription_id")
		if subID == "" {
			// One-off checkouts have no recurring subscription to flip.
			return nil, nil
		}
		return PaymentSucceeded{SubscriptionID: subID, OccurredAt: occurredAt}, nil

	case "transaction.payment_failed":
		subID := stringField(data, "subscription_id")
		if subID == "" {
			return nil, nil
		}
		return PaymentFailed{SubscriptionID: subID, OccurredAt: occurredAt}, nil

	case "subscription.updated":
		event := SubscriptionUpdated{
			SubscriptionID: stringField(data, "id"),
			Status:         stringField(data, "status"),
			OccurredAt:     occurredAt,
		}
		if event.SubscriptionID == "" || event.Status == "" {
			return nil, ErrMalformedPayload
		}
		if period, ok := data["current_billing_period"].(map[string]any); ok {
			event.PeriodStart = timeField(period, "starts_at")
			event.PeriodEnd = timeField(period, "ends_at")
		}
		return event, nil

	case "subscription.canceled":
		event := SubscriptionCanceled{
			SubscriptionID: stringField(data, "id"),
			OccurredAt:     occurredAt,
		}
		if event.SubscriptionID == "" {
			return nil, ErrMalformedPayload
		}
		return event, nil
	}

	return nil, nil
}

func isPaidStatus(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "paid":
		return true
	}
	return false
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func customString(custom map[string]any, key string) string {
	if custom == nil {
		return ""
	}
	switch v := custom[key].(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; id tags are always integral.
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

func customDataMap(custom paddle.CustomData) map[string]any {
	return map[string]any(custom)
}

func firstItemPriceID(data map[string]any) string {
	items, ok := data["items"].([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	item, ok := items[0].(map[string]any)
	if !ok {
		return ""
	}
	if price, ok := item["price"].(map[string]any); ok {
		return stringField(price, "id")
	}
	return stringField(item, "price_id")
}

func timeField(data map[string]any, key string) *time.Time {
	raw := stringField(data, key)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func parsePaddleTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}
