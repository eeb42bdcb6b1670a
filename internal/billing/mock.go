package billing

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// MockGateway stands in for Stripe in --test and --no-stripe runs.
type MockGateway struct {
	mu            sync.Mutex
	subscriptions map[string]Subscription
}

func NewMockGateway() *MockGateway {
	logger().Info("stripe_gateway_mock")
	return &MockGateway{subscriptions: make(map[string]Subscription)}
}

func (m *MockGateway) IsMock() bool { return true }

func (m *MockGateway) CreateCheckoutSession(ctx context.Context, userID, email, priceID, returnURL string) (string, error) {
	return returnURL + "?mock_checkout=" + url.QueryEscape(userID), nil
}

func (m *MockGateway) CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (string, error) {
	return returnURL + "?mock_portal=" + url.QueryEscape(stripeCustomerID), nil
}

// PutSubscription registers a subscription GetSubscription will return.
func (m *MockGateway) PutSubscription(sub Subscription) {
	m.mu.Lock()
	m.subscriptions[sub.ID] = sub
	m.mu.Unlock()
}

// GetSubscription returns a registered subscription, or a monthly one for
// unknown ids.
func (m *MockGateway) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	if subscriptionID == "" {
		return Subscription{}, fmt.Errorf("get subscription: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionID]; ok {
		return sub, nil
	}
	return Subscription{
		ID:               subscriptionID,
		CustomerID:       "cus_mock",
		PriceID:          "price_mock",
		CurrentPeriodEnd: time.Now().Add(30 * 24 * time.Hour).UTC().Truncate(time.Second),
	}, nil
}
