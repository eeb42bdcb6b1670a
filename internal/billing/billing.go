// Package billing links users to Stripe subscriptions: it hands out
// Checkout and Billing Portal URLs and mirrors subscription state from
// Stripe webhooks into the store.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/obs"
)

func logger() *slog.Logger { return obs.Pkg("billing") }

// Subscription is the slice of a Stripe subscription we persist.
type Subscription struct {
	ID               string
	CustomerID       string
	PriceID          string
	CurrentPeriodEnd time.Time
}

// Gateway is the Stripe surface the service needs.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, userID, email, priceID, returnURL string) (url string, err error)
	CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (url string, err error)
	GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error)
	IsMock() bool
}

type Config struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	BaseURL       string
}

// IsActive reports whether a stored subscription still grants paid access.
type IsActive func(db.Subscription) bool

type Service struct {
	config   Config
	gateway  Gateway
	store    db.SubscriptionStore
	isActive IsActive
}

func NewService(cfg Config, gateway Gateway, store db.SubscriptionStore, isActive IsActive) *Service {
	return &Service{
		config:   cfg,
		gateway:  gateway,
		store:    store,
		isActive: isActive,
	}
}

func (s *Service) IsMock() bool { return s.gateway.IsMock() }

// ManageURL returns a Billing Portal URL for subscribed users and a
// Checkout URL for everyone else. Both return to the settings page.
func (s *Service) ManageURL(ctx context.Context, user auth.User) (string, error) {
	returnURL := s.config.BaseURL + "/settings"

	sub, err := s.store.GetSubscription(ctx, user.ID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return "", fmt.Errorf("get subscription: %w", err)
	}
	if err == nil && sub.StripeCustomerID != "" && s.isActive(sub) {
		url, err := s.gateway.CreatePortalSession(ctx, sub.StripeCustomerID, returnURL)
		if err != nil {
			return "", err
		}
		obs.From(ctx).Info("billing_portal_session_created")
		return url, nil
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, user.ID, user.Email, s.config.PriceID, returnURL)
	if err != nil {
		return "", err
	}
	obs.From(ctx).Info("billing_checkout_session_created")
	return url, nil
}

// StripeGateway calls the Stripe API.
type StripeGateway struct{}

// NewStripeGateway sets the global Stripe key.
func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = secretKey
	logger().Info("stripe_gateway_initialized")
	return &StripeGateway{}
}

func (g *StripeGateway) IsMock() bool { return false }

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, userID, email, priceID, returnURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		BillingAddressCollection: stripe.String(
			string(stripe.CheckoutSessionBillingAddressCollectionAuto),
		),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(returnURL),
		CancelURL:         stripe.String(returnURL),
		ClientReferenceID: stripe.String(userID),
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata("userId", userID)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, stripeCustomerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(stripeCustomerID),
		ReturnURL: stripe.String(returnURL),
	}

	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (Subscription, error) {
	params := &stripe.SubscriptionParams{}
	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}
	return fromStripe(sub), nil
}

func fromStripe(sub *stripe.Subscription) Subscription {
	out := Subscription{ID: sub.ID}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
		}
	}
	return out
}
