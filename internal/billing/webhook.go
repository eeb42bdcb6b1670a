package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/jacobjmc/lightpad/internal/db"
	"github.com/jacobjmc/lightpad/internal/errs"
)

// HandleWebhook verifies the Stripe signature and applies the event.
// Replays are harmless: every handler upserts the full state it sees.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.config.WebhookSecret)
	if err != nil {
		return errs.Wrap(errs.InvalidArgument, "Webhook Error", fmt.Errorf("verify webhook signature: %w", err))
	}

	log := logger().With("event_id", event.ID, "event_type", string(event.Type))

	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, event)
	case "invoice.payment_succeeded":
		err = s.handlePaymentSucceeded(ctx, event)
	case "customer.subscription.updated":
		err = s.handleSubscriptionUpdated(ctx, event, false)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionUpdated(ctx, event, true)
	default:
		log.Debug("webhook_event_ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("handle %s: %w", event.Type, err)
	}
	log.Info("webhook_event_processed")
	return nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	userID := session.ClientReferenceID
	if userID == "" {
		userID = session.Metadata["userId"]
	}
	if userID == "" {
		return errs.New(errs.InvalidArgument, "User id is required")
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return errs.New(errs.InvalidArgument, "Subscription id is required")
	}

	sub, err := s.gateway.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return err
	}
	if sub.CustomerID == "" && session.Customer != nil {
		sub.CustomerID = session.Customer.ID
	}

	return s.store.UpsertSubscription(ctx, db.Subscription{
		UserID:                 userID,
		StripeCustomerID:       sub.CustomerID,
		StripeSubscriptionID:   sub.ID,
		StripePriceID:          sub.PriceID,
		StripeCurrentPeriodEnd: sub.CurrentPeriodEnd,
	})
}

func (s *Service) handlePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}

	subscriptionID := ""
	if invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil && invoice.Parent.SubscriptionDetails.Subscription != nil {
		subscriptionID = invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	if subscriptionID == "" {
		// One-off invoice, nothing to mirror.
		return nil
	}

	sub, err := s.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	return s.refresh(ctx, sub, false)
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, event stripe.Event, deleted bool) error {
	var raw stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	return s.refresh(ctx, fromStripe(&raw), deleted)
}

// refresh updates the stored row for sub. Unknown subscriptions are
// skipped; checkout.session.completed creates rows.
func (s *Service) refresh(ctx context.Context, sub Subscription, deleted bool) error {
	existing, err := s.store.GetSubscriptionBySubscriptionID(ctx, sub.ID)
	if errors.Is(err, db.ErrNotFound) {
		logger().Warn("webhook_subscription_unknown", "subscription_id", sub.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}

	existing.StripePriceID = sub.PriceID
	if !sub.CurrentPeriodEnd.IsZero() {
		existing.StripeCurrentPeriodEnd = sub.CurrentPeriodEnd
	}
	if sub.CustomerID != "" {
		existing.StripeCustomerID = sub.CustomerID
	}
	if deleted {
		existing.StripePriceID = ""
	}
	return s.store.UpsertSubscription(ctx, existing)
}
