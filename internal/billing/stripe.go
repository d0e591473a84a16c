// Package billing resolves paid entitlements from Stripe.
//
// Stripe is the source of truth for whether a user currently holds a paid
// subscription. The application backend may lag behind it, so the quota
// engine asks Stripe directly for the tier.
package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ErrNotReady is returned when the provider cannot answer yet: no API key
// configured, or the user has no customer handle.
var ErrNotReady = errors.New("entitlement provider not ready")

// EntitlementProvider reports the paid tier a customer is entitled to.
type EntitlementProvider interface {
	// ActiveTier returns the highest tier among the customer's entitled
	// subscriptions, or TierFree when there are none.
	ActiveTier(ctx context.Context, customerID string) (domain.StorageTier, error)
}

// Service defines the interface for billing operations.
type Service interface {
	EntitlementProvider

	// VerifyWebhookSignature verifies the Stripe webhook signature and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the storage tier sold under a Stripe price ID.
	TierForPriceID(priceID string) (domain.StorageTier, bool)
}

// PriceConfig holds the Stripe price IDs for each paid tier.
type PriceConfig struct {
	PremiumMonthlyPriceID   string
	PremiumYearlyPriceID    string
	UnlimitedMonthlyPriceID string
	UnlimitedYearlyPriceID  string
}

// SubscriptionLister lists a customer's subscriptions.
type SubscriptionLister func(ctx context.Context, customerID string) ([]*stripe.Subscription, error)

// stripeService is the concrete implementation of Service.
type stripeService struct {
	ready         bool
	webhookSecret string
	priceToTier   map[string]domain.StorageTier
	list          SubscriptionLister
}

// NewStripeService creates a new Stripe billing service.
//
// An empty secretKey yields a service whose ActiveTier always returns
// ErrNotReady, so the quota engine falls back to the ledger.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return newStripeService(secretKey != "", webhookSecret, prices, listSubscriptions)
}

func newStripeService(ready bool, webhookSecret string, prices PriceConfig, list SubscriptionLister) *stripeService {
	priceToTier := make(map[string]domain.StorageTier)
	if prices.PremiumMonthlyPriceID != "" {
		priceToTier[prices.PremiumMonthlyPriceID] = domain.TierPremium
	}
	if prices.PremiumYearlyPriceID != "" {
		priceToTier[prices.PremiumYearlyPriceID] = domain.TierPremium
	}
	if prices.UnlimitedMonthlyPriceID != "" {
		priceToTier[prices.UnlimitedMonthlyPriceID] = domain.TierUnlimited
	}
	if prices.UnlimitedYearlyPriceID != "" {
		priceToTier[prices.UnlimitedYearlyPriceID] = domain.TierUnlimited
	}

	return &stripeService{
		ready:         ready,
		webhookSecret: webhookSecret,
		priceToTier:   priceToTier,
		list:          list,
	}
}

func (s *stripeService) ActiveTier(ctx context.Context, customerID string) (domain.StorageTier, error) {
	if !s.ready || customerID == "" {
		return "", ErrNotReady
	}

	subs, err := s.list(ctx, customerID)
	if err != nil {
		return "", err
	}

	tier := domain.TierFree
	for _, sub := range subs {
		if !IsEntitled(sub.Status) || sub.Items == nil {
			continue
		}
		for _, item := range sub.Items.Data {
			if item == nil || item.Price == nil {
				continue
			}
			if t, ok := s.priceToTier[item.Price.ID]; ok && tier.Less(t) {
				tier = t
			}
		}
	}
	return tier, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) (domain.StorageTier, bool) {
	tier, ok := s.priceToTier[priceID]
	return tier, ok
}

// IsEntitled reports whether a subscription in this status grants its tier.
func IsEntitled(status stripe.SubscriptionStatus) bool {
	return status == stripe.SubscriptionStatusActive || status == stripe.SubscriptionStatusTrialing
}

// listSubscriptions pages through a customer's non-canceled subscriptions.
func listSubscriptions(ctx context.Context, customerID string) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	var subs []*stripe.Subscription
	iter := subscription.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe list subscriptions: %w", err)
	}
	return subs, nil
}
