// Package handler contains HTTP handlers for the soundloft API.
//
// This file implements the Stripe webhook handler. Subscription lifecycle
// events open and close the post-downgrade grace period.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/soundloft/internal/billing"
	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/service"
	"github.com/stripe/stripe-go/v79"
)

// maxWebhookBody matches Stripe's documented payload ceiling.
const maxWebhookBody = 65536

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing     billing.Service
	userService service.UserService
	logger      *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, userService service.UserService, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:     billingService,
		userService: userService,
		logger:      logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC, no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook processes incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Webhooks are not tied to a user session; don't let a client disconnect
	// abort the database writes.
	ctx := context.WithoutCancel(r.Context())

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		h.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		h.handleSubscriptionDeleted(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
	}

	w.WriteHeader(http.StatusOK)
}

// handleSubscriptionChanged clears any grace period once the customer holds
// an entitled subscription again.
func (h *WebhookHandler) handleSubscriptionChanged(ctx context.Context, event stripe.Event) {
	sub, ok := h.parseSubscription(event)
	if !ok {
		return
	}

	if !billing.IsEntitled(sub.Status) {
		h.logger.Debug("subscription not entitled, grace period unchanged",
			"subscription_id", sub.ID, "status", sub.Status)
		return
	}

	if err := h.userService.EndGracePeriod(ctx, sub.Customer.ID); err != nil {
		h.logUserError(err, "failed to clear grace period", sub)
		return
	}

	h.logger.Info("subscription event processed",
		"type", event.Type, "customer_id", sub.Customer.ID, "status", sub.Status, "tier", h.tierOf(sub))
}

// handleSubscriptionDeleted opens the grace period unless the customer still
// holds another entitled subscription, as happens mid plan change when Stripe
// delivers the new subscription before deleting the old one.
func (h *WebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) {
	sub, ok := h.parseSubscription(event)
	if !ok {
		return
	}

	tier, err := h.billing.ActiveTier(ctx, sub.Customer.ID)
	switch {
	case err != nil:
		h.logger.Warn("could not confirm remaining subscriptions, starting grace period",
			"error", err, "customer_id", sub.Customer.ID, "subscription_id", sub.ID)
	case tier.IsPaid():
		h.logger.Info("subscription deleted, customer still entitled",
			"customer_id", sub.Customer.ID, "subscription_id", sub.ID, "tier", tier)
		return
	}

	if err := h.userService.StartGracePeriod(ctx, sub.Customer.ID); err != nil {
		h.logUserError(err, "failed to start grace period", sub)
		return
	}

	h.logger.Info("subscription deleted", "customer_id", sub.Customer.ID, "subscription_id", sub.ID)
}

func (h *WebhookHandler) parseSubscription(event stripe.Event) (*stripe.Subscription, bool) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		h.logger.Error("failed to parse subscription event", "error", err, "type", event.Type)
		return nil, false
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		h.logger.Warn("subscription event missing customer", "subscription_id", sub.ID, "type", event.Type)
		return nil, false
	}
	return &sub, true
}

func (h *WebhookHandler) tierOf(sub *stripe.Subscription) domain.StorageTier {
	if sub.Items == nil {
		return domain.TierFree
	}
	tier := domain.TierFree
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if t, ok := h.billing.TierForPriceID(item.Price.ID); ok && tier.Less(t) {
			tier = t
		}
	}
	return tier
}

// logUserError logs unknown customers at Warn; Stripe customers without a
// profile are expected during signup.
func (h *WebhookHandler) logUserError(err error, msg string, sub *stripe.Subscription) {
	if domain.ErrorCode(err) == domain.ENOTFOUND {
		h.logger.Warn("user not found for subscription event",
			"customer_id", sub.Customer.ID, "subscription_id", sub.ID)
		return
	}
	h.logger.Error(msg, "error", err, "customer_id", sub.Customer.ID, "subscription_id", sub.ID)
}
