package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/soundloft/internal/billing"
	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/metrics"
)

// entitlementResolver asks the billing provider for the user's current tier.
// Every failure, including "not ready", becomes "no answer".
type entitlementResolver struct {
	provider billing.EntitlementProvider
	timeout  time.Duration
	logger   *slog.Logger
}

func newEntitlementResolver(provider billing.EntitlementProvider, timeout time.Duration, logger *slog.Logger) *entitlementResolver {
	return &entitlementResolver{
		provider: provider,
		timeout:  timeout,
		logger:   logger,
	}
}

// resolve returns the provider's tier and true, or false when the provider
// could not answer.
func (r *entitlementResolver) resolve(ctx context.Context, user *domain.User) (domain.StorageTier, bool) {
	const op = "quota.resolve_entitlement"

	if r.provider == nil {
		return "", false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	tier, err := r.provider.ActiveTier(ctx, user.StripeCustomerID)
	metrics.LookupCompleted(metrics.SourceEntitlement, time.Since(start))

	switch {
	case errors.Is(err, billing.ErrNotReady):
		r.logger.Debug("entitlement provider not ready", "op", op, "user_id", user.ID)
		return "", false
	case err != nil:
		metrics.LookupFailed(metrics.SourceEntitlement)
		r.logger.Warn("entitlement lookup failed", "op", op, "user_id", user.ID, "error", err)
		return "", false
	case !tier.Valid():
		r.logger.Warn("entitlement provider returned unknown tier", "op", op, "user_id", user.ID, "tier", tier)
		return "", false
	}

	return tier, true
}
