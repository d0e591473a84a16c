package service

import (
	"fmt"
	"math"

	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/format"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	warningThreshold  = 80.0
	criticalThreshold = 90.0
)

// StorageWarningLevel buckets a usage percentage. Boundaries belong to the
// higher band.
func StorageWarningLevel(percentUsed float64) domain.WarningLevel {
	switch {
	case percentUsed >= criticalThreshold:
		return domain.WarningCritical
	case percentUsed >= warningThreshold:
		return domain.WarningWarning
	default:
		return domain.WarningSafe
	}
}

// StorageWarningMessage returns a user-facing warning for quota, or "" when
// there is nothing to say.
func StorageWarningMessage(quota *domain.StorageQuota) string {
	if quota == nil {
		return ""
	}

	switch quota.StorageStatus {
	case domain.StorageStatusGracePeriod:
		return fmt.Sprintf("Your subscription has ended. You have %s left to resubscribe before your storage is reduced to %s.",
			pluralDays(quota.GraceDaysRemaining), format.Compact(quota.Limit))
	case domain.StorageStatusGraceExpired:
		return fmt.Sprintf("Your grace period has ended. Free up space below %s or upgrade to upload again.",
			format.Compact(quota.Limit))
	}

	pct := int(math.Floor(quota.PercentUsed))
	switch StorageWarningLevel(quota.PercentUsed) {
	case domain.WarningCritical:
		if quota.Available == 0 {
			return "Your storage is full. Delete tracks or upgrade to keep uploading."
		}
		return fmt.Sprintf("You've used %d%% of your storage. Only %s left.", pct, format.Bytes(quota.Available))
	case domain.WarningWarning:
		return fmt.Sprintf("You've used %d%% of your storage (%s left).", pct, format.Bytes(quota.Available))
	default:
		return ""
	}
}

// UpgradeSuggestion names the next tier up once usage reaches the warning
// band. Returns nil for the top tier.
func UpgradeSuggestion(quota *domain.StorageQuota) *string {
	if quota == nil || quota.Tier == domain.TierUnlimited || quota.PercentUsed < warningThreshold {
		return nil
	}

	next := quota.Tier.Next()
	limits := domain.GetTierLimits(next)
	s := fmt.Sprintf("Upgrade to %s for %s of storage (about %d tracks).",
		TierDisplayName(next), format.Bytes(limits.StorageBytes), limits.TrackHint)
	return &s
}

// TierDisplayName returns the tier label in title case.
func TierDisplayName(tier domain.StorageTier) string {
	return cases.Title(language.English).String(string(tier))
}
