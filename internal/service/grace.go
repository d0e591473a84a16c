package service

import (
	"context"
	"time"

	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/metrics"
	"github.com/google/uuid"
)

const millisPerDay = 86_400_000

// GetGracePeriodStatus reads the grace fields from the user's profile.
//
// A profile with no grace end is active_subscription. Once the end passes the
// status is grace_expired and stays there until the profile is updated.
func (s *storageQuotaService) GetGracePeriodStatus(ctx context.Context, userID uuid.UUID) *domain.GracePeriodStatus {
	const op = "quota.grace_status"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	fields, err := s.store.GetGraceFields(ctx, userID)
	metrics.LookupCompleted(metrics.SourceProfile, time.Since(start))
	if err != nil {
		metrics.LookupFailed(metrics.SourceProfile)
		s.logger.Warn("grace period lookup failed",
			"op", op,
			"user_id", userID,
			"error", err,
		)
		return nil
	}

	return resolveGrace(domain.NullTimeValue(fields.GracePeriodEnds), domain.NullInt64Value(fields.StorageAtDowngrade), s.now())
}

func resolveGrace(ends *time.Time, storageAtDowngrade *int64, now time.Time) *domain.GracePeriodStatus {
	status := &domain.GracePeriodStatus{
		GracePeriodEnds:    ends,
		StorageAtDowngrade: storageAtDowngrade,
		StorageStatus:      domain.StorageStatusActive,
	}
	if ends == nil {
		return status
	}

	if now.Before(*ends) {
		status.InGracePeriod = true
		status.StorageStatus = domain.StorageStatusGracePeriod
	} else {
		status.StorageStatus = domain.StorageStatusGraceExpired
	}
	status.GraceDaysRemaining = daysRemaining(*ends, now)

	return status
}

// daysRemaining rounds the time left up to whole days, floored at zero.
func daysRemaining(ends, now time.Time) int {
	ms := ends.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + millisPerDay - 1) / millisPerDay)
}
