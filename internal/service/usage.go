package service

import (
	"context"
	"time"

	"github.com/DukeRupert/soundloft/internal/metrics"
	"github.com/google/uuid"
)

// CalculateStorageUsage sums size_bytes over the user's non-deleted content.
// NULL sizes count as zero. A failed query yields 0.
func (s *storageQuotaService) CalculateStorageUsage(ctx context.Context, userID uuid.UUID) int64 {
	used, _ := s.storageUsage(ctx, userID)
	return used
}

// storageUsage is CalculateStorageUsage with the failure surfaced, so the
// calculator can apply the fail-closed policy.
func (s *storageQuotaService) storageUsage(ctx context.Context, userID uuid.UUID) (int64, error) {
	const op = "quota.calculate_usage"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	sizes, err := s.store.ListActiveContentSizes(ctx, userID)
	metrics.LookupCompleted(metrics.SourceAccounting, time.Since(start))
	if err != nil {
		metrics.LookupFailed(metrics.SourceAccounting)
		s.logger.Warn("storage usage query failed",
			"op", op,
			"user_id", userID,
			"fail_closed", s.failClosed,
			"error", err,
		)
		return 0, err
	}

	var total int64
	for _, size := range sizes {
		if size.Valid && size.Int64 > 0 {
			total += size.Int64
		}
	}
	return total, nil
}
