// Package service contains the business logic layer.
//
// This file implements the storage quota service: the byte ceiling for a
// tier, current usage, grace-period gating and the single-slot cache in front
// of them.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/DukeRupert/soundloft/internal/cache"
	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/format"
	"github.com/DukeRupert/soundloft/internal/repository"
	"github.com/google/uuid"
)

// DefaultLookupTimeout bounds each external call when none is configured.
const DefaultLookupTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaStore is the part of the record store the quota engine reads.
// *repository.Queries satisfies it.
type QuotaStore interface {
	ListActiveContentSizes(ctx context.Context, userID uuid.UUID) ([]sql.NullInt64, error)
	GetGraceFields(ctx context.Context, id uuid.UUID) (repository.GraceFields, error)
}

// StorageQuotaService computes storage snapshots. None of its methods return
// errors: failed lookups degrade to a defined result and are logged.
type StorageQuotaService interface {
	// CalculateStorageUsage sums the sizes of the user's live content.
	CalculateStorageUsage(ctx context.Context, userID uuid.UUID) int64

	// GetGracePeriodStatus resolves the user's grace window. Returns nil when
	// the profile cannot be read.
	GetGracePeriodStatus(ctx context.Context, userID uuid.UUID) *domain.GracePeriodStatus

	// GetStorageQuota computes a fresh snapshot for tier.
	GetStorageQuota(ctx context.Context, userID uuid.UUID, tier domain.StorageTier) *domain.StorageQuota

	// CheckStorageQuota reports whether a file of fileSize bytes fits.
	CheckStorageQuota(ctx context.Context, userID uuid.UUID, tier domain.StorageTier, fileSize int64) *domain.StorageCheck

	// GetStorageQuotaCached returns the cached snapshot when it is fresh and
	// matches both user and tier, otherwise recomputes and caches.
	GetStorageQuotaCached(ctx context.Context, userID uuid.UUID, tier domain.StorageTier, forceRefresh bool) *domain.StorageQuota

	// InvalidateStorageCache clears the cache and everything derived from it.
	InvalidateStorageCache()

	// AddDependent registers a cache to clear whenever the storage cache is.
	AddDependent(d cache.Invalidator)
}

// StorageQuotaConfig tunes a StorageQuotaService.
type StorageQuotaConfig struct {
	LookupTimeout time.Duration
	CacheTTL      time.Duration
	// FailClosed treats a failed usage query as a full quota.
	FailClosed bool
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// =============================================================================
// Implementation
// =============================================================================

type storageQuotaService struct {
	store      QuotaStore
	timeout    time.Duration
	failClosed bool
	now        func() time.Time
	cache      *cache.Slot[*domain.StorageQuota]
	logger     *slog.Logger
}

// NewStorageQuotaService creates a new StorageQuotaService.
func NewStorageQuotaService(store QuotaStore, cfg StorageQuotaConfig, logger *slog.Logger) StorageQuotaService {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &storageQuotaService{
		store:      store,
		timeout:    cfg.LookupTimeout,
		failClosed: cfg.FailClosed,
		now:        cfg.Now,
		cache:      cache.NewSlot[*domain.StorageQuota]("storage", cache.WithTTL(cfg.CacheTTL), cache.WithClock(cfg.Now)),
		logger:     logger,
	}
}

// GetStorageQuota computes a fresh snapshot for tier.
func (s *storageQuotaService) GetStorageQuota(ctx context.Context, userID uuid.UUID, tier domain.StorageTier) *domain.StorageQuota {
	if !tier.Valid() {
		tier = domain.TierFree
	}
	limit := tier.Limit()

	used, err := s.storageUsage(ctx, userID)
	if err != nil && s.failClosed {
		used = limit
	}

	quota := &domain.StorageQuota{
		Tier:          tier,
		Limit:         limit,
		Used:          used,
		Available:     max(0, limit-used),
		PercentUsed:   percentUsed(used, limit),
		StorageStatus: domain.StorageStatusActive,
	}

	grace := s.GetGracePeriodStatus(ctx, userID)
	if grace != nil {
		quota.InGracePeriod = grace.InGracePeriod
		quota.GracePeriodEnds = grace.GracePeriodEnds
		quota.GraceDaysRemaining = grace.GraceDaysRemaining
		quota.StorageStatus = grace.StorageStatus
	}

	quota.CanUpload = quota.Available > 0 &&
		(grace == nil || grace.StorageStatus == domain.StorageStatusActive)

	return quota
}

// CheckStorageQuota reports whether a file of fileSize bytes fits.
func (s *storageQuotaService) CheckStorageQuota(ctx context.Context, userID uuid.UUID, tier domain.StorageTier, fileSize int64) *domain.StorageCheck {
	if fileSize < 0 {
		fileSize = 0
	}

	quota := s.GetStorageQuota(ctx, userID, tier)
	check := &domain.StorageCheck{
		CanUpload:         true,
		Quota:             quota,
		FileSizeFormatted: format.Bytes(fileSize),
	}

	// Compare against the remaining room; Used+fileSize can overflow.
	exceeds := fileSize > quota.Limit-quota.Used
	switch {
	case quota.StorageStatus == domain.StorageStatusGracePeriod:
		check.CanUpload = false
		check.Reason = fmt.Sprintf("Uploads are paused during your grace period (%s left)", pluralDays(quota.GraceDaysRemaining))
	case quota.StorageStatus == domain.StorageStatusGraceExpired:
		check.CanUpload = false
		check.Reason = "Your grace period has ended. Upgrade or free up space to upload again"
	case exceeds:
		check.CanUpload = false
		check.Reason = fmt.Sprintf("Upload would exceed storage limit (%s / %s limit)",
			format.Bytes(saturatingAdd(quota.Used, fileSize)), format.Compact(quota.Limit))
	case !quota.CanUpload:
		check.CanUpload = false
		check.Reason = fmt.Sprintf("Storage limit reached (%s)", format.Compact(quota.Limit))
	}

	return check
}

// saturatingAdd returns a+b for non-negative operands, clamped to MaxInt64.
func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// GetStorageQuotaCached returns a cached snapshot for the same user and tier
// when fresh, otherwise recomputes and overwrites the slot.
func (s *storageQuotaService) GetStorageQuotaCached(ctx context.Context, userID uuid.UUID, tier domain.StorageTier, forceRefresh bool) *domain.StorageQuota {
	if !tier.Valid() {
		tier = domain.TierFree
	}

	if !forceRefresh {
		if quota, ok := s.cache.Get(userID, func(q *domain.StorageQuota) bool { return q.Tier == tier }); ok {
			return quota
		}
	}

	quota := s.GetStorageQuota(ctx, userID, tier)
	s.cache.Set(userID, quota)
	return quota
}

func (s *storageQuotaService) InvalidateStorageCache() {
	s.cache.Invalidate()
}

func (s *storageQuotaService) AddDependent(d cache.Invalidator) {
	s.cache.AddDependent(d)
}

// =============================================================================
// Helper Functions
// =============================================================================

func percentUsed(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	pct := float64(used) / float64(limit) * 100
	return min(100, max(0, pct))
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
