// Package service contains the business logic layer.
//
// This file implements the upload quota reconciler. It merges the backend
// ledger (upload counts), the billing provider (current tier) and the storage
// quota into a single upload decision, degrading to free-tier defaults when
// both external sources fail.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/soundloft/internal/auth"
	"github.com/DukeRupert/soundloft/internal/billing"
	"github.com/DukeRupert/soundloft/internal/cache"
	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/ledger"
	"github.com/DukeRupert/soundloft/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Interface Definition
// =============================================================================

// LedgerClient fetches the caller's quota record from the backend ledger.
// *ledger.Client satisfies it.
type LedgerClient interface {
	GetQuota(ctx context.Context, accessToken string) (*ledger.Quota, error)
}

// UploadQuotaService answers "can this user upload now".
type UploadQuotaService interface {
	// GetUploadQuota returns the reconciled quota, or nil when sess is not a
	// valid session. It never returns an error: failed sources degrade to
	// the next source down, ending at free-tier defaults.
	GetUploadQuota(ctx context.Context, sess *auth.Session, forceRefresh bool) *domain.UploadQuota

	// InvalidateQuotaCache clears the upload cache and the storage cache.
	InvalidateQuotaCache()
}

// UploadQuotaConfig tunes an UploadQuotaService.
type UploadQuotaConfig struct {
	LookupTimeout time.Duration
	CacheTTL      time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// =============================================================================
// Implementation
// =============================================================================

type uploadQuotaService struct {
	storage      StorageQuotaService
	ledger       LedgerClient
	entitlements *entitlementResolver
	timeout      time.Duration
	cache        *cache.Slot[*domain.UploadQuota]
	logger       *slog.Logger
}

// NewUploadQuotaService creates a new UploadQuotaService. The upload cache
// is registered as a dependent of the storage cache.
func NewUploadQuotaService(
	storage StorageQuotaService,
	ledgerClient LedgerClient,
	entitlements billing.EntitlementProvider,
	cfg UploadQuotaConfig,
	logger *slog.Logger,
) UploadQuotaService {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}

	slot := cache.NewSlot[*domain.UploadQuota]("upload", cache.WithTTL(cfg.CacheTTL), cache.WithClock(cfg.Now))
	slot.DependsOn(storage)

	return &uploadQuotaService{
		storage:      storage,
		ledger:       ledgerClient,
		entitlements: newEntitlementResolver(entitlements, cfg.LookupTimeout, logger),
		timeout:      cfg.LookupTimeout,
		cache:        slot,
		logger:       logger,
	}
}

// GetUploadQuota reconciles the ledger and the billing provider.
func (s *uploadQuotaService) GetUploadQuota(ctx context.Context, sess *auth.Session, forceRefresh bool) *domain.UploadQuota {
	const op = "quota.get_upload"

	if !sess.Valid() {
		return nil
	}
	user := sess.User

	if !forceRefresh {
		if quota, ok := s.cache.Get(user.ID, nil); ok {
			return quota
		}
	}

	// Lookups run to completion or timeout even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	var (
		ledgerQuota *ledger.Quota
		entTier     domain.StorageTier
		entOK       bool
	)

	var g errgroup.Group
	g.Go(func() error {
		defer s.recoverBranch(op, metrics.SourceLedger, user.ID)
		ledgerQuota = s.fetchLedger(ctx, sess)
		return nil
	})
	g.Go(func() error {
		defer s.recoverBranch(op, metrics.SourceEntitlement, user.ID)
		entTier, entOK = s.entitlements.resolve(ctx, user)
		return nil
	})
	_ = g.Wait()

	quota := s.reconcile(ctx, user.ID, ledgerQuota, entTier, entOK, forceRefresh)

	metrics.Resolved(string(quota.Source))
	s.logger.Debug("upload quota resolved",
		"op", op,
		"user_id", user.ID,
		"tier", quota.Tier,
		"source", quota.Source,
		"can_upload", quota.CanUpload,
	)

	s.cache.Set(user.ID, quota)
	return quota
}

// InvalidateQuotaCache clears the storage cache, which cascades to the
// upload cache.
func (s *uploadQuotaService) InvalidateQuotaCache() {
	s.storage.InvalidateStorageCache()
}

// reconcile applies the tier policy: entitlement unlimited, entitlement
// premium, ledger tier, free defaults.
func (s *uploadQuotaService) reconcile(
	ctx context.Context,
	userID uuid.UUID,
	lq *ledger.Quota,
	entTier domain.StorageTier,
	entOK bool,
	forceRefresh bool,
) *domain.UploadQuota {
	var (
		uploads int
		reset   *time.Time
	)
	if lq != nil {
		uploads = lq.UploadsThisMonth
		reset = lq.ResetDate
	}

	switch {
	case entOK && entTier == domain.TierUnlimited:
		storage := s.storage.GetStorageQuotaCached(ctx, userID, domain.TierUnlimited, forceRefresh)
		return paidQuota(domain.TierUnlimited, uploads, reset, storage, domain.SourceEntitlementUnlimited)

	case entOK && entTier == domain.TierPremium:
		storage := s.storage.GetStorageQuotaCached(ctx, userID, domain.TierPremium, forceRefresh)
		return paidQuota(domain.TierPremium, uploads, reset, storage, domain.SourceEntitlementPremium)

	case lq != nil:
		storage := s.storage.GetStorageQuotaCached(ctx, userID, lq.Tier, forceRefresh)
		if lq.Tier.IsPaid() {
			return paidQuota(lq.Tier, uploads, reset, storage, domain.SourceLedger)
		}
		return ledgerFreeQuota(lq, storage)

	default:
		storage := s.storage.GetStorageQuotaCached(ctx, userID, domain.TierFree, forceRefresh)
		return freeDefaultQuota(storage)
	}
}

func paidQuota(tier domain.StorageTier, uploads int, reset *time.Time, storage *domain.StorageQuota, source domain.QuotaSource) *domain.UploadQuota {
	return &domain.UploadQuota{
		Tier:             tier,
		UploadsThisMonth: uploads,
		ResetDate:        reset,
		IsUnlimited:      true,
		CanUpload:        storage.CanUpload,
		Storage:          storage,
		Source:           source,
	}
}

func ledgerFreeQuota(lq *ledger.Quota, storage *domain.StorageQuota) *domain.UploadQuota {
	quota := &domain.UploadQuota{
		Tier:             domain.TierFree,
		UploadLimit:      lq.UploadLimit,
		UploadsThisMonth: lq.UploadsThisMonth,
		ResetDate:        lq.ResetDate,
		IsUnlimited:      lq.UploadLimit == nil,
		CanUpload:        storage.CanUpload,
		Storage:          storage,
		Source:           domain.SourceLedger,
	}
	if lq.UploadLimit != nil {
		remaining := max(0, *lq.UploadLimit-lq.UploadsThisMonth)
		quota.Remaining = &remaining
		quota.CanUpload = storage.CanUpload && lq.UploadsThisMonth < *lq.UploadLimit
	}
	return quota
}

// freeDefaultQuota is the floor when neither source answered.
func freeDefaultQuota(storage *domain.StorageQuota) *domain.UploadQuota {
	limit := domain.FreeTierUploadLimit
	remaining := domain.FreeTierUploadLimit
	return &domain.UploadQuota{
		Tier:             domain.TierFree,
		UploadLimit:      &limit,
		UploadsThisMonth: 0,
		Remaining:        &remaining,
		ResetDate:        nil,
		IsUnlimited:      false,
		CanUpload:        storage.CanUpload && storage.Used < storage.Limit,
		Storage:          storage,
		Source:           domain.SourceFreeDefault,
	}
}

// fetchLedger returns nil on any failure.
func (s *uploadQuotaService) fetchLedger(ctx context.Context, sess *auth.Session) *ledger.Quota {
	const op = "quota.fetch_ledger"

	if s.ledger == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	quota, err := s.ledger.GetQuota(ctx, sess.AccessToken)
	metrics.LookupCompleted(metrics.SourceLedger, time.Since(start))
	if err != nil {
		metrics.LookupFailed(metrics.SourceLedger)
		s.logger.Warn("ledger lookup failed", "op", op, "user_id", sess.UserID(), "error", err)
		return nil
	}
	if !quota.KnownTier && quota.RawTier != "" {
		s.logger.Warn("ledger returned unknown tier, treating as free", "op", op, "user_id", sess.UserID(), "tier", quota.RawTier)
	}
	return quota
}

// recoverBranch turns a panic in a fan-out branch into that branch's failure.
func (s *uploadQuotaService) recoverBranch(op, source string, userID uuid.UUID) {
	if r := recover(); r != nil {
		metrics.LookupFailed(source)
		s.logger.Error("quota lookup panicked",
			"op", op,
			"source", source,
			"user_id", userID,
			"error", domain.Internal(fmt.Errorf("panic: %v", r), op, "lookup panicked"),
		)
	}
}
