package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DukeRupert/soundloft/internal/auth"
	"github.com/DukeRupert/soundloft/internal/billing"
	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/ledger"
	"github.com/DukeRupert/soundloft/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploadFixture struct {
	store        *testQuotaStore
	ledger       *testLedger
	entitlements *testEntitlements
	clock        *testClock
	storage      StorageQuotaService
	svc          UploadQuotaService
	sess         *auth.Session
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()

	f := &uploadFixture{
		store:        &testQuotaStore{sizes: sizes(5 * domain.MB)},
		ledger:       &testLedger{err: errors.New("ledger timeout")},
		entitlements: &testEntitlements{err: billing.ErrNotReady},
		clock:        newTestClock(),
		sess: &auth.Session{
			User:        &domain.User{ID: uuid.New(), StripeCustomerID: "cus_123"},
			AccessToken: "tok",
		},
	}
	f.storage = NewStorageQuotaService(f.store, StorageQuotaConfig{
		LookupTimeout: time.Second,
		Now:           f.clock.Now,
	}, discardLogger())
	f.svc = NewUploadQuotaService(f.storage, f.ledger, f.entitlements, UploadQuotaConfig{
		LookupTimeout: 200 * time.Millisecond,
		Now:           f.clock.Now,
	}, discardLogger())
	return f
}

// =============================================================================
// Auth Gating Tests
// =============================================================================

func TestGetUploadQuota_InvalidSession(t *testing.T) {
	tests := []struct {
		name string
		sess *auth.Session
	}{
		{"nil session", nil},
		{"nil user", &auth.Session{AccessToken: "tok"}},
		{"nil user id", &auth.Session{User: &domain.User{}, AccessToken: "tok"}},
		{"empty token", &auth.Session{User: &domain.User{ID: uuid.New()}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t)

			assert.Nil(t, f.svc.GetUploadQuota(context.Background(), tt.sess, false))
			assert.Zero(t, f.ledger.calls.Load(), "no lookups without a session")
			assert.Zero(t, f.entitlements.calls.Load())
			assert.Zero(t, f.store.usageCalls.Load())
		})
	}
}

// =============================================================================
// Reconciliation Policy Tests
// =============================================================================

func TestGetUploadQuota_FallbackFloor(t *testing.T) {
	f := newUploadFixture(t)

	quota := f.svc.GetUploadQuota(context.Background(), f.sess, false)
	require.NotNil(t, quota)

	assert.Equal(t, domain.TierFree, quota.Tier)
	assert.Equal(t, domain.SourceFreeDefault, quota.Source)
	require.NotNil(t, quota.UploadLimit)
	assert.Equal(t, 3, *quota.UploadLimit)
	require.NotNil(t, quota.Remaining)
	assert.Equal(t, 3, *quota.Remaining)
	assert.Equal(t, 0, quota.UploadsThisMonth)
	assert.Nil(t, quota.ResetDate)
	assert.False(t, quota.IsUnlimited)
	assert.True(t, quota.CanUpload)
	require.NotNil(t, quota.Storage)
	assert.Equal(t, 30*domain.MB, quota.Storage.Limit)
}

func TestGetUploadQuota_FallbackFloorFullStorage(t *testing.T) {
	f := newUploadFixture(t)
	f.store.setSizes(30 * domain.MB)

	quota := f.svc.GetUploadQuota(context.Background(), f.sess, false)
	require.NotNil(t, quota)
	assert.Equal(t, domain.SourceFreeDefault, quota.Source)
	assert.False(t, quota.CanUpload)
}

func TestGetUploadQuota_EntitlementWinsOverLedger(t *testing.T) {
	reset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		entTier     domain.StorageTier
		ledgerTier  domain.StorageTier
		wantTier    domain.StorageTier
		wantSource  domain.QuotaSource
		wantLimitGB int64
	}{
		{"unlimited over free", domain.TierUnlimited, domain.TierFree, domain.TierUnlimited, domain.SourceEntitlementUnlimited, 10},
		{"premium over free", domain.TierPremium, domain.TierFree, domain.TierPremium, domain.SourceEntitlementPremium, 2},
		{"premium over unlimited", domain.TierPremium, domain.TierUnlimited, domain.TierPremium, domain.SourceEntitlementPremium, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t)
			f.entitlements.tier, f.entitlements.err = tt.entTier, nil
			f.ledger.quota = &ledger.Quota{Tier: tt.ledgerTier, KnownTier: true, UploadLimit: intPtr(3), UploadsThisMonth: 9, ResetDate: &reset}
			f.ledger.err = nil

			quota := f.svc.GetUploadQuota(context.Background(), f.sess, false)
			require.NotNil(t, quota)

			assert.Equal(t, tt.wantTier, quota.Tier)
			assert.Equal(t, tt.wantSource, quota.Source)
			assert.Nil(t, quota.UploadLimit)
			assert.Nil(t, quota.Remaining)
			assert.True(t, quota.IsUnlimited)
			assert.Equal(t, 9, quota.UploadsThisMonth, "historical count comes from the ledger")
			assert.Equal(t, &reset, quota.ResetDate)
			assert.Equal(t, tt.wantLimitGB*domain.GB, quota.Storage.Limit)
			assert.Equal(t, quota.Storage.CanUpload, quota.CanUpload)
		})
	}
}

func TestGetUploadQuota_PremiumWithoutLedger(t *testing.T) {
	f := newUploadFixture(t)
	f.entitlements.tier, f.entitlements.err = domain.TierPremium, nil

	quota := f.svc.GetUploadQuota(context.Background(), f.sess, false)
	require.NotNil(t, quota)
	assert.Equal(t, domain.TierPremium, quota.Tier)
	assert.Equal(t, 0, quota.UploadsThisMonth)
	assert.Nil(t, quota.ResetDate)
}

func TestGetUploadQuota_PaidTierMirrorsStorage(t *testing.T) {
	f := newUploadFixture(t)
	f.entitlements.tier, f.entitlements.err = domain.TierUnlimited, nil
	f.store.grace = repository.GraceFields{GracePeriodEnds: domain.ToNullTime(ptrTime(f.clock.Now().Add(-time.Hour)))}

	quota := f.svc.GetUploadQuota(context.Background(), f.sess, false)
	require.NotNil(t, quota)
	assert.Greater(t, quota.Storage.Available, int64(0))
	assert.False(t, quota.Storage.CanUpload, "grace expired blocks uploads")
	assert.False(t, quota.CanUpload)
}

func TestGetUploadQuota_LedgerTier(t *testing.T) {
	tests := []struct {
		name          string
		entErr        error
		ledgerQuota   ledger.Quota
		used          int64
		wantTier      domain.StorageTier
		wantLimit     *int
		wantRemaining *int
		wantUnlimited bool
		wantCanUpload bool
	}{
		{
			name:          "free with uploads left",
			entErr:        billing.ErrNotReady,
			ledgerQuota:   ledger.Quota{Tier: domain.TierFree, KnownTier: true, UploadLimit: intPtr(3), UploadsThisMonth: 1},
			used:          5 * domain.MB,
			wantTier:      domain.TierFree,
			wantLimit:     intPtr(3),
			wantRemaining: intPtr(2),
			wantCanUpload: true,
		},
		{
			name:          "free at count limit",
			entErr:        errors.New("provider timeout"),
			ledgerQuota:   ledger.Quota{Tier: domain.TierFree, KnownTier: true, UploadLimit: intPtr(3), UploadsThisMonth: 3},
			used:          5 * domain.MB,
			wantTier:      domain.TierFree,
			wantLimit:     intPtr(3),
			wantRemaining: intPtr(0),
			wantCanUpload: false,
		},
		{
			name:          "free over count limit floors remaining",
			entErr:        billing.ErrNotReady,
			ledgerQuota:   ledger.Quota{Tier: domain.TierFree, KnownTier: true, UploadLimit: intPtr(3), UploadsThisMonth: 5},
			used:          5 * domain.MB,
			wantTier:      domain.TierFree,
			wantLimit:     intPtr(3),
			wantRemaining: intPtr(0),
			wantCanUpload: false,
		},
		{
			name:          "free without count limit",
			entErr:        billing.ErrNotReady,
			ledgerQuota:   ledger.Quota{Tier: domain.TierFree, KnownTier: true, UploadsThisMonth: 12},
			used:          5 * domain.MB,
			wantTier:      domain.TierFree,
			wantUnlimited: true,
			wantCanUpload: true,
		},
		{
			name:          "free storage full",
			entErr:        billing.ErrNotReady,
			ledgerQuota:   ledger.Quota{Tier: domain.TierFree, KnownTier: true, UploadLimit: intPtr(3)},
			used:          30 * domain.MB,
			wantTier:      domain.TierFree,
			wantLimit:     intPtr(3),
			wantRemaining: intPtr(3),
			wantCanUpload: false,
		},
		{
			name:          "legacy pro label",
			entErr:        billing.ErrNotReady,
			ledgerQuota:   ledger.Quota{Tier: domain.TierPremium, RawTier: "pro", KnownTier: true},
			used:          5 * domain.MB,
			wantTier:      domain.TierPremium,
			wantUnlimited: true,
			wantCanUpload: true,
		},
		{
			name:          "entitlement says free, ledger decides",
			entErr:        nil,
			ledgerQuota:   ledger.Quota{Tier: domain.TierUnlimited, RawTier: "enterprise", KnownTier: true},
			used:          5 * domain.MB,
			wantTier:      domain.TierUnlimited,
			wantUnlimited: true,
			wantCanUpload: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t)
			f.store.setSizes(tt.used)
			f.entitlements.tier, f.entitlements.err = domain.TierFree, tt.entErr
			lq := tt.ledgerQuota
			f.ledger.quota, f.ledger.err = &lq, nil

			quota := f.svc.GetUploadQuota(context.Background(), f.sess, false)
			require.NotNil(t, quota)

			assert.Equal(t, tt.wantTier, quota.Tier)
			assert.Equal(t, domain.SourceLedger, quota.Source)
			assert.Equal(t, tt.wantLimit, quota.UploadLimit)
			assert.Equal(t, tt.wantRemaining, quota.Remaining)
			assert.Equal(t, tt.wantUnlimited, quota.IsUnlimited)
			assert.Equal(t, tt.wantCanUpload, quota.CanUpload)
			assert.Equal(t, tt.wantTier, quota.Storage.Tier, "storage recomputed for the ledger tier")
		})
	}
}

// =============================================================================
// Fan-out Tests
// =============================================================================

func TestGetUploadQuota_PanickingBranchDoesNotPoisonOther(t *testing.T) {
	f := newUploadFixture(t)
	f.ledger.panic = true
	f.entitlements.tier, f.entitlements.err = domain.TierPremium, nil

	quota := f.svc.GetUploadQuota(context.Background(), f.sess, false)
	require.NotNil(t, quota)
	assert.Equal(t, domain.TierPremium, quota.Tier)
	assert.Equal(t, domain.SourceEntitlementPremium, quota.Source)
}

func TestGetUploadQuota_SlowSourcesTimeOut(t *testing.T) {
	f := newUploadFixture(t)
	f.ledger.delay = time.Hour
	f.entitlements.delay = time.Hour
	f.entitlements.err = nil

	start := time.Now()
	quota := f.svc.GetUploadQuota(context.Background(), f.sess, false)
	elapsed := time.Since(start)

	require.NotNil(t, quota)
	assert.Equal(t, domain.SourceFreeDefault, quota.Source)
	assert.Less(t, elapsed, 5*time.Second, "branches should run concurrently and time out")
}

func TestGetUploadQuota_CallerCancellationDoesNotAbortLookups(t *testing.T) {
	f := newUploadFixture(t)
	f.entitlements.tier, f.entitlements.err = domain.TierUnlimited, nil

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	quota := f.svc.GetUploadQuota(ctx, f.sess, false)
	require.NotNil(t, quota)
	assert.Equal(t, domain.TierUnlimited, quota.Tier)
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestGetUploadQuota_CacheTTL(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	first := f.svc.GetUploadQuota(ctx, f.sess, false)
	require.NotNil(t, first)
	usageCalls := f.store.usageCalls.Load()
	ledgerCalls := f.ledger.calls.Load()

	f.clock.Advance(119 * time.Second)
	second := f.svc.GetUploadQuota(ctx, f.sess, false)
	assert.Same(t, first, second)
	assert.Equal(t, usageCalls, f.store.usageCalls.Load(), "no new accounting query on a fresh hit")
	assert.Equal(t, ledgerCalls, f.ledger.calls.Load())

	f.clock.Advance(2 * time.Second)
	third := f.svc.GetUploadQuota(ctx, f.sess, false)
	assert.NotSame(t, first, third)
	assert.Greater(t, f.store.usageCalls.Load(), usageCalls)
	assert.Greater(t, f.ledger.calls.Load(), ledgerCalls)
}

func TestGetUploadQuota_ForceRefresh(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	first := f.svc.GetUploadQuota(ctx, f.sess, false)
	f.store.setSizes(12 * domain.MB)

	refreshed := f.svc.GetUploadQuota(ctx, f.sess, true)
	assert.NotSame(t, first, refreshed)
	assert.Equal(t, 12*domain.MB, refreshed.Storage.Used, "force refresh also bypasses the storage cache")
}

func TestGetUploadQuota_OtherUserMisses(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	other := &auth.Session{User: &domain.User{ID: uuid.New()}, AccessToken: "tok2"}

	f.svc.GetUploadQuota(ctx, f.sess, false)
	f.svc.GetUploadQuota(ctx, other, false)
	assert.Equal(t, int32(2), f.ledger.calls.Load())
}

func TestInvalidateQuotaCache_ClearsBothCaches(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()
	userID := f.sess.User.ID

	first := f.svc.GetUploadQuota(ctx, f.sess, false)
	storageFirst := f.storage.GetStorageQuotaCached(ctx, userID, domain.TierFree, false)
	assert.Same(t, first.Storage, storageFirst, "reconciler populated the storage cache")
	usageCalls := f.store.usageCalls.Load()

	f.svc.InvalidateQuotaCache()

	storageSecond := f.storage.GetStorageQuotaCached(ctx, userID, domain.TierFree, false)
	assert.NotSame(t, storageFirst, storageSecond)
	assert.Equal(t, usageCalls+1, f.store.usageCalls.Load())

	second := f.svc.GetUploadQuota(ctx, f.sess, false)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), f.ledger.calls.Load())
}

func TestInvalidateStorageCache_CascadesToUploadCache(t *testing.T) {
	f := newUploadFixture(t)
	ctx := context.Background()

	first := f.svc.GetUploadQuota(ctx, f.sess, false)
	f.storage.InvalidateStorageCache()
	second := f.svc.GetUploadQuota(ctx, f.sess, false)

	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), f.ledger.calls.Load())
}
