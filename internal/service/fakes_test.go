package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/ledger"
	"github.com/DukeRupert/soundloft/internal/repository"
	"github.com/google/uuid"
)

// =============================================================================
// Test Helpers
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sizes(vals ...int64) []sql.NullInt64 {
	out := make([]sql.NullInt64, 0, len(vals))
	for _, v := range vals {
		out = append(out, sql.NullInt64{Int64: v, Valid: true})
	}
	return out
}

func intPtr(v int) *int { return &v }

// =============================================================================
// Fake record store
// =============================================================================

// testQuotaStore implements QuotaStore and UserStore.
type testQuotaStore struct {
	mu sync.Mutex

	sizes    []sql.NullInt64
	sizesErr error
	grace    repository.GraceFields
	graceErr error
	users    map[string]repository.User // keyed by Stripe customer ID

	usageCalls atomic.Int32
	graceCalls atomic.Int32

	setGrace   []repository.SetGracePeriodParams
	clearGrace []uuid.UUID
}

func (s *testQuotaStore) ListActiveContentSizes(ctx context.Context, userID uuid.UUID) ([]sql.NullInt64, error) {
	s.usageCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sizesErr != nil {
		return nil, s.sizesErr
	}
	return s.sizes, nil
}

func (s *testQuotaStore) GetGraceFields(ctx context.Context, id uuid.UUID) (repository.GraceFields, error) {
	s.graceCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grace, s.graceErr
}

func (s *testQuotaStore) GetUserByID(ctx context.Context, id uuid.UUID) (repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return repository.User{}, sql.ErrNoRows
}

func (s *testQuotaStore) GetUserByStripeCustomerID(ctx context.Context, customerID string) (repository.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[customerID]
	if !ok {
		return repository.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *testQuotaStore) SetGracePeriod(ctx context.Context, arg repository.SetGracePeriodParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setGrace = append(s.setGrace, arg)
	return nil
}

func (s *testQuotaStore) ClearGracePeriod(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearGrace = append(s.clearGrace, id)
	return nil
}

func (s *testQuotaStore) setSizes(vals ...int64) {
	s.mu.Lock()
	s.sizes = sizes(vals...)
	s.mu.Unlock()
}

// =============================================================================
// Fake ledger and entitlement provider
// =============================================================================

type testLedger struct {
	quota *ledger.Quota
	err   error
	delay time.Duration
	panic bool
	calls atomic.Int32
}

func (l *testLedger) GetQuota(ctx context.Context, accessToken string) (*ledger.Quota, error) {
	l.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.panic {
		panic("ledger exploded")
	}
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.quota, l.err
}

type testEntitlements struct {
	tier  domain.StorageTier
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (e *testEntitlements) ActiveTier(ctx context.Context, customerID string) (domain.StorageTier, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return e.tier, e.err
}
