// Package service contains the business logic layer.
//
// This file implements the user service: profile lookup for authenticated
// requests, and the grace-period writes triggered by billing events.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/metrics"
	"github.com/DukeRupert/soundloft/internal/repository"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UserStore is the part of the record store the user service reads and
// writes. *repository.Queries satisfies it.
type UserStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (repository.User, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (repository.User, error)
	SetGracePeriod(ctx context.Context, arg repository.SetGracePeriodParams) error
	ClearGracePeriod(ctx context.Context, id uuid.UUID) error
}

// UserService defines operations on user profiles.
type UserService interface {
	// GetByID retrieves a user by their ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByStripeCustomerID retrieves a user by their Stripe customer ID.
	GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error)

	// StartGracePeriod opens a grace window after a paid subscription ends,
	// recording current usage. Quota caches are invalidated.
	StartGracePeriod(ctx context.Context, customerID string) error

	// EndGracePeriod clears the grace window after a re-subscription.
	// Quota caches are invalidated.
	EndGracePeriod(ctx context.Context, customerID string) error
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	store       UserStore
	storage     StorageQuotaService
	gracePeriod time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewUserService creates a new UserService.
func NewUserService(store UserStore, storage StorageQuotaService, gracePeriod time.Duration, logger *slog.Logger) UserService {
	return &userService{
		store:       store,
		storage:     storage,
		gracePeriod: gracePeriod,
		now:         time.Now,
		logger:      logger,
	}
}

// GetByID retrieves a user by their ID.
func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "UserService.GetByID"

	repoUser, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	return repoUserToDomain(repoUser), nil
}

// GetByStripeCustomerID retrieves a user by their Stripe customer ID.
func (s *userService) GetByStripeCustomerID(ctx context.Context, customerID string) (*domain.User, error) {
	const op = "UserService.GetByStripeCustomerID"

	if customerID == "" {
		return nil, domain.Invalid(op, "Stripe customer ID is required")
	}

	repoUser, err := s.store.GetUserByStripeCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", customerID)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user by Stripe customer ID")
	}

	return repoUserToDomain(repoUser), nil
}

// =============================================================================
// Grace Period Methods Implementation
// =============================================================================

// StartGracePeriod opens a grace window for the customer's user.
func (s *userService) StartGracePeriod(ctx context.Context, customerID string) error {
	const op = "UserService.StartGracePeriod"

	user, err := s.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return err
	}

	used := s.storage.CalculateStorageUsage(ctx, user.ID)
	ends := s.now().Add(s.gracePeriod)

	err = s.store.SetGracePeriod(ctx, repository.SetGracePeriodParams{
		ID:                 user.ID,
		GracePeriodEnds:    ends,
		StorageAtDowngrade: used,
	})
	if err != nil {
		return domain.Internal(err, op, "Failed to start grace period")
	}

	s.storage.InvalidateStorageCache()
	metrics.GracePeriodsStarted.Inc()

	s.logger.Info("grace period started", "user_id", user.ID, "ends", ends, "storage_at_downgrade", used)
	return nil
}

// EndGracePeriod clears the grace window for the customer's user.
func (s *userService) EndGracePeriod(ctx context.Context, customerID string) error {
	const op = "UserService.EndGracePeriod"

	user, err := s.GetByStripeCustomerID(ctx, customerID)
	if err != nil {
		return err
	}
	if user.GracePeriodEnds == nil {
		return nil
	}

	if err := s.store.ClearGracePeriod(ctx, user.ID); err != nil {
		return domain.Internal(err, op, "Failed to clear grace period")
	}

	s.storage.InvalidateStorageCache()

	s.logger.Info("grace period cleared", "user_id", user.ID)
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

func repoUserToDomain(u repository.User) *domain.User {
	return &domain.User{
		ID:                 u.ID,
		Email:              u.Email,
		StripeCustomerID:   domain.NullStringValue(u.StripeCustomerID),
		GracePeriodEnds:    domain.NullTimeValue(u.GracePeriodEnds),
		StorageAtDowngrade: domain.NullInt64Value(u.StorageAtDowngrade),
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}
