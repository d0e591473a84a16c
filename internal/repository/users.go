package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User is a row of the users table.
type User struct {
	ID                 uuid.UUID
	Email              string
	StripeCustomerID   sql.NullString
	GracePeriodEnds    sql.NullTime
	StorageAtDowngrade sql.NullInt64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const userColumns = `id, email, stripe_customer_id, grace_period_ends, storage_at_downgrade, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.StripeCustomerID,
		&u.GracePeriodEnds,
		&u.StorageAtDowngrade,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

// GetUserByID returns sql.ErrNoRows (wrapped) when the user does not exist.
func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByStripeCustomerID looks a user up by their Stripe customer handle.
func (q *Queries) GetUserByStripeCustomerID(ctx context.Context, customerID string) (User, error) {
	u, err := scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_customer_id = $1`, customerID))
	if err != nil {
		return User{}, fmt.Errorf("get user by customer %s: %w", customerID, err)
	}
	return u, nil
}

// GraceFields are the profile fields the grace period resolver reads.
type GraceFields struct {
	GracePeriodEnds    sql.NullTime
	StorageAtDowngrade sql.NullInt64
}

const getGraceFields = `
SELECT grace_period_ends, storage_at_downgrade
FROM users
WHERE id = $1
`

// GetGraceFields reads the grace-period columns of a profile.
func (q *Queries) GetGraceFields(ctx context.Context, id uuid.UUID) (GraceFields, error) {
	var g GraceFields
	if err := q.db.QueryRowContext(ctx, getGraceFields, id).Scan(&g.GracePeriodEnds, &g.StorageAtDowngrade); err != nil {
		return GraceFields{}, fmt.Errorf("get grace fields %s: %w", id, err)
	}
	return g, nil
}

const setGracePeriod = `
UPDATE users
SET grace_period_ends = $2,
    storage_at_downgrade = $3,
    updated_at = NOW()
WHERE id = $1
`

// SetGracePeriodParams opens a grace window on a profile.
type SetGracePeriodParams struct {
	ID                 uuid.UUID
	GracePeriodEnds    time.Time
	StorageAtDowngrade int64
}

// SetGracePeriod records the end of a grace window and the storage in use at
// the moment of downgrade.
func (q *Queries) SetGracePeriod(ctx context.Context, arg SetGracePeriodParams) error {
	if _, err := q.db.ExecContext(ctx, setGracePeriod, arg.ID, arg.GracePeriodEnds, arg.StorageAtDowngrade); err != nil {
		return fmt.Errorf("set grace period %s: %w", arg.ID, err)
	}
	return nil
}

const clearGracePeriod = `
UPDATE users
SET grace_period_ends = NULL,
    storage_at_downgrade = NULL,
    updated_at = NOW()
WHERE id = $1
`

// ClearGracePeriod removes the grace window, e.g. after re-subscription.
func (q *Queries) ClearGracePeriod(ctx context.Context, id uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, clearGracePeriod, id); err != nil {
		return fmt.Errorf("clear grace period %s: %w", id, err)
	}
	return nil
}

const createUser = `
INSERT INTO users (id, email, stripe_customer_id)
VALUES ($1, $2, $3)
`

// CreateUserParams holds the columns for a new profile.
type CreateUserParams struct {
	ID               uuid.UUID
	Email            string
	StripeCustomerID sql.NullString
}

// CreateUser inserts a profile.
func (q *Queries) CreateUser(ctx context.Context, arg CreateUserParams) error {
	if _, err := q.db.ExecContext(ctx, createUser, arg.ID, arg.Email, arg.StripeCustomerID); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
