// Package domain contains core business types and interfaces.
//
// This file defines the User profile as seen by the quota engine.
package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User represents a creator account.
//
// Only the fields the quota engine reads are mapped: the Stripe customer
// handle used to ask the entitlement provider, and the two grace fields
// written when a paid subscription is cancelled.
type User struct {
	ID                 uuid.UUID
	Email              string
	StripeCustomerID   string
	GracePeriodEnds    *time.Time
	StorageAtDowngrade *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasCustomerHandle returns true if the user has been linked to a Stripe customer.
func (u *User) HasCustomerHandle() bool {
	return u.StripeCustomerID != ""
}

// =============================================================================
// Conversion helpers from repository types
// =============================================================================

// NullStringValue safely extracts a string from sql.NullString.
func NullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// NullTimeValue safely extracts a time pointer from sql.NullTime.
func NullTimeValue(nt sql.NullTime) *time.Time {
	if nt.Valid {
		t := nt.Time
		return &t
	}
	return nil
}

// NullInt64Value safely extracts an int64 pointer from sql.NullInt64.
func NullInt64Value(ni sql.NullInt64) *int64 {
	if ni.Valid {
		v := ni.Int64
		return &v
	}
	return nil
}

// ToNullTime converts a time pointer to sql.NullTime.
func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ToNullInt64 converts an int64 pointer to sql.NullInt64.
func ToNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
