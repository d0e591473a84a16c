// Package auth provides authentication context helpers.
//
// This package is designed to be imported by middleware, handler and service
// packages without causing import cycles.
package auth

import (
	"context"

	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// sessionContextKey is the key used to store the authenticated session in context.
	sessionContextKey contextKey = "session"
)

// Session is an authenticated caller: the profile the bearer token resolved
// to, and the token itself (forwarded to the ledger).
type Session struct {
	User        *domain.User
	AccessToken string
}

// UserID returns the session's user id, or uuid.Nil when there is no user.
func (s *Session) UserID() uuid.UUID {
	if s == nil || s.User == nil {
		return uuid.Nil
	}
	return s.User.ID
}

// Valid reports whether the session carries a resolvable user and a token.
func (s *Session) Valid() bool {
	return s.UserID() != uuid.Nil && s.AccessToken != ""
}

// GetSession retrieves the authenticated session from the context.
//
// Returns nil if no session is present.
//
// Usage:
//
//	sess := auth.GetSession(r.Context())
//	if sess == nil {
//	    // Handle unauthenticated request
//	}
func GetSession(ctx context.Context) *Session {
	sess, ok := ctx.Value(sessionContextKey).(*Session)
	if !ok {
		return nil
	}
	return sess
}

// GetUser returns the session's user, or nil.
func GetUser(ctx context.Context) *domain.User {
	sess := GetSession(ctx)
	if sess == nil {
		return nil
	}
	return sess.User
}

// SetSession stores a session in the context.
//
// This is typically called by authentication middleware after validating
// a bearer token.
func SetSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}
