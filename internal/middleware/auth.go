// Package middleware contains HTTP middleware for the soundloft API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/soundloft/internal/auth"
	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/handler"
	"github.com/google/uuid"
)

// =============================================================================
// Auth Middleware Configuration
// =============================================================================

// UserLoader loads the profile for an authenticated user id.
type UserLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// TokenVerifier validates a bearer token and returns its user id.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// AuthMiddleware resolves bearer tokens into request sessions.
//
// Create one instance and use its methods as middleware.
type AuthMiddleware struct {
	verifier TokenVerifier
	users    UserLoader
	logger   *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware instance.
func NewAuthMiddleware(verifier TokenVerifier, users UserLoader, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		users:    users,
		logger:   logger,
	}
}

// =============================================================================
// WithSession Middleware
// =============================================================================

// WithSession attempts to load a session from the Authorization header and
// always continues to the next handler. Handlers read the result with
// auth.GetSession; a request without a valid token carries no session.
func (m *AuthMiddleware) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.loadSession(r)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		recordSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(auth.SetSession(r.Context(), sess)))
	})
}

// =============================================================================
// RequireSession Middleware
// =============================================================================

// RequireSession rejects requests without a valid bearer token with a JSON
// 401. On success the session is stored in the request context.
//
// Flow:
//
//	Request -> RequireSession -> Handler
//	           |
//	           +-> Read "Authorization: Bearer <token>"
//	           +-> Verify signature and expiry
//	           +-> Load user profile
//	           +-> 401 on any failure
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// An upstream WithSession may already have done the work.
		if sess := auth.GetSession(r.Context()); sess.Valid() {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := m.loadSession(r)
		if err != nil {
			m.reject(w, r, err)
			return
		}

		recordSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(auth.SetSession(r.Context(), sess)))
	})
}

// loadSession verifies the bearer token and loads its user.
func (m *AuthMiddleware) loadSession(r *http.Request) (*auth.Session, error) {
	const op = "middleware.load_session"

	token := auth.BearerToken(r.Header.Get("Authorization"))
	userID, err := m.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := m.users.GetByID(r.Context(), userID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return nil, domain.Unauthorized(op, "Account not found")
		}
		return nil, err
	}

	return &auth.Session{User: user, AccessToken: token}, nil
}

// reject writes the failure response for RequireSession.
func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		handler.UnauthorizedResponse(w, r, m.logger)
	case errors.Is(err, auth.ErrInvalidToken):
		m.logger.Debug("rejected bearer token", "error", err, "path", r.URL.Path)
		handler.ErrorResponse(w, r, m.logger, domain.Unauthorized("middleware.require_session", "Invalid or expired token"))
	case domain.ErrorCode(err) == domain.EUNAUTHORIZED:
		handler.ErrorResponse(w, r, m.logger, err)
	default:
		// Profile store failures are ours, not the caller's.
		handler.InternalErrorResponse(w, r, m.logger, err)
	}
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, so the first middleware
// in the list is the outermost (executes first).
//
// Example:
//
//	stack := Stack(loggingMw.Handler, rateMw.Limit, authMw.RequireSession)
//	mux.Handle("GET /api/quota", stack(quotaHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
