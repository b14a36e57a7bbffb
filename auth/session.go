// Package auth resolves the signed-in user of a request: from the session
// cookie or a bearer push token for REST calls, and from a push token in the
// URI or the session cookie for the push channel handshake. Login itself
// belongs to the surrounding application, which calls StartSession once it
// has identified the user.
package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

// ContextKeyUser is the context key for the authenticated user.
const ContextKeyUser ContextKey = "user"

// PushTokenParam is the query parameter carrying the push token.
const PushTokenParam = "token"

// UserStore is the interface for user lookups.
type UserStore interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*types.User, error)
}

// SessionMiddleware provides session-based authentication middleware.
type SessionMiddleware struct {
	sessionStore sessions.Store
	cookieName   string
	userStore    UserStore
	tokens       *TokenIssuer
}

// NewSessionMiddleware creates a new session middleware. tokens may be nil,
// in which case the push handshake only accepts the session cookie.
func NewSessionMiddleware(
	sessionStore sessions.Store,
	cookieName string,
	userStore UserStore,
	tokens *TokenIssuer,
) *SessionMiddleware {
	return &SessionMiddleware{
		sessionStore: sessionStore,
		cookieName:   cookieName,
		userStore:    userStore,
		tokens:       tokens,
	}
}

// Tokens returns the push token issuer.
func (m *SessionMiddleware) Tokens() *TokenIssuer {
	return m.tokens
}

// StartSession marks the session of r as logged in as userID.
func (m *SessionMiddleware) StartSession(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	session, err := m.sessionStore.Get(r, m.cookieName)
	if err != nil && session == nil {
		return types.NewHTTPError(http.StatusInternalServerError, "Failed to get session", err)
	}
	session.Values["logged"] = true
	session.Values["user_id"] = userID.String()
	return session.Save(r, w)
}

// Authenticate validates the session and returns the user, or an error.
func (m *SessionMiddleware) Authenticate(r *http.Request) (*types.User, error) {
	session, err := m.sessionStore.Get(r, m.cookieName)
	if err != nil {
		return nil, types.NewHTTPError(http.StatusInternalServerError, "Failed to get session", err)
	}

	logged, ok := session.Values["logged"].(bool)
	if !ok || !logged {
		log.Debug().
			Str("path", r.URL.Path).
			Msg("Authentication required")
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Authentication required", nil)
	}

	userIDStr, ok := session.Values["user_id"].(string)
	if !ok {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Invalid session", nil)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Invalid user ID in session", nil)
	}

	return m.loadUser(r.Context(), userID)
}

// AuthenticateHandshake resolves the identity of a push channel handshake.
// A push token in the URI takes precedence over the session cookie; an
// invalid token is rejected rather than falling back.
func (m *SessionMiddleware) AuthenticateHandshake(r *http.Request) (*types.User, error) {
	token := r.URL.Query().Get(PushTokenParam)
	if token == "" {
		return m.Authenticate(r)
	}
	if m.tokens == nil {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Push tokens are not enabled", nil)
	}

	return m.verifyToken(r.Context(), token)
}

// AuthenticateAPI resolves the user of a REST call. An Authorization bearer
// push token takes precedence over the session cookie.
func (m *SessionMiddleware) AuthenticateAPI(r *http.Request) (*types.User, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return m.Authenticate(r)
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || m.tokens == nil {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Unsupported authorization", nil)
	}
	return m.verifyToken(r.Context(), token)
}

func (m *SessionMiddleware) verifyToken(ctx context.Context, token string) (*types.User, error) {
	userID, err := m.tokens.Verify(token)
	if err != nil {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "Invalid push token", err)
	}
	return m.loadUser(ctx, userID)
}

func (m *SessionMiddleware) loadUser(ctx context.Context, userID uuid.UUID) (*types.User, error) {
	user, err := m.userStore.GetUserByID(ctx, userID)
	if err != nil {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "User not found", err)
	}
	if !user.IsActive() {
		return nil, types.NewHTTPError(http.StatusUnauthorized, "User is deactivated", nil)
	}
	return user, nil
}

// RequireAuth returns middleware that requires a session or a bearer push token.
func (m *SessionMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := m.AuthenticateAPI(r)
		if err != nil {
			types.WriteHTTPError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	}
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *types.User) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// GetUserFromContext retrieves the user from the request context.
func GetUserFromContext(ctx context.Context) *types.User {
	user, ok := ctx.Value(ContextKeyUser).(*types.User)
	if !ok {
		return nil
	}
	return user
}

// GetClientIP extracts the client IP address from the request.
func GetClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxied requests)
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		return realIP
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}
