// Package auth turns session tokens on requests into users.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/apperrors"
	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

// contextKey is a custom type for context keys.
type contextKey string

const userContextKey contextKey = "user"

// CookieName carries the token for browser tabs.
const CookieName = "pulse_session"

// ProfileLookup resolves an alias to its registry profile.
type ProfileLookup func(alias string) (models.User, bool)

// Authenticator extracts the signed-in user from requests.
type Authenticator struct {
	tokens *TokenManager
	lookup ProfileLookup
}

// NewAuthenticator creates a new authenticator. lookup may be nil.
func NewAuthenticator(tokens *TokenManager, lookup ProfileLookup) *Authenticator {
	return &Authenticator{tokens: tokens, lookup: lookup}
}

// TokenFromRequest reads the bearer header, then the cookie, then the
// "token" query parameter browsers use for websockets.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// GetUser extracts the user from an HTTP request.
func (a *Authenticator) GetUser(r *http.Request) (*models.User, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, apperrors.ErrNotSignedIn
	}
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnauthenticated, "session expired, sign in again", err)
	}

	if a.lookup != nil {
		if u, ok := a.lookup(claims.Alias); ok {
			return &u, nil
		}
	}
	return &models.User{ID: claims.Subject, Name: claims.Alias}, nil
}

// Middleware rejects requests without a valid session.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.GetUser(r)
		if err != nil {
			http.Error(w, apperrors.Message(err), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// Optional attaches the user when the request carries a valid session.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, err := a.GetUser(r); err == nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the user from the request context.
func UserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(userContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
