package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarabhishek92100-ops/creativepluse/internal/models"
)

func TestIssueAndValidate(t *testing.T) {
	m, err := NewTokenManager("s3cret", time.Hour)
	require.NoError(t, err)

	token, err := m.Issue("u-ada", "Ada")
	require.NoError(t, err)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "Ada", claims.Alias)
	assert.Equal(t, "u-ada", claims.Subject)
}

func TestValidateRejectsExpiredAndForeign(t *testing.T) {
	m, err := NewTokenManager("s3cret", time.Hour)
	require.NoError(t, err)
	token, err := m.Issue("u-ada", "Ada")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenManager("different", time.Hour)
	require.NoError(t, err)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	m, err := NewTokenManager("", time.Hour)
	require.NoError(t, err)
	lookup := func(alias string) (models.User, bool) {
		if alias == "Ada" {
			return models.User{ID: "u-ada", Name: "Ada", Role: "Painter"}, true
		}
		return models.User{}, false
	}
	a := NewAuthenticator(m, lookup)

	var seen *models.User
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := m.Issue("u-ada", "Ada")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "Painter", seen.Role)

	// Websocket tabs pass the token in the query string.
	bob, err := m.Issue("u-bob", "Bob")
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+bob, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bob", seen.Name)
	assert.Equal(t, "u-bob", seen.ID)
}

func TestOptionalPassesAnonymous(t *testing.T) {
	m, err := NewTokenManager("k", time.Hour)
	require.NoError(t, err)
	a := NewAuthenticator(m, nil)

	called := false
	h := a.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, UserFromContext(r.Context()))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}
