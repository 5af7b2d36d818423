package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/loan-backoffice/internal/permission"
)

func serveWithActor(t *testing.T, m *AuthMiddleware, r *http.Request) (*httptest.ResponseRecorder, *permission.Actor) {
	t.Helper()

	var got *permission.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		require.True(t, ok, "actor not in context")
		got = &actor
	})

	w := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(w, r)
	return w, got
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := m.IssueToken(42, permission.RoleOfficer, time.Hour)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, token, time.Hour)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies, "no cookies set by SetAuthCookie")

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookies[0])

	_, actor := serveWithActor(t, m, r)
	require.NotNil(t, actor, "next handler was not called")
	assert.Equal(t, int64(42), actor.ID)
	assert.Equal(t, permission.RoleOfficer, actor.Role)
	assert.True(t, actor.Capabilities.Has(permission.LoansApprove))
	assert.False(t, actor.Capabilities.Has(permission.SettingsUpdate))
}

func TestAuthMiddleware_WithBearerHeader(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := m.IssueToken(7, permission.RoleCollector, 0)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, actor := serveWithActor(t, m, r)
	require.NotNil(t, actor)
	assert.Equal(t, permission.RoleCollector, actor.Role)
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	foreign, err := other.IssueToken(1, permission.RoleAdmin, time.Hour)
	require.NoError(t, err)

	past := NewAuthMiddleware("test-secret")
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := past.IssueToken(1, permission.RoleAdmin, time.Hour)
	require.NoError(t, err)

	systemToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 1,
		"role":    "system",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 1,
		"role":    "admin",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no token"},
		{name: "malformed header", header: "Token abc"},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "foreign signature", header: "Bearer " + foreign},
		{name: "expired", header: "Bearer " + expired},
		{name: "system role", header: "Bearer " + systemToken},
		{name: "no expiry", header: "Bearer " + noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			w, actor := serveWithActor(t, m, r)
			assert.Nil(t, actor, "next handler should not be called")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestIssueToken_SystemRoleRefused(t *testing.T) {
	m := NewAuthMiddleware("")

	_, err := m.IssueToken(1, permission.RoleSystem, time.Hour)
	assert.Error(t, err)

	_, err = m.IssueToken(1, permission.Role("janitor"), time.Hour)
	assert.Error(t, err)
}
