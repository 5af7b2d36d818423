// Package middleware содержит HTTP middleware бэк-офиса.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmeshcher/loan-backoffice/internal/permission"
)

type contextKey string

const actorKey contextKey = "actor"

const (
	authCookieName = "auth_token"
	// DefaultTokenTTL задаёт срок действия токена сотрудника по умолчанию.
	DefaultTokenTTL = 12 * time.Hour
)

// ErrInvalidToken возвращается для токена, который нельзя принять.
var ErrInvalidToken = errors.New("invalid token")

// AuthMiddleware проверяет токен сотрудника и кладёт действующее лицо в контекст запроса.
type AuthMiddleware struct {
	secretKey []byte
	now       func() time.Time
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// Пустой ключ заменяется случайным: выданные токены перестанут действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		now:       time.Now,
	}
}

// IssueToken подписывает токен сотрудника с указанной ролью.
func (a *AuthMiddleware) IssueToken(actorID int64, role permission.Role, ttl time.Duration) (string, error) {
	if !issuable(role) {
		return "", fmt.Errorf("role %q cannot be issued a token", role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": actorID,
		"role":    string(role),
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	})
	return token.SignedString(a.secretKey)
}

// Middleware принимает токен из cookie auth_token или из заголовка Authorization: Bearer.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actor, err := a.ParseToken(raw)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseToken проверяет подпись и срок действия токена и восстанавливает по нему действующее лицо.
func (a *AuthMiddleware) ParseToken(raw string) (permission.Actor, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return permission.Actor{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return permission.Actor{}, ErrInvalidToken
	}
	id, ok := claims["user_id"].(float64)
	if !ok || id <= 0 {
		return permission.Actor{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	if !issuable(permission.Role(role)) {
		return permission.Actor{}, ErrInvalidToken
	}

	return permission.NewActor(int64(id), permission.Role(role)), nil
}

// SetAuthCookie устанавливает cookie авторизации с уже выданным токеном.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  a.now().Add(ttl),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ActorFromContext извлекает действующее лицо из контекста запроса.
func ActorFromContext(ctx context.Context) (permission.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(permission.Actor)
	return actor, ok
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(authCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	parts := strings.Fields(r.Header.Get("Authorization"))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// Роль system зарезервирована для фоновых заданий.
func issuable(r permission.Role) bool {
	switch r {
	case permission.RoleAdmin, permission.RoleOfficer, permission.RoleCollector, permission.RoleViewer:
		return true
	}
	return false
}
