package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"app/internal/config"
	"app/internal/middleware"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

const testSecret = "test_secret"

func mustMakeJWT(t *testing.T, secret string, sub any, role string, method jwt.SigningMethod) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"iat":  1,
		"exp":  9999999999,
	}

	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return s
}

// AuthJWTを通った後のcontext値をそのまま返すエコーサーバ
func newTestServer(adminOnly bool) *echo.Echo {
	cfg := config.Config{JWTSecret: testSecret}

	e := echo.New()
	g := e.Group("/protected")
	g.Use(middleware.AuthJWT(cfg))
	if adminOnly {
		g.Use(middleware.AdminRoleGuard())
	}
	g.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"user_id": c.Get(middleware.CtxUserIDKey),
			"role":    c.Get(middleware.CtxUserRoleKey),
		})
	})
	return e
}

func runRequest(t *testing.T, e *echo.Echo, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthJWT_ValidToken(t *testing.T) {
	e := newTestServer(false)

	token := mustMakeJWT(t, testSecret, 7, "USER", jwt.SigningMethodHS256)
	rec := runRequest(t, e, "Bearer "+token)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"user_id":7`)
	assert.Contains(t, rec.Body.String(), `"role":"USER"`)
}

func TestAuthJWT_MissingHeader(t *testing.T) {
	e := newTestServer(false)

	rec := runRequest(t, e, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthJWT_NotBearer(t *testing.T) {
	e := newTestServer(false)

	rec := runRequest(t, e, "Basic dXNlcjpwYXNz")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthJWT_WrongSecret(t *testing.T) {
	e := newTestServer(false)

	token := mustMakeJWT(t, "other_secret", 7, "USER", jwt.SigningMethodHS256)
	rec := runRequest(t, e, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthJWT_WrongSigningMethod(t *testing.T) {
	e := newTestServer(false)

	// HS256以外は拒否
	token := mustMakeJWT(t, testSecret, 7, "USER", jwt.SigningMethodHS512)
	rec := runRequest(t, e, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthJWT_InvalidSub(t *testing.T) {
	e := newTestServer(false)

	token := mustMakeJWT(t, testSecret, "not-a-number", "USER", jwt.SigningMethodHS256)
	rec := runRequest(t, e, "Bearer "+token)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoleGuard_RejectsUser(t *testing.T) {
	e := newTestServer(true)

	token := mustMakeJWT(t, testSecret, 7, "USER", jwt.SigningMethodHS256)
	rec := runRequest(t, e, "Bearer "+token)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminRoleGuard_AllowsAdmin(t *testing.T) {
	e := newTestServer(true)

	token := mustMakeJWT(t, testSecret, 1, "ADMIN", jwt.SigningMethodHS256)
	rec := runRequest(t, e, "Bearer "+token)

	assert.Equal(t, http.StatusOK, rec.Code)
}
