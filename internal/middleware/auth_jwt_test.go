package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"keyshop/internal/config"
	"keyshop/internal/domain/model"
	"keyshop/internal/middleware"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

// =====================
// レスポンス確認用
// =====================

type mwErrorResponse struct {
	Error string `json:"error"`
}

type mwOKResponse struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// =====================
// helper
// =====================

func mustMakeJWT(t *testing.T, secret string, sub interface{}, role string, signingMethod jwt.SigningMethod) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"iat":  1,
		"exp":  9999999999,
	}

	token := jwt.NewWithClaims(signingMethod, claims)

	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}
	return s
}

func runRequest(t *testing.T, e *echo.Echo, method string, path string, authHeader string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeMWError(t *testing.T, rec *httptest.ResponseRecorder) mwErrorResponse {
	t.Helper()
	var r mwErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&r)
	return r
}

func protectedEcho(cfg config.Config, mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		userID, _ := c.Get(middleware.CtxUserIDKey).(int64)
		role, _ := c.Get(middleware.CtxUserRoleKey).(model.Role)
		return c.JSON(http.StatusOK, mwOKResponse{UserID: userID, Role: string(role)})
	}, mws...)
	return e
}

// =====================
// AuthJWT
// =====================

func TestMiddleware_AuthJWT_Unauthorized(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"bad scheme", "Token abc.def.ghi"},
		{"empty token", "Bearer   "},
		{"bad signature", "Bearer " + mustMakeJWT(t, "wrong-secret", 1, "USER", jwt.SigningMethodHS256)},
		{"wrong alg", "Bearer " + mustMakeJWT(t, cfg.JWTSecret, 1, "USER", jwt.SigningMethodHS512)},
		{"unknown role", "Bearer " + mustMakeJWT(t, cfg.JWTSecret, 1, "ROOT", jwt.SigningMethodHS256)},
		{"zero sub", "Bearer " + mustMakeJWT(t, cfg.JWTSecret, 0, "USER", jwt.SigningMethodHS256)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := protectedEcho(cfg, middleware.AuthJWT(cfg))

			rec := runRequest(t, e, http.MethodGet, "/protected", tt.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeMWError(t, rec).Error)
		})
	}
}

// 正常：ctxに値が入る（subは数値でも文字列でもよい）
func TestMiddleware_AuthJWT_Success_SetsContext(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}

	for _, sub := range []interface{}{123, "123"} {
		e := protectedEcho(cfg, middleware.AuthJWT(cfg))
		raw := mustMakeJWT(t, cfg.JWTSecret, sub, "USER", jwt.SigningMethodHS256)

		rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
		assert.Equal(t, http.StatusOK, rec.Code)

		var body mwOKResponse
		_ = json.NewDecoder(rec.Body).Decode(&body)
		assert.Equal(t, int64(123), body.UserID)
		assert.Equal(t, "USER", body.Role)
	}
}

// =====================
// AdminRoleGuard
// =====================

func TestMiddleware_AdminRoleGuard(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}

	tests := []struct {
		name string
		role string
		want int
	}{
		{"user is forbidden", "USER", http.StatusForbidden},
		{"admin passes", "ADMIN", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := protectedEcho(cfg, middleware.AuthJWT(cfg), middleware.AdminRoleGuard())
			raw := mustMakeJWT(t, cfg.JWTSecret, 1, tt.role, jwt.SigningMethodHS256)

			rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

// 複数roleを許可するルート
func TestMiddleware_RequireRole_AllowsListedRoles(t *testing.T) {
	cfg := config.Config{JWTSecret: "test-secret"}
	e := protectedEcho(cfg, middleware.AuthJWT(cfg), middleware.RequireRole(model.RoleUser, model.RoleAdmin))

	for _, role := range []string{"USER", "ADMIN"} {
		raw := mustMakeJWT(t, cfg.JWTSecret, 1, role, jwt.SigningMethodHS256)
		rec := runRequest(t, e, http.MethodGet, "/protected", "Bearer "+raw)
		assert.Equal(t, http.StatusOK, rec.Code, role)
	}
}

// AuthJWT無しでGuardだけ => 401
func TestMiddleware_AdminRoleGuard_MissingContext(t *testing.T) {
	e := protectedEcho(config.Config{}, middleware.AdminRoleGuard())

	rec := runRequest(t, e, http.MethodGet, "/protected", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
