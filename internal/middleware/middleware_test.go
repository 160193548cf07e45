package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront-service/internal/rbac"
	"storefront-service/pkg/jwtutil"
	"storefront-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTokens() *jwtutil.JWTUtil {
	return jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: "test-key", ExpirationHours: 1})
}

func issue(t *testing.T, tokens *jwtutil.JWTUtil, id uint, role rbac.Role) string {
	t.Helper()
	token, _, err := tokens.GenerateToken(id, "someone@example.com", role.String())
	require.NoError(t, err)
	return token
}

func run(e *echo.Echo, req *http.Request, h echo.HandlerFunc, mw ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, error) {
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return rec, h(c)
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestRequiredAuth(t *testing.T) {
	e := echo.New()
	tokens := newTokens()
	auth := NewAuth(tokens, "session_token")

	var seen *Session
	handler := func(c echo.Context) error {
		seen, _ = SessionFrom(c)
		return c.NoContent(http.StatusOK)
	}

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.AddCookie(&http.Cookie{Name: "session_token", Value: issue(t, tokens, 7, rbac.RoleAdmin)})
		rec, err := run(e, req, handler, auth.Required())
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, uint(7), seen.CustomerID)
		assert.Equal(t, rbac.RoleAdmin, seen.Role)
	})

	t.Run("bearer", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+issue(t, tokens, 9, rbac.RoleUser))
		_, err := run(e, req, handler, auth.Required())
		require.NoError(t, err)
		assert.Equal(t, uint(9), seen.CustomerID)
	})

	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		_, err := run(e, req, handler, auth.Required())
		assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
	})

	t.Run("garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer not-a-token")
		_, err := run(e, req, handler, auth.Required())
		assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
	})
}

func TestOptionalAuth(t *testing.T) {
	e := echo.New()
	tokens := newTokens()
	auth := NewAuth(tokens, "")

	handler := func(c echo.Context) error {
		if _, ok := SessionFrom(c); ok {
			return c.String(http.StatusOK, "member")
		}
		return c.String(http.StatusOK, "guest")
	}

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	rec, err := run(e, req, handler, auth.Optional())
	require.NoError(t, err)
	assert.Equal(t, "guest", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName(), Value: "expired-or-forged"})
	rec, err = run(e, req, handler, auth.Optional())
	require.NoError(t, err)
	assert.Equal(t, "guest", rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName(), Value: issue(t, tokens, 3, rbac.RoleUser)})
	rec, err = run(e, req, handler, auth.Optional())
	require.NoError(t, err)
	assert.Equal(t, "member", rec.Body.String())
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	tokens := newTokens()
	auth := NewAuth(tokens, "session_token")
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	tests := []struct {
		role rbac.Role
		min  rbac.Role
		want int
	}{
		{rbac.RoleUser, rbac.RoleAdmin, http.StatusForbidden},
		{rbac.RoleAdmin, rbac.RoleAdmin, http.StatusNoContent},
		{rbac.RoleSuperAdmin, rbac.RoleAdmin, http.StatusNoContent},
		{rbac.RoleAdmin, rbac.RoleSuperAdmin, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role.String()+"_needs_"+tt.min.String(), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
			req.AddCookie(&http.Cookie{Name: "session_token", Value: issue(t, tokens, 1, tt.role)})
			rec, err := run(e, req, ok, auth.Required(), RequireRole(tt.min))
			if tt.want == http.StatusForbidden {
				assert.Equal(t, tt.want, statusOf(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	_, err := run(e, req, ok, RequireRole(rbac.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
}

type fixedRoles struct {
	roles map[uint]rbac.Role
	err   error
}

func (f fixedRoles) CurrentRole(_ context.Context, id uint) (rbac.Role, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	role, ok := f.roles[id]
	return role, ok, nil
}

func TestRoleSourceOverridesTokenRole(t *testing.T) {
	e := echo.New()
	tokens := newTokens()
	auth := NewAuth(tokens, "session_token").WithRoleSource(fixedRoles{roles: map[uint]rbac.Role{1: rbac.RoleUser}})
	ok := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: issue(t, tokens, 1, rbac.RoleAdmin)})
	_, err := run(e, req, ok, auth.Required(), RequireRole(rbac.RoleAdmin))
	assert.Equal(t, http.StatusForbidden, statusOf(t, err))

	req = httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: issue(t, tokens, 2, rbac.RoleAdmin)})
	_, err = run(e, req, ok, auth.Required(), RequireRole(rbac.RoleAdmin))
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	var seen bool
	anonymous := func(c echo.Context) error {
		_, seen = SessionFrom(c)
		return c.NoContent(http.StatusOK)
	}
	req = httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: issue(t, tokens, 2, rbac.RoleUser)})
	_, err = run(e, req, anonymous, auth.Optional())
	require.NoError(t, err)
	assert.False(t, seen)

	down := errors.New("connection refused")
	broken := NewAuth(tokens, "session_token").WithRoleSource(fixedRoles{err: down})
	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_token", Value: issue(t, tokens, 1, rbac.RoleUser)})
	_, err = run(e, req, ok, broken.Required())
	assert.ErrorIs(t, err, down)
}

func TestRequestID(t *testing.T) {
	logger.SetLogger(zap.NewNop())
	e := echo.New()
	handler := func(c echo.Context) error {
		assert.NotNil(t, logger.FromContext(c.Request().Context()))
		return c.NoContent(http.StatusOK)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec, err := run(e, req, handler, RequestIDMiddleware())
	require.NoError(t, err)
	assert.Len(t, rec.Header().Get(echo.HeaderXRequestID), 36)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc-123")
	rec, err = run(e, req, handler, RequestIDMiddleware())
	require.NoError(t, err)
	assert.Equal(t, "abc-123", rec.Header().Get(echo.HeaderXRequestID))
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	limited := RateLimit(0.001, 2)
	ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		_, err := run(e, req, ok, limited)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	_, err := run(e, req, ok, limited)
	assert.Equal(t, http.StatusTooManyRequests, statusOf(t, err))

	req = httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	_, err = run(e, req, ok, limited)
	assert.NoError(t, err)
}
