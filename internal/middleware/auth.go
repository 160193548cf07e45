package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storefront-service/internal/rbac"
	"storefront-service/pkg/jwtutil"
	"storefront-service/pkg/logger"
	"storefront-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const sessionKey = "session"

// Session is the authenticated caller of a request
type Session struct {
	CustomerID uint
	Email      string
	Role       rbac.Role
}

// SessionFrom returns the caller stored by the auth middleware
func SessionFrom(c echo.Context) (*Session, bool) {
	session, ok := c.Get(sessionKey).(*Session)
	return session, ok && session != nil
}

// RoleSource reports the role a customer holds right now. found is false
// when the account no longer exists.
type RoleSource interface {
	CurrentRole(ctx context.Context, customerID uint) (role rbac.Role, found bool, err error)
}

var errAccountGone = errors.New("session account no longer exists")

// lookupError marks a role lookup that failed for reasons unrelated to the
// token, such as the store being unreachable.
type lookupError struct{ err error }

func (e *lookupError) Error() string { return fmt.Sprintf("look up role: %v", e.err) }
func (e *lookupError) Unwrap() error { return e.err }

// Auth resolves session tokens from the session cookie or an
// Authorization bearer header.
type Auth struct {
	tokens     *jwtutil.JWTUtil
	cookieName string
	roles      RoleSource
}

// NewAuth creates the auth middleware set
func NewAuth(tokens *jwtutil.JWTUtil, cookieName string) *Auth {
	if cookieName == "" {
		cookieName = "session_token"
	}
	return &Auth{tokens: tokens, cookieName: cookieName}
}

// WithRoleSource makes sessions carry the account's current role instead of
// the role signed into the token, so role changes apply on the next request.
func (a *Auth) WithRoleSource(roles RoleSource) *Auth {
	a.roles = roles
	return a
}

// CookieName is the name of the session cookie
func (a *Auth) CookieName() string {
	return a.cookieName
}

func (a *Auth) token(c echo.Context) string {
	if cookie, err := c.Cookie(a.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	parts := strings.Fields(c.Request().Header.Get(echo.HeaderAuthorization))
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func (a *Auth) resolve(c echo.Context) (*Session, error) {
	tokenString := a.token(c)
	if tokenString == "" {
		return nil, nil
	}
	claims, err := a.tokens.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	role, err := rbac.Parse(claims.Role)
	if err != nil {
		return nil, err
	}
	if a.roles != nil {
		current, found, err := a.roles.CurrentRole(c.Request().Context(), claims.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("look up role: %w", err)
		}
		if !found {
			return nil, errAccountGone
		}
		role = current
	}
	return &Session{CustomerID: claims.CustomerID, Email: claims.Email, Role: role}, nil
}

func isLookupError(err error) bool {
	var lookup *lookupError
	return errors.As(err, &lookup)
}

// Required rejects requests without a valid session
func (a *Auth) Required() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			session, err := a.resolve(c)
			if isLookupError(err) {
				return err
			}
			if err != nil {
				log.Warn("Invalid or expired token", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired session")
			}
			if session == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
			}

			c.Set(sessionKey, session)
			log.Debug("Session validated",
				zap.Uint("customer_id", session.CustomerID),
				zap.String("role", session.Role.String()))
			return next(c)
		}
	}
}

// Optional attaches the session when one is present. Invalid tokens are
// treated as anonymous.
func (a *Auth) Optional() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, err := a.resolve(c)
			if err != nil {
				logger.FromEcho(c).Debug("Ignoring invalid session token", zap.Error(err))
			}
			if session != nil {
				c.Set(sessionKey, session)
			}
			return next(c)
		}
	}
}

// RequireRole rejects callers ranked below min. It expects Required to have
// run first.
func RequireRole(min rbac.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, ok := SessionFrom(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
			}
			if !session.Role.AtLeast(min) {
				logger.FromEcho(c).Warn("Role check failed",
					zap.Uint("customer_id", session.CustomerID),
					zap.String("role", session.Role.String()),
					zap.String("required", min.String()))
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
			}
			return next(c)
		}
	}
}
