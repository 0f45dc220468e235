package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/atelier-ai/atelier/pkg/auth"
)

// Context keys set by the auth middleware.
const (
	ctxUserID  = "user_id"
	ctxIsAdmin = "is_admin"
)

// bearerAuth returns middleware that requires a valid bearer token and stores
// the caller's identity on the request context.
func bearerAuth(issuer *auth.TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			userID, isAdmin, err := issuer.Verify(strings.TrimPrefix(header, prefix))
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			c.Set(ctxUserID, userID)
			c.Set(ctxIsAdmin, isAdmin)
			return next(c)
		}
	}
}

// requireAdmin returns middleware that rejects non-admin callers. Must run
// after bearerAuth.
func requireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if isAdmin, _ := c.Get(ctxIsAdmin).(bool); !isAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "admin access required")
			}
			return next(c)
		}
	}
}

// currentUserID returns the authenticated caller's user id.
func currentUserID(c *echo.Context) string {
	userID, _ := c.Get(ctxUserID).(string)
	return userID
}

// requireThreadAccess extracts the :thread_id parameter and enforces the
// prefix-based ownership proof: the thread id must start with the caller's
// user id. This is the only access control on thread-scoped endpoints.
func requireThreadAccess(c *echo.Context) (string, error) {
	threadID := c.Param("thread_id")
	if !auth.ValidThreadID(threadID) {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid thread id")
	}
	if !auth.OwnsThread(currentUserID(c), threadID) {
		return "", echo.NewHTTPError(http.StatusForbidden, "thread belongs to another user")
	}
	return threadID, nil
}
