package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/x121/undotree/common/clients"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated user id
	UserIDKey ContextKey = "user_id"

	// UserIDHeader carries the caller identity, set by the upstream gateway
	UserIDHeader = clients.HeaderUserID
)

// RequireUserID rejects requests without an X-User-ID header and stores the
// id on both the echo context and the request context. A request id already
// assigned by the RequestID middleware is copied into the request context too.
//
// Usage:
//
//	api := e.Group("/api/v1/user", middleware.RequireUserID())
//
// Accessing in handlers:
//
//	userID := middleware.GetUserID(c)
func RequireUserID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := c.Request().Header.Get(UserIDHeader)

			if userID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error": "X-User-ID header is required",
				})
			}

			c.Set(string(UserIDKey), userID)
			req := c.Request()
			ctx := clients.WithUserID(req.Context(), userID)
			if requestID := c.Response().Header().Get(echo.HeaderXRequestID); requestID != "" {
				ctx = clients.WithRequestID(ctx, requestID)
			}
			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}

// GetUserID retrieves the user id from the echo context
// Returns empty string if not set
func GetUserID(c echo.Context) string {
	userID, _ := c.Get(string(UserIDKey)).(string)
	return userID
}
