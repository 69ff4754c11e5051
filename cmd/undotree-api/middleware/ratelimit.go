package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/x121/undotree/common/ratelimit"
)

// SaveScope is the rate limit scope for tree writes
const SaveScope = "undo_tree_save"

// UserRateLimit limits requests per user in scope. Requires RequireUserID to
// run first. Fails open when the limiter is unavailable.
func UserRateLimit(checker ratelimit.Checker, scope string, limit int64, windowSec int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := GetUserID(c)
			if userID == "" {
				return next(c)
			}

			result, err := checker.CheckUserLimit(c.Request().Context(), userID, scope, limit, windowSec)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "user_rate_limit_exceeded",
					"message": "Too many undo tree writes. Please wait before trying again.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window_seconds":      windowSec,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
