package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/x121/undotree/cmd/undotree-api/container"
	"github.com/x121/undotree/cmd/undotree-api/handlers"
	"github.com/x121/undotree/cmd/undotree-api/middleware"
)

// RegisterUndoTreeRoutes registers the per-user undo tree routes
func RegisterUndoTreeRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewUndoTreeHandler(c)

	var saveMiddleware []echo.MiddlewareFunc
	if c.RateLimiter != nil {
		limits := c.Components.Config.RateLimit
		saveMiddleware = append(saveMiddleware,
			middleware.UserRateLimit(c.RateLimiter, middleware.SaveScope, limits.SaveLimit, limits.WindowSeconds))
	}

	user := e.Group("/api/v1/user", middleware.RequireUserID())
	{
		user.GET("/undo-tree/:entity_type/:entity_id", h.GetTree)                      // GET /api/v1/user/undo-tree/scene/42
		user.PUT("/undo-tree/:entity_type/:entity_id", h.SaveTree, saveMiddleware...) // PUT /api/v1/user/undo-tree/scene/42
		user.DELETE("/undo-tree/:entity_type/:entity_id", h.DeleteTree)                // DELETE /api/v1/user/undo-tree/scene/42
		user.GET("/undo-trees", h.ListTrees)                                           // GET /api/v1/user/undo-trees
	}
}
