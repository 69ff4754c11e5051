package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/x121/undotree/cmd/undotree-api/container"
	"github.com/x121/undotree/cmd/undotree-api/middleware"
	"github.com/x121/undotree/cmd/undotree-api/service"
	"github.com/x121/undotree/common/logger"
	"github.com/x121/undotree/common/models"
	"github.com/x121/undotree/common/undo"
)

// UndoTreeHandler serves per-user undo tree persistence
type UndoTreeHandler struct {
	container *container.Container
	service   *service.UndoTreeService
}

// NewUndoTreeHandler creates a new undo tree handler
func NewUndoTreeHandler(c *container.Container) *UndoTreeHandler {
	return &UndoTreeHandler{
		container: c,
		service:   c.UndoTreeService,
	}
}

// GetTree returns the stored tree, or {"data": null} if there is none
// GET /api/v1/user/undo-tree/:entity_type/:entity_id
func (h *UndoTreeHandler) GetTree(c echo.Context) error {
	key, err := entityKey(c)
	if err != nil {
		return err
	}

	tree, err := h.service.GetTree(c.Request().Context(), middleware.GetUserID(c), key)
	if err != nil {
		return h.fail(c, "get", key, err)
	}

	return c.JSON(http.StatusOK, models.DataResponse[*models.UndoTree]{Data: tree})
}

// SaveTree upserts the tree
// PUT /api/v1/user/undo-tree/:entity_type/:entity_id
func (h *UndoTreeHandler) SaveTree(c echo.Context) error {
	key, err := entityKey(c)
	if err != nil {
		return err
	}

	var req models.SaveUndoTree
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.TreeJSON) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tree_json is required")
	}

	tree, err := h.service.SaveTree(c.Request().Context(), middleware.GetUserID(c), key, &req)
	if err != nil {
		return h.fail(c, "save", key, err)
	}

	return c.JSON(http.StatusOK, models.DataResponse[*models.UndoTree]{Data: tree})
}

// DeleteTree removes the tree
// DELETE /api/v1/user/undo-tree/:entity_type/:entity_id
func (h *UndoTreeHandler) DeleteTree(c echo.Context) error {
	key, err := entityKey(c)
	if err != nil {
		return err
	}

	if err := h.service.DeleteTree(c.Request().Context(), middleware.GetUserID(c), key); err != nil {
		return h.fail(c, "delete", key, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// ListTrees lists all trees of the caller
// GET /api/v1/user/undo-trees
func (h *UndoTreeHandler) ListTrees(c echo.Context) error {
	userID := middleware.GetUserID(c)

	trees, err := h.service.ListTrees(c.Request().Context(), userID)
	if err != nil {
		h.requestLogger(c).Error("failed to list undo trees", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list undo trees")
	}

	return c.JSON(http.StatusOK, models.DataResponse[[]*models.UndoTree]{Data: trees})
}

func entityKey(c echo.Context) (undo.EntityKey, error) {
	entityType := c.Param("entity_type")
	if err := undo.ValidateEntityType(entityType); err != nil {
		return undo.EntityKey{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	entityID, err := strconv.ParseInt(c.Param("entity_id"), 10, 64)
	if err != nil {
		return undo.EntityKey{}, echo.NewHTTPError(http.StatusBadRequest, "entity_id must be an integer")
	}

	return undo.EntityKey{Type: entityType, ID: entityID}, nil
}

func (h *UndoTreeHandler) fail(c echo.Context, op string, key undo.EntityKey, err error) error {
	if service.IsValidationError(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	h.requestLogger(c).
		WithEntity(key.Type, key.ID).
		Error("undo tree request failed", "op", op, "error", err)

	return echo.NewHTTPError(http.StatusInternalServerError, "failed to "+op+" undo tree")
}

func (h *UndoTreeHandler) requestLogger(c echo.Context) *logger.Logger {
	return h.container.Components.Logger.
		WithUser(middleware.GetUserID(c)).
		WithRequestID(c.Response().Header().Get(echo.HeaderXRequestID))
}
