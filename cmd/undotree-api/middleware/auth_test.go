package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/x121/undotree/common/clients"
)

func TestRequireUserID(t *testing.T) {
	e := echo.New()
	var seen, fromCtx string
	e.GET("/", func(c echo.Context) error {
		seen = GetUserID(c)
		fromCtx, _ = clients.GetUserID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}, RequireUserID())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "alice")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", seen)
	assert.Equal(t, "alice", fromCtx)
}

func TestRequireUserID_CarriesRequestID(t *testing.T) {
	e := echo.New()
	var requestID string
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: func() string { return "req-7" },
	}))
	e.GET("/", func(c echo.Context) error {
		requestID, _ = clients.GetRequestID(c.Request().Context())
		return c.NoContent(http.StatusOK)
	}, RequireUserID())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-7", requestID)
}
