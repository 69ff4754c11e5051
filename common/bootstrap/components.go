package bootstrap

import (
	"context"
	"fmt"

	"github.com/x121/undotree/common/cache"
	"github.com/x121/undotree/common/config"
	"github.com/x121/undotree/common/db"
	"github.com/x121/undotree/common/logger"
	rediscommon "github.com/x121/undotree/common/redis"
	"github.com/x121/undotree/common/telemetry"
)

// Components holds all initialized service dependencies
type Components struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.DB
	Redis     *rediscommon.Client
	Cache     cache.Cache
	Telemetry *telemetry.Telemetry

	// Internal
	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components
// Should be called with defer after Setup()
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errors []error

	// Run cleanup functions in reverse order (LIFO)
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errors = append(errors, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	c.cleanupFuncs = nil

	if len(errors) > 0 {
		return fmt.Errorf("shutdown errors: %v", errors)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health reports the first unhealthy component, or nil
func (c *Components) Health(ctx context.Context) error {
	_, err := c.HealthReport(ctx)
	return err
}

// HealthReport pings each configured backend. The map holds "ok", the
// failure message, or "disabled" per component.
func (c *Components) HealthReport(ctx context.Context) (map[string]string, error) {
	report := map[string]string{
		"database": "disabled",
		"redis":    "disabled",
		"cache":    "disabled",
	}
	if c.Cache != nil {
		report["cache"] = c.Config.Cache.Backend
	}

	var firstErr error
	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			report[name] = err.Error()
			if firstErr == nil {
				firstErr = fmt.Errorf("%s unhealthy: %w", name, err)
			}
			return
		}
		report[name] = "ok"
	}

	if c.DB != nil {
		check("database", c.DB.Health)
	}
	if c.Redis != nil {
		check("redis", c.Redis.Ping)
	}

	return report, firstErr
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
