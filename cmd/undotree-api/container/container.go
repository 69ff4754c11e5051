package container

import (
	"context"
	"fmt"

	"github.com/x121/undotree/cmd/undotree-api/repository"
	"github.com/x121/undotree/cmd/undotree-api/service"
	"github.com/x121/undotree/common/bootstrap"
	"github.com/x121/undotree/common/config"
	"github.com/x121/undotree/common/ratelimit"
)

// Container holds all initialized services and repositories (singleton pattern)
type Container struct {
	Components *bootstrap.Components

	// Repositories
	UndoTreeRepo service.TreeRepository

	// Services
	UndoTreeService *service.UndoTreeService

	// RateLimiter throttles tree writes; nil when disabled
	RateLimiter ratelimit.Checker

	closers []func() error
}

// NewContainer initializes all services and repositories once. The
// repository follows the configured database driver.
func NewContainer(ctx context.Context, components *bootstrap.Components) (*Container, error) {
	c := &Container{Components: components}

	repo, err := c.newRepository(ctx)
	if err != nil {
		return nil, err
	}
	c.UndoTreeRepo = repo

	c.UndoTreeService = service.NewUndoTreeService(
		repo,
		components.Cache,
		components.Config.Cache.DefaultTTL,
		components.Logger,
	)

	if components.Config.RateLimit.Enabled && components.Redis != nil {
		c.RateLimiter = ratelimit.NewRateLimiter(components.Redis.GetUnderlying(), components.Logger)
	}

	return c, nil
}

func (c *Container) newRepository(ctx context.Context) (service.TreeRepository, error) {
	cfg := c.Components.Config.Database

	switch cfg.Driver {
	case config.DriverPostgres:
		if c.Components.DB == nil {
			return nil, fmt.Errorf("postgres driver selected but no database connection")
		}
		return repository.NewUndoTreeRepository(c.Components.DB), nil

	case config.DriverSQLite:
		repo, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite repository: %w", err)
		}
		c.closers = append(c.closers, repo.Close)
		c.Components.Logger.Info("undo trees stored in sqlite", "path", cfg.SQLitePath)
		return repo, nil

	case config.DriverMemory, "":
		c.Components.Logger.Warn("undo trees are kept in memory and lost on restart")
		return repository.NewMemoryUndoTreeRepository(), nil

	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

// Close releases repositories the container opened itself
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
