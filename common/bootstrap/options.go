package bootstrap

import (
	"context"

	"github.com/x121/undotree/common/config"
	"github.com/x121/undotree/common/db"
	"github.com/x121/undotree/common/logger"
)

// Option configures Setup
type Option func(*options)

type options struct {
	skipDB        bool
	skipCache     bool
	skipTelemetry bool
	customLogger  *logger.Logger
	customConfig  *config.Config
	dbInitHooks   []func(context.Context, *db.DB) error
}

// WithoutDB skips database initialization. The API then keeps trees in memory.
func WithoutDB() Option {
	return func(o *options) {
		o.skipDB = true
	}
}

// WithoutCache skips cache initialization
func WithoutCache() Option {
	return func(o *options) {
		o.skipCache = true
	}
}

// WithoutTelemetry skips the metrics and pprof servers
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithCustomLogger uses log instead of building one from config
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses cfg instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithDBInitHook runs hook once the pool is connected, e.g. to ensure the schema.
// Hooks run in the order given.
func WithDBInitHook(hook func(context.Context, *db.DB) error) Option {
	return func(o *options) {
		o.dbInitHooks = append(o.dbInitHooks, hook)
	}
}

func defaultOptions() *options {
	return &options{}
}
