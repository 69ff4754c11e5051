package persistence

import (
	"time"

	"github.com/x121/undotree/common/config"
	"github.com/x121/undotree/common/undo"
)

// DefaultAutosaveDelay is the quiet period between the last mutation and the save
const DefaultAutosaveDelay = 1000 * time.Millisecond

// Option configures a Coordinator
type Option func(*options)

type options struct {
	delay       time.Duration
	saveTimeout time.Duration
	attempts    int
	backoff     time.Duration
	treeOpts    []undo.Option
	onSaveError func(error)
}

// WithAutosaveDelay sets the debounce quiet period
func WithAutosaveDelay(d time.Duration) Option {
	return func(o *options) {
		o.delay = d
	}
}

// WithSaveTimeout bounds each individual save call
func WithSaveTimeout(d time.Duration) Option {
	return func(o *options) {
		o.saveTimeout = d
	}
}

// WithRetry sets how many times a save is attempted and the base backoff,
// doubled after every failed attempt
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(o *options) {
		o.attempts = attempts
		o.backoff = backoff
	}
}

// WithTreeOptions passes limits and generators to the owned tree
func WithTreeOptions(opts ...undo.Option) Option {
	return func(o *options) {
		o.treeOpts = append(o.treeOpts, opts...)
	}
}

// WithSaveErrorHandler is called once a save has failed all attempts
func WithSaveErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.onSaveError = fn
	}
}

// FromConfig applies the undo section of the service config
func FromConfig(cfg config.UndoConfig) Option {
	return func(o *options) {
		o.delay = cfg.AutosaveDelay
		o.saveTimeout = cfg.SaveTimeout
		o.attempts = cfg.SaveAttempts
		o.backoff = cfg.RetryBackoff
		o.treeOpts = append(o.treeOpts,
			undo.WithMaxDepth(cfg.MaxTreeDepth),
			undo.WithMaxBranches(cfg.MaxBranchesPerNode),
		)
	}
}

func defaultOptions() *options {
	return &options{
		delay:       DefaultAutosaveDelay,
		saveTimeout: 10 * time.Second,
		attempts:    3,
		backoff:     200 * time.Millisecond,
	}
}
