package undo

import (
	"time"

	"github.com/google/uuid"
)

const (
	// MaxTreeDepth is the default maximum number of edges from root to any node
	MaxTreeDepth = 500

	// MaxBranchesPerNode is the default maximum number of children of any node
	MaxBranchesPerNode = 50
)

// Option configures a Tree
type Option func(*options)

type options struct {
	maxDepth    int
	maxBranches int
	newID       func() NodeID
	now         func() time.Time
}

// WithMaxDepth overrides the depth limit
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		o.maxDepth = depth
	}
}

// WithMaxBranches overrides the per-node children limit
func WithMaxBranches(branches int) Option {
	return func(o *options) {
		o.maxBranches = branches
	}
}

// WithIDGenerator replaces the UUIDv4 id generator. Generated ids must be unique.
func WithIDGenerator(fn func() NodeID) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// WithClock replaces time.Now for node timestamps
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		o.now = fn
	}
}

func defaultOptions() *options {
	return &options{
		maxDepth:    MaxTreeDepth,
		maxBranches: MaxBranchesPerNode,
		newID: func() NodeID {
			return NodeID(uuid.NewString())
		},
		now: time.Now,
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}
