package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/x121/undotree/common/metrics"
	"github.com/x121/undotree/common/undo"
)

var tracer = otel.Tracer("undotree/persistence")

// ErrClosed is returned by Flush once the coordinator is closed
var ErrClosed = errors.New("coordinator closed")

// Store is the remote home of persisted trees
type Store interface {
	// Load returns nil, nil when no record exists
	Load(ctx context.Context, key undo.EntityKey) (*undo.Data, error)

	// Save overwrites the record wholesale
	Save(ctx context.Context, key undo.EntityKey, data undo.Data) error
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Status reports autosave state for "history may not be saved" indicators
type Status struct {
	// A save is scheduled and has not fired yet
	Pending bool

	// The in-memory tree has changes no successful save has covered
	Dirty bool

	LastSavedAt time.Time
	LastError   error
}

// Coordinator binds one undo tree to its remote record.
//
// It hydrates the tree once, then schedules a debounced save of the whole
// tree after every mutation. At most one save is pending at a time; a newer
// mutation always replaces it. In-flight saves are never cancelled and are
// not sequenced against each other.
//
// Remote changes made after hydration are not pulled in: the last writer wins.
type Coordinator struct {
	key   undo.EntityKey
	store Store
	log   Logger
	opts  *options

	hydrateOnce sync.Once

	// saveMu keeps at most one Store.Save in flight so writes land in order
	saveMu sync.Mutex

	mu           sync.Mutex
	tree         *undo.Tree
	timer        *time.Timer
	generation   uint64
	version      uint64
	savedVersion uint64
	closed       bool
	lastSavedAt  time.Time
	lastErr      error
}

// NewCoordinator creates a coordinator holding a fresh tree for key.
// Call Hydrate before mutating.
func NewCoordinator(key undo.EntityKey, store Store, log Logger, opts ...Option) *Coordinator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Coordinator{
		key:   key,
		store: store,
		log:   log,
		opts:  o,
		tree:  undo.New(o.treeOpts...),
	}
}

// Key returns the entity this coordinator persists
func (c *Coordinator) Key() undo.EntityKey {
	return c.key
}

// Hydrate loads the persisted tree. Only the first call does any work.
// Missing, empty, corrupt, or unreachable records all leave a fresh tree.
func (c *Coordinator) Hydrate(ctx context.Context) {
	c.hydrateOnce.Do(func() {
		data, err := c.store.Load(ctx, c.key)
		if err != nil {
			outcome := "error"
			if errors.Is(err, undo.ErrCorruptTree) {
				outcome = "corrupt"
			}
			metrics.Hydrations.WithLabelValues(outcome).Inc()
			c.log.Warn("failed to load undo tree, starting fresh",
				"entity", c.key.String(),
				"error", err)
			return
		}

		if data.IsEmpty() {
			metrics.Hydrations.WithLabelValues("fresh").Inc()
			c.log.Debug("no persisted undo tree", "entity", c.key.String())
			return
		}

		tree, err := undo.Deserialize(*data, c.opts.treeOpts...)
		if err != nil {
			metrics.Hydrations.WithLabelValues("corrupt").Inc()
			c.log.Warn("persisted undo tree is corrupt, starting fresh",
				"entity", c.key.String(),
				"error", err)
			return
		}

		c.mu.Lock()
		c.tree = tree
		c.mu.Unlock()

		metrics.Hydrations.WithLabelValues("restored").Inc()
		c.log.Info("undo tree hydrated",
			"entity", c.key.String(),
			"nodes", tree.Len(),
			"current_node_id", tree.CurrentID())
	})
}

// Push records action and schedules a save
func (c *Coordinator) Push(action undo.Action) (undo.NodeID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := c.tree.Push(action)
	if err != nil {
		switch {
		case errors.Is(err, undo.ErrBranchLimitExceeded):
			metrics.LimitRejections.WithLabelValues("branch").Inc()
		case errors.Is(err, undo.ErrDepthLimitExceeded):
			metrics.LimitRejections.WithLabelValues("depth").Inc()
		}
		return "", err
	}

	c.mutated("push")
	return id, nil
}

// Undo steps back and schedules a save when something was undone
func (c *Coordinator) Undo() (undo.Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	action, ok := c.tree.Undo()
	if ok {
		c.mutated("undo")
	}
	return action, ok
}

// Redo steps forward along branch and schedules a save when something was redone
func (c *Coordinator) Redo(branch int) (undo.Action, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	action, ok := c.tree.Redo(branch)
	if ok {
		c.mutated("redo")
	}
	return action, ok
}

// NavigateTo jumps to id and schedules a save when the id is known
func (c *Coordinator) NavigateTo(id undo.NodeID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok := c.tree.NavigateTo(id)
	if ok {
		c.mutated("navigate")
	}
	return ok
}

// CanUndo reports whether Undo would do anything
func (c *Coordinator) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.CanUndo()
}

// CanRedo reports whether Redo would do anything
func (c *Coordinator) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.CanRedo()
}

// Branches returns the redo choices at the current node
func (c *Coordinator) Branches() []undo.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Branches()
}

// Current returns a copy of the current node
func (c *Coordinator) Current() undo.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Current()
}

// Snapshot returns the serialized tree
func (c *Coordinator) Snapshot() undo.Data {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Serialize()
}

// Status reports the autosave state
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Pending:     c.timer != nil,
		Dirty:       c.version != c.savedVersion,
		LastSavedAt: c.lastSavedAt,
		LastError:   c.lastErr,
	}
}

// Flush cancels any pending autosave and saves now.
// It returns ErrClosed after Close.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.cancelPending()
	data, version := c.tree.Serialize(), c.version
	c.mu.Unlock()

	return c.save(ctx, data, version)
}

// Close cancels a pending autosave without flushing it. Later mutations
// still apply in memory but are never saved, and Flush returns ErrClosed.
// A save already in flight may finish its current attempt.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancelPending()

	if c.version != c.savedVersion {
		c.log.Debug("coordinator closed with unsaved changes", "entity", c.key.String())
	}
}

// mutated must be called with mu held
func (c *Coordinator) mutated(op string) {
	metrics.TreeOperations.WithLabelValues(op).Inc()
	c.version++
	c.scheduleSave()
}

// scheduleSave must be called with mu held
func (c *Coordinator) scheduleSave() {
	if c.closed {
		return
	}

	if c.timer != nil {
		metrics.AutosaveCoalesced.Inc()
	}
	c.cancelPending()

	gen := c.generation
	c.timer = time.AfterFunc(c.opts.delay, func() {
		c.fire(gen)
	})
}

// cancelPending must be called with mu held. Bumping the generation
// invalidates a timer whose callback is already waiting on mu.
func (c *Coordinator) cancelPending() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.generation || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	data, version := c.tree.Serialize(), c.version
	c.mu.Unlock()

	_ = c.save(context.Background(), data, version)
}

func (c *Coordinator) save(ctx context.Context, data undo.Data, version uint64) error {
	ctx, span := tracer.Start(ctx, "Coordinator.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", c.key.String()),
		attribute.Int64("version", int64(version)),
		attribute.Int("nodes", len(data.Nodes)),
	)

	backoff := c.opts.backoff

	for attempt := 1; ; attempt++ {
		c.saveMu.Lock()
		if c.superseded(version) {
			c.saveMu.Unlock()
			metrics.AutosaveCoalesced.Inc()
			span.SetAttributes(attribute.Bool("superseded", true))
			c.log.Debug("dropping stale undo tree save",
				"entity", c.key.String(),
				"version", version,
				"attempt", attempt)
			return nil
		}
		saveCtx, cancel := context.WithTimeout(ctx, c.opts.saveTimeout)
		err := c.store.Save(saveCtx, c.key, data)
		cancel()
		c.saveMu.Unlock()

		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			c.recordSuccess(version)
			return nil
		}

		if attempt >= c.opts.attempts || isPermanent(err) || c.isClosed() || ctx.Err() != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "save failed")
			c.recordFailure(err)
			return fmt.Errorf("save undo tree %s: %w", c.key, err)
		}

		metrics.AutosaveRetries.Inc()
		c.log.Warn("undo tree save failed, retrying",
			"entity", c.key.String(),
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
		}
		backoff *= 2
	}
}

func (c *Coordinator) recordSuccess(version uint64) {
	metrics.AutosaveTotal.WithLabelValues("success").Inc()

	c.mu.Lock()
	// A stale save finishing late must not mark newer changes as saved
	// or clear the error of a newer failed save
	if version >= c.savedVersion {
		c.savedVersion = version
		c.lastErr = nil
	}
	c.lastSavedAt = time.Now()
	c.mu.Unlock()

	c.log.Debug("undo tree saved", "entity", c.key.String(), "version", version)
}

func (c *Coordinator) recordFailure(err error) {
	metrics.AutosaveTotal.WithLabelValues("failure").Inc()

	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	c.log.Error("undo tree save failed, history may not be saved",
		"entity", c.key.String(),
		"error", err)

	if c.opts.onSaveError != nil {
		c.opts.onSaveError(err)
	}
}

// superseded reports whether a save of version would overwrite newer state.
// Remote already holding a later version, or a later mutation with its own
// save armed, both make the write stale.
func (c *Coordinator) superseded(version uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.savedVersion > version || (!c.closed && c.version != version)
}

// permanent is implemented by store errors that resending the same tree
// cannot fix, such as a validation rejection
type permanent interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
