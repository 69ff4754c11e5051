package persistence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x121/undotree/common/config"
	"github.com/x121/undotree/common/undo"
)

// testLogger implements Logger on top of testing.T
type testLogger struct {
	t     *testing.T
	warns atomic.Int32
}

func (l *testLogger) Info(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[INFO] %s %v", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[ERROR] %s %v", msg, keysAndValues)
}

func (l *testLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.warns.Add(1)
	l.t.Logf("[WARN] %s %v", msg, keysAndValues)
}

func (l *testLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.t.Logf("[DEBUG] %s %v", msg, keysAndValues)
}

// fakeStore records saves and can be told to fail
type fakeStore struct {
	mu       sync.Mutex
	loaded   *undo.Data
	loadErr  error
	loads    int
	saves    []undo.Data
	attempts int
	failures int   // remaining Save calls that fail
	failErr  error // returned by failing calls; a generic error when nil
}

func (s *fakeStore) Load(ctx context.Context, key undo.EntityKey) (*undo.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.loaded, s.loadErr
}

func (s *fakeStore) Save(ctx context.Context, key undo.EntityKey, data undo.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		if s.failErr != nil {
			return s.failErr
		}
		return errors.New("store unavailable")
	}
	s.saves = append(s.saves, data)
	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *fakeStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeStore) lastSave() undo.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[len(s.saves)-1]
}

var sceneKey = undo.EntityKey{Type: "scene", ID: 7}

func rename(name string) undo.Action {
	return undo.Action{Type: "rename", Label: "Rename to " + name}
}

func newTestCoordinator(t *testing.T, store *fakeStore, opts ...Option) (*Coordinator, *testLogger) {
	log := &testLogger{t: t}
	opts = append([]Option{WithAutosaveDelay(30 * time.Millisecond), WithRetry(1, time.Millisecond)}, opts...)
	c := NewCoordinator(sceneKey, store, log, opts...)
	t.Cleanup(c.Close)
	return c, log
}

func TestHydrate_NoRecord(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)

	c.Hydrate(context.Background())

	assert.False(t, c.CanUndo())
	assert.Equal(t, undo.InitActionType, c.Current().Action.Type)
}

func TestHydrate_RestoresTree(t *testing.T) {
	source := undo.New()
	source.Push(rename("a"))
	source.Push(rename("b"))
	data := source.Serialize()

	store := &fakeStore{loaded: &data}
	c, _ := newTestCoordinator(t, store)
	c.Hydrate(context.Background())

	assert.True(t, c.CanUndo())
	assert.Equal(t, source.CurrentID(), c.Current().ID)
	assert.Len(t, c.Snapshot().Nodes, 3)
}

func TestHydrate_OnlyOnce(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)

	c.Hydrate(context.Background())
	c.Push(rename("a"))

	other := undo.New().Serialize()
	store.mu.Lock()
	store.loaded = &other
	store.mu.Unlock()

	c.Hydrate(context.Background())

	assert.Equal(t, 1, store.loads)
	assert.True(t, c.CanUndo(), "second hydrate must not replace the local tree")
}

func TestHydrate_FallsBackToFreshTree(t *testing.T) {
	corrupt := undo.Data{
		Nodes:         map[undo.NodeID]*undo.Node{"r": {ID: "r"}},
		RootID:        "r",
		CurrentNodeID: "gone",
	}

	tests := []struct {
		name  string
		store *fakeStore
		warns int32
	}{
		{"empty object", &fakeStore{loaded: &undo.Data{}}, 0},
		{"corrupt record", &fakeStore{loaded: &corrupt}, 1},
		{"load error", &fakeStore{loadErr: errors.New("connection refused")}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, log := newTestCoordinator(t, tt.store)
			c.Hydrate(context.Background())

			assert.False(t, c.CanUndo())
			assert.Len(t, c.Snapshot().Nodes, 1)
			assert.Equal(t, tt.warns, log.warns.Load())
		})
	}
}

func TestAutosave_DebouncesBursts(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)
	c.Hydrate(context.Background())

	var last undo.NodeID
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		id, err := c.Push(rename(name))
		require.NoError(t, err)
		last = id
	}
	assert.True(t, c.Status().Pending)

	require.Eventually(t, func() bool { return store.saveCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return store.saveCount() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	saved := store.lastSave()
	assert.Equal(t, last, saved.CurrentNodeID)
	assert.Len(t, saved.Nodes, 6)

	status := c.Status()
	assert.False(t, status.Pending)
	assert.False(t, status.Dirty)
	assert.False(t, status.LastSavedAt.IsZero())
}

func TestAutosave_SeparateQuietPeriodsSaveSeparately(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)

	c.Push(rename("a"))
	require.Eventually(t, func() bool { return store.saveCount() == 1 }, time.Second, 5*time.Millisecond)

	c.Undo()
	require.Eventually(t, func() bool { return store.saveCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, store.lastSave().RootID, store.lastSave().CurrentNodeID)
}

func TestAutosave_NoOpsDoNotSchedule(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)

	_, ok := c.Undo()
	assert.False(t, ok)
	_, ok = c.Redo(0)
	assert.False(t, ok)
	assert.False(t, c.NavigateTo("missing"))

	assert.False(t, c.Status().Pending)
	assert.Never(t, func() bool { return store.saveCount() > 0 }, 80*time.Millisecond, 10*time.Millisecond)
}

func TestAutosave_RedoAndNavigateSchedule(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)

	a, _ := c.Push(rename("a"))
	c.Undo()
	require.Eventually(t, func() bool { return store.saveCount() == 1 }, time.Second, 5*time.Millisecond)

	got, ok := c.Redo(3)
	require.True(t, ok)
	assert.Equal(t, rename("a"), got)
	require.Eventually(t, func() bool { return store.saveCount() == 2 }, time.Second, 5*time.Millisecond)

	root := store.lastSave().RootID
	require.True(t, c.NavigateTo(root))
	require.Eventually(t, func() bool { return store.saveCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, root, store.lastSave().CurrentNodeID)
	assert.Equal(t, []undo.NodeID{a}, c.Branches())
}

func TestClose_CancelsPendingSave(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)

	c.Push(rename("a"))
	c.Close()

	assert.Never(t, func() bool { return store.saveCount() > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	status := c.Status()
	assert.False(t, status.Pending)
	assert.True(t, status.Dirty)

	// Mutations after close stay local
	c.Push(rename("b"))
	assert.False(t, c.Status().Pending)
}

func TestFlush_SavesImmediately(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store, WithAutosaveDelay(time.Hour))

	c.Push(rename("a"))
	require.True(t, c.Status().Pending)

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, 1, store.saveCount())
	assert.False(t, c.Status().Pending)
	assert.False(t, c.Status().Dirty)
}

func TestAutosave_RetriesWithBackoff(t *testing.T) {
	store := &fakeStore{failures: 2}
	c, log := newTestCoordinator(t, store, WithRetry(3, time.Millisecond))

	c.Push(rename("a"))

	require.Eventually(t, func() bool { return store.saveCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), log.warns.Load())
	require.Eventually(t, func() bool { return !c.Status().Dirty }, time.Second, 5*time.Millisecond)
	assert.NoError(t, c.Status().LastError)
}

func TestAutosave_SurfacesFailure(t *testing.T) {
	store := &fakeStore{failures: -1}
	failed := make(chan error, 1)
	c, _ := newTestCoordinator(t, store,
		WithRetry(2, time.Millisecond),
		WithSaveErrorHandler(func(err error) { failed <- err }),
	)

	c.Push(rename("a"))

	select {
	case err := <-failed:
		assert.ErrorContains(t, err, "store unavailable")
	case <-time.After(time.Second):
		t.Fatal("save error handler not called")
	}

	status := c.Status()
	assert.True(t, status.Dirty)
	assert.Error(t, status.LastError)
	assert.Equal(t, 0, store.saveCount())
}

func TestPush_LimitErrorsPropagate(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store, WithTreeOptions(undo.WithMaxDepth(1), undo.WithMaxBranches(1)))

	_, err := c.Push(rename("a"))
	require.NoError(t, err)

	_, err = c.Push(rename("b"))
	assert.ErrorIs(t, err, undo.ErrDepthLimitExceeded)

	c.Undo()
	_, err = c.Push(rename("c"))
	assert.ErrorIs(t, err, undo.ErrBranchLimitExceeded)
}

func TestFromConfig(t *testing.T) {
	cfg := config.UndoConfig{
		MaxTreeDepth:       2,
		MaxBranchesPerNode: 5,
		AutosaveDelay:      5 * time.Millisecond,
		SaveTimeout:        time.Second,
		SaveAttempts:       1,
		RetryBackoff:       time.Millisecond,
	}

	store := &fakeStore{}
	c := NewCoordinator(sceneKey, store, &testLogger{t: t}, FromConfig(cfg))
	defer c.Close()

	c.Push(rename("a"))
	c.Push(rename("b"))
	_, err := c.Push(rename("c"))
	assert.ErrorIs(t, err, undo.ErrDepthLimitExceeded)

	require.Eventually(t, func() bool { return store.saveCount() >= 1 }, time.Second, time.Millisecond)
}

// rejectedError mimics a store refusing the tree itself
type rejectedError struct{}

func (rejectedError) Error() string   { return "tree rejected" }
func (rejectedError) Permanent() bool { return true }

func TestAutosave_StaleRetryDoesNotOverwriteNewerSave(t *testing.T) {
	store := &fakeStore{failures: 1}
	c, _ := newTestCoordinator(t, store,
		WithAutosaveDelay(10*time.Millisecond),
		WithRetry(3, 150*time.Millisecond),
	)

	c.Push(rename("a"))
	time.Sleep(40 * time.Millisecond)
	c.Push(rename("b"))

	require.Eventually(t, func() bool { return store.saveCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return store.saveCount() > 1 }, 300*time.Millisecond, 10*time.Millisecond)

	local := c.Snapshot()
	remote := store.lastSave()
	assert.Equal(t, local.CurrentNodeID, remote.CurrentNodeID)
	assert.Len(t, remote.Nodes, len(local.Nodes))

	status := c.Status()
	assert.False(t, status.Dirty)
	assert.NoError(t, status.LastError)
}

func TestAutosave_StaleSuccessKeepsNewerError(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store)

	newer := errors.New("save of version 2 failed")
	c.mu.Lock()
	c.version = 2
	c.savedVersion = 2
	c.lastErr = newer
	c.mu.Unlock()

	c.recordSuccess(1)

	status := c.Status()
	assert.Equal(t, newer, status.LastError)
	assert.False(t, status.Dirty)

	c.recordSuccess(2)
	assert.NoError(t, c.Status().LastError)
}

func TestFlush_AfterClose(t *testing.T) {
	store := &fakeStore{}
	c, _ := newTestCoordinator(t, store, WithAutosaveDelay(time.Hour))

	c.Push(rename("a"))
	c.Close()

	assert.ErrorIs(t, c.Flush(context.Background()), ErrClosed)
	assert.Equal(t, 0, store.attemptCount())
	assert.True(t, c.Status().Dirty)
}

func TestAutosave_PermanentErrorIsNotRetried(t *testing.T) {
	store := &fakeStore{failures: -1, failErr: rejectedError{}}
	c, log := newTestCoordinator(t, store,
		WithAutosaveDelay(time.Hour),
		WithRetry(3, time.Millisecond),
	)

	c.Push(rename("a"))

	err := c.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rejectedError{})
	assert.Equal(t, 1, store.attemptCount())
	assert.Equal(t, int32(0), log.warns.Load())
	assert.Error(t, c.Status().LastError)
}
