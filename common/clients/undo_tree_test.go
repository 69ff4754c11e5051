package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x121/undotree/common/logger"
	"github.com/x121/undotree/common/models"
	"github.com/x121/undotree/common/persistence"
	"github.com/x121/undotree/common/undo"
)

// fakeAPI mimics the undo tree endpoints over an in-memory map
type fakeAPI struct {
	mu      sync.Mutex
	records map[string]*models.UndoTree
	users   []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{records: make(map[string]*models.UndoTree)}
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.users = append(f.users, r.Header.Get("X-User-ID"))
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/api/v1/user/undo-trees" {
		list := []models.UndoTree{}
		for _, rec := range f.records {
			list = append(list, *rec)
		}
		json.NewEncoder(w).Encode(models.DataResponse[[]models.UndoTree]{Data: list})
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/v1/user/undo-tree/")
	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(models.DataResponse[*models.UndoTree]{Data: f.records[key]})
	case http.MethodPut:
		var in models.SaveUndoTree
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		rec := &models.UndoTree{TreeJSON: in.TreeJSON, CurrentNodeID: in.CurrentNodeID, UpdatedAt: time.Now()}
		f.records[key] = rec
		json.NewEncoder(w).Encode(models.DataResponse[*models.UndoTree]{Data: rec})
	case http.MethodDelete:
		delete(f.records, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeAPI) record(key string) *models.UndoTree {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[key]
}

func (f *fakeAPI) seenUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.users...)
}

func newTestClient(t *testing.T, api http.Handler) *UndoTreeClient {
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return NewUndoTreeClient(srv.URL, "alice", 5*time.Second, logger.New("error", "json"))
}

func TestUndoTreeClient_CRUD(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(t, api)
	ctx := context.Background()

	rec, err := client.GetTree(ctx, "scene", 1)
	require.NoError(t, err)
	assert.Nil(t, rec)

	current := "root"
	saved, err := client.SaveTree(ctx, "scene", 1, &models.SaveUndoTree{
		TreeJSON:      json.RawMessage(`{}`),
		CurrentNodeID: &current,
	})
	require.NoError(t, err)
	assert.Equal(t, "root", *saved.CurrentNodeID)

	list, err := client.ListTrees(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, client.DeleteTree(ctx, "scene", 1))
	rec, err = client.GetTree(ctx, "scene", 1)
	require.NoError(t, err)
	assert.Nil(t, rec)

	for _, user := range api.seenUsers() {
		assert.Equal(t, "alice", user)
	}
}

func TestUndoTreeClient_ContextUserWins(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(t, api)

	_, err := client.GetTree(WithUserID(context.Background(), "bob"), "scene", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, api.seenUsers())
}

func TestUndoTreeClient_StatusError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid entity type"}`))
	}))

	_, err := client.GetTree(context.Background(), "widget", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
}

func TestUndoTreeClient_LoadCorruptJSON(t *testing.T) {
	api := newFakeAPI()
	api.records["scene/3"] = &models.UndoTree{TreeJSON: json.RawMessage(`{"nodes":"nope"}`)}
	client := newTestClient(t, api)

	_, err := client.Load(context.Background(), undo.EntityKey{Type: "scene", ID: 3})
	assert.ErrorIs(t, err, undo.ErrCorruptTree)
}

func TestUndoTreeClient_CoordinatorRoundTrip(t *testing.T) {
	api := newFakeAPI()
	client := newTestClient(t, api)
	key := undo.EntityKey{Type: "character", ID: 9}
	log := logger.New("error", "json")

	first := persistence.NewCoordinator(key, client, log, persistence.WithAutosaveDelay(10*time.Millisecond))
	first.Hydrate(context.Background())

	_, err := first.Push(undo.Action{Type: "rename", Label: "Rename"})
	require.NoError(t, err)
	second, err := first.Push(undo.Action{Type: "retag", Label: "Retag"})
	require.NoError(t, err)
	first.Undo()

	require.Eventually(t, func() bool { return !first.Status().Dirty }, time.Second, 5*time.Millisecond)
	first.Close()

	next := persistence.NewCoordinator(key, client, log)
	defer next.Close()
	next.Hydrate(context.Background())

	assert.True(t, next.CanUndo())
	assert.True(t, next.CanRedo())
	assert.Equal(t, []undo.NodeID{second}, next.Branches())
	assert.Equal(t, "rename", next.Current().Action.Type)

	rec := api.record("character/9")
	require.NotNil(t, rec)
	assert.Equal(t, string(first.Snapshot().CurrentNodeID), *rec.CurrentNodeID)
}

func TestHTTPClient_PropagatesIdentityHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.Client(), logger.New("error", "text"))
	ctx := WithRequestID(WithUserID(context.Background(), "carol"), "req-9")

	resp, err := client.DoRequest(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "carol", got.Get(HeaderUserID))
	assert.Equal(t, "req-9", got.Get(HeaderRequestID))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Empty(t, got.Get("Content-Type"))

	resp, err = client.DoRequest(WithUserID(context.Background(), ""), http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, got.Get(HeaderUserID))
}

func TestStatusError_Permanent(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := &StatusError{StatusCode: tt.status}
			assert.Equal(t, tt.permanent, err.Permanent())
		})
	}
}

func TestUndoTreeClient_RejectedSaveIsNotRetried(t *testing.T) {
	var puts atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		puts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"current_node_id does not match tree currentNodeId"}`))
	}))

	c := persistence.NewCoordinator(undo.EntityKey{Type: "scene", ID: 4}, client, logger.New("error", "json"),
		persistence.WithAutosaveDelay(time.Hour),
		persistence.WithRetry(3, time.Millisecond),
	)
	defer c.Close()

	_, err := c.Push(undo.Action{Type: "rename", Label: "Rename"})
	require.NoError(t, err)

	err = c.Flush(context.Background())
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
	assert.Equal(t, int32(1), puts.Load())
	assert.Error(t, c.Status().LastError)
}

func TestUndoTreeClient_ServerErrorIsRetried(t *testing.T) {
	var puts atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if puts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var in models.SaveUndoTree
		json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.DataResponse[*models.UndoTree]{
			Data: &models.UndoTree{TreeJSON: in.TreeJSON, CurrentNodeID: in.CurrentNodeID},
		})
	}))

	c := persistence.NewCoordinator(undo.EntityKey{Type: "scene", ID: 5}, client, logger.New("error", "json"),
		persistence.WithAutosaveDelay(time.Hour),
		persistence.WithRetry(3, time.Millisecond),
	)
	defer c.Close()

	_, err := c.Push(undo.Action{Type: "rename", Label: "Rename"})
	require.NoError(t, err)

	require.NoError(t, c.Flush(context.Background()))
	assert.Equal(t, int32(2), puts.Load())
	assert.False(t, c.Status().Dirty)
}
