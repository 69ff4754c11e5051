package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/x121/undotree/common/models"
	"github.com/x121/undotree/common/undo"
)

// StatusError is an API response with an unexpected status code
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed: status=%d, body=%s", e.StatusCode, e.Body)
}

// Permanent reports whether resending the same request cannot succeed.
// Client errors are permanent except timeouts and rate limiting.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// UndoTreeClient talks to the undo tree persistence API.
// It also satisfies persistence.Store so a Coordinator can autosave through it.
type UndoTreeClient struct {
	baseURL string
	userID  string
	http    *HTTPClient
	logger  Logger
}

// NewUndoTreeClient creates a client acting for userID. A user id already
// present in the request context takes precedence; the fallback matters for
// autosaves, which run on a timer without a request context.
func NewUndoTreeClient(baseURL, userID string, timeout time.Duration, logger Logger) *UndoTreeClient {
	httpClient := &http.Client{
		Timeout: timeout,
	}

	return &UndoTreeClient{
		baseURL: baseURL,
		userID:  userID,
		http:    NewHTTPClient(httpClient, logger),
		logger:  logger,
	}
}

// GetTree fetches the record for an entity. Returns nil, nil if none exists.
func (c *UndoTreeClient) GetTree(ctx context.Context, entityType string, entityID int64) (*models.UndoTree, error) {
	var out models.DataResponse[*models.UndoTree]
	if err := c.do(ctx, http.MethodGet, c.treeURL(entityType, entityID), nil, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("failed to get undo tree: %w", err)
	}
	return out.Data, nil
}

// SaveTree upserts the record for an entity
func (c *UndoTreeClient) SaveTree(ctx context.Context, entityType string, entityID int64, input *models.SaveUndoTree) (*models.UndoTree, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode undo tree: %w", err)
	}

	var out models.DataResponse[*models.UndoTree]
	if err := c.do(ctx, http.MethodPut, c.treeURL(entityType, entityID), body, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("failed to save undo tree: %w", err)
	}
	return out.Data, nil
}

// DeleteTree removes the record for an entity
func (c *UndoTreeClient) DeleteTree(ctx context.Context, entityType string, entityID int64) error {
	if err := c.do(ctx, http.MethodDelete, c.treeURL(entityType, entityID), nil, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("failed to delete undo tree: %w", err)
	}
	return nil
}

// ListTrees lists every record of the current user, most recently updated first
func (c *UndoTreeClient) ListTrees(ctx context.Context) ([]models.UndoTree, error) {
	var out models.DataResponse[[]models.UndoTree]
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/api/v1/user/undo-trees", nil, http.StatusOK, &out); err != nil {
		return nil, fmt.Errorf("failed to list undo trees: %w", err)
	}
	return out.Data, nil
}

// Load implements persistence.Store. Structural validation is left to the caller.
func (c *UndoTreeClient) Load(ctx context.Context, key undo.EntityKey) (*undo.Data, error) {
	record, err := c.GetTree(ctx, key.Type, key.ID)
	if err != nil {
		return nil, err
	}
	if record == nil || len(record.TreeJSON) == 0 {
		return nil, nil
	}

	var data undo.Data
	if err := json.Unmarshal(record.TreeJSON, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", undo.ErrCorruptTree, err)
	}
	return &data, nil
}

// Save implements persistence.Store
func (c *UndoTreeClient) Save(ctx context.Context, key undo.EntityKey, data undo.Data) error {
	treeJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode undo tree: %w", err)
	}

	current := string(data.CurrentNodeID)
	_, err = c.SaveTree(ctx, key.Type, key.ID, &models.SaveUndoTree{
		TreeJSON:      treeJSON,
		CurrentNodeID: &current,
	})
	return err
}

func (c *UndoTreeClient) treeURL(entityType string, entityID int64) string {
	return fmt.Sprintf("%s/api/v1/user/undo-tree/%s/%d", c.baseURL, entityType, entityID)
}

func (c *UndoTreeClient) do(ctx context.Context, method, url string, body []byte, wantStatus int, out any) error {
	if _, ok := GetUserID(ctx); !ok && c.userID != "" {
		ctx = WithUserID(ctx, c.userID)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	resp, err := c.http.DoRequest(ctx, method, url, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		respBody, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
