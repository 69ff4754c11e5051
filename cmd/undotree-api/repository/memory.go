package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/x121/undotree/common/models"
)

// MemoryUndoTreeRepository keeps trees in process memory. Used when the
// database is disabled (local development) and in tests.
type MemoryUndoTreeRepository struct {
	mu     sync.RWMutex
	trees  map[string]*models.UndoTree
	nextID int64
	now    func() time.Time
}

// NewMemoryUndoTreeRepository creates an empty in-memory repository
func NewMemoryUndoTreeRepository() *MemoryUndoTreeRepository {
	return &MemoryUndoTreeRepository{
		trees: make(map[string]*models.UndoTree),
		now:   time.Now,
	}
}

func memoryKey(userID, entityType string, entityID int64) string {
	return fmt.Sprintf("%s/%s/%d", userID, entityType, entityID)
}

// GetTree retrieves a copy of the stored tree, or nil, nil if none exists
func (r *MemoryUndoTreeRepository) GetTree(ctx context.Context, userID, entityType string, entityID int64) (*models.UndoTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tree, ok := r.trees[memoryKey(userID, entityType, entityID)]
	if !ok {
		return nil, nil
	}
	return copyTree(tree), nil
}

// SaveTree upserts a tree
func (r *MemoryUndoTreeRepository) SaveTree(ctx context.Context, userID, entityType string, entityID int64, input *models.SaveUndoTree) (*models.UndoTree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	key := memoryKey(userID, entityType, entityID)

	tree, ok := r.trees[key]
	if !ok {
		r.nextID++
		tree = &models.UndoTree{
			ID:         r.nextID,
			UserID:     userID,
			EntityType: entityType,
			EntityID:   entityID,
			CreatedAt:  now,
		}
		r.trees[key] = tree
	}

	tree.TreeJSON = append([]byte(nil), input.TreeJSON...)
	tree.CurrentNodeID = copyString(input.CurrentNodeID)
	tree.UpdatedAt = now

	return copyTree(tree), nil
}

// DeleteTree removes a tree. Reports whether one existed.
func (r *MemoryUndoTreeRepository) DeleteTree(ctx context.Context, userID, entityType string, entityID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey(userID, entityType, entityID)
	_, ok := r.trees[key]
	delete(r.trees, key)
	return ok, nil
}

// ListForUser returns the user's trees, most recently updated first
func (r *MemoryUndoTreeRepository) ListForUser(ctx context.Context, userID string) ([]*models.UndoTree, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	trees := []*models.UndoTree{}
	for _, tree := range r.trees {
		if tree.UserID == userID {
			trees = append(trees, copyTree(tree))
		}
	}

	sort.Slice(trees, func(i, j int) bool {
		if trees[i].UpdatedAt.Equal(trees[j].UpdatedAt) {
			return trees[i].ID > trees[j].ID
		}
		return trees[i].UpdatedAt.After(trees[j].UpdatedAt)
	})

	return trees, nil
}

func copyTree(t *models.UndoTree) *models.UndoTree {
	c := *t
	c.TreeJSON = append([]byte(nil), t.TreeJSON...)
	c.CurrentNodeID = copyString(t.CurrentNodeID)
	return &c
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
