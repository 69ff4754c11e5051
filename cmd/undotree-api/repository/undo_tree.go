package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/x121/undotree/common/db"
	"github.com/x121/undotree/common/models"
)

// schema creates the undo_trees table and its listing index
var schema = []string{
	`CREATE TABLE IF NOT EXISTS undo_trees (
		id              BIGSERIAL PRIMARY KEY,
		user_id         TEXT        NOT NULL,
		entity_type     TEXT        NOT NULL,
		entity_id       BIGINT      NOT NULL,
		tree_json       JSONB       NOT NULL DEFAULT '{}'::jsonb,
		current_node_id TEXT,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, entity_type, entity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_undo_trees_user_updated ON undo_trees (user_id, updated_at DESC)`,
}

// undoTreeColumns is the column list for undo_trees queries
const undoTreeColumns = `id, user_id, entity_type, entity_id, tree_json, current_node_id, created_at, updated_at`

// EnsureSchema creates the undo_trees table if it is missing.
// Used as the bootstrap DB init hook.
func EnsureSchema(ctx context.Context, database *db.DB) error {
	if err := database.Migrate(ctx, schema...); err != nil {
		return fmt.Errorf("failed to create undo_trees schema: %w", err)
	}
	return nil
}

// UndoTreeRepository handles database operations for undo trees
type UndoTreeRepository struct {
	db *db.DB
}

// NewUndoTreeRepository creates a new undo tree repository
func NewUndoTreeRepository(db *db.DB) *UndoTreeRepository {
	return &UndoTreeRepository{db: db}
}

// GetTree retrieves the tree for a user and entity. Returns nil, nil if none exists.
func (r *UndoTreeRepository) GetTree(ctx context.Context, userID, entityType string, entityID int64) (*models.UndoTree, error) {
	query := `
		SELECT ` + undoTreeColumns + `
		FROM undo_trees
		WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3
	`

	tree, err := scanUndoTree(r.db.QueryRow(ctx, query, userID, entityType, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get undo tree: %w", err)
	}

	return tree, nil
}

// SaveTree upserts a tree, replacing tree_json and current_node_id of an existing row
func (r *UndoTreeRepository) SaveTree(ctx context.Context, userID, entityType string, entityID int64, input *models.SaveUndoTree) (*models.UndoTree, error) {
	query := `
		INSERT INTO undo_trees (user_id, entity_type, entity_id, tree_json, current_node_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, entity_type, entity_id) DO UPDATE
		SET tree_json = EXCLUDED.tree_json,
		    current_node_id = EXCLUDED.current_node_id,
		    updated_at = NOW()
		RETURNING ` + undoTreeColumns

	tree, err := scanUndoTree(r.db.QueryRow(ctx, query,
		userID,
		entityType,
		entityID,
		[]byte(input.TreeJSON),
		input.CurrentNodeID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save undo tree: %w", err)
	}

	return tree, nil
}

// DeleteTree removes the tree for a user and entity. Reports whether a row was deleted.
func (r *UndoTreeRepository) DeleteTree(ctx context.Context, userID, entityType string, entityID int64) (bool, error) {
	query := `DELETE FROM undo_trees WHERE user_id = $1 AND entity_type = $2 AND entity_id = $3`

	result, err := r.db.Exec(ctx, query, userID, entityType, entityID)
	if err != nil {
		return false, fmt.Errorf("failed to delete undo tree: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ListForUser retrieves all trees of a user, most recently updated first
func (r *UndoTreeRepository) ListForUser(ctx context.Context, userID string) ([]*models.UndoTree, error) {
	query := `
		SELECT ` + undoTreeColumns + `
		FROM undo_trees
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list undo trees: %w", err)
	}
	defer rows.Close()

	trees := []*models.UndoTree{}
	for rows.Next() {
		tree, err := scanUndoTree(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan undo tree: %w", err)
		}
		trees = append(trees, tree)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating undo trees: %w", err)
	}

	return trees, nil
}

func scanUndoTree(row pgx.Row) (*models.UndoTree, error) {
	tree := &models.UndoTree{}
	var treeJSON []byte

	err := row.Scan(
		&tree.ID,
		&tree.UserID,
		&tree.EntityType,
		&tree.EntityID,
		&treeJSON,
		&tree.CurrentNodeID,
		&tree.CreatedAt,
		&tree.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tree.TreeJSON = treeJSON
	return tree, nil
}
