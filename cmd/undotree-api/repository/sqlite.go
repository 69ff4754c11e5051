package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/x121/undotree/common/models"
	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS undo_trees (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id         TEXT    NOT NULL,
		entity_type     TEXT    NOT NULL,
		entity_id       INTEGER NOT NULL,
		tree_json       TEXT    NOT NULL DEFAULT '{}',
		current_node_id TEXT,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL,
		UNIQUE (user_id, entity_type, entity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_undo_trees_user_updated ON undo_trees (user_id, updated_at DESC)`,
}

// SQLiteUndoTreeRepository stores trees in a local SQLite file for
// single-node deployments. Timestamps are unix microseconds.
type SQLiteUndoTreeRepository struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and ensures the schema
func OpenSQLite(ctx context.Context, path string) (*SQLiteUndoTreeRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite allows one writer; a single connection also keeps pragmas applied
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteUndoTreeRepository{db: db, now: time.Now}
	if err := repo.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteUndoTreeRepository) init(ctx context.Context) error {
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA journal_mode = WAL`,
	} {
		if _, err := r.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range sqliteSchema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema statement %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Close closes the database
func (r *SQLiteUndoTreeRepository) Close() error {
	return r.db.Close()
}

// GetTree retrieves the tree for a user and entity. Returns nil, nil if none exists.
func (r *SQLiteUndoTreeRepository) GetTree(ctx context.Context, userID, entityType string, entityID int64) (*models.UndoTree, error) {
	query := `
		SELECT ` + undoTreeColumns + `
		FROM undo_trees
		WHERE user_id = ? AND entity_type = ? AND entity_id = ?
	`

	tree, err := scanSQLiteTree(r.db.QueryRowContext(ctx, query, userID, entityType, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get undo tree: %w", err)
	}
	return tree, nil
}

// SaveTree upserts a tree
func (r *SQLiteUndoTreeRepository) SaveTree(ctx context.Context, userID, entityType string, entityID int64, input *models.SaveUndoTree) (*models.UndoTree, error) {
	query := `
		INSERT INTO undo_trees (user_id, entity_type, entity_id, tree_json, current_node_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, entity_type, entity_id) DO UPDATE
		SET tree_json = excluded.tree_json,
		    current_node_id = excluded.current_node_id,
		    updated_at = excluded.updated_at
		RETURNING ` + undoTreeColumns

	now := r.now().UnixMicro()
	var current sql.NullString
	if input.CurrentNodeID != nil {
		current = sql.NullString{String: *input.CurrentNodeID, Valid: true}
	}

	tree, err := scanSQLiteTree(r.db.QueryRowContext(ctx, query,
		userID,
		entityType,
		entityID,
		string(input.TreeJSON),
		current,
		now,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save undo tree: %w", err)
	}
	return tree, nil
}

// DeleteTree removes a tree. Reports whether a row was deleted.
func (r *SQLiteUndoTreeRepository) DeleteTree(ctx context.Context, userID, entityType string, entityID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM undo_trees WHERE user_id = ? AND entity_type = ? AND entity_id = ?`,
		userID, entityType, entityID)
	if err != nil {
		return false, fmt.Errorf("failed to delete undo tree: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete undo tree: %w", err)
	}
	return n > 0, nil
}

// ListForUser retrieves all trees of a user, most recently updated first
func (r *SQLiteUndoTreeRepository) ListForUser(ctx context.Context, userID string) ([]*models.UndoTree, error) {
	query := `
		SELECT ` + undoTreeColumns + `
		FROM undo_trees
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list undo trees: %w", err)
	}
	defer rows.Close()

	trees := []*models.UndoTree{}
	for rows.Next() {
		tree, err := scanSQLiteTree(rows)
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

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTree(row sqlScanner) (*models.UndoTree, error) {
	tree := &models.UndoTree{}
	var (
		treeJSON           string
		current            sql.NullString
		createdAt, updated int64
	)

	err := row.Scan(
		&tree.ID,
		&tree.UserID,
		&tree.EntityType,
		&tree.EntityID,
		&treeJSON,
		&current,
		&createdAt,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	tree.TreeJSON = []byte(treeJSON)
	if current.Valid {
		tree.CurrentNodeID = &current.String
	}
	tree.CreatedAt = time.UnixMicro(createdAt).UTC()
	tree.UpdatedAt = time.UnixMicro(updated).UTC()
	return tree, nil
}
