package models

import (
	"encoding/json"
	"time"
)

// UndoTree is a persisted undo tree for one user and entity
// Maps to: undo_trees table
type UndoTree struct {
	ID     int64  `db:"id" json:"id"`
	UserID string `db:"user_id" json:"user_id"`

	// Entity the history belongs to, e.g. ('scene', 42)
	EntityType string `db:"entity_type" json:"entity_type"`
	EntityID   int64  `db:"entity_id" json:"entity_id"`

	// Serialized tree blob, or {} for a placeholder record
	TreeJSON json.RawMessage `db:"tree_json" json:"tree_json"`

	CurrentNodeID *string `db:"current_node_id" json:"current_node_id"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SaveUndoTree is the PUT body for upserting a tree
type SaveUndoTree struct {
	TreeJSON      json.RawMessage `json:"tree_json"`
	CurrentNodeID *string         `json:"current_node_id"`
}

// DataResponse wraps API payloads as {"data": ...}
type DataResponse[T any] struct {
	Data T `json:"data"`
}
