package undo

import "errors"

var (
	// ErrBranchLimitExceeded is returned by Push when the current node
	// already has the maximum number of children
	ErrBranchLimitExceeded = errors.New("undo tree branch limit exceeded")

	// ErrDepthLimitExceeded is returned by Push when the new node would be
	// deeper than the maximum permitted depth
	ErrDepthLimitExceeded = errors.New("undo tree depth limit exceeded")

	// ErrCorruptTree is returned by Deserialize for structurally invalid data
	ErrCorruptTree = errors.New("corrupt undo tree data")

	// ErrInvalidEntityType is returned for entity types that do not support undo trees
	ErrInvalidEntityType = errors.New("invalid entity type")

	// ErrInvalidTreeJSON is returned when a persisted tree blob is not a JSON object
	ErrInvalidTreeJSON = errors.New("tree_json must be a JSON object")
)
