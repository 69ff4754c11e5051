package undo

import (
	"encoding/json"
	"time"
)

// NodeID identifies a node in an undo tree. Ids are never reused.
type NodeID string

// InitActionType tags the sentinel action stored on every root node
const InitActionType = "init"

// SerializedCommand is an opaque, replayable description of a state
// transition. The tree stores it; the caller interprets it.
type SerializedCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Action is one undoable step in an entity's history
type Action struct {
	// Short machine-readable tag, e.g. "rename" or "move_node"
	Type string `json:"type"`

	// Human-readable description shown in history browsers
	Label string `json:"label"`

	Forward SerializedCommand `json:"forward"`
	Reverse SerializedCommand `json:"reverse"`
}

// Node is a single history state. ParentID is nil only for the root.
type Node struct {
	ID        NodeID    `json:"id"`
	ParentID  *NodeID   `json:"parentId"`
	Action    Action    `json:"action"`
	Timestamp time.Time `json:"timestamp"`

	// Child ids in branch-creation order (append-only)
	Children []NodeID `json:"children"`
}

// IsRoot reports whether the node has no parent
func (n *Node) IsRoot() bool {
	return n.ParentID == nil
}

// clone returns a deep copy so callers cannot alias tree internals
func (n *Node) clone() *Node {
	c := *n
	if n.ParentID != nil {
		parent := *n.ParentID
		c.ParentID = &parent
	}
	c.Children = append([]NodeID(nil), n.Children...)
	c.Action.Forward.Payload = cloneRaw(n.Action.Forward.Payload)
	c.Action.Reverse.Payload = cloneRaw(n.Action.Reverse.Payload)
	return &c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

// Data is the self-contained wire form of a whole tree
type Data struct {
	Nodes         map[NodeID]*Node `json:"nodes"`
	RootID        NodeID           `json:"rootId"`
	CurrentNodeID NodeID           `json:"currentNodeId"`
}

// IsEmpty reports whether the blob carries no tree at all (e.g. the `{}`
// placeholder the API stores for a fresh record)
func (d *Data) IsEmpty() bool {
	return d == nil || (len(d.Nodes) == 0 && d.RootID == "" && d.CurrentNodeID == "")
}
