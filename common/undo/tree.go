package undo

import (
	"fmt"
)

// Tree is a branching undo/redo history for one entity.
//
// Undo ascends to the parent; redo descends to a chosen child. Pushing from
// a node that already has children adds a sibling branch instead of
// discarding the redoable future.
//
// Tree is not safe for concurrent use. Callers sharing one instance across
// goroutines must guard it (the persistence Coordinator does).
type Tree struct {
	store     *NodeStore
	rootID    NodeID
	currentID NodeID
	opts      *options
}

// New creates a tree holding only the root node
func New(opts ...Option) *Tree {
	o := buildOptions(opts)

	root := &Node{
		ID: o.newID(),
		Action: Action{
			Type:  InitActionType,
			Label: "Initial state",
		},
		Timestamp: o.now(),
		Children:  []NodeID{},
	}

	store := NewNodeStore()
	store.Put(root)

	return &Tree{
		store:     store,
		rootID:    root.ID,
		currentID: root.ID,
		opts:      o,
	}
}

// Push records action as a new child of the current node and moves the
// current pointer onto it. The tree is left unchanged on error.
func (t *Tree) Push(action Action) (NodeID, error) {
	current := t.current()

	if len(current.Children) >= t.opts.maxBranches {
		return "", fmt.Errorf("%w: node %s already has %d children (max %d)",
			ErrBranchLimitExceeded, current.ID, len(current.Children), t.opts.maxBranches)
	}

	depth := t.Depth(current.ID) + 1
	if depth > t.opts.maxDepth {
		return "", fmt.Errorf("%w: depth %d exceeds max %d",
			ErrDepthLimitExceeded, depth, t.opts.maxDepth)
	}

	id := t.opts.newID()
	if t.store.Has(id) {
		return "", fmt.Errorf("node id %s already in use", id)
	}

	parentID := current.ID
	node := &Node{
		ID:        id,
		ParentID:  &parentID,
		Action:    action,
		Timestamp: t.opts.now(),
		Children:  []NodeID{},
	}

	t.store.Put(node)
	current.Children = append(current.Children, id)
	t.currentID = id

	return id, nil
}

// Undo moves to the parent and returns the action that was undone.
// It is a no-op returning false at the root.
func (t *Tree) Undo() (Action, bool) {
	current := t.current()
	if current.IsRoot() {
		return Action{}, false
	}

	t.currentID = *current.ParentID
	return current.clone().Action, true
}

// Redo moves to children[branch] and returns that child's action.
// Out-of-range branch indexes are clamped. Returns false when the current
// node has no children.
func (t *Tree) Redo(branch int) (Action, bool) {
	current := t.current()
	if len(current.Children) == 0 {
		return Action{}, false
	}

	if branch < 0 {
		branch = 0
	}
	if branch > len(current.Children)-1 {
		branch = len(current.Children) - 1
	}

	child, _ := t.store.Get(current.Children[branch])
	t.currentID = child.ID
	return child.clone().Action, true
}

// Branches returns the current node's children in creation order
func (t *Tree) Branches() []NodeID {
	return append([]NodeID{}, t.current().Children...)
}

// CanUndo reports whether the current node has a parent
func (t *Tree) CanUndo() bool {
	return !t.current().IsRoot()
}

// CanRedo reports whether the current node has at least one child
func (t *Tree) CanRedo() bool {
	return len(t.current().Children) > 0
}

// NavigateTo jumps straight to id. Unknown ids leave the pointer unchanged
// and return false.
func (t *Tree) NavigateTo(id NodeID) bool {
	if !t.store.Has(id) {
		return false
	}
	t.currentID = id
	return true
}

// RootID returns the root node id
func (t *Tree) RootID() NodeID {
	return t.rootID
}

// CurrentID returns the id of the current node
func (t *Tree) CurrentID() NodeID {
	return t.currentID
}

// Current returns a copy of the current node
func (t *Tree) Current() Node {
	return *t.current().clone()
}

// Node returns a copy of the node with the given id
func (t *Tree) Node(id NodeID) (Node, bool) {
	n, ok := t.store.Get(id)
	if !ok {
		return Node{}, false
	}
	return *n.clone(), true
}

// Len returns the number of nodes, root included
func (t *Tree) Len() int {
	return t.store.Len()
}

// Depth returns the number of parent links between id and the root,
// or -1 for an unknown id
func (t *Tree) Depth(id NodeID) int {
	n, ok := t.store.Get(id)
	if !ok {
		return -1
	}

	depth := 0
	for n.ParentID != nil {
		n, _ = t.store.Get(*n.ParentID)
		depth++
	}
	return depth
}

// Lineage returns the ids from the root down to the current node
func (t *Tree) Lineage() []NodeID {
	var path []NodeID
	for n := t.current(); ; {
		path = append(path, n.ID)
		if n.ParentID == nil {
			break
		}
		n, _ = t.store.Get(*n.ParentID)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Serialize returns a deep copy of the whole tree
func (t *Tree) Serialize() Data {
	nodes := make(map[NodeID]*Node, t.store.Len())
	for id, n := range t.store.nodes {
		nodes[id] = n.clone()
	}

	return Data{
		Nodes:         nodes,
		RootID:        t.rootID,
		CurrentNodeID: t.currentID,
	}
}

// Deserialize rebuilds a tree from data, rejecting structurally invalid
// input with an error wrapping ErrCorruptTree
func Deserialize(data Data, opts ...Option) (*Tree, error) {
	if err := validate(data); err != nil {
		return nil, err
	}

	store := NewNodeStore()
	for _, n := range data.Nodes {
		c := n.clone()
		if c.Children == nil {
			c.Children = []NodeID{}
		}
		store.Put(c)
	}

	return &Tree{
		store:     store,
		rootID:    data.RootID,
		currentID: data.CurrentNodeID,
		opts:      buildOptions(opts),
	}, nil
}

func (t *Tree) current() *Node {
	n, ok := t.store.Get(t.currentID)
	if !ok {
		// Every mutation checks membership first
		panic(fmt.Sprintf("undo: current node %s missing from store", t.currentID))
	}
	return n
}

func validate(data Data) error {
	if len(data.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrCorruptTree)
	}

	root, ok := data.Nodes[data.RootID]
	if !ok || root == nil {
		return fmt.Errorf("%w: root %q not found", ErrCorruptTree, data.RootID)
	}
	if root.ParentID != nil {
		return fmt.Errorf("%w: root %q has a parent", ErrCorruptTree, data.RootID)
	}

	if _, ok := data.Nodes[data.CurrentNodeID]; !ok {
		return fmt.Errorf("%w: current node %q not found", ErrCorruptTree, data.CurrentNodeID)
	}

	listed := make(map[NodeID]bool, len(data.Nodes))
	for id, n := range data.Nodes {
		if n == nil {
			return fmt.Errorf("%w: node %q is null", ErrCorruptTree, id)
		}
		if n.ID != id {
			return fmt.Errorf("%w: node key %q holds id %q", ErrCorruptTree, id, n.ID)
		}
		if id != data.RootID {
			if n.ParentID == nil {
				return fmt.Errorf("%w: second root %q", ErrCorruptTree, id)
			}
			if _, ok := data.Nodes[*n.ParentID]; !ok {
				return fmt.Errorf("%w: node %q has unknown parent %q", ErrCorruptTree, id, *n.ParentID)
			}
		}

		for _, childID := range n.Children {
			child, ok := data.Nodes[childID]
			if !ok || child == nil {
				return fmt.Errorf("%w: node %q lists unknown child %q", ErrCorruptTree, id, childID)
			}
			if child.ParentID == nil || *child.ParentID != id {
				return fmt.Errorf("%w: child %q does not point back to %q", ErrCorruptTree, childID, id)
			}
			if listed[childID] {
				return fmt.Errorf("%w: child %q listed twice", ErrCorruptTree, childID)
			}
			listed[childID] = true
		}
	}

	// Every non-root node must be listed by its parent and reachable from the root
	reached := 0
	queue := []NodeID{data.RootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		reached++
		queue = append(queue, data.Nodes[id].Children...)
	}
	if reached != len(data.Nodes) {
		return fmt.Errorf("%w: %d of %d nodes unreachable from root",
			ErrCorruptTree, len(data.Nodes)-reached, len(data.Nodes))
	}

	return nil
}
