package undo

// NodeStore maps node ids to nodes. It has no behavior beyond lookup and insert.
type NodeStore struct {
	nodes map[NodeID]*Node
}

// NewNodeStore creates an empty store
func NewNodeStore() *NodeStore {
	return &NodeStore{nodes: make(map[NodeID]*Node)}
}

// Get returns the node for id, or nil and false when unknown
func (s *NodeStore) Get(id NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Has reports whether id is present
func (s *NodeStore) Has(id NodeID) bool {
	_, ok := s.nodes[id]
	return ok
}

// Put inserts or replaces a node under its own id
func (s *NodeStore) Put(n *Node) {
	s.nodes[n.ID] = n
}

// Len returns the number of stored nodes
func (s *NodeStore) Len() int {
	return len(s.nodes)
}
