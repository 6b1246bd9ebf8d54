package types

import "sort"

// NodeID identifies a node within a snapshot's arena. IDs are allocated
// monotonically, so ascending ID order doubles as creation order and is the
// tie-break everywhere determinism matters (clustering, ranking).
type NodeID int64

// NoParent marks a node that is a root (or not yet attached).
const NoParent NodeID = 0

// Node is one unit of the retrieval tree. Level 0 nodes are chunks and have
// no children; nodes at level >= 1 carry a summary text and embedding derived
// exclusively from their children.
type Node struct {
	ID          NodeID
	Level       int
	Text        string
	Embedding   []float32
	ParentID    NodeID
	ChildrenIDs []NodeID
	SourcePaths []string // sorted, unique

	// Leaf-only fields.
	SourcePath string
	Start      int
	End        int

	// Degraded marks a node whose embedding could not be computed after
	// retries and had no prior vector. Degraded nodes never cluster and are
	// skipped during ranking.
	Degraded bool
}

// IsLeaf reports whether the node is a level-0 chunk node.
func (n *Node) IsLeaf() bool {
	return n.Level == 0
}

// HasParent reports whether the node is attached to a parent.
func (n *Node) HasParent() bool {
	return n.ParentID != NoParent
}

// CloneShallow returns a copy of the node sharing the embedding, children,
// and source-path slices. Used for copy-on-write re-parenting: a preserved
// subtree root is cloned only to point at its new parent while its subtree
// is reused by reference.
func (n *Node) CloneShallow() *Node {
	cp := *n
	return &cp
}

// UnionSourcePaths merges the given sorted-unique path sets into one
// sorted-unique slice. Parents own the union of their children's paths.
func UnionSourcePaths(sets ...[]string) []string {
	seen := make(map[string]struct{})
	for _, set := range sets {
		for _, p := range set {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
