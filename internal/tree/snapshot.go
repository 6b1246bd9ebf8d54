package tree

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// Snapshot is one immutable version of the index: the node arena, the
// forest roots, and the per-file bookkeeping needed for incremental
// updates. Snapshots are never mutated after publication; readers hold a
// snapshot for the duration of a query and are unaffected by later swaps.
type Snapshot struct {
	ID        uuid.UUID
	Version   uint64
	CreatedAt time.Time

	RootIDs     []types.NodeID
	Nodes       map[types.NodeID]*types.Node
	FileRecords map[string]types.FileRecord

	// MaxID is the highest node id ever allocated in this lineage. New
	// builds continue allocation above it so ids stay unique across
	// incremental updates.
	MaxID types.NodeID
}

// NewSnapshot assembles an unpublished snapshot. Version and CreatedAt
// are assigned by Store.Publish.
func NewSnapshot(nodes map[types.NodeID]*types.Node, roots []types.NodeID, records map[string]types.FileRecord, maxID types.NodeID) *Snapshot {
	if nodes == nil {
		nodes = make(map[types.NodeID]*types.Node)
	}
	if records == nil {
		records = make(map[string]types.FileRecord)
	}
	return &Snapshot{
		ID:          uuid.New(),
		RootIDs:     roots,
		Nodes:       nodes,
		FileRecords: records,
		MaxID:       maxID,
	}
}

// NodeCount returns the arena size.
func (s *Snapshot) NodeCount() int {
	return len(s.Nodes)
}

// LeafCount returns the number of level-0 nodes.
func (s *Snapshot) LeafCount() int {
	count := 0
	for _, n := range s.Nodes {
		if n.IsLeaf() {
			count++
		}
	}
	return count
}

// Depth returns the maximum node level plus one, or zero for an empty
// snapshot.
func (s *Snapshot) Depth() int {
	if len(s.Nodes) == 0 {
		return 0
	}
	max := 0
	for _, n := range s.Nodes {
		if n.Level > max {
			max = n.Level
		}
	}
	return max + 1
}

// Node looks up a node by id.
func (s *Snapshot) Node(id types.NodeID) (*types.Node, bool) {
	n, ok := s.Nodes[id]
	return n, ok
}

// Walk calls fn for every node in ascending id order.
func (s *Snapshot) Walk(fn func(*types.Node)) {
	ids := make([]types.NodeID, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(s.Nodes[id])
	}
}

// SnapshotVersion returns the published version number.
func (s *Snapshot) SnapshotVersion() uint64 {
	return s.Version
}

// Validate checks the structural invariants of the snapshot. Any
// violation wraps ErrCorruptIndex; callers respond with a full rebuild.
func (s *Snapshot) Validate() error {
	rootSet := make(map[types.NodeID]struct{}, len(s.RootIDs))
	for _, id := range s.RootIDs {
		n, ok := s.Nodes[id]
		if !ok {
			return fmt.Errorf("%w: root %d missing from arena", types.ErrCorruptIndex, id)
		}
		if n.HasParent() {
			return fmt.Errorf("%w: root %d has parent %d", types.ErrCorruptIndex, id, n.ParentID)
		}
		rootSet[id] = struct{}{}
	}

	for id, n := range s.Nodes {
		if n.ID != id {
			return fmt.Errorf("%w: node %d keyed as %d", types.ErrCorruptIndex, n.ID, id)
		}
		if n.IsLeaf() && len(n.ChildrenIDs) > 0 {
			return fmt.Errorf("%w: leaf %d has children", types.ErrCorruptIndex, id)
		}
		if !n.IsLeaf() && len(n.ChildrenIDs) == 0 {
			return fmt.Errorf("%w: internal node %d has no children", types.ErrCorruptIndex, id)
		}
		if n.HasParent() {
			parent, ok := s.Nodes[n.ParentID]
			if !ok {
				return fmt.Errorf("%w: node %d references missing parent %d", types.ErrCorruptIndex, id, n.ParentID)
			}
			if !containsID(parent.ChildrenIDs, id) {
				return fmt.Errorf("%w: parent %d does not list child %d", types.ErrCorruptIndex, n.ParentID, id)
			}
		} else if _, isRoot := rootSet[id]; !isRoot {
			return fmt.Errorf("%w: node %d has no parent but is not a root", types.ErrCorruptIndex, id)
		}
		for _, childID := range n.ChildrenIDs {
			child, ok := s.Nodes[childID]
			if !ok {
				return fmt.Errorf("%w: node %d references missing child %d", types.ErrCorruptIndex, id, childID)
			}
			if child.ParentID != id {
				return fmt.Errorf("%w: child %d points at parent %d, expected %d", types.ErrCorruptIndex, childID, child.ParentID, id)
			}
			if child.Level >= n.Level {
				return fmt.Errorf("%w: child %d level %d not below parent %d level %d", types.ErrCorruptIndex, childID, child.Level, id, n.Level)
			}
		}
	}

	// Every node must be reachable from exactly one root.
	reached := make(map[types.NodeID]struct{}, len(s.Nodes))
	stack := make([]types.NodeID, 0, len(s.RootIDs))
	stack = append(stack, s.RootIDs...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := reached[id]; seen {
			return fmt.Errorf("%w: node %d reachable from multiple roots", types.ErrCorruptIndex, id)
		}
		reached[id] = struct{}{}
		stack = append(stack, s.Nodes[id].ChildrenIDs...)
	}
	if len(reached) != len(s.Nodes) {
		return fmt.Errorf("%w: %d of %d nodes unreachable from roots", types.ErrCorruptIndex, len(s.Nodes)-len(reached), len(s.Nodes))
	}

	for path, rec := range s.FileRecords {
		if rec.Path != path {
			return fmt.Errorf("%w: file record %q keyed as %q", types.ErrCorruptIndex, rec.Path, path)
		}
		for _, leafID := range rec.LeafIDs {
			leaf, ok := s.Nodes[leafID]
			if !ok {
				return fmt.Errorf("%w: file %q references missing leaf %d", types.ErrCorruptIndex, path, leafID)
			}
			if !leaf.IsLeaf() {
				return fmt.Errorf("%w: file %q references non-leaf node %d", types.ErrCorruptIndex, path, leafID)
			}
			if leaf.SourcePath != path {
				return fmt.Errorf("%w: leaf %d belongs to %q, recorded under %q", types.ErrCorruptIndex, leafID, leaf.SourcePath, path)
			}
		}
	}

	return nil
}

func containsID(ids []types.NodeID, id types.NodeID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Store publishes snapshots with a single atomic pointer swap. Readers
// load the current snapshot lock-free; writers prepare a complete new
// snapshot off to the side and publish it in one step.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns an empty store; Current is nil until the first
// Publish.
func NewStore() *Store {
	return &Store{}
}

// Current returns the latest published snapshot, or nil before the
// first build completes.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Publish stamps the snapshot with the next version and swaps it in.
// The previous snapshot stays valid for readers still holding it.
func (s *Store) Publish(snap *Snapshot) *Snapshot {
	if prev := s.current.Load(); prev != nil {
		snap.Version = prev.Version + 1
	} else {
		snap.Version = 1
	}
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	snap.CreatedAt = time.Now()
	s.current.Store(snap)
	return snap
}
