package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/raptorlabs/raptor-mcp/internal/tree"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// fileChange pairs a path with its classification against the previous
// snapshot's file records.
type fileChange struct {
	Kind types.ChangeKind
	File types.FileInput // zero for deletions
}

// Update reconciles the index with a fresh scan of the corpus. The
// files slice is the complete current corpus: a previously indexed path
// missing from it counts as deleted. Only the subtrees touched by
// changed files are rebuilt; clean subtrees carry over by reference.
// Any structural inconsistency abandons the incremental path for a full
// rebuild of the same corpus.
func (idx *Index) Update(ctx context.Context, files []types.FileInput) (*types.UpdateStats, error) {
	ctx, gen, done := idx.gate.begin(ctx)
	defer done()

	start := time.Now()

	prev := idx.store.Current()
	if prev == nil {
		return idx.fullRebuild(ctx, gen, files, start, nil)
	}
	if err := prev.Validate(); err != nil {
		idx.logger.Printf("incremental update: previous snapshot failed validation, rebuilding: %v", err)
		return idx.fullRebuild(ctx, gen, files, start, nil)
	}

	changes := diffFiles(prev, files)

	stats := &types.UpdateStats{}
	dirtyWork := false
	for _, ch := range changes {
		switch ch.Kind {
		case types.ChangeAdded:
			stats.FilesAdded++
			dirtyWork = true
		case types.ChangeModified:
			stats.FilesModified++
			dirtyWork = true
		case types.ChangeDeleted:
			stats.FilesDeleted++
			dirtyWork = true
		}
	}
	if !dirtyWork {
		stats.Duration = time.Since(start)
		return stats, nil
	}

	snap, rebuilt, warnings, err := idx.applyChanges(ctx, prev, changes)
	if err != nil {
		if errors.Is(err, types.ErrCorruptIndex) {
			// Inconsistency between records and arena: the safe exit is
			// a full rebuild from the corpus we already hold.
			idx.logger.Printf("incremental update abandoned: %v", err)
			return idx.fullRebuild(ctx, gen, files, start, stats)
		}
		return nil, err
	}

	if !idx.gate.ifCurrent(gen, func() { idx.publish(ctx, snap) }) {
		return nil, fmt.Errorf("%w: displaced before publish", types.ErrBuildCancelled)
	}

	stats.NodesRebuilt = rebuilt
	stats.Warnings = warnings
	stats.Duration = time.Since(start)
	return stats, nil
}

// diffFiles classifies every path in the union of the previous records
// and the current scan. Output is ordered by path.
func diffFiles(prev *tree.Snapshot, files []types.FileInput) []fileChange {
	seen := make(map[string]struct{}, len(files))
	changes := make([]fileChange, 0, len(files))

	for _, f := range files {
		seen[f.Path] = struct{}{}
		rec, known := prev.FileRecords[f.Path]
		switch {
		case !known:
			changes = append(changes, fileChange{Kind: types.ChangeAdded, File: f})
		case rec.ContentHash != types.HashText(f.Text):
			changes = append(changes, fileChange{Kind: types.ChangeModified, File: f})
		default:
			changes = append(changes, fileChange{Kind: types.ChangeUnchanged, File: f})
		}
	}
	for path := range prev.FileRecords {
		if _, ok := seen[path]; !ok {
			changes = append(changes, fileChange{Kind: types.ChangeDeleted, File: types.FileInput{Path: path}})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].File.Path < changes[j].File.Path })
	return changes
}

// applyChanges runs the incremental rebuild: drop the leaves of changed
// files, mark their ancestor chains dirty, carry every clean subtree
// over by reference, and re-run the builder over the new leaves plus
// the clean subtree roots. The second return is the number of nodes
// created by this update.
func (idx *Index) applyChanges(ctx context.Context, prev *tree.Snapshot, changes []fileChange) (*tree.Snapshot, int, []types.Warning, error) {
	removed := make(map[types.NodeID]struct{})
	dirty := make(map[types.NodeID]struct{})

	markAncestors := func(leaf *types.Node) {
		for id := leaf.ParentID; id != types.NoParent; {
			n, ok := prev.Nodes[id]
			if !ok {
				return
			}
			if _, already := dirty[id]; already {
				return
			}
			dirty[id] = struct{}{}
			id = n.ParentID
		}
	}

	records := make(map[string]types.FileRecord, len(prev.FileRecords))
	var toChunk []types.FileInput
	for _, ch := range changes {
		switch ch.Kind {
		case types.ChangeUnchanged:
			// Same content, but the mtime on disk may have moved (touch,
			// checkout); the carried record tracks the disk state.
			rec := prev.FileRecords[ch.File.Path]
			rec.ModTime = ch.File.ModTime
			records[ch.File.Path] = rec
		case types.ChangeAdded:
			toChunk = append(toChunk, ch.File)
		case types.ChangeModified, types.ChangeDeleted:
			rec := prev.FileRecords[ch.File.Path]
			for _, leafID := range rec.LeafIDs {
				leaf, ok := prev.Nodes[leafID]
				if !ok {
					return nil, 0, nil, fmt.Errorf("%w: file record %q references missing leaf %d", types.ErrCorruptIndex, ch.File.Path, leafID)
				}
				removed[leafID] = struct{}{}
				markAncestors(leaf)
			}
			if ch.Kind == types.ChangeModified {
				toChunk = append(toChunk, ch.File)
			}
		}
	}

	// Partition the surviving nodes: a clean node whose parent is dirty
	// (or who was a root) heads a preserved subtree and re-enters the
	// builder; its descendants carry over untouched.
	arena := make(map[types.NodeID]*types.Node, len(prev.Nodes))
	var joiners []*types.Node
	for id, n := range prev.Nodes {
		if _, gone := removed[id]; gone {
			continue
		}
		if _, isDirty := dirty[id]; isDirty {
			continue
		}
		parentAlive := n.HasParent()
		if parentAlive {
			if _, parentDirty := dirty[n.ParentID]; parentDirty {
				parentAlive = false
			}
		}
		if parentAlive {
			arena[id] = n
			continue
		}
		clone := n.CloneShallow()
		clone.ParentID = types.NoParent
		joiners = append(joiners, clone)
	}
	sort.Slice(joiners, func(i, j int) bool { return joiners[i].ID < joiners[j].ID })

	alloc := tree.NewIDAlloc(prev.MaxID)

	sort.Slice(toChunk, func(i, j int) bool { return toChunk[i].Path < toChunk[j].Path })
	var chunks []types.Chunk
	perFile := make(map[string][2]int, len(toChunk))
	for _, f := range toChunk {
		lo := len(chunks)
		chunks = append(chunks, idx.chunker.Chunk(f.Path, f.Text)...)
		perFile[f.Path] = [2]int{lo, len(chunks)}
	}

	leaves, warnings, err := idx.builder.EmbedLeaves(ctx, chunks, alloc)
	if err != nil {
		return nil, 0, nil, err
	}

	res, err := idx.builder.Forest(ctx, leaves, joiners, alloc)
	if err != nil {
		return nil, 0, nil, err
	}
	warnings = append(warnings, res.Warnings...)
	created := len(res.Nodes) - len(joiners)

	for id, n := range res.Nodes {
		arena[id] = n
	}

	for _, f := range toChunk {
		r := perFile[f.Path]
		leafIDs := make([]types.NodeID, 0, r[1]-r[0])
		for _, leaf := range leaves[r[0]:r[1]] {
			leafIDs = append(leafIDs, leaf.ID)
		}
		records[f.Path] = types.FileRecord{
			Path:        f.Path,
			ModTime:     f.ModTime,
			ContentHash: types.HashText(f.Text),
			LeafIDs:     leafIDs,
		}
	}

	snap := tree.NewSnapshot(arena, res.RootIDs, records, alloc.Last())
	if err := snap.Validate(); err != nil {
		return nil, 0, nil, err
	}
	return snap, created, warnings, nil
}

// fullRebuild is the safe exit from the incremental path. The update
// stream is a full rescan, so it doubles as the rebuild corpus.
func (idx *Index) fullRebuild(ctx context.Context, gen uint64, files []types.FileInput, start time.Time, partial *types.UpdateStats) (*types.UpdateStats, error) {
	buildStats, snap, err := idx.buildSnapshot(ctx, files)
	if err != nil {
		return nil, err
	}
	if !idx.gate.ifCurrent(gen, func() { idx.publish(ctx, snap) }) {
		return nil, fmt.Errorf("%w: displaced before publish", types.ErrBuildCancelled)
	}

	stats := &types.UpdateStats{FullRebuild: true}
	if partial != nil {
		stats.FilesAdded = partial.FilesAdded
		stats.FilesModified = partial.FilesModified
		stats.FilesDeleted = partial.FilesDeleted
	}
	stats.NodesRebuilt = buildStats.NodeCount
	stats.Warnings = buildStats.Warnings
	stats.Duration = time.Since(start)
	return stats, nil
}
