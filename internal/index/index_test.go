package index

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raptorlabs/raptor-mcp/internal/chunker"
	"github.com/raptorlabs/raptor-mcp/internal/cluster"
	"github.com/raptorlabs/raptor-mcp/internal/config"
	"github.com/raptorlabs/raptor-mcp/internal/embedder"
	"github.com/raptorlabs/raptor-mcp/internal/retriever"
	"github.com/raptorlabs/raptor-mcp/internal/summarizer"
	"github.com/raptorlabs/raptor-mcp/internal/tree"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (f fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i], _ = f.Embed(ctx, texts[i])
	}
	return out, nil
}

func (fixedEmbedder) Dimension() int   { return 2 }
func (fixedEmbedder) Provider() string { return "fixed" }
func (fixedEmbedder) Close() error     { return nil }

// blockingEmbedder blocks every call until its context is cancelled.
type blockingEmbedder struct {
	started chan struct{}
}

func (b *blockingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	_, err := b.Embed(ctx, "")
	return nil, err
}

func (b *blockingEmbedder) Dimension() int   { return 2 }
func (b *blockingEmbedder) Provider() string { return "blocking" }
func (b *blockingEmbedder) Close() error     { return nil }

// byFileStrategy groups level-0 nodes by source file, then merges
// everything above level 0 into one cluster. Produces one subtree per
// file under a single root, which makes subtree reuse observable.
type byFileStrategy struct{}

func (byFileStrategy) Cluster(nodes []*types.Node) [][]types.NodeID {
	allLeaves := true
	for _, n := range nodes {
		if n.Level != 0 {
			allLeaves = false
			break
		}
	}

	var out [][]types.NodeID
	if allLeaves {
		byPath := make(map[string][]types.NodeID)
		for _, n := range nodes {
			byPath[n.SourcePath] = append(byPath[n.SourcePath], n.ID)
		}
		var paths []string
		for p := range byPath {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			ids := byPath[p]
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			out = append(out, ids)
		}
		return out
	}

	ids := make([]types.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return [][]types.NodeID{ids}
}

func newTestIndex(t *testing.T, e embedder.Embedder) *Index {
	t.Helper()
	cache := embedder.NewCache(e, 1000)
	// Small chunks so every corpus file splits into several leaves and
	// byFileStrategy forms a real subtree per file.
	return &Index{
		cfg:       config.Default(),
		chunker:   chunker.New(chunker.WithMaxChars(30), chunker.WithOverlap(5)),
		cache:     cache,
		builder:   tree.NewBuilder(cache, byFileStrategy{}, summarizer.NewFallback(nil, 0, 0), 8, 2, 8),
		retriever: retriever.New(cache),
		store:     tree.NewStore(),
		logger:    log.New(io.Discard, "", 0),
	}
}

func corpus(now time.Time) []types.FileInput {
	return []types.FileInput{
		{Path: "a.txt", Text: "Alpha file first part. Alpha file second part.", ModTime: now},
		{Path: "b.txt", Text: "Beta file first part. Beta file second part.", ModTime: now},
		{Path: "c.txt", Text: "Gamma file first part. Gamma file second part.", ModTime: now},
	}
}

func TestBuild_PublishesSnapshot(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	stats, err := idx.Build(context.Background(), corpus(time.Now()))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.FilesIndexed)
	assert.Empty(t, stats.Warnings)

	snap := idx.Current()
	require.NotNil(t, snap)
	require.NoError(t, snap.Validate())
	assert.Equal(t, uint64(1), snap.Version)
	assert.Len(t, snap.FileRecords, 3)
	// Every file must chunk into several leaves; a single-leaf file
	// would collapse its by-file cluster into a singleton and the
	// per-file subtrees the update tests depend on would never form.
	for path, rec := range snap.FileRecords {
		assert.GreaterOrEqual(t, len(rec.LeafIDs), 2, path)
	}
	// One subtree per file below one root.
	assert.Len(t, snap.RootIDs, 1)

	status := idx.Status()
	assert.True(t, status.Built)
	assert.Equal(t, 3, status.FileCount)
}

func TestQuery_BeforeBuild(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	_, err := idx.Query(context.Background(), retriever.Request{Query: "anything"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestQuery_AfterBuild(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	_, err := idx.Build(context.Background(), corpus(time.Now()))
	require.NoError(t, err)

	results, err := idx.Query(context.Background(), retriever.Request{Query: "alpha", TopK: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestUpdate_NoChangesIsNoOp(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	files := corpus(time.Now())
	_, err := idx.Build(context.Background(), files)
	require.NoError(t, err)
	before := idx.Current()

	stats, err := idx.Update(context.Background(), files)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesAdded)
	assert.Zero(t, stats.FilesModified)
	assert.Zero(t, stats.FilesDeleted)
	assert.Zero(t, stats.NodesRebuilt)
	assert.False(t, stats.FullRebuild)
	assert.Same(t, before, idx.Current())
}

func TestUpdate_FirstCallFallsBackToFullBuild(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	stats, err := idx.Update(context.Background(), corpus(time.Now()))
	require.NoError(t, err)
	assert.True(t, stats.FullRebuild)
	require.NotNil(t, idx.Current())
}

// Modifying one of three files must rebuild only that file's subtree:
// the other files' leaves and subtree roots keep their node ids, the
// modified file's leaves get fresh ids, and the ancestors of the old
// leaves are gone.
func TestUpdate_ModifiedFileRebuildsOnlyItsSubtree(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	files := corpus(time.Now())
	_, err := idx.Build(context.Background(), files)
	require.NoError(t, err)

	prev := idx.Current()
	prevA := prev.FileRecords["a.txt"]
	prevB := prev.FileRecords["b.txt"]
	prevC := prev.FileRecords["c.txt"]
	oldRoot := prev.RootIDs[0]

	// Subtree roots for a.txt and c.txt: parents of their first leaves.
	aParent := prev.Nodes[prevA.LeafIDs[0]].ParentID
	bParent := prev.Nodes[prevB.LeafIDs[0]].ParentID
	cParent := prev.Nodes[prevC.LeafIDs[0]].ParentID

	files[1].Text = "Beta file rewritten completely. Entirely new content."
	stats, err := idx.Update(context.Background(), files)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesModified)
	assert.Zero(t, stats.FilesAdded)
	assert.Zero(t, stats.FilesDeleted)
	assert.False(t, stats.FullRebuild)
	assert.Greater(t, stats.NodesRebuilt, 0)

	next := idx.Current()
	require.NoError(t, next.Validate())
	assert.Equal(t, uint64(2), next.Version)

	// Unchanged files keep their leaf ids; the modified file gets new ones.
	assert.Equal(t, prevA.LeafIDs, next.FileRecords["a.txt"].LeafIDs)
	assert.Equal(t, prevC.LeafIDs, next.FileRecords["c.txt"].LeafIDs)
	for _, id := range next.FileRecords["b.txt"].LeafIDs {
		assert.Greater(t, id, prev.MaxID)
	}

	// Preserved subtree roots survive by id; the dirty ones are gone.
	_, ok := next.Nodes[aParent]
	assert.True(t, ok, "a.txt subtree root should be preserved")
	_, ok = next.Nodes[cParent]
	assert.True(t, ok, "c.txt subtree root should be preserved")
	_, ok = next.Nodes[bParent]
	assert.False(t, ok, "b.txt subtree root should be rebuilt")
	_, ok = next.Nodes[oldRoot]
	assert.False(t, ok, "old root is an ancestor of changed leaves")

	// Old leaves of the modified file are fully removed.
	for _, id := range prevB.LeafIDs {
		_, ok := next.Nodes[id]
		assert.False(t, ok)
	}

	// The previous snapshot is untouched.
	require.NoError(t, prev.Validate())
}

func TestUpdate_DeletedFileLeavesNoTrace(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	files := corpus(time.Now())
	_, err := idx.Build(context.Background(), files)
	require.NoError(t, err)
	prevB := idx.Current().FileRecords["b.txt"]

	stats, err := idx.Update(context.Background(), []types.FileInput{files[0], files[2]})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesDeleted)

	next := idx.Current()
	require.NoError(t, next.Validate())
	_, ok := next.FileRecords["b.txt"]
	assert.False(t, ok)
	for _, id := range prevB.LeafIDs {
		_, ok := next.Nodes[id]
		assert.False(t, ok)
	}
	for _, n := range next.Nodes {
		assert.NotEqual(t, "b.txt", n.SourcePath)
	}
}

func TestUpdate_AddedFile(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	files := corpus(time.Now())
	_, err := idx.Build(context.Background(), files)
	require.NoError(t, err)

	files = append(files, types.FileInput{
		Path: "d.txt", Text: "Delta file first part. Delta file second part.", ModTime: time.Now(),
	})
	stats, err := idx.Update(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesAdded)

	next := idx.Current()
	require.NoError(t, next.Validate())
	require.Contains(t, next.FileRecords, "d.txt")
	assert.NotEmpty(t, next.FileRecords["d.txt"].LeafIDs)
}

func TestUpdate_CorruptSnapshotTriggersFullRebuild(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	files := corpus(time.Now())
	_, err := idx.Build(context.Background(), files)
	require.NoError(t, err)

	// Publish a snapshot whose records point at a missing leaf.
	snap := idx.Current()
	broken := tree.NewSnapshot(snap.Nodes, snap.RootIDs, nil, snap.MaxID)
	for path, rec := range snap.FileRecords {
		broken.FileRecords[path] = rec
	}
	rec := broken.FileRecords["a.txt"]
	rec.LeafIDs = append([]types.NodeID(nil), rec.LeafIDs...)
	rec.LeafIDs[0] = 9999
	broken.FileRecords["a.txt"] = rec
	idx.store.Publish(broken)

	files[0].Text = "Alpha rewritten."
	stats, err := idx.Update(context.Background(), files)
	require.NoError(t, err)
	assert.True(t, stats.FullRebuild)
	require.NoError(t, idx.Current().Validate())
}

func TestUpdate_UnchangedFileRefreshesModTime(t *testing.T) {
	idx := newTestIndex(t, fixedEmbedder{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	files := corpus(base)
	_, err := idx.Build(context.Background(), files)
	require.NoError(t, err)

	// a.txt is touched without a content change; b.txt really changes.
	touched := base.Add(time.Hour)
	files[0].ModTime = touched
	files[1].Text = "Beta file rewritten completely. Entirely new content."
	files[1].ModTime = touched

	stats, err := idx.Update(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesModified)
	assert.Zero(t, stats.FilesAdded)

	next := idx.Current()
	assert.True(t, next.FileRecords["a.txt"].ModTime.Equal(touched),
		"carried record should track the mtime on disk")
	assert.True(t, next.FileRecords["b.txt"].ModTime.Equal(touched))
	assert.True(t, next.FileRecords["c.txt"].ModTime.Equal(base))
}

// newRealIndex wires the production pipeline: real threshold clustering
// over deterministic hash-derived embeddings and the extractive
// summarizer, so build and update results are exactly reproducible.
func newRealIndex(t *testing.T) *Index {
	t.Helper()
	cache := embedder.NewCache(embedder.NewLocalEmbedder(0), 1000)
	return &Index{
		cfg:       config.Default(),
		chunker:   chunker.New(chunker.WithMaxChars(200), chunker.WithOverlap(20)),
		cache:     cache,
		builder:   tree.NewBuilder(cache, cluster.NewThreshold(0.82), summarizer.NewFallback(nil, 0, 8000), 8, 2, 8),
		retriever: retriever.New(cache),
		store:     tree.NewStore(),
		logger:    log.New(io.Discard, "", 0),
	}
}

// nodeContents reduces a snapshot to an id-free multiset of node
// contents, the terms on which two builds count as equivalent.
func nodeContents(snap *tree.Snapshot) []string {
	var out []string
	snap.Walk(func(n *types.Node) {
		paths := append([]string(nil), n.SourcePaths...)
		sort.Strings(paths)
		out = append(out, fmt.Sprintf("L%d|%s|%d-%d|%s", n.Level, strings.Join(paths, ","), n.Start, n.End, n.Text))
	})
	return out
}

// Updating after one file changes must yield the same node-content set
// as building the changed corpus from scratch; only node ids may differ.
func TestUpdate_EquivalentToFreshBuild(t *testing.T) {
	mkCorpus := func(now time.Time) []types.FileInput {
		return []types.FileInput{
			{Path: "a.txt", Text: strings.Repeat("Alpha subsystem handles retry backoff and request cancellation. ", 8), ModTime: now},
			{Path: "b.txt", Text: strings.Repeat("Beta subsystem persists snapshots and tracks file records. ", 8), ModTime: now},
			{Path: "c.txt", Text: strings.Repeat("Gamma subsystem ranks nodes by cosine similarity. ", 8), ModTime: now},
		}
	}
	now := time.Now()
	files := mkCorpus(now)

	incr := newRealIndex(t)
	_, err := incr.Build(context.Background(), files)
	require.NoError(t, err)
	prev := incr.Current()
	require.NoError(t, prev.Validate())
	for path, rec := range prev.FileRecords {
		require.GreaterOrEqual(t, len(rec.LeafIDs), 2, path)
	}
	prevA := prev.FileRecords["a.txt"].LeafIDs
	prevC := prev.FileRecords["c.txt"].LeafIDs

	files[1].Text = strings.Repeat("Beta subsystem rewritten to stream changes incrementally. ", 8)
	files[1].ModTime = now.Add(time.Minute)
	stats, err := incr.Update(context.Background(), files)
	require.NoError(t, err)
	assert.False(t, stats.FullRebuild)
	assert.Equal(t, 1, stats.FilesModified)

	next := incr.Current()
	require.NoError(t, next.Validate())
	assert.Equal(t, prevA, next.FileRecords["a.txt"].LeafIDs)
	assert.Equal(t, prevC, next.FileRecords["c.txt"].LeafIDs)

	fresh := newRealIndex(t)
	_, err = fresh.Build(context.Background(), files)
	require.NoError(t, err)

	assert.ElementsMatch(t, nodeContents(fresh.Current()), nodeContents(next))
}

func TestBuild_DisplacesInFlightBuild(t *testing.T) {
	blocking := &blockingEmbedder{started: make(chan struct{}, 1)}
	idx := newTestIndex(t, blocking)

	errCh := make(chan error, 1)
	go func() {
		_, err := idx.Build(context.Background(), corpus(time.Now()))
		errCh <- err
	}()
	<-blocking.started

	// The second build displaces the first, then blocks itself; shut
	// down to release it.
	go func() {
		_, _ = idx.Build(context.Background(), corpus(time.Now()))
	}()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, types.ErrBuildCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("displaced build did not return")
	}
	idx.gate.shutdown()
}
