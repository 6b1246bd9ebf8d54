package tree

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raptorlabs/raptor-mcp/internal/embedder"
	"github.com/raptorlabs/raptor-mcp/internal/summarizer"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// stubEmbedder returns a fixed vector for every text, optionally failing
// for specific texts.
type stubEmbedder struct {
	failFor map[string]bool
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.failFor[text] {
		return nil, errors.New("provider unavailable")
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int   { return 3 }
func (s *stubEmbedder) Provider() string { return "stub" }
func (s *stubEmbedder) Close() error     { return nil }

// mergeAllStrategy clusters every non-degraded node into one group.
type mergeAllStrategy struct{}

func (mergeAllStrategy) Cluster(nodes []*types.Node) [][]types.NodeID {
	var ids []types.NodeID
	var singles [][]types.NodeID
	for _, n := range nodes {
		if n.Degraded {
			singles = append(singles, []types.NodeID{n.ID})
			continue
		}
		ids = append(ids, n.ID)
	}
	var out [][]types.NodeID
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return append(out, singles...)
}

// singletonStrategy never merges anything.
type singletonStrategy struct{}

func (singletonStrategy) Cluster(nodes []*types.Node) [][]types.NodeID {
	out := make([][]types.NodeID, len(nodes))
	for i, n := range nodes {
		out[i] = []types.NodeID{n.ID}
	}
	return out
}

// pairFirstStrategy merges the two lowest-id nodes each round and leaves
// the rest as singletons. Forces multiple rounds.
type pairFirstStrategy struct{}

func (pairFirstStrategy) Cluster(nodes []*types.Node) [][]types.NodeID {
	ids := make([]types.NodeID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	if len(ids) < 2 {
		out := make([][]types.NodeID, len(ids))
		for i, id := range ids {
			out[i] = []types.NodeID{id}
		}
		return out
	}
	out := [][]types.NodeID{{ids[0], ids[1]}}
	for _, id := range ids[2:] {
		out = append(out, []types.NodeID{id})
	}
	return out
}

func newTestBuilder(e embedder.Embedder, strategy interface {
	Cluster([]*types.Node) [][]types.NodeID
}) *Builder {
	cache := embedder.NewCache(e, 100)
	summ := summarizer.NewFallback(nil, 0, 0)
	return NewBuilder(cache, strategy, summ, 8, 2, 4)
}

func testChunks(paths ...string) []types.Chunk {
	chunks := make([]types.Chunk, len(paths))
	for i, p := range paths {
		chunks[i] = types.Chunk{
			SourcePath: p,
			Start:      0,
			End:        20,
			Text:       "Content of " + p + ". More detail here.",
		}
	}
	return chunks
}

func TestEmbedLeaves_AssignsAscendingIDs(t *testing.T) {
	b := newTestBuilder(&stubEmbedder{}, singletonStrategy{})
	alloc := NewIDAlloc(0)

	leaves, warns, err := b.EmbedLeaves(context.Background(), testChunks("a.txt", "b.txt", "c.txt"), alloc)
	require.NoError(t, err)
	assert.Empty(t, warns)
	require.Len(t, leaves, 3)
	for i, leaf := range leaves {
		assert.Equal(t, types.NodeID(i+1), leaf.ID)
		assert.Equal(t, 0, leaf.Level)
		assert.NotEmpty(t, leaf.Embedding)
		assert.False(t, leaf.Degraded)
	}
}

func TestEmbedLeaves_FailureDegradesLeaf(t *testing.T) {
	chunks := testChunks("a.txt", "b.txt")
	stub := &stubEmbedder{failFor: map[string]bool{chunks[1].Text: true}}
	b := newTestBuilder(stub, singletonStrategy{})

	leaves, warns, err := b.EmbedLeaves(context.Background(), chunks, NewIDAlloc(0))
	require.NoError(t, err)
	require.Len(t, warns, 1)
	assert.Equal(t, types.WarnEmbedding, warns[0].Kind)
	assert.False(t, leaves[0].Degraded)
	assert.True(t, leaves[1].Degraded)
	assert.Nil(t, leaves[1].Embedding)
}

func TestForest_SingleClusterProducesOneRoot(t *testing.T) {
	b := newTestBuilder(&stubEmbedder{}, mergeAllStrategy{})
	alloc := NewIDAlloc(0)
	leaves, _, err := b.EmbedLeaves(context.Background(), testChunks("a.txt", "b.txt", "c.txt"), alloc)
	require.NoError(t, err)

	res, err := b.Forest(context.Background(), leaves, nil, alloc)
	require.NoError(t, err)
	require.Len(t, res.RootIDs, 1)

	root := res.Nodes[res.RootIDs[0]]
	assert.Equal(t, 1, root.Level)
	assert.Len(t, root.ChildrenIDs, 3)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, root.SourcePaths)
	assert.NotEmpty(t, root.Text)
	assert.NotEmpty(t, root.Embedding)
	for _, leaf := range leaves {
		assert.Equal(t, root.ID, leaf.ParentID)
	}
	assert.Equal(t, 2, res.Depth)
}

func TestForest_AllSingletonsStops(t *testing.T) {
	b := newTestBuilder(&stubEmbedder{}, singletonStrategy{})
	alloc := NewIDAlloc(0)
	leaves, _, err := b.EmbedLeaves(context.Background(), testChunks("a.txt", "b.txt"), alloc)
	require.NoError(t, err)

	res, err := b.Forest(context.Background(), leaves, nil, alloc)
	require.NoError(t, err)
	// No merges possible: the leaves themselves are the forest roots.
	assert.Equal(t, []types.NodeID{1, 2}, res.RootIDs)
	assert.Len(t, res.Nodes, 2)
	assert.Equal(t, 1, res.Depth)
}

func TestForest_DepthCapLeavesForest(t *testing.T) {
	cache := embedder.NewCache(&stubEmbedder{}, 100)
	summ := summarizer.NewFallback(nil, 0, 0)
	b := NewBuilder(cache, pairFirstStrategy{}, summ, 2, 2, 4)

	alloc := NewIDAlloc(0)
	leaves, _, err := b.EmbedLeaves(context.Background(), testChunks("a.txt", "b.txt", "c.txt", "d.txt", "e.txt"), alloc)
	require.NoError(t, err)

	res, err := b.Forest(context.Background(), leaves, nil, alloc)
	require.NoError(t, err)
	// Two pairing rounds cannot converge five leaves to one root.
	assert.Greater(t, len(res.RootIDs), 1)
	assert.LessOrEqual(t, res.Depth, 3) // levels 0..2
	for _, id := range res.RootIDs {
		assert.False(t, res.Nodes[id].HasParent())
	}
}

func TestForest_DegradedLeafBecomesRoot(t *testing.T) {
	chunks := testChunks("a.txt", "b.txt", "c.txt")
	stub := &stubEmbedder{failFor: map[string]bool{chunks[2].Text: true}}
	b := newTestBuilder(stub, mergeAllStrategy{})

	alloc := NewIDAlloc(0)
	leaves, _, err := b.EmbedLeaves(context.Background(), chunks, alloc)
	require.NoError(t, err)

	res, err := b.Forest(context.Background(), leaves, nil, alloc)
	require.NoError(t, err)
	// Root of the merged pair plus the degraded leaf as its own root.
	require.Len(t, res.RootIDs, 2)
	degraded := res.Nodes[types.NodeID(3)]
	assert.True(t, degraded.Degraded)
	assert.False(t, degraded.HasParent())

	root := res.Nodes[res.RootIDs[0]]
	if root.IsLeaf() {
		root = res.Nodes[res.RootIDs[1]]
	}
	assert.Len(t, root.ChildrenIDs, 2)
}

func TestForest_JoinerMergesWithRebuiltLevel(t *testing.T) {
	b := newTestBuilder(&stubEmbedder{}, mergeAllStrategy{})
	alloc := NewIDAlloc(10)

	leaves, _, err := b.EmbedLeaves(context.Background(), testChunks("a.txt", "b.txt"), alloc)
	require.NoError(t, err)

	// A preserved subtree root at level 1, detached for re-parenting.
	joiner := &types.Node{
		ID:          5,
		Level:       1,
		Text:        "Preserved summary.",
		Embedding:   []float32{1, 0, 0},
		ChildrenIDs: []types.NodeID{3, 4},
		SourcePaths: []string{"c.txt"},
	}

	res, err := b.Forest(context.Background(), leaves, []*types.Node{joiner}, alloc)
	require.NoError(t, err)
	require.Len(t, res.RootIDs, 1)

	root := res.Nodes[res.RootIDs[0]]
	assert.Equal(t, 2, root.Level)
	// Root's children: the rebuilt level-1 parent and the preserved root.
	assert.Len(t, root.ChildrenIDs, 2)
	assert.Contains(t, root.ChildrenIDs, joiner.ID)
	assert.Equal(t, root.ID, joiner.ParentID)
	assert.Contains(t, root.SourcePaths, "c.txt")
}

func TestForest_Cancellation(t *testing.T) {
	b := newTestBuilder(&stubEmbedder{}, mergeAllStrategy{})
	alloc := NewIDAlloc(0)
	leaves, _, err := b.EmbedLeaves(context.Background(), testChunks("a.txt", "b.txt"), alloc)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Forest(ctx, leaves, nil, alloc)
	assert.ErrorIs(t, err, types.ErrBuildCancelled)
}

func TestIDAlloc_ContinuesFromLast(t *testing.T) {
	alloc := NewIDAlloc(42)
	assert.Equal(t, types.NodeID(43), alloc.Next())
	assert.Equal(t, types.NodeID(44), alloc.Next())
	assert.Equal(t, types.NodeID(44), alloc.Last())
}
