package tree

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/raptorlabs/raptor-mcp/internal/cluster"
	"github.com/raptorlabs/raptor-mcp/internal/embedder"
	"github.com/raptorlabs/raptor-mcp/internal/summarizer"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// IDAlloc hands out monotonically increasing node ids. Ascending id is
// the determinism tie-break throughout, so allocation order matters:
// leaves are allocated in corpus order, parents in cluster order.
type IDAlloc struct {
	next atomic.Int64
}

// NewIDAlloc returns an allocator whose first id is last+1. Pass the
// previous snapshot's MaxID to keep ids unique across updates, or zero
// for a fresh build.
func NewIDAlloc(last types.NodeID) *IDAlloc {
	a := &IDAlloc{}
	a.next.Store(int64(last))
	return a
}

// Next returns the next unused id.
func (a *IDAlloc) Next() types.NodeID {
	return types.NodeID(a.next.Add(1))
}

// Last returns the highest id handed out so far.
func (a *IDAlloc) Last() types.NodeID {
	return types.NodeID(a.next.Load())
}

// Builder runs the bottom-up construction loop: embed leaves, then
// repeatedly cluster the working set and summarize each multi-member
// cluster into a parent node, until a single root remains or the depth
// cap is hit (leaving a forest).
type Builder struct {
	cache      *embedder.Cache
	strategy   cluster.Strategy
	summarizer *summarizer.Fallback
	maxDepth   int
	workers    int
	yieldEvery int
}

// NewBuilder creates a builder. workers <= 0 means runtime.NumCPU.
func NewBuilder(cache *embedder.Cache, strategy cluster.Strategy, summ *summarizer.Fallback, maxDepth, workers, yieldEvery int) *Builder {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if yieldEvery <= 0 {
		yieldEvery = 32
	}
	return &Builder{
		cache:      cache,
		strategy:   strategy,
		summarizer: summ,
		maxDepth:   maxDepth,
		workers:    workers,
		yieldEvery: yieldEvery,
	}
}

// Result is the output of one builder run: every node created or touched
// by this run (not the interiors of reused subtrees), the forest roots,
// and the warnings accumulated along the way.
type Result struct {
	Nodes    map[types.NodeID]*types.Node
	RootIDs  []types.NodeID
	Depth    int
	Warnings []types.Warning
}

// EmbedLeaves converts chunks into embedded level-0 nodes. Embedding runs
// on a bounded worker pool; a chunk whose embedding fails after retries
// becomes a degraded node and a warning, never an aborted build.
func (b *Builder) EmbedLeaves(ctx context.Context, chunks []types.Chunk, alloc *IDAlloc) ([]*types.Node, []types.Warning, error) {
	leaves := make([]*types.Node, len(chunks))
	for i, c := range chunks {
		leaves[i] = &types.Node{
			ID:          alloc.Next(),
			Level:       0,
			Text:        c.Text,
			SourcePath:  c.SourcePath,
			SourcePaths: []string{c.SourcePath},
			Start:       c.Start,
			End:         c.End,
		}
	}

	var (
		mu       sync.Mutex
		warnings []types.Warning
	)
	y := newYielder(b.yieldEvery)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, leaf := range leaves {
		g.Go(func() error {
			if err := y.tick(gctx); err != nil {
				return err
			}
			vec, err := b.cache.GetOrCompute(gctx, leaf.Text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				leaf.Degraded = true
				mu.Lock()
				warnings = append(warnings, types.Warning{
					Kind:    types.WarnEmbedding,
					Subject: leaf.SourcePath,
					Message: err.Error(),
				})
				mu.Unlock()
				return nil
			}
			leaf.Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, warnings, fmt.Errorf("%w: %v", types.ErrBuildCancelled, err)
	}
	return leaves, warnings, nil
}

// Forest runs the cluster/summarize loop over the working set. joiners
// are preserved subtree roots from an incremental update; each re-enters
// the loop alongside the freshly built nodes of its own level, so clean
// subtrees get the same chance to merge with rebuilt neighbors that
// their originals had. A fresh build passes joiners as nil.
//
// The returned arena holds the working nodes and every parent created
// here; reused subtree interiors are merged in by the caller.
func (b *Builder) Forest(ctx context.Context, leaves []*types.Node, joiners []*types.Node, alloc *IDAlloc) (*Result, error) {
	res := &Result{Nodes: make(map[types.NodeID]*types.Node)}

	joinAt := make(map[int][]*types.Node)
	maxJoinLevel := -1
	for _, j := range joiners {
		joinAt[j.Level] = append(joinAt[j.Level], j)
		if j.Level > maxJoinLevel {
			maxJoinLevel = j.Level
		}
		res.Nodes[j.ID] = j
	}

	// Degraded nodes never cluster; they become standalone roots so
	// their text survives in the snapshot without poisoning similarity.
	var working []*types.Node
	var degradedRoots []types.NodeID
	for _, leaf := range leaves {
		res.Nodes[leaf.ID] = leaf
		if leaf.Degraded {
			degradedRoots = append(degradedRoots, leaf.ID)
			continue
		}
		working = append(working, leaf)
	}
	working = append(working, joinAt[0]...)

	for round := 1; round <= b.maxDepth; round++ {
		if len(working) <= 1 && round > maxJoinLevel+1 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrBuildCancelled, err)
		}

		clusters := b.strategy.Cluster(working)

		// No merges possible and nothing left to join: further rounds
		// would promote the same singletons forever.
		if allSingletons(clusters) && round > maxJoinLevel {
			break
		}

		next, err := b.buildLevel(ctx, round, clusters, working, alloc, res)
		if err != nil {
			return nil, err
		}
		working = append(next, joinAt[round]...)
	}

	roots := make([]types.NodeID, 0, len(working)+len(degradedRoots))
	for _, n := range working {
		roots = append(roots, n.ID)
	}
	roots = append(roots, degradedRoots...)
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	res.RootIDs = roots
	for _, n := range res.Nodes {
		if n.Level >= res.Depth {
			res.Depth = n.Level + 1
		}
	}
	return res, nil
}

// buildLevel turns one round's clusters into the next working set:
// singletons are promoted unchanged, multi-member clusters become a
// summarized parent at the round's level. Parents summarize and embed
// on a bounded worker pool; the round is a barrier, no parent of a
// later round starts before every parent here is finished.
func (b *Builder) buildLevel(ctx context.Context, level int, clusters [][]types.NodeID, working []*types.Node, alloc *IDAlloc, res *Result) ([]*types.Node, error) {
	byID := make(map[types.NodeID]*types.Node, len(working))
	for _, n := range working {
		byID[n.ID] = n
	}

	next := make([]*types.Node, 0, len(clusters))
	type job struct {
		parent  *types.Node
		members []*types.Node
	}
	var jobs []job

	// Allocate parent ids in cluster order (ascending smallest member)
	// so ids stay deterministic before any parallel work begins.
	for _, ids := range clusters {
		if len(ids) == 1 {
			next = append(next, byID[ids[0]])
			continue
		}
		members := make([]*types.Node, len(ids))
		paths := make([][]string, len(ids))
		for i, id := range ids {
			members[i] = byID[id]
			paths[i] = byID[id].SourcePaths
		}
		parent := &types.Node{
			ID:          alloc.Next(),
			Level:       level,
			ChildrenIDs: append([]types.NodeID(nil), ids...),
			SourcePaths: types.UnionSourcePaths(paths...),
		}
		for _, m := range members {
			m.ParentID = parent.ID
		}
		res.Nodes[parent.ID] = parent
		next = append(next, parent)
		jobs = append(jobs, job{parent: parent, members: members})
	}

	var (
		mu       sync.Mutex
		warnings []types.Warning
	)
	y := newYielder(b.yieldEvery)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := y.tick(gctx); err != nil {
				return err
			}
			texts := make([]string, len(j.members))
			for i, m := range j.members {
				texts[i] = m.Text
			}

			summary, err := b.summarizer.SummarizeCluster(gctx, texts)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if summary == "" {
					// Even the fallback produced nothing; keep the raw
					// concatenation so the subtree stays retrievable.
					summary = summarizer.JoinTexts(texts, 0)
				}
				mu.Lock()
				warnings = append(warnings, types.Warning{
					Kind:    types.WarnSummarization,
					Subject: "node " + strconv.FormatInt(int64(j.parent.ID), 10),
					Message: err.Error(),
				})
				mu.Unlock()
			}
			j.parent.Text = summary

			vec, err := b.cache.GetOrCompute(gctx, summary)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				j.parent.Degraded = true
				mu.Lock()
				warnings = append(warnings, types.Warning{
					Kind:    types.WarnEmbedding,
					Subject: "node " + strconv.FormatInt(int64(j.parent.ID), 10),
					Message: err.Error(),
				})
				mu.Unlock()
				return nil
			}
			j.parent.Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrBuildCancelled, err)
	}

	res.Warnings = append(res.Warnings, warnings...)
	return next, nil
}

func allSingletons(clusters [][]types.NodeID) bool {
	for _, c := range clusters {
		if len(c) > 1 {
			return false
		}
	}
	return true
}

// yielder periodically yields the processor during long CPU-bound
// stretches so other goroutines (queries against the current snapshot)
// stay responsive, and checks for cancellation at the same cadence.
type yielder struct {
	every int
	n     atomic.Int64
}

func newYielder(every int) *yielder {
	return &yielder{every: every}
}

func (y *yielder) tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if y.n.Add(1)%int64(y.every) == 0 {
		runtime.Gosched()
	}
	return nil
}
