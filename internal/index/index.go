package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/raptorlabs/raptor-mcp/internal/chunker"
	"github.com/raptorlabs/raptor-mcp/internal/cluster"
	"github.com/raptorlabs/raptor-mcp/internal/config"
	"github.com/raptorlabs/raptor-mcp/internal/embedder"
	"github.com/raptorlabs/raptor-mcp/internal/retriever"
	"github.com/raptorlabs/raptor-mcp/internal/summarizer"
	"github.com/raptorlabs/raptor-mcp/internal/tree"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// Persister stores and restores snapshots. Nil persistence keeps the
// index purely in memory.
type Persister interface {
	SaveSnapshot(ctx context.Context, snap *tree.Snapshot) error
	LoadSnapshot(ctx context.Context) (*tree.Snapshot, error)
	Close() error
}

// Index is the top-level facade: it owns the pipeline components and
// the snapshot store, and exposes build, update, and query operations.
// Queries are lock-free reads of the current snapshot; writers are
// serialized by displacement through the build gate.
type Index struct {
	cfg       *config.Config
	chunker   *chunker.Chunker
	cache     *embedder.Cache
	builder   *tree.Builder
	retriever *retriever.Retriever
	store     *tree.Store
	persister Persister
	gate      buildGate
	logger    *log.Logger
}

// New wires an index from configuration. persister may be nil.
func New(cfg *config.Config, persister Persister, logger *log.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	cache, err := embedder.NewCachedFromConfig(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	summ, err := summarizer.NewFromConfig(cfg.Summarizer, cfg.Embedder.OpenAI)
	if err != nil {
		return nil, err
	}

	strategy := cluster.NewThreshold(cfg.SimilarityThreshold)
	return &Index{
		cfg: cfg,
		chunker: chunker.New(
			chunker.WithMaxChars(cfg.MaxChars),
			chunker.WithOverlap(cfg.Overlap),
			chunker.WithLookback(cfg.BoundaryLookback),
		),
		cache:     cache,
		builder:   tree.NewBuilder(cache, strategy, summ, cfg.MaxDepth, cfg.Workers, cfg.YieldEvery),
		retriever: retriever.New(cache),
		store:     tree.NewStore(),
		persister: persister,
		logger:    logger,
	}, nil
}

// Restore loads the persisted snapshot, if any. A corrupt snapshot is
// logged and discarded; the caller proceeds with an empty index and the
// next build starts from scratch.
func (idx *Index) Restore(ctx context.Context) error {
	if idx.persister == nil {
		return nil
	}
	snap, err := idx.persister.LoadSnapshot(ctx)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		if errors.Is(err, types.ErrCorruptIndex) {
			idx.logger.Printf("discarding corrupt persisted snapshot: %v", err)
			return nil
		}
		return err
	}
	if err := snap.Validate(); err != nil {
		idx.logger.Printf("discarding corrupt persisted snapshot: %v", err)
		return nil
	}
	idx.store.Publish(snap)
	idx.logger.Printf("restored snapshot: %d nodes, %d files", snap.NodeCount(), len(snap.FileRecords))
	return nil
}

// Build performs a full rebuild from the given corpus and publishes the
// resulting snapshot. An in-flight build or update is displaced.
func (idx *Index) Build(ctx context.Context, files []types.FileInput) (*types.BuildStats, error) {
	ctx, gen, done := idx.gate.begin(ctx)
	defer done()

	stats, snap, err := idx.buildSnapshot(ctx, files)
	if err != nil {
		return nil, err
	}
	// A displacement between the build finishing and the publish would
	// let a stale snapshot overtake the newer request's result, so the
	// publish is conditional on still holding the newest generation.
	if !idx.gate.ifCurrent(gen, func() { idx.publish(ctx, snap) }) {
		return nil, fmt.Errorf("%w: displaced before publish", types.ErrBuildCancelled)
	}
	return stats, nil
}

// buildSnapshot runs the full pipeline without publishing, so the
// incremental path can reuse it as its fallback.
func (idx *Index) buildSnapshot(ctx context.Context, files []types.FileInput) (*types.BuildStats, *tree.Snapshot, error) {
	start := time.Now()

	// Corpus order fixes leaf id order, which fixes every downstream
	// tie-break. Sort by path so the stream's arrival order is
	// irrelevant.
	sorted := append([]types.FileInput(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	alloc := tree.NewIDAlloc(idx.lastID())

	var chunks []types.Chunk
	perFile := make(map[string][2]int, len(sorted)) // path -> chunk index range
	for _, f := range sorted {
		lo := len(chunks)
		chunks = append(chunks, idx.chunker.Chunk(f.Path, f.Text)...)
		perFile[f.Path] = [2]int{lo, len(chunks)}
	}

	leaves, warnings, err := idx.builder.EmbedLeaves(ctx, chunks, alloc)
	if err != nil {
		return nil, nil, err
	}

	res, err := idx.builder.Forest(ctx, leaves, nil, alloc)
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, res.Warnings...)

	records := make(map[string]types.FileRecord, len(sorted))
	for _, f := range sorted {
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

	snap := tree.NewSnapshot(res.Nodes, res.RootIDs, records, alloc.Last())
	if err := snap.Validate(); err != nil {
		return nil, nil, err
	}

	stats := &types.BuildStats{
		FilesIndexed: len(sorted),
		NodeCount:    snap.NodeCount(),
		LeafCount:    snap.LeafCount(),
		Depth:        snap.Depth(),
		Duration:     time.Since(start),
		Warnings:     warnings,
	}
	return stats, snap, nil
}

// Query ranks the current snapshot against the request. It never blocks
// on writers; before the first build it reports ErrNotFound.
func (idx *Index) Query(ctx context.Context, req retriever.Request) ([]types.SearchResult, error) {
	snap := idx.store.Current()
	if snap == nil {
		return nil, fmt.Errorf("%w: index not built", types.ErrNotFound)
	}
	return idx.retriever.Search(ctx, snap, req)
}

// Status describes the current snapshot.
type Status struct {
	Built     bool
	Version   uint64
	NodeCount int
	LeafCount int
	Depth     int
	FileCount int
	CreatedAt time.Time
}

// Status reports the current snapshot's shape.
func (idx *Index) Status() Status {
	snap := idx.store.Current()
	if snap == nil {
		return Status{}
	}
	return Status{
		Built:     true,
		Version:   snap.Version,
		NodeCount: snap.NodeCount(),
		LeafCount: snap.LeafCount(),
		Depth:     snap.Depth(),
		FileCount: len(snap.FileRecords),
		CreatedAt: snap.CreatedAt,
	}
}

// Current returns the latest snapshot, or nil before the first build.
func (idx *Index) Current() *tree.Snapshot {
	return idx.store.Current()
}

// Close cancels in-flight work and releases resources.
func (idx *Index) Close() error {
	idx.gate.shutdown()
	var err error
	if idx.persister != nil {
		err = idx.persister.Close()
	}
	if cerr := idx.cache.Close(); err == nil {
		err = cerr
	}
	return err
}

// publish swaps in the snapshot, drops stale query results, and writes
// through to persistence. Persistence failure degrades to a log line;
// the in-memory snapshot is already live.
func (idx *Index) publish(ctx context.Context, snap *tree.Snapshot) {
	idx.store.Publish(snap)
	idx.retriever.InvalidateCache()
	if idx.persister != nil {
		if err := idx.persister.SaveSnapshot(ctx, snap); err != nil {
			idx.logger.Printf("persist snapshot v%d: %v", snap.Version, err)
		}
	}
}

func (idx *Index) lastID() types.NodeID {
	if snap := idx.store.Current(); snap != nil {
		return snap.MaxID
	}
	return 0
}
