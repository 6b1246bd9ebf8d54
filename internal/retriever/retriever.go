package retriever

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/raptorlabs/raptor-mcp/internal/cluster"
	"github.com/raptorlabs/raptor-mcp/internal/embedder"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

const (
	// DefaultTopK is used when a request leaves TopK unset.
	DefaultTopK = 10

	// MaxTopK caps a single request.
	MaxTopK = 100

	queryCacheSize = 256
)

// Request is one retrieval query. Levels restricts candidates to the
// given tree levels; empty means all levels.
type Request struct {
	Query  string
	TopK   int
	Levels []int
}

// Validate normalizes and checks the request.
func (r *Request) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.TopK <= 0 {
		r.TopK = DefaultTopK
	}
	if r.TopK > MaxTopK {
		r.TopK = MaxTopK
	}
	for _, l := range r.Levels {
		if l < 0 {
			return fmt.Errorf("level filter cannot be negative, got %d", l)
		}
	}
	return nil
}

// Snapshot is the read-only view of the index a query runs against. A
// query holds one snapshot for its whole duration, so concurrent
// publishes never change its results.
type Snapshot interface {
	NodeCount() int
	Walk(fn func(*types.Node))
	SnapshotVersion() uint64
}

// Retriever ranks snapshot nodes against a query embedding by cosine
// similarity. Repeated queries against the same snapshot version are
// served from a small LRU cache.
type Retriever struct {
	cache *embedder.Cache
	qc    *lru.Cache[string, []types.SearchResult]
}

// New creates a retriever using the shared embedding cache.
func New(cache *embedder.Cache) *Retriever {
	qc, err := lru.New[string, []types.SearchResult](queryCacheSize)
	if err != nil {
		panic(fmt.Sprintf("lru.New: %v", err))
	}
	return &Retriever{cache: cache, qc: qc}
}

// Search embeds the query and returns the top-k nodes by cosine
// similarity, highest first, ties broken by ascending node id.
// Degraded nodes and nodes outside the level filter never rank.
func (r *Retriever) Search(ctx context.Context, snap Snapshot, req Request) ([]types.SearchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if snap == nil || snap.NodeCount() == 0 {
		return nil, nil
	}

	key := cacheKey(snap.SnapshotVersion(), req)
	if cached, ok := r.qc.Get(key); ok {
		return copyResults(cached), nil
	}

	queryVec, err := r.cache.GetOrCompute(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var levelSet map[int]struct{}
	if len(req.Levels) > 0 {
		levelSet = make(map[int]struct{}, len(req.Levels))
		for _, l := range req.Levels {
			levelSet[l] = struct{}{}
		}
	}

	results := make([]types.SearchResult, 0, snap.NodeCount())
	snap.Walk(func(n *types.Node) {
		if n.Degraded || len(n.Embedding) == 0 {
			return
		}
		if levelSet != nil {
			if _, ok := levelSet[n.Level]; !ok {
				return
			}
		}
		score := cluster.CosineSimilarity(queryVec, n.Embedding)
		results = append(results, types.SearchResult{
			NodeID:      n.ID,
			Level:       n.Level,
			Text:        n.Text,
			SourcePaths: n.SourcePaths,
			Score:       score,
		})
	})

	sortResults(results)
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	r.qc.Add(key, copyResults(results))
	return results, nil
}

// InvalidateCache drops all cached query results. Called after a new
// snapshot is published; stale entries would also age out naturally
// because the key includes the snapshot version.
func (r *Retriever) InvalidateCache() {
	r.qc.Purge()
}

// sortResults orders by score descending, then node id ascending so
// equal scores rank deterministically.
func sortResults(results []types.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].NodeID < results[j].NodeID
	})
}

func cacheKey(version uint64, req Request) string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(version, 10))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(req.TopK))
	sb.WriteByte('|')
	for _, l := range req.Levels {
		sb.WriteString(strconv.Itoa(l))
		sb.WriteByte(',')
	}
	sb.WriteByte('|')
	sb.WriteString(req.Query)
	return sb.String()
}

func copyResults(in []types.SearchResult) []types.SearchResult {
	out := make([]types.SearchResult, len(in))
	copy(out, in)
	return out
}
