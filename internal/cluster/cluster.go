package cluster

import (
	"math"
	"sort"

	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// Strategy partitions a set of same-level nodes into clusters. Any
// implementation must be deterministic: the same nodes and settings always
// yield the same partition, with ascending node id as the tie-break.
type Strategy interface {
	Cluster(nodes []*types.Node) [][]types.NodeID
}

// Threshold clusters nodes by agglomerating all nodes transitively connected
// through pairwise cosine similarity at or above the threshold (union-find
// over the threshold graph). Singletons with no neighbor form clusters of
// size one.
type Threshold struct {
	threshold float64
}

// NewThreshold creates the default clustering strategy.
func NewThreshold(threshold float64) *Threshold {
	return &Threshold{threshold: threshold}
}

// Cluster partitions nodes. Nodes with malformed embeddings (NaN components
// or zero norm) never join a cluster: they are isolated as singletons, per
// the ClusteringError policy. Output clusters are ordered by their smallest
// member id, and members within a cluster ascend by id.
func (t *Threshold) Cluster(nodes []*types.Node) [][]types.NodeID {
	if len(nodes) == 0 {
		return nil
	}

	// Work over a copy sorted by id so the union order, and therefore the
	// output, is independent of caller ordering.
	sorted := make([]*types.Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	uf := newUnionFind(len(sorted))
	valid := make([]bool, len(sorted))
	norms := make([]float64, len(sorted))
	for i, n := range sorted {
		norms[i] = norm(n.Embedding)
		valid[i] = !n.Degraded && wellFormed(n.Embedding, norms[i])
	}

	for i := 0; i < len(sorted); i++ {
		if !valid[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if !valid[j] {
				continue
			}
			sim := dot(sorted[i].Embedding, sorted[j].Embedding) / (norms[i] * norms[j])
			if !math.IsNaN(sim) && sim >= t.threshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]types.NodeID)
	for i, n := range sorted {
		root := uf.find(i)
		groups[root] = append(groups[root], n.ID)
	}

	clusters := make([][]types.NodeID, 0, len(groups))
	for _, ids := range groups {
		// Members already ascend by id because iteration followed sorted
		// order; the map walk does not change per-group order.
		clusters = append(clusters, ids)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i][0] < clusters[j][0] })

	return clusters
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector has zero norm or mismatched length.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot(a, b) / (na * nb)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// wellFormed reports whether an embedding can participate in similarity
// computation.
func wellFormed(v []float32, n float64) bool {
	if len(v) == 0 || n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return false
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}

// unionFind is a standard disjoint-set with path compression and union by
// rank.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
