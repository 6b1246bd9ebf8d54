package cluster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

func node(id types.NodeID, emb ...float32) *types.Node {
	return &types.Node{ID: id, Embedding: emb}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCluster_TransitiveAgglomeration(t *testing.T) {
	// a~b and b~c but a!~c: transitivity still puts all three together.
	nodes := []*types.Node{
		node(1, 1, 0),
		node(2, 0.9, 0.436), // ~0.9 similar to both neighbors
		node(3, 0.62, 0.78),
		node(4, 0, 1), // far from node 1
	}

	clusters := NewThreshold(0.85).Cluster(nodes)

	require.Len(t, clusters, 2)
	assert.Equal(t, []types.NodeID{1, 2, 3}, clusters[0])
	assert.Equal(t, []types.NodeID{4}, clusters[1])
}

func TestCluster_AllSingletonsBelowThreshold(t *testing.T) {
	nodes := []*types.Node{
		node(10, 1, 0, 0),
		node(20, 0, 1, 0),
		node(30, 0, 0, 1),
	}

	clusters := NewThreshold(0.5).Cluster(nodes)

	require.Len(t, clusters, 3)
	for i, want := range []types.NodeID{10, 20, 30} {
		assert.Equal(t, []types.NodeID{want}, clusters[i])
	}
}

func TestCluster_Deterministic(t *testing.T) {
	nodes := []*types.Node{
		node(3, 1, 0.1),
		node(1, 1, 0),
		node(2, 0.1, 1),
		node(4, 0, 1),
	}
	strat := NewThreshold(0.9)

	first := strat.Cluster(nodes)
	// Reverse input order; output must not change.
	reversed := []*types.Node{nodes[3], nodes[2], nodes[1], nodes[0]}
	second := strat.Cluster(reversed)

	require.Equal(t, first, second)
}

func TestCluster_NaNIsolatedAsSingleton(t *testing.T) {
	nodes := []*types.Node{
		node(1, 1, 0),
		node(2, float32(math.NaN()), 0),
		node(3, 1, 0.01),
	}

	clusters := NewThreshold(0.9).Cluster(nodes)

	require.Len(t, clusters, 2)
	assert.Equal(t, []types.NodeID{1, 3}, clusters[0])
	assert.Equal(t, []types.NodeID{2}, clusters[1])
}

func TestCluster_ZeroNormIsolated(t *testing.T) {
	nodes := []*types.Node{
		node(1, 1, 0),
		node(2, 0, 0),
	}

	clusters := NewThreshold(0.1).Cluster(nodes)
	require.Len(t, clusters, 2)
}

func TestCluster_DegradedNeverJoins(t *testing.T) {
	degraded := node(2, 1, 0)
	degraded.Degraded = true
	nodes := []*types.Node{node(1, 1, 0), degraded}

	clusters := NewThreshold(0.5).Cluster(nodes)
	require.Len(t, clusters, 2)
}

func TestCluster_Empty(t *testing.T) {
	assert.Nil(t, NewThreshold(0.8).Cluster(nil))
}
