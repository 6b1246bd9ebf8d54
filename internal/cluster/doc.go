// Package cluster groups same-level tree nodes by embedding similarity.
//
// The default strategy agglomerates nodes transitively connected through
// pairwise cosine similarity at or above a threshold, using union-find over
// the similarity graph. The partition is deterministic for fixed inputs:
// union order and output ordering both follow ascending node id. Malformed
// embeddings (NaN, zero norm) are isolated as singletons rather than
// failing the pass.
//
// Clustering is a pluggable Strategy so a different method (for example
// dimensionality reduction plus a mixture model) can be substituted as long
// as it keeps the deterministic-partition contract.
package cluster
