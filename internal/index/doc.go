// Package index is the orchestration layer: it wires the chunker,
// embedder, clusterer, summarizer, and builder into the build, update,
// and query operations, publishes immutable snapshots, and keeps the
// per-file records that drive incremental updates.
package index
