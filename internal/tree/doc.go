// Package tree assembles the hierarchical index: the builder runs the
// bottom-up cluster/summarize loop over embedded chunks, and snapshots
// capture an immutable version of the resulting forest published through
// an atomic pointer swap.
package tree
