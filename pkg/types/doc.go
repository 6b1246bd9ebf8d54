// Package types defines the shared data model for the retrieval index:
// chunks, tree nodes, file records, operation statistics, and the domain
// error sentinels used across packages.
//
// The types here are deliberately dependency-free so that every internal
// package (and external consumers of query results) can import them without
// pulling in storage or provider code.
package types
