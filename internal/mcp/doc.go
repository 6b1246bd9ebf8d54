// Package mcp implements the Model Context Protocol (MCP) server for the
// hierarchical retrieval index.
//
// The server exposes four tools to AI coding assistants:
//   - index_build: Build the index over a directory from scratch
//   - index_update: Rescan the directory and rebuild only changed subtrees
//   - index_query: Search the index with a natural language query
//   - index_status: Report the shape of the current snapshot
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Because stdout carries the protocol, all diagnostics go to stderr.
//
// # Tool: index_build
//
// Build the index over a corpus directory:
//
//	Request:
//	{
//	  "name": "index_build",
//	  "arguments": {
//	    "path": "/path/to/project"
//	  }
//	}
//
//	Response:
//	{
//	  "files_indexed": 42,
//	  "node_count": 57,
//	  "leaf_count": 44,
//	  "depth": 3,
//	  "duration_ms": 1820
//	}
//
// # Tool: index_update
//
// Rescan the same directory. Files whose content hash is unchanged keep
// their subtrees; only the dirty portion of the tree is rebuilt.
//
//	Request:
//	{
//	  "name": "index_update",
//	  "arguments": {
//	    "path": "/path/to/project"
//	  }
//	}
//
// # Tool: index_query
//
// Search across every level of the tree. Level 0 results are raw text
// chunks; higher levels are summaries covering whole clusters of files.
//
//	Request:
//	{
//	  "name": "index_query",
//	  "arguments": {
//	    "query": "how does retry backoff work",
//	    "top_k": 5,
//	    "levels": [0, 1]
//	  }
//	}
//
// # Tool: index_status
//
// Takes no arguments and reports whether an index exists, its snapshot
// version, and node/file counts.
//
// # Concurrency
//
// A build or update in flight is cancelled when a newer one arrives; the
// displaced call returns an error with code -32002. Queries always run
// against the last published snapshot and are never blocked by builds.
package mcp
