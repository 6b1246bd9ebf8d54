// Package storage persists snapshots to SQLite so the index survives
// restarts. Two drivers are supported through build tags: the default
// pure Go modernc.org/sqlite, and mattn/go-sqlite3 behind the
// sqlite_cgo tag. Embeddings are stored as little-endian float32 blobs.
package storage
