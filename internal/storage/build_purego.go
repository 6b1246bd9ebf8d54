//go:build !sqlite_cgo

package storage

// This file is compiled when building without the sqlite_cgo tag.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// The pure Go implementation needs no C compiler and cross-compiles
// everywhere; it is the default and what the tests run against.
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
