package types

import "time"

// SearchResult is one ranked entry returned by a query.
type SearchResult struct {
	NodeID      NodeID
	Level       int
	Text        string
	SourcePaths []string
	Score       float64
}

// BuildStats summarizes a full rebuild.
type BuildStats struct {
	FilesIndexed int
	FilesFailed  int
	NodeCount    int
	LeafCount    int
	Depth        int
	Duration     time.Duration
	Warnings     []Warning
}

// UpdateStats summarizes an incremental update.
type UpdateStats struct {
	FilesAdded    int
	FilesModified int
	FilesDeleted  int
	NodesRebuilt  int
	FullRebuild   bool // incremental path abandoned for a safe full rebuild
	Duration      time.Duration
	Warnings      []Warning
}
