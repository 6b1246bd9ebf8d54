package types

import "time"

// FileInput is one element of the pre-filtered corpus stream fed into build
// and update operations. Discovery and ignore-pattern filtering happen
// upstream; the index only sees (path, text, mtime).
type FileInput struct {
	Path    string
	Text    string
	ModTime time.Time
}

// FileRecord tracks one indexed file: how to detect that it changed and
// which leaves it owns.
type FileRecord struct {
	Path        string
	ModTime     time.Time
	ContentHash [32]byte
	LeafIDs     []NodeID
}

// ChangeKind classifies a file against the previous scan.
type ChangeKind int

const (
	ChangeUnchanged ChangeKind = iota
	ChangeAdded
	ChangeModified
	ChangeDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	default:
		return "unchanged"
	}
}
