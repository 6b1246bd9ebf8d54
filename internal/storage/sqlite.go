package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/raptorlabs/raptor-mcp/internal/tree"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// SQLiteStore persists one snapshot per database. Saves replace the
// whole snapshot inside a single transaction, mirroring the in-memory
// model where a snapshot is swapped wholesale, never edited in place.
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings.
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps readers unblocked during the snapshot-replace write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStore opens (or creates) the snapshot database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSnapshot replaces the stored snapshot with snap atomically.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *tree.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM nodes", "DELETE FROM file_records", "DELETE FROM snapshot_meta"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to clear previous snapshot: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshot_meta (singleton, snapshot_id, version, max_node_id, created_at)
		VALUES (1, ?, ?, ?, ?)`,
		snap.ID.String(), snap.Version, int64(snap.MaxID), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write snapshot meta: %w", err)
	}

	rootSet := make(map[types.NodeID]struct{}, len(snap.RootIDs))
	for _, id := range snap.RootIDs {
		rootSet[id] = struct{}{}
	}

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (id, level, text, embedding, parent_id, children,
		                   source_paths, source_path, start_offset, end_offset,
		                   degraded, is_root)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = nodeStmt.Close() }()

	for _, n := range snap.Nodes {
		children, err := json.Marshal(n.ChildrenIDs)
		if err != nil {
			return err
		}
		paths, err := json.Marshal(n.SourcePaths)
		if err != nil {
			return err
		}
		_, isRoot := rootSet[n.ID]
		_, err = nodeStmt.ExecContext(ctx,
			int64(n.ID), n.Level, n.Text, serializeVector(n.Embedding),
			int64(n.ParentID), string(children), string(paths),
			n.SourcePath, n.Start, n.End, n.Degraded, isRoot)
		if err != nil {
			return fmt.Errorf("failed to write node %d: %w", n.ID, err)
		}
	}

	recStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_records (path, mod_time, content_hash, leaf_ids)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = recStmt.Close() }()

	for _, rec := range snap.FileRecords {
		leafIDs, err := json.Marshal(rec.LeafIDs)
		if err != nil {
			return err
		}
		if _, err := recStmt.ExecContext(ctx, rec.Path, rec.ModTime, rec.ContentHash[:], string(leafIDs)); err != nil {
			return fmt.Errorf("failed to write file record %q: %w", rec.Path, err)
		}
	}

	return tx.Commit()
}

// LoadSnapshot reads the stored snapshot. types.ErrNotFound means the
// database is empty; decode or integrity failures are ErrCorruptIndex
// and the caller rebuilds from scratch.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*tree.Snapshot, error) {
	var (
		idStr     string
		version   uint64
		maxNodeID int64
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot_id, version, max_node_id, created_at FROM snapshot_meta WHERE singleton = 1").
		Scan(&idStr, &version, &maxNodeID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no stored snapshot", types.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	snapID, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad snapshot id %q", types.ErrCorruptIndex, idStr)
	}

	nodes, roots, err := s.loadNodes(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.loadFileRecords(ctx)
	if err != nil {
		return nil, err
	}

	snap := tree.NewSnapshot(nodes, roots, records, types.NodeID(maxNodeID))
	snap.ID = snapID
	snap.Version = version
	snap.CreatedAt = createdAt

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStore) loadNodes(ctx context.Context) (map[types.NodeID]*types.Node, []types.NodeID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, level, text, embedding, parent_id, children,
		       source_paths, source_path, start_offset, end_offset,
		       degraded, is_root
		FROM nodes ORDER BY id`)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	nodes := make(map[types.NodeID]*types.Node)
	var roots []types.NodeID
	for rows.Next() {
		var (
			id, parentID  int64
			childrenJSON  string
			pathsJSON     string
			embeddingBlob []byte
			isRoot        bool
			n             types.Node
		)
		err := rows.Scan(&id, &n.Level, &n.Text, &embeddingBlob, &parentID,
			&childrenJSON, &pathsJSON, &n.SourcePath, &n.Start, &n.End,
			&n.Degraded, &isRoot)
		if err != nil {
			return nil, nil, err
		}
		n.ID = types.NodeID(id)
		n.ParentID = types.NodeID(parentID)
		if n.Embedding, err = deserializeVector(embeddingBlob); err != nil {
			return nil, nil, fmt.Errorf("%w: node %d: %v", types.ErrCorruptIndex, id, err)
		}
		if err := json.Unmarshal([]byte(childrenJSON), &n.ChildrenIDs); err != nil {
			return nil, nil, fmt.Errorf("%w: node %d children: %v", types.ErrCorruptIndex, id, err)
		}
		if err := json.Unmarshal([]byte(pathsJSON), &n.SourcePaths); err != nil {
			return nil, nil, fmt.Errorf("%w: node %d source paths: %v", types.ErrCorruptIndex, id, err)
		}
		nodes[n.ID] = &n
		if isRoot {
			roots = append(roots, n.ID)
		}
	}
	return nodes, roots, rows.Err()
}

func (s *SQLiteStore) loadFileRecords(ctx context.Context) (map[string]types.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, mod_time, content_hash, leaf_ids FROM file_records")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := make(map[string]types.FileRecord)
	for rows.Next() {
		var (
			rec         types.FileRecord
			hash        []byte
			leafIDsJSON string
		)
		if err := rows.Scan(&rec.Path, &rec.ModTime, &hash, &leafIDsJSON); err != nil {
			return nil, err
		}
		if len(hash) != len(rec.ContentHash) {
			return nil, fmt.Errorf("%w: file %q: content hash is %d bytes", types.ErrCorruptIndex, rec.Path, len(hash))
		}
		copy(rec.ContentHash[:], hash)
		if err := json.Unmarshal([]byte(leafIDsJSON), &rec.LeafIDs); err != nil {
			return nil, fmt.Errorf("%w: file %q leaf ids: %v", types.ErrCorruptIndex, rec.Path, err)
		}
		records[rec.Path] = rec
	}
	return records, rows.Err()
}
