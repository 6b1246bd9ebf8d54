package mcp

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/raptorlabs/raptor-mcp/internal/config"
	"github.com/raptorlabs/raptor-mcp/internal/index"
	"github.com/raptorlabs/raptor-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "raptor-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies.
type Server struct {
	mcp    *server.MCPServer
	index  *index.Index
	logger *log.Logger
}

// NewServer creates a new MCP server instance. All logging goes to the
// provided logger (stderr in practice): stdout carries the MCP protocol.
func NewServer(cfg *config.Config, logger *log.Logger) (*Server, error) {
	var persister index.Persister
	if cfg.DBPath != "" {
		store, err := storage.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		persister = store
	}

	idx, err := index.New(cfg, persister, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}
	if err := idx.Restore(context.Background()); err != nil {
		logger.Printf("restore failed, starting empty: %v", err)
	}

	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		index:  idx,
		logger: logger,
	}
	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown.
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.index.Close() }()
	return server.ServeStdio(s.mcp)
}

// Index exposes the underlying index, used by the serve loop to feed
// watcher batches into updates.
func (s *Server) Index() *index.Index {
	return s.index
}

// registerTools registers all MCP tools.
func (s *Server) registerTools() {
	s.mcp.AddTool(indexBuildTool(), s.handleIndexBuild)
	s.mcp.AddTool(indexUpdateTool(), s.handleIndexUpdate)
	s.mcp.AddTool(indexQueryTool(), s.handleIndexQuery)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
}
