package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/raptorlabs/raptor-mcp/internal/retriever"
	"github.com/raptorlabs/raptor-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNotIndexed    = -32001 // Index not built yet
	ErrorCodeBuildStopped  = -32002 // Build displaced by a newer request
	ErrorCodeEmptyQuery    = -32003 // Query parameter is empty
)

// handleIndexBuild handles the index_build tool invocation
func (s *Server) handleIndexBuild(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, errResult := s.corpusPathArg(request)
	if errResult != nil {
		return nil, errResult
	}

	files, warnings, err := LoadCorpus(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "corpus scan failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	stats, err := s.index.Build(ctx, files)
	if err != nil {
		if errors.Is(err, types.ErrBuildCancelled) {
			return nil, newMCPError(ErrorCodeBuildStopped, "build displaced by a newer request", nil)
		}
		return nil, newMCPError(ErrorCodeInternalError, "build failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	allWarnings := append(warnings, stats.Warnings...)
	response := map[string]interface{}{
		"files_indexed": stats.FilesIndexed,
		"files_failed":  len(warnings),
		"node_count":    stats.NodeCount,
		"leaf_count":    stats.LeafCount,
		"depth":         stats.Depth,
		"duration_ms":   stats.Duration.Milliseconds(),
	}
	attachWarnings(response, allWarnings)

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexUpdate handles the index_update tool invocation
func (s *Server) handleIndexUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, errResult := s.corpusPathArg(request)
	if errResult != nil {
		return nil, errResult
	}

	files, warnings, err := LoadCorpus(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "corpus scan failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	stats, err := s.index.Update(ctx, files)
	if err != nil {
		if errors.Is(err, types.ErrBuildCancelled) {
			return nil, newMCPError(ErrorCodeBuildStopped, "update displaced by a newer request", nil)
		}
		return nil, newMCPError(ErrorCodeInternalError, "update failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	allWarnings := append(warnings, stats.Warnings...)
	response := map[string]interface{}{
		"files_added":    stats.FilesAdded,
		"files_modified": stats.FilesModified,
		"files_deleted":  stats.FilesDeleted,
		"nodes_rebuilt":  stats.NodesRebuilt,
		"full_rebuild":   stats.FullRebuild,
		"duration_ms":    stats.Duration.Milliseconds(),
	}
	attachWarnings(response, allWarnings)

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexQuery handles the index_query tool invocation
func (s *Server) handleIndexQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", retriever.DefaultTopK)
	if topK < 1 || topK > retriever.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", retriever.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	var levels []int
	if raw, ok := args["levels"].([]interface{}); ok {
		for _, v := range raw {
			f, ok := v.(float64)
			if !ok || f < 0 {
				return nil, newMCPError(ErrorCodeInvalidParams, "levels must be non-negative integers", map[string]interface{}{
					"param": "levels",
				})
			}
			levels = append(levels, int(f))
		}
	}

	results, err := s.index.Query(ctx, retriever.Request{Query: query, TopK: topK, Levels: levels})
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, newMCPError(ErrorCodeNotIndexed, "index not built; run index_build first", nil)
		}
		return nil, newMCPError(ErrorCodeInternalError, "query failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	formatted := make([]map[string]interface{}, len(results))
	for i, r := range results {
		formatted[i] = map[string]interface{}{
			"node_id":      int64(r.NodeID),
			"level":        r.Level,
			"score":        r.Score,
			"text":         r.Text,
			"source_paths": r.SourcePaths,
		}
	}
	response := map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": formatted,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.index.Status()
	if !status.Built {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"built":   false,
			"message": "Index not built. Use the index_build tool first.",
		})), nil
	}

	response := map[string]interface{}{
		"built":      true,
		"version":    status.Version,
		"node_count": status.NodeCount,
		"leaf_count": status.LeafCount,
		"depth":      status.Depth,
		"file_count": status.FileCount,
		"created_at": status.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// corpusPathArg extracts and validates the path argument shared by the
// build and update tools.
func (s *Server) corpusPathArg(request mcp.CallToolRequest) (string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	return path, nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is a readable directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}
	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// attachWarnings includes at most the first few warnings in a response.
func attachWarnings(response map[string]interface{}, warnings []types.Warning) {
	if len(warnings) == 0 {
		return
	}
	const maxShown = 5
	shown := warnings
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}
	messages := make([]string, len(shown))
	for i, w := range shown {
		messages[i] = w.String()
	}
	response["warnings"] = messages
	response["warning_count"] = len(warnings)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
